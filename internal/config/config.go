package config

import (
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/takeoff-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Render    RenderConfig    `yaml:"render" mapstructure:"render"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings. The scan pass runs on the
// Haiku model; every other pass runs on Sonnet.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// InferenceConfig tunes the adapter in front of the vision service.
type InferenceConfig struct {
	RequestsPerSecond  float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst              int     `yaml:"burst" mapstructure:"burst"`
	BreakerThreshold   int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerTimeoutSecs int     `yaml:"breaker_timeout_secs" mapstructure:"breaker_timeout_secs"`
	CacheTTLHours      int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// BatchConfig configures the per-stage batch executor.
type BatchConfig struct {
	ContextSize         int     `yaml:"context_size" mapstructure:"context_size"`
	ScanSize            int     `yaml:"scan_size" mapstructure:"scan_size"`
	DetailSize          int     `yaml:"detail_size" mapstructure:"detail_size"`
	ExtractSize         int     `yaml:"extract_size" mapstructure:"extract_size"`
	CooldownMs          int     `yaml:"cooldown_ms" mapstructure:"cooldown_ms"`
	MaxRetries          int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMs       int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	MaxBackoffMs        int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	RateLimitMultiplier float64 `yaml:"rate_limit_multiplier" mapstructure:"rate_limit_multiplier"`
	Backoff             string  `yaml:"backoff" mapstructure:"backoff"`
	JitterFraction      float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Cooldown returns the inter-group pause.
func (b BatchConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMs) * time.Millisecond
}

// BackoffBase returns the linear retry step.
func (b BatchConfig) BackoffBase() time.Duration {
	return time.Duration(b.BackoffBaseMs) * time.Millisecond
}

// MaxBackoff returns the retry delay cap.
func (b BatchConfig) MaxBackoff() time.Duration {
	return time.Duration(b.MaxBackoffMs) * time.Millisecond
}

// BackoffStrategy returns the retry growth curve. Unknown values fall back
// to linear; Validate rejects them.
func (b BatchConfig) BackoffStrategy() resilience.Backoff {
	strategy, _ := resilience.ParseBackoff(b.Backoff)
	return strategy
}

// PassConfig holds model settings for one inference pass.
type PassConfig struct {
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// PipelineConfig configures stage limits and per-pass model settings.
type PipelineConfig struct {
	ContextPages     int        `yaml:"context_pages" mapstructure:"context_pages"`
	ScanSample       int        `yaml:"scan_sample" mapstructure:"scan_sample"`
	ExtractCap       int        `yaml:"extract_cap" mapstructure:"extract_cap"`
	DedupSampleItems int        `yaml:"dedup_sample_items" mapstructure:"dedup_sample_items"`
	TopicsFile       string     `yaml:"topics_file" mapstructure:"topics_file"`
	Topics           []string   `yaml:"topics" mapstructure:"topics"`
	Context          PassConfig `yaml:"context" mapstructure:"context"`
	Scan             PassConfig `yaml:"scan" mapstructure:"scan"`
	Details          PassConfig `yaml:"details" mapstructure:"details"`
	Extract          PassConfig `yaml:"extract" mapstructure:"extract"`
	Dedup            PassConfig `yaml:"dedup" mapstructure:"dedup"`
}

// RenderConfig configures page rasterization.
type RenderConfig struct {
	PdftoppmPath string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	TempDir      string `yaml:"temp_dir" mapstructure:"temp_dir"`
	DPI          int    `yaml:"dpi" mapstructure:"dpi"`
	LowMaxPx     int    `yaml:"low_max_px" mapstructure:"low_max_px"`
	HighMaxPx    int    `yaml:"high_max_px" mapstructure:"high_max_px"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int `yaml:"port" mapstructure:"port"`
	MaxUploadMB int `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAKEOFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "takeoff.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 100)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("inference.requests_per_second", 5.0)
	v.SetDefault("inference.burst", 10)
	v.SetDefault("inference.breaker_threshold", 5)
	v.SetDefault("inference.breaker_timeout_secs", 30)
	v.SetDefault("inference.cache_ttl_hours", 168)
	v.SetDefault("batch.context_size", 5)
	v.SetDefault("batch.scan_size", 10)
	v.SetDefault("batch.detail_size", 4)
	v.SetDefault("batch.extract_size", 4)
	v.SetDefault("batch.cooldown_ms", 1500)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.backoff_base_ms", 2000)
	v.SetDefault("batch.max_backoff_ms", 30000)
	v.SetDefault("batch.rate_limit_multiplier", 2.0)
	v.SetDefault("batch.backoff", "linear")
	v.SetDefault("batch.jitter_fraction", 0.0)
	v.SetDefault("pipeline.context_pages", 5)
	v.SetDefault("pipeline.scan_sample", 30)
	v.SetDefault("pipeline.extract_cap", 10)
	v.SetDefault("pipeline.dedup_sample_items", 5)
	v.SetDefault("pipeline.topics_file", "")
	v.SetDefault("pipeline.context.max_tokens", 2000)
	v.SetDefault("pipeline.context.temperature", 0.0)
	v.SetDefault("pipeline.scan.max_tokens", 400)
	v.SetDefault("pipeline.scan.temperature", 0.1)
	v.SetDefault("pipeline.details.max_tokens", 2000)
	v.SetDefault("pipeline.details.temperature", 0.0)
	v.SetDefault("pipeline.extract.max_tokens", 3000)
	v.SetDefault("pipeline.extract.temperature", 0.0)
	v.SetDefault("pipeline.dedup.max_tokens", 1500)
	v.SetDefault("pipeline.dedup.temperature", 0.0)
	v.SetDefault("render.pdftoppm_path", "pdftoppm")
	v.SetDefault("render.temp_dir", "")
	v.SetDefault("render.dpi", 150)
	v.SetDefault("render.low_max_px", 1024)
	v.SetDefault("render.high_max_px", 1568)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the keys a command mode needs. Modes: "analyze",
// "serve", "runs".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze", "serve", "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if mode == "analyze" || mode == "serve" {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Anthropic.HaikuModel == "" || c.Anthropic.SonnetModel == "" {
			errs = append(errs, "anthropic.haiku_model and anthropic.sonnet_model are required")
		}
		for name, size := range map[string]int{
			"context_size": c.Batch.ContextSize,
			"scan_size":    c.Batch.ScanSize,
			"detail_size":  c.Batch.DetailSize,
			"extract_size": c.Batch.ExtractSize,
		} {
			if size < 1 || size > 50 {
				errs = append(errs, "batch."+name+" must be between 1 and 50")
			}
		}
		if c.Batch.MaxRetries < 0 {
			errs = append(errs, "batch.max_retries must be >= 0")
		}
		if _, err := resilience.ParseBackoff(c.Batch.Backoff); err != nil {
			errs = append(errs, "batch.backoff must be linear or exponential")
		}
		if c.Batch.JitterFraction < 0 || c.Batch.JitterFraction >= 1 {
			errs = append(errs, "batch.jitter_fraction must be in [0, 1)")
		}
		if c.Pipeline.ScanSample < 1 {
			errs = append(errs, "pipeline.scan_sample must be > 0")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
