package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/resilience"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "takeoff.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, 10, cfg.Batch.ScanSize)
	assert.Equal(t, 4, cfg.Batch.ExtractSize)
	assert.Equal(t, 1500*time.Millisecond, cfg.Batch.Cooldown())
	assert.Equal(t, 3, cfg.Batch.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Batch.BackoffBase())
	assert.Equal(t, 30*time.Second, cfg.Batch.MaxBackoff())
	assert.InDelta(t, 2.0, cfg.Batch.RateLimitMultiplier, 0.001)
	assert.Equal(t, resilience.BackoffLinear, cfg.Batch.BackoffStrategy())
	assert.Zero(t, cfg.Batch.JitterFraction)
	assert.Equal(t, 5, cfg.Pipeline.ContextPages)
	assert.Equal(t, 30, cfg.Pipeline.ScanSample)
	assert.Equal(t, 10, cfg.Pipeline.ExtractCap)
	assert.Equal(t, 5, cfg.Pipeline.DedupSampleItems)
	assert.Equal(t, 400, cfg.Pipeline.Scan.MaxTokens)
	assert.InDelta(t, 0.1, cfg.Pipeline.Scan.Temperature, 0.001)
	assert.Equal(t, 3000, cfg.Pipeline.Extract.MaxTokens)
	assert.Zero(t, cfg.Pipeline.Extract.Temperature)
	assert.Equal(t, "pdftoppm", cfg.Render.PdftoppmPath)
	assert.Equal(t, 1024, cfg.Render.LowMaxPx)
	assert.Equal(t, 1568, cfg.Render.HighMaxPx)
	assert.Equal(t, 5, cfg.Inference.BreakerThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/takeoff
log:
  level: debug
  format: console
server:
  port: 9090
batch:
  scan_size: 6
  backoff: exponential
  jitter_fraction: 0.25
pipeline:
  topics: [striping, signage]
  extract:
    max_tokens: 4000
pricing:
  anthropic:
    claude-sonnet-4-5-20250929:
      input: 3
      output: 15
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Batch.ScanSize)
	assert.Equal(t, resilience.BackoffExponential, cfg.Batch.BackoffStrategy())
	assert.InDelta(t, 0.25, cfg.Batch.JitterFraction, 0.001)
	assert.Equal(t, []string{"striping", "signage"}, cfg.Pipeline.Topics)
	assert.Equal(t, 4000, cfg.Pipeline.Extract.MaxTokens)
	assert.InDelta(t, 15.0, cfg.Pricing.Anthropic["claude-sonnet-4-5-20250929"].Output, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Batch.ExtractSize)
	assert.InDelta(t, 0.1, cfg.Pipeline.Scan.Temperature, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TAKEOFF_STORE_DRIVER", "postgres")
	t.Setenv("TAKEOFF_LOG_LEVEL", "warn")
	t.Setenv("TAKEOFF_ANTHROPIC_KEY", "sk-ant-env")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-ant-env", cfg.Anthropic.Key)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("TAKEOFF_SERVER_PORT", "3000")
	t.Setenv("TAKEOFF_BATCH_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Batch.MaxRetries)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "takeoff.db"
	cfg.Anthropic.HaikuModel = "claude-haiku-4-5-20251001"
	cfg.Anthropic.SonnetModel = "claude-sonnet-4-5-20250929"
	cfg.Batch.ContextSize = 5
	cfg.Batch.ScanSize = 10
	cfg.Batch.DetailSize = 4
	cfg.Batch.ExtractSize = 4
	cfg.Batch.MaxRetries = 3
	cfg.Pipeline.ScanSample = 30
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateAnalyze_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateAnalyze_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Anthropic.SonnetModel = ""

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "anthropic.sonnet_model")
}

func TestValidateRuns_NoAnthropicKeyNeeded(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("runs"))
}

func TestValidate_BadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBatchBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	cfg.Batch.ScanSize = 0
	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.scan_size must be between 1 and 50")

	cfg.Batch.ScanSize = 51
	err = cfg.Validate("analyze")
	require.Error(t, err)

	cfg.Batch.ScanSize = 50
	cfg.Batch.MaxRetries = -1
	err = cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.max_retries must be >= 0")

	cfg.Batch.MaxRetries = 0
	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateBatchRetryShape(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	cfg.Batch.Backoff = "fibonacci"
	cfg.Batch.JitterFraction = 1.5
	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.backoff must be linear or exponential")
	assert.Contains(t, err.Error(), "batch.jitter_fraction must be in [0, 1)")
	assert.Equal(t, resilience.BackoffLinear, cfg.Batch.BackoffStrategy())

	cfg.Batch.Backoff = "Exponential"
	cfg.Batch.JitterFraction = 0.2
	require.NoError(t, cfg.Validate("analyze"))
	assert.Equal(t, resilience.BackoffExponential, cfg.Batch.BackoffStrategy())
}
