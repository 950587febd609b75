package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/config"
	"github.com/sells-group/takeoff-cli/internal/cost"
	"github.com/sells-group/takeoff-cli/internal/inference"
	"github.com/sells-group/takeoff-cli/internal/metrics"
	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/pipeline"
	"github.com/sells-group/takeoff-cli/internal/store"
	"github.com/sells-group/takeoff-cli/pkg/anthropic"
)

// runDetail is a run together with its stage bookkeeping.
type runDetail struct {
	*model.Run
	Phases []model.RunPhase `json:"phases"`
}

// loadRunDetail fetches a run and its phases.
func loadRunDetail(ctx context.Context, st store.Store, id string) (*runDetail, error) {
	run, err := st.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	phases, err := st.ListPhases(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "list phases for run %s", id)
	}
	if phases == nil {
		phases = []model.RunPhase{}
	}
	return &runDetail{Run: run, Phases: phases}, nil
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv holds the shared dependencies built by initPipeline.
type pipelineEnv struct {
	Store    store.Store
	Metrics  *metrics.Metrics
	Pipeline *pipeline.Pipeline
}

// Close releases the store.
func (e *pipelineEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initPipeline validates config for mode and wires store, vision client,
// inference adapter and pipeline together.
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, eris.Wrap(err, "invalid config")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	if n, err := st.DeleteExpiredInference(ctx); err != nil {
		zap.L().Warn("prune inference cache", zap.Error(err))
	} else if n > 0 {
		zap.L().Info("pruned expired inference cache entries", zap.Int("deleted", n))
	}

	var clientOpts []anthropic.ClientOption
	if cfg.Anthropic.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	if cfg.Anthropic.TimeoutSecs > 0 {
		clientOpts = append(clientOpts, anthropic.WithRequestTimeout(time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second))
	}
	client := anthropic.NewClient(cfg.Anthropic.Key, clientOpts...)

	m := metrics.New()
	adapter, err := inference.NewAdapter(client, adapterConfig(cfg.Inference),
		inference.WithCache(st),
		inference.WithCostCalculator(cost.NewCalculator(pricingRates(cfg.Pricing))),
		inference.WithMetrics(m),
	)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init inference adapter")
	}

	return &pipelineEnv{
		Store:    st,
		Metrics:  m,
		Pipeline: pipeline.New(cfg, st, adapter, pipeline.WithMetrics(m)),
	}, nil
}

func adapterConfig(c config.InferenceConfig) inference.Config {
	threshold := c.BreakerThreshold
	if threshold < 0 {
		threshold = 0
	}
	return inference.Config{
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		BreakerThreshold:  uint32(threshold),
		BreakerTimeout:    time.Duration(c.BreakerTimeoutSecs) * time.Second,
		CacheTTL:          time.Duration(c.CacheTTLHours) * time.Hour,
	}
}

// pricingRates converts configured pricing into calculator rates. Models
// missing from config fall back to the built-in table.
func pricingRates(p config.PricingConfig) cost.Rates {
	rates := cost.DefaultRates()
	for name, mp := range p.Anthropic {
		rates.Anthropic[name] = cost.ModelRate{
			Input:         mp.Input,
			Output:        mp.Output,
			CacheWriteMul: mp.CacheWriteMul,
			CacheReadMul:  mp.CacheReadMul,
		}
	}
	return rates
}

// loadTaxonomy resolves the active topic taxonomy. Explicit topic keys win
// over the configured subset.
func loadTaxonomy(p config.PipelineConfig, topics []string) (model.Taxonomy, error) {
	tax, err := model.LoadTaxonomy(p.TopicsFile)
	if err != nil {
		return model.Taxonomy{}, err
	}
	keys := topics
	if len(keys) == 0 {
		keys = p.Topics
	}
	if len(keys) == 0 {
		return tax, nil
	}
	return tax.Select(keys)
}

// splitTopics parses a comma-separated topic list.
func splitTopics(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
