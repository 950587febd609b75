package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff-cli/internal/config"
	"github.com/sells-group/takeoff-cli/internal/cost"
	"github.com/sells-group/takeoff-cli/internal/model"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestInitStore_SQLite(t *testing.T) {
	withConfig(t, &config.Config{Store: config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "takeoff.db"),
	}})

	ctx := context.Background()
	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	run, err := st.CreateRun(ctx, model.DocumentRef{Name: "plan.pdf"})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "mysql"}})

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver: mysql")
}

func TestInitPipeline_InvalidConfig(t *testing.T) {
	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: "x.db"}})

	_, err := initPipeline(context.Background(), "analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestLoadTaxonomy(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		tax, err := loadTaxonomy(config.PipelineConfig{}, nil)
		require.NoError(t, err)
		assert.Equal(t, model.DefaultTaxonomy().Keys(), tax.Keys())
	})

	t.Run("configured subset", func(t *testing.T) {
		tax, err := loadTaxonomy(config.PipelineConfig{Topics: []string{"stop_bars"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"stop_bars"}, tax.Keys())
	})

	t.Run("explicit topics win", func(t *testing.T) {
		tax, err := loadTaxonomy(config.PipelineConfig{Topics: []string{"stop_bars"}}, []string{"crosswalks", "signage"})
		require.NoError(t, err)
		assert.Equal(t, []string{"crosswalks", "signage"}, tax.Keys())
	})

	t.Run("topics file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "topics.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`topics:
  - key: curb_ramps
    keywords: [ramp, detectable warning]
  - key: bollards
    label: Bollards
`), 0o600))

		tax, err := loadTaxonomy(config.PipelineConfig{TopicsFile: path}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"curb_ramps", "bollards"}, tax.Keys())
		assert.Equal(t, "curb_ramps", tax.Topics[0].Label)
	})

	t.Run("unknown topic", func(t *testing.T) {
		_, err := loadTaxonomy(config.PipelineConfig{}, []string{"landscaping"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown topic")
	})
}

func TestSplitTopics(t *testing.T) {
	assert.Equal(t, []string{"striping", "crosswalks"}, splitTopics(" striping, ,crosswalks,"))
	assert.Nil(t, splitTopics(""))
}

func TestPricingRates(t *testing.T) {
	rates := pricingRates(config.PricingConfig{Anthropic: map[string]config.ModelPricing{
		"claude-sonnet-4-5-20250929": {Input: 2, Output: 10, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"custom-model":               {Input: 1, Output: 1},
	}})

	assert.Equal(t, cost.ModelRate{Input: 2, Output: 10, CacheWriteMul: 1.25, CacheReadMul: 0.1}, rates.Anthropic["claude-sonnet-4-5-20250929"])
	assert.Equal(t, 1.0, rates.Anthropic["custom-model"].Input)
	assert.Equal(t, cost.DefaultRates().Anthropic["claude-haiku-4-5-20251001"], rates.Anthropic["claude-haiku-4-5-20251001"])
}

func TestAdapterConfig(t *testing.T) {
	got := adapterConfig(config.InferenceConfig{
		RequestsPerSecond:  5,
		Burst:              10,
		BreakerThreshold:   3,
		BreakerTimeoutSecs: 30,
		CacheTTLHours:      24,
	})
	assert.Equal(t, 5.0, got.RequestsPerSecond)
	assert.Equal(t, 10, got.Burst)
	assert.Equal(t, uint32(3), got.BreakerThreshold)
	assert.Equal(t, 30*time.Second, got.BreakerTimeout)
	assert.Equal(t, 24*time.Hour, got.CacheTTL)

	assert.Zero(t, adapterConfig(config.InferenceConfig{BreakerThreshold: -1}).BreakerThreshold)
}
