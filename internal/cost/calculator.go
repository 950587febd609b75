package cost

import (
	"sort"

	"github.com/sells-group/takeoff-cli/internal/model"
)

// Rates holds per-model pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

// Breakdown attributes spend to each phase that made inference calls.
// Phases without calls are left out.
func Breakdown(phases []model.PhaseResult) model.CostBreakdown {
	out := model.CostBreakdown{Stages: make(map[string]model.StageCost)}
	for _, p := range phases {
		u := p.TokenUsage
		if u.Calls == 0 && u.Cost == 0 {
			continue
		}
		sc := out.Stages[p.Name]
		sc.Calls += u.Calls
		sc.InputTokens += u.InputTokens
		sc.OutputTokens += u.OutputTokens
		sc.USD += u.Cost
		out.Stages[p.Name] = sc
		out.TotalUSD += u.Cost
	}
	return out
}

// StageNames returns the breakdown's stage names sorted.
func StageNames(b model.CostBreakdown) []string {
	names := make([]string, 0, len(b.Stages))
	for n := range b.Stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
