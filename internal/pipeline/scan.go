package pipeline

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/batch"
	"github.com/sells-group/takeoff-cli/internal/inference"
	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/render"
)

const (
	defaultScanConfidence = 70
	defaultScanPageType   = "Construction Document"
)

// ScanPages implements Stage 1: one cheap call per sampled page against
// the topic taxonomy. Results are returned in the order of pages; a failed
// scan yields an irrelevant page.
func ScanPages(ctx context.Context, st Stage, pages []int, tax model.Taxonomy) ([]model.PageScanResult, model.TokenUsage) {
	meter := &usageMeter{}
	prompt := buildScanPrompt(tax)

	tasks := make([]batch.Task[model.PageScanResult], 0, len(pages))
	for _, n := range pages {
		tasks = append(tasks, batch.Task[model.PageScanResult]{
			Key: pageKey(n),
			Fn: func(ctx context.Context) (model.PageScanResult, error) {
				resp, err := decodePage[scanResponse](ctx, st, meter, inference.PassScan, n,
					render.QualityLow, estimatorSystemPrompt, prompt)
				if err != nil {
					return model.PageScanResult{}, err
				}
				return toScanResult(n, resp, tax), nil
			},
			Fallback: func(error) model.PageScanResult {
				return model.PageScanResult{
					PageNumber: n,
					Topics:     []string{},
					PageType:   model.PageTypeUnknown,
					Summary:    "Scan failed",
				}
			},
		})
	}

	results := batch.Values(runTasks(ctx, st, tasks))

	relevant := 0
	for _, r := range results {
		if r.Relevant {
			relevant++
		}
	}
	zap.L().Debug("pipeline: scan complete",
		zap.Int("pages", len(pages)),
		zap.Int("relevant", relevant),
	)
	return results, meter.total()
}

// toScanResult maps a scan response onto the taxonomy. A page is relevant
// only when the model says so and at least one reported topic or keyword
// is recognized.
func toScanResult(n int, resp scanResponse, tax model.Taxonomy) model.PageScanResult {
	topics := tax.MatchTopics(resp.TopicsFound, resp.KeywordsFound)

	confidence := defaultScanConfidence
	if resp.Confidence.ok {
		confidence = int(math.Round(min(max(resp.Confidence.value, 0), 100)))
	}

	pageType := resp.PageType.String()
	if pageType == "" {
		pageType = defaultScanPageType
	}

	summary := resp.BriefDescription.String()
	if summary == "" {
		named := resp.TopicsFound
		if len(named) == 0 {
			named = topics
		}
		summary = pageType + ": " + strings.Join(named, ", ")
	}

	keywords := resp.KeywordsFound
	if keywords == nil {
		keywords = []string{}
	}

	return model.PageScanResult{
		PageNumber: n,
		Relevant:   resp.Relevant && len(topics) > 0,
		Topics:     topics,
		Keywords:   keywords,
		PageType:   pageType,
		Confidence: confidence,
		Summary:    summary,
	}
}

// RelevantPages filters scan results down to relevant pages, keeping scan
// order.
func RelevantPages(scans []model.PageScanResult) []model.PageScanResult {
	out := make([]model.PageScanResult, 0, len(scans))
	for _, s := range scans {
		if s.Relevant {
			out = append(out, s)
		}
	}
	return out
}
