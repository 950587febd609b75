package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/batch"
	"github.com/sells-group/takeoff-cli/internal/inference"
	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/render"
)

// DetailCandidates returns the relevant pages that look like detail sheets.
func DetailCandidates(scans []model.PageScanResult) []model.PageScanResult {
	var out []model.PageScanResult
	for _, s := range scans {
		if s.Relevant && s.IsDetailSheet() {
			out = append(out, s)
		}
	}
	return out
}

// ExtractDetailSpecs implements Stage 0.5. Each candidate page is read once;
// records merge into one map in page order, first writer wins. No
// candidates, or no details on them, yields an empty map.
func ExtractDetailSpecs(ctx context.Context, st Stage, candidates []model.PageScanResult) (model.DetailSpecs, model.TokenUsage) {
	specs := model.DetailSpecs{}
	if len(candidates) == 0 {
		return specs, model.TokenUsage{}
	}

	meter := &usageMeter{}
	tasks := make([]batch.Task[[]model.DetailSpec], 0, len(candidates))
	for _, c := range candidates {
		n := c.PageNumber
		tasks = append(tasks, batch.Task[[]model.DetailSpec]{
			Key: pageKey(n),
			Fn: func(ctx context.Context) ([]model.DetailSpec, error) {
				resp, err := decodePage[detailsResponse](ctx, st, meter, inference.PassDetails, n,
					render.QualityHigh, estimatorSystemPrompt, detailsPrompt)
				if err != nil {
					return nil, err
				}
				return toDetailSpecs(n, resp), nil
			},
		})
	}

	dropped := 0
	for _, records := range batch.Values(runTasks(ctx, st, tasks)) {
		for _, r := range records {
			if !specs.Add(r) {
				dropped++
			}
		}
	}

	zap.L().Debug("pipeline: detail specs extracted",
		zap.Int("pages", len(candidates)),
		zap.Int("specs", len(specs)),
		zap.Int("dropped", dropped),
	)
	return specs, meter.total()
}

func toDetailSpecs(n int, resp detailsResponse) []model.DetailSpec {
	out := make([]model.DetailSpec, 0, len(resp.Details))
	for _, d := range resp.Details {
		out = append(out, model.DetailSpec{
			DetailNumber:    d.DetailNumber.String(),
			TypeDesignation: d.TypeDesignation.String(),
			Dimensions:      d.Dimensions.String(),
			Material:        d.Material.String(),
			Thickness:       d.Thickness.String(),
			Color:           d.Color.String(),
			SourcePage:      n,
		})
	}
	return out
}
