package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/batch"
	"github.com/sells-group/takeoff-cli/internal/inference"
	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/render"
)

// SelectForExtraction caps the relevant pages at limit, keeping scan order.
func SelectForExtraction(relevant []model.PageScanResult, limit int) []model.PageScanResult {
	if limit <= 0 || len(relevant) <= limit {
		return relevant
	}
	return relevant[:limit]
}

// ExtractPages implements Stage 2: one expensive call per page with the
// document context and detail specs in the prompt. A page that fails for
// any reason yields an empty sentinel extraction.
func ExtractPages(ctx context.Context, st Stage, pages []model.PageScanResult, dctx model.DocumentContext, specs model.DetailSpecs) ([]model.PageExtraction, model.TokenUsage) {
	meter := &usageMeter{}
	system := buildExtractSystem(dctx, specs)

	tasks := make([]batch.Task[model.PageExtraction], 0, len(pages))
	for _, scan := range pages {
		n := scan.PageNumber
		tasks = append(tasks, batch.Task[model.PageExtraction]{
			Key: pageKey(n),
			Fn: func(ctx context.Context) (model.PageExtraction, error) {
				resp, err := decodePage[extractResponse](ctx, st, meter, inference.PassExtract, n,
					render.QualityHigh, system, fmt.Sprintf(extractPrompt, n))
				if err != nil {
					return model.PageExtraction{}, err
				}
				return toPageExtraction(n, resp, scan.PageType), nil
			},
			Fallback: func(error) model.PageExtraction {
				return model.EmptyPageExtraction(n, scan.Summary)
			},
		})
	}

	results := batch.Values(runTasks(ctx, st, tasks))

	zap.L().Debug("pipeline: extraction complete",
		zap.Int("pages", len(pages)),
		zap.Int("failed", len(FailedPages(results))),
		zap.Int("quantities", model.CountQuantities(results)),
	)
	return results, meter.total()
}

// toPageExtraction converts a response into a PageExtraction. Quantities
// without a name or a usable non-negative value are dropped.
func toPageExtraction(n int, resp extractResponse, scanPageType string) model.PageExtraction {
	out := model.PageExtraction{
		PageNumber:      n,
		PageType:        resp.PageType.String(),
		Quantities:      make([]model.QuantityItem, 0, len(resp.Quantities)),
		Materials:       make([]model.MaterialSpec, 0, len(resp.Materials)),
		ScopeItems:      nonNil(resp.ScopeItems),
		Specifications:  nonNil(resp.Specifications),
		Notes:           nonNil(resp.Notes),
		CrossReferences: nonNil(resp.CrossReferences),
	}
	if out.PageType == "" {
		out.PageType = scanPageType
	}

	for _, q := range resp.Quantities {
		item := q.Item.String()
		if item == "" || !q.Value.ok || q.Value.value < 0 {
			continue
		}
		out.Quantities = append(out.Quantities, model.QuantityItem{
			Item:     item,
			Value:    q.Value.value,
			Unit:     q.Unit.String(),
			Location: q.Location.String(),
			Source:   q.Source.String(),
		})
	}

	for _, m := range resp.Materials {
		if m.Item == "" && m.Specification == "" {
			continue
		}
		out.Materials = append(out.Materials, model.MaterialSpec{
			Item:          m.Item.String(),
			Specification: m.Specification.String(),
			Color:         m.Color.String(),
			Width:         m.Width.String(),
			Size:          m.Size.String(),
			Source:        m.Source.String(),
		})
	}
	return out
}

// FailedPages lists the page numbers whose extraction is a sentinel.
func FailedPages(pages []model.PageExtraction) []int {
	out := []int{}
	for _, p := range pages {
		if p.Failed {
			out = append(out, p.PageNumber)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
