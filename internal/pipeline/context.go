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

// BuildContext implements Stage 0: read the given leading pages in
// parallel and merge their partial contexts. Pages that fail or carry no
// context contribute nothing.
func BuildContext(ctx context.Context, st Stage, pages []int) (model.DocumentContext, model.TokenUsage) {
	meter := &usageMeter{}
	tasks := make([]batch.Task[*model.DocumentContext], 0, len(pages))
	for _, n := range pages {
		tasks = append(tasks, batch.Task[*model.DocumentContext]{
			Key: pageKey(n),
			Fn: func(ctx context.Context) (*model.DocumentContext, error) {
				resp, err := decodePage[contextResponse](ctx, st, meter, inference.PassContext, n,
					render.QualityHigh, estimatorSystemPrompt, fmt.Sprintf(contextPrompt, n))
				if err != nil {
					return nil, err
				}
				partial := toDocumentContext(n, resp)
				return &partial, nil
			},
			Fallback: func(error) *model.DocumentContext { return nil },
		})
	}

	outcomes := runTasks(ctx, st, tasks)

	// Merge after the whole batch completes, in page order.
	merged := model.NewDocumentContext()
	for _, partial := range batch.Values(outcomes) {
		if partial == nil || partial.IsEmpty() {
			continue
		}
		merged = model.MergeContext(merged, *partial)
	}

	zap.L().Debug("pipeline: context built",
		zap.Int("pages", len(pages)),
		zap.Int("failed", countFallbacks(outcomes)),
		zap.Int("legend_items", len(merged.LegendItems)),
		zap.Int("key_specifications", len(merged.KeySpecifications)),
	)
	return merged, meter.total()
}

func toDocumentContext(n int, resp contextResponse) model.DocumentContext {
	out := model.NewDocumentContext()
	out.DocumentType = resp.DocumentType.String()
	out.Trade = resp.Trade.String()
	out.ProjectName = resp.ProjectName.String()
	for _, l := range resp.LegendItems {
		out.LegendItems = append(out.LegendItems, model.LegendItem{
			Symbol:   l.Symbol.String(),
			Meaning:  l.Meaning.String(),
			Material: l.Material.String(),
		})
	}
	out.KeySpecifications = append(out.KeySpecifications, resp.KeySpecifications...)
	for _, d := range resp.DetailReferences {
		out.DetailReferences = append(out.DetailReferences, model.DetailReference{
			Type:  d.Type.String(),
			Sheet: d.Sheet.String(),
		})
	}
	out.StandardsReferenced = append(out.StandardsReferenced, resp.StandardsReferenced...)

	if out.IsEmpty() {
		return out
	}
	// Run through the merge once so duplicates within a page collapse too.
	merged := model.MergeContext(model.NewDocumentContext(), out)
	merged.SourcePages = []int{n}
	return merged
}
