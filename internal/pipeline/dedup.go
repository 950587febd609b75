package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/batch"
	"github.com/sells-group/takeoff-cli/internal/inference"
	"github.com/sells-group/takeoff-cli/internal/model"
)

// highConfidence is the only comparator verdict that can remove a page.
const highConfidence = "high"

// DuplicateGroup is the comparator's claim that RemovePages are re-scans of
// KeepPage.
type DuplicateGroup struct {
	KeepPage    int    `json:"keep_page"`
	RemovePages []int  `json:"remove_pages"`
	Confidence  string `json:"confidence"`
}

// Deduplicate implements Stage 2.5. One text-only call proposes duplicate
// groups; ApplyDedup then verifies each claim locally. If the call fails,
// every page is kept.
func Deduplicate(ctx context.Context, st Stage, pages []model.PageExtraction, sampleItems int) ([]model.PageExtraction, model.DedupReport, model.TokenUsage) {
	items := model.CountQuantities(pages)
	skipped := func(reason string) model.DedupReport {
		return model.DedupReport{
			PagesAnalyzed: len(pages),
			PagesRemoved:  []int{},
			ItemsBefore:   items,
			ItemsAfter:    items,
			Skipped:       true,
			Reason:        reason,
		}
	}

	withItems := 0
	for _, p := range pages {
		if len(p.Quantities) > 0 {
			withItems++
		}
	}
	if withItems < 2 {
		return pages, skipped("fewer than two pages with quantities"), model.TokenUsage{}
	}

	prompt, err := buildDedupPrompt(summarizePages(pages, sampleItems))
	if err != nil {
		return pages, skipped("could not build page summaries"), model.TokenUsage{}
	}

	meter := &usageMeter{}
	outcomes := runTasks(ctx, st, []batch.Task[[]DuplicateGroup]{{
		Key: "dedup",
		Fn: func(ctx context.Context) ([]DuplicateGroup, error) {
			res, err := infer(ctx, st, meter, inference.Request{
				Pass:    inference.PassDedup,
				System:  estimatorSystemPrompt,
				Prompt:  prompt,
				Options: st.Options,
			})
			if err != nil {
				return nil, err
			}
			resp, err := inference.Decode[dedupResponse](res)
			if err != nil {
				return nil, err
			}
			return resp.DuplicateGroups, nil
		},
	}})

	if outcomes[0].FellBack {
		zap.L().Warn("pipeline: dedup call failed, keeping all pages", zap.Error(outcomes[0].Err))
		return pages, skipped("dedup call failed"), meter.total()
	}

	kept, report := ApplyDedup(pages, outcomes[0].Value)
	return kept, report, meter.total()
}

// ApplyDedup removes pages the comparator grouped with high confidence,
// but only when the page is verifiably a copy of its keep page. Pages are
// removed whole; survivors keep their order.
func ApplyDedup(pages []model.PageExtraction, groups []DuplicateGroup) ([]model.PageExtraction, model.DedupReport) {
	byNumber := make(map[int]int, len(pages))
	for i, p := range pages {
		byNumber[p.PageNumber] = i
	}

	removed := make(map[int]struct{})
	for _, g := range groups {
		if model.NormalizeKey(g.Confidence) != highConfidence {
			continue
		}
		keepIdx, ok := byNumber[g.KeepPage]
		if !ok {
			continue
		}
		if _, gone := removed[g.KeepPage]; gone {
			continue
		}
		for _, r := range g.RemovePages {
			if r == g.KeepPage {
				continue
			}
			idx, ok := byNumber[r]
			if !ok {
				continue
			}
			if _, gone := removed[r]; gone {
				continue
			}
			if !isDuplicate(pages[idx], pages[keepIdx]) {
				zap.L().Debug("pipeline: dedup claim rejected",
					zap.Int("page", r), zap.Int("keep_page", g.KeepPage))
				continue
			}
			removed[r] = struct{}{}
		}
	}

	kept := make([]model.PageExtraction, 0, len(pages))
	pagesRemoved := make([]int, 0, len(removed))
	for _, p := range pages {
		if _, gone := removed[p.PageNumber]; gone {
			pagesRemoved = append(pagesRemoved, p.PageNumber)
			continue
		}
		kept = append(kept, p)
	}
	slices.Sort(pagesRemoved)

	return kept, model.DedupReport{
		PagesAnalyzed:   len(pages),
		DuplicatesFound: len(pagesRemoved),
		PagesRemoved:    pagesRemoved,
		ItemsBefore:     model.CountQuantities(pages),
		ItemsAfter:      model.CountQuantities(kept),
	}
}

// isDuplicate reports whether page is a copy of keep: same page type, same
// number of items, and every (item key, value) on page also on keep.
func isDuplicate(page, keep model.PageExtraction) bool {
	if len(page.Quantities) == 0 || len(page.Quantities) != len(keep.Quantities) {
		return false
	}
	if model.NormalizeKey(page.PageType) != model.NormalizeKey(keep.PageType) {
		return false
	}
	available := make(map[string]int, len(keep.Quantities))
	for _, q := range keep.Quantities {
		available[valueKey(q)]++
	}
	for _, q := range page.Quantities {
		k := valueKey(q)
		if available[k] == 0 {
			return false
		}
		available[k]--
	}
	return true
}

func valueKey(q model.QuantityItem) string {
	return q.Key() + "=" + strconv.FormatFloat(q.Value, 'f', -1, 64)
}

func summarizePages(pages []model.PageExtraction, sampleItems int) []pageSummary {
	out := make([]pageSummary, 0, len(pages))
	for _, p := range pages {
		s := pageSummary{
			PageNumber:  p.PageNumber,
			PageType:    p.PageType,
			ItemCount:   len(p.Quantities),
			SampleItems: []string{},
		}
		for i, q := range p.Quantities {
			if i >= sampleItems {
				break
			}
			s.SampleItems = append(s.SampleItems,
				fmt.Sprintf("%s: %s %s", q.Item, strconv.FormatFloat(q.Value, 'f', -1, 64), q.Unit))
		}
		out = append(out, s)
	}
	return out
}
