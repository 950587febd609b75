package pipeline

import (
	"strconv"

	"github.com/sells-group/takeoff-cli/internal/model"
)

const (
	defaultLocation = "not specified"
	defaultSource   = "from plan"
)

// itemGroup collects every occurrence of one item key in page order.
type itemGroup struct {
	key         string
	item        string
	unit        string
	occurrences []model.Occurrence
}

// groupItems groups all quantities by item key. Groups are ordered by
// first appearance; occurrences keep page order.
func groupItems(pages []model.PageExtraction) []*itemGroup {
	var groups []*itemGroup
	byKey := make(map[string]*itemGroup)
	for _, p := range pages {
		for _, q := range p.Quantities {
			k := q.Key()
			g, ok := byKey[k]
			if !ok {
				g = &itemGroup{key: k, item: q.Item, unit: q.Unit}
				byKey[k] = g
				groups = append(groups, g)
			}
			g.occurrences = append(g.occurrences, occurrenceOf(p.PageNumber, q))
		}
	}
	return groups
}

func occurrenceOf(page int, q model.QuantityItem) model.Occurrence {
	o := model.Occurrence{
		Page:     page,
		Value:    q.Value,
		Unit:     q.Unit,
		Location: q.Location,
		Source:   q.Source,
	}
	if o.Location == "" {
		o.Location = defaultLocation
	}
	if o.Source == "" {
		o.Source = defaultSource
	}
	return o
}

// DetectConflicts raises one conflict per item key whose occurrences carry
// more than one distinct value.
func DetectConflicts(pages []model.PageExtraction) []model.Conflict {
	conflicts := []model.Conflict{}
	for _, g := range groupItems(pages) {
		distinct := make(map[float64]struct{})
		for _, o := range g.occurrences {
			distinct[o.Value] = struct{}{}
		}
		if len(distinct) < 2 {
			continue
		}
		conflicts = append(conflicts, model.Conflict{
			Type:        model.ConflictTypeQuantity,
			ItemKey:     g.key,
			Item:        g.item,
			Unit:        g.unit,
			Issue:       g.item + " has different quantities across pages",
			Occurrences: append([]model.Occurrence{}, g.occurrences...),
		})
	}
	return conflicts
}

// BuildLineItems aggregates one line item per item key. Conflicting values
// are still summed; the line item is only marked.
func BuildLineItems(pages []model.PageExtraction, conflicts []model.Conflict) []model.LineItem {
	conflicted := make(map[string]struct{}, len(conflicts))
	for _, c := range conflicts {
		conflicted[c.ItemKey] = struct{}{}
	}

	items := []model.LineItem{}
	for _, g := range groupItems(pages) {
		li := model.LineItem{
			Item:            g.item,
			Unit:            g.unit,
			Locations:       []string{},
			Pages:           []int{},
			Sources:         []string{},
			SourceBreakdown: append([]model.Occurrence{}, g.occurrences...),
		}
		seenLoc := map[string]struct{}{}
		seenSrc := map[string]struct{}{}
		seenPage := map[int]struct{}{}
		for _, o := range g.occurrences {
			li.TotalQuantity += o.Value
			if _, ok := seenLoc[o.Location]; !ok {
				seenLoc[o.Location] = struct{}{}
				li.Locations = append(li.Locations, o.Location)
			}
			if _, ok := seenSrc[o.Source]; !ok {
				seenSrc[o.Source] = struct{}{}
				li.Sources = append(li.Sources, o.Source)
			}
			if _, ok := seenPage[o.Page]; !ok {
				seenPage[o.Page] = struct{}{}
				li.Pages = append(li.Pages, o.Page)
			}
		}
		_, li.Conflicted = conflicted[g.key]
		items = append(items, li)
	}
	return items
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
