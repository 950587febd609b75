package pipeline

import "github.com/sells-group/takeoff-cli/internal/model"

const (
	impliedSource   = "implied scope"
	impliedLocation = "project-wide"
)

// impliedItems are added to any job with real marking, signage or parking
// scope.
var impliedItems = []struct {
	item  string
	scope string
}{
	{"Mobilization", "Mobilization and demobilization of crew and equipment"},
	{"Traffic Control", "Traffic control and work-zone protection during installation"},
	{"Layout and Pre-marking", "Layout and pre-marking prior to permanent markings"},
	{"Site Cleanup", "Site cleanup and debris removal on completion"},
}

// scopeKeywords identify real scope worth mobilizing for.
var scopeKeywords = []string{
	"stripe", "stripes", "striping", "line", "lines", "marking", "markings",
	"sign", "signs", "signage", "parking", "stall", "stalls", "crosswalk",
	"crosswalks", "stop bar", "stop bars", "arrow", "arrows", "symbol", "symbols", "curb",
}

// AppendImpliedScope implements Stage 4. When any page carries real scope,
// the implied items and scope notes are appended to the first page. The
// input is not modified; applying it twice adds nothing more.
func AppendImpliedScope(pages []model.PageExtraction) ([]model.PageExtraction, int) {
	if len(pages) == 0 || !hasRealScope(pages) || hasImplied(pages) {
		return pages, 0
	}

	out := make([]model.PageExtraction, len(pages))
	copy(out, pages)
	first := pages[0].Clone()
	for _, it := range impliedItems {
		first.Quantities = append(first.Quantities, model.QuantityItem{
			Item:     it.item,
			Value:    1,
			Unit:     "LS",
			Location: impliedLocation,
			Source:   impliedSource,
			Implied:  true,
		})
		first.ScopeItems = append(first.ScopeItems, it.scope)
	}
	out[0] = first
	return out, len(impliedItems)
}

func hasRealScope(pages []model.PageExtraction) bool {
	for _, p := range pages {
		for _, q := range p.Quantities {
			if !q.Implied && containsAny(model.NormalizeKey(q.Item), scopeKeywords) {
				return true
			}
		}
	}
	return false
}

func hasImplied(pages []model.PageExtraction) bool {
	for _, p := range pages {
		for _, q := range p.Quantities {
			if q.Implied {
				return true
			}
		}
	}
	return false
}
