package pipeline

import (
	"sort"
	"strings"

	"github.com/sells-group/takeoff-cli/internal/model"
)

// EnrichStats counts what Enrich attached.
type EnrichStats struct {
	DetailMatches     int `json:"detail_matches"`
	MaterialDecisions int `json:"material_decisions"`
	Rewritten         int `json:"rewritten"`
	Recommendations   int `json:"recommendations"`
}

// Enrich implements Stage 3. It returns new page records; the input is not
// modified. Attached fields are only ever added, so running Enrich on its
// own output changes nothing.
func Enrich(pages []model.PageExtraction, specs model.DetailSpecs, pa model.ProjectAnalysis) ([]model.PageExtraction, EnrichStats) {
	keys := specKeys(specs)
	var stats EnrichStats

	out := make([]model.PageExtraction, len(pages))
	for i, p := range pages {
		cp := p.Clone()
		for j := range cp.Quantities {
			q := &cp.Quantities[j]
			if q.Implied {
				continue
			}
			if attachDetail(q, specs, keys) {
				stats.DetailMatches++
			}
			if !IsMarkingItem(q.Item) || q.MaterialDecision != nil {
				continue
			}

			d := DecideMaterial(q.Item, pa)
			decision := d.Decision
			q.MaterialDecision = &decision
			stats.MaterialDecisions++
			if d.Item != q.Item {
				q.Item = d.Item
				stats.Rewritten++
			}
			if d.Recommendation != nil && !keepsRecommendation(q.MaterialRecommendation) {
				rec := *d.Recommendation
				q.MaterialRecommendation = &rec
				stats.Recommendations++
			}
		}
		out[i] = cp
	}
	return out, stats
}

// keepsRecommendation reports whether an existing recommendation must not
// be replaced. Page records reloaded from a stored run can carry an upgrade
// recommendation without a decision.
func keepsRecommendation(existing *model.MaterialRecommendation) bool {
	return existing != nil && existing.Confidence == model.TierUpgradeRecommended
}

// specKeys orders detail keys longest first, then alphabetically, so the
// most specific designation is tried first.
func specKeys(specs model.DetailSpecs) []string {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// MatchDetail returns the first detail spec whose key occurs in the item
// name on word boundaries.
func MatchDetail(item string, specs model.DetailSpecs) (model.DetailSpec, bool) {
	return matchDetail(model.NormalizeKey(item), specs, specKeys(specs))
}

func matchDetail(normItem string, specs model.DetailSpecs, keys []string) (model.DetailSpec, bool) {
	for _, k := range keys {
		if model.ContainsWord(normItem, k) {
			return specs[k], true
		}
	}
	return model.DetailSpec{}, false
}

// attachDetail fills empty detail fields on q from the matching spec. It
// never overwrites a field that is already set.
func attachDetail(q *model.QuantityItem, specs model.DetailSpecs, keys []string) bool {
	spec, ok := matchDetail(model.NormalizeKey(q.Item), specs, keys)
	if !ok {
		return false
	}
	changed := false
	if q.Dimensions == "" && spec.Dimensions != "" {
		q.Dimensions = spec.Dimensions
		changed = true
	}
	if q.MaterialSpec == "" {
		if ms := joinNonEmpty(", ", spec.Material, spec.Thickness, spec.Color); ms != "" {
			q.MaterialSpec = ms
			changed = true
		}
	}
	if q.DetailReference == "" {
		ref := spec.DetailNumber
		if ref == "" {
			ref = spec.TypeDesignation
		}
		if ref != "" {
			q.DetailReference = ref
			changed = true
		}
	}
	return changed
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
