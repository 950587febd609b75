package model

import "strings"

// PageTypeUnknown marks a page whose extraction failed or returned nothing
// usable.
const PageTypeUnknown = "Unknown"

// PageScanResult is the Stage 1 relevance verdict for one page.
type PageScanResult struct {
	PageNumber int      `json:"page_number"`
	Relevant   bool     `json:"relevant"`
	Topics     []string `json:"topics"`
	Keywords   []string `json:"matched_keywords"`
	PageType   string   `json:"page_type"`
	Confidence int      `json:"confidence"`
	Summary    string   `json:"content_summary"`
}

// IsDetailSheet reports whether the page type or summary mentions a detail.
func (p PageScanResult) IsDetailSheet() bool {
	return strings.Contains(NormalizeKey(p.PageType), "detail") ||
		strings.Contains(NormalizeKey(p.Summary), "detail")
}

// MaterialSpec is a material callout read from a legend, note or detail.
type MaterialSpec struct {
	Item          string `json:"item"`
	Specification string `json:"specification"`
	Color         string `json:"color,omitempty"`
	Width         string `json:"width,omitempty"`
	Size          string `json:"size,omitempty"`
	Source        string `json:"source,omitempty"`
}

// QuantityItem is one counted or measured quantity on a page.
type QuantityItem struct {
	Item     string  `json:"item"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Location string  `json:"location,omitempty"`
	Source   string  `json:"source"`

	// Enrichment fields; set at most once, never removed.
	MaterialSpec           string                  `json:"material_spec,omitempty"`
	Dimensions             string                  `json:"dimensions,omitempty"`
	DetailReference        string                  `json:"detail_reference,omitempty"`
	MaterialDecision       *MaterialDecision       `json:"material_decision,omitempty"`
	MaterialRecommendation *MaterialRecommendation `json:"material_recommendation,omitempty"`
	Implied                bool                    `json:"implied,omitempty"`
}

// Key returns the normalized (item, unit) grouping key.
func (q QuantityItem) Key() string {
	return ItemKey(q.Item, q.Unit)
}

// PageExtraction is the Stage 2 result for one page.
type PageExtraction struct {
	PageNumber      int            `json:"page_number"`
	PageType        string         `json:"page_type"`
	Quantities      []QuantityItem `json:"quantities"`
	Materials       []MaterialSpec `json:"materials"`
	ScopeItems      []string       `json:"scope_items"`
	Specifications  []string       `json:"specifications"`
	Notes           []string       `json:"notes"`
	CrossReferences []string       `json:"cross_references"`
	Summary         string         `json:"content_summary,omitempty"`
	Failed          bool           `json:"failed,omitempty"`
}

// EmptyPageExtraction returns the sentinel substituted for a failed
// extraction. Downstream stages treat it like any legitimately empty page.
func EmptyPageExtraction(pageNumber int, summary string) PageExtraction {
	if summary == "" {
		summary = "Analysis failed"
	}
	return PageExtraction{
		PageNumber:      pageNumber,
		PageType:        PageTypeUnknown,
		Quantities:      []QuantityItem{},
		Materials:       []MaterialSpec{},
		ScopeItems:      []string{},
		Specifications:  []string{},
		Notes:           []string{},
		CrossReferences: []string{},
		Summary:         summary,
		Failed:          true,
	}
}

// Clone returns a deep copy so stages can derive new records without
// touching their input.
func (p PageExtraction) Clone() PageExtraction {
	out := p
	out.Quantities = make([]QuantityItem, len(p.Quantities))
	for i, q := range p.Quantities {
		out.Quantities[i] = q.clone()
	}
	out.Materials = append([]MaterialSpec{}, p.Materials...)
	out.ScopeItems = append([]string{}, p.ScopeItems...)
	out.Specifications = append([]string{}, p.Specifications...)
	out.Notes = append([]string{}, p.Notes...)
	out.CrossReferences = append([]string{}, p.CrossReferences...)
	return out
}

func (q QuantityItem) clone() QuantityItem {
	out := q
	if q.MaterialDecision != nil {
		d := *q.MaterialDecision
		out.MaterialDecision = &d
	}
	if q.MaterialRecommendation != nil {
		r := *q.MaterialRecommendation
		out.MaterialRecommendation = &r
	}
	return out
}

// CountQuantities returns the total number of quantity items across pages.
func CountQuantities(pages []PageExtraction) int {
	n := 0
	for _, p := range pages {
		n += len(p.Quantities)
	}
	return n
}

// DetailSpec is a dimensioned standard detail keyed by type designation.
type DetailSpec struct {
	DetailNumber    string `json:"detail_number,omitempty"`
	TypeDesignation string `json:"type_designation,omitempty"`
	Dimensions      string `json:"dimensions,omitempty"`
	Material        string `json:"material,omitempty"`
	Thickness       string `json:"thickness,omitempty"`
	Color           string `json:"color,omitempty"`
	SourcePage      int    `json:"source_page"`
}

// Key returns the normalized type designation, falling back to the detail
// number. An empty key means the record cannot be indexed.
func (d DetailSpec) Key() string {
	if k := NormalizeKey(d.TypeDesignation); k != "" {
		return k
	}
	return NormalizeKey(d.DetailNumber)
}

// DetailSpecs maps normalized type designations to their detail.
type DetailSpecs map[string]DetailSpec

// Add inserts spec under its key unless the key is empty or already taken.
// It reports whether the spec was stored.
func (m DetailSpecs) Add(spec DetailSpec) bool {
	k := spec.Key()
	if k == "" {
		return false
	}
	if _, exists := m[k]; exists {
		return false
	}
	m[k] = spec
	return true
}
