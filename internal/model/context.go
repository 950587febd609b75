package model

import "strings"

// LegendItem is one symbol/line-type entry from a drawing legend.
type LegendItem struct {
	Symbol   string `json:"symbol"`
	Meaning  string `json:"meaning"`
	Material string `json:"material,omitempty"`
}

func (l LegendItem) key() string {
	return NormalizeKey(l.Symbol) + "|" + NormalizeKey(l.Meaning) + "|" + NormalizeKey(l.Material)
}

// DetailReference points at a standard detail drawn on another sheet.
type DetailReference struct {
	Type  string `json:"type"`
	Sheet string `json:"sheet"`
}

func (d DetailReference) key() string {
	return NormalizeKey(d.Type) + "|" + NormalizeKey(d.Sheet)
}

// DocumentContext is document-level metadata built once in Stage 0 and
// read-only for every later stage.
type DocumentContext struct {
	DocumentType        string            `json:"document_type"`
	Trade               string            `json:"trade"`
	ProjectName         string            `json:"project_name"`
	LegendItems         []LegendItem      `json:"legend_items"`
	KeySpecifications   []string          `json:"key_specifications"`
	DetailReferences    []DetailReference `json:"detail_references"`
	StandardsReferenced []string          `json:"standards_referenced"`
	SourcePages         []int             `json:"source_pages,omitempty"`
}

// NewDocumentContext returns a context with non-nil list fields so it
// serializes as empty arrays.
func NewDocumentContext() DocumentContext {
	return DocumentContext{
		LegendItems:         []LegendItem{},
		KeySpecifications:   []string{},
		DetailReferences:    []DetailReference{},
		StandardsReferenced: []string{},
	}
}

// IsEmpty reports whether the context carries no extractable information.
func (c DocumentContext) IsEmpty() bool {
	return strings.TrimSpace(c.DocumentType) == "" &&
		strings.TrimSpace(c.Trade) == "" &&
		strings.TrimSpace(c.ProjectName) == "" &&
		len(c.LegendItems) == 0 &&
		len(c.KeySpecifications) == 0 &&
		len(c.DetailReferences) == 0 &&
		len(c.StandardsReferenced) == 0
}

// MergeContext folds a partial (per-page) context into base and returns the
// result. The first non-empty scalar wins; list fields are unioned with
// duplicates removed (case-insensitive for strings, value-equality for
// structured entries). Merging the same partial twice is a no-op.
func MergeContext(base, partial DocumentContext) DocumentContext {
	out := NewDocumentContext()
	out.DocumentType = firstNonEmpty(base.DocumentType, partial.DocumentType)
	out.Trade = firstNonEmpty(base.Trade, partial.Trade)
	out.ProjectName = firstNonEmpty(base.ProjectName, partial.ProjectName)

	out.KeySpecifications = appendUnique(out.KeySpecifications, base.KeySpecifications...)
	out.KeySpecifications = appendUnique(out.KeySpecifications, partial.KeySpecifications...)
	out.StandardsReferenced = appendUnique(out.StandardsReferenced, base.StandardsReferenced...)
	out.StandardsReferenced = appendUnique(out.StandardsReferenced, partial.StandardsReferenced...)

	seenLegend := make(map[string]struct{})
	for _, l := range append(append([]LegendItem{}, base.LegendItems...), partial.LegendItems...) {
		if strings.TrimSpace(l.Symbol) == "" && strings.TrimSpace(l.Meaning) == "" {
			continue
		}
		if _, ok := seenLegend[l.key()]; ok {
			continue
		}
		seenLegend[l.key()] = struct{}{}
		out.LegendItems = append(out.LegendItems, l)
	}

	seenRefs := make(map[string]struct{})
	for _, d := range append(append([]DetailReference{}, base.DetailReferences...), partial.DetailReferences...) {
		if strings.TrimSpace(d.Type) == "" && strings.TrimSpace(d.Sheet) == "" {
			continue
		}
		if _, ok := seenRefs[d.key()]; ok {
			continue
		}
		seenRefs[d.key()] = struct{}{}
		out.DetailReferences = append(out.DetailReferences, d)
	}

	seenPages := make(map[int]struct{})
	for _, p := range append(append([]int{}, base.SourcePages...), partial.SourcePages...) {
		if _, ok := seenPages[p]; ok {
			continue
		}
		seenPages[p] = struct{}{}
		out.SourcePages = append(out.SourcePages, p)
	}
	return out
}

// Text returns all free-text fields joined and normalized, for keyword
// matching.
func (c DocumentContext) Text() string {
	parts := []string{c.DocumentType, c.Trade, c.ProjectName}
	parts = append(parts, c.KeySpecifications...)
	parts = append(parts, c.StandardsReferenced...)
	for _, l := range c.LegendItems {
		parts = append(parts, l.Symbol, l.Meaning, l.Material)
	}
	for _, d := range c.DetailReferences {
		parts = append(parts, d.Type, d.Sheet)
	}
	return NormalizeKey(strings.Join(parts, " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
