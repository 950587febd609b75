package pipeline

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Response shapes as the model returns them. Fields use the flex types
// below because the model is loose about strings versus numbers.

type scanResponse struct {
	Relevant         bool       `json:"relevant"`
	TopicsFound      []string   `json:"topics_found"`
	KeywordsFound    []string   `json:"keywords_found"`
	PageType         flexString `json:"page_type"`
	Confidence       flexNumber `json:"confidence"`
	BriefDescription flexString `json:"brief_description"`
}

type contextResponse struct {
	DocumentType        flexString       `json:"document_type"`
	Trade               flexString       `json:"trade"`
	ProjectName         flexString       `json:"project_name"`
	LegendItems         []wireLegendItem `json:"legend_items"`
	KeySpecifications   flexStrings      `json:"key_specifications"`
	DetailReferences    []wireDetailRef  `json:"detail_references"`
	StandardsReferenced flexStrings      `json:"standards_referenced"`
}

type wireLegendItem struct {
	Symbol   flexString `json:"symbol"`
	Meaning  flexString `json:"meaning"`
	Material flexString `json:"material"`
}

type wireDetailRef struct {
	Type  flexString `json:"type"`
	Sheet flexString `json:"sheet"`
}

type detailsResponse struct {
	Details []wireDetail `json:"details"`
}

type wireDetail struct {
	DetailNumber    flexString `json:"detail_number"`
	TypeDesignation flexString `json:"type_designation"`
	Dimensions      flexString `json:"dimensions"`
	Material        flexString `json:"material"`
	Thickness       flexString `json:"thickness"`
	Color           flexString `json:"color"`
}

type extractResponse struct {
	PageType        flexString     `json:"page_type"`
	Quantities      []wireQuantity `json:"quantities"`
	Materials       []wireMaterial `json:"materials"`
	ScopeItems      flexStrings    `json:"scope_items"`
	Specifications  flexStrings    `json:"specifications"`
	Notes           flexStrings    `json:"notes"`
	CrossReferences flexStrings    `json:"cross_references"`
}

type wireQuantity struct {
	Item     flexString `json:"item"`
	Value    flexNumber `json:"value"`
	Unit     flexString `json:"unit"`
	Location flexString `json:"location"`
	Source   flexString `json:"source"`
}

type wireMaterial struct {
	Item          flexString `json:"item"`
	Specification flexString `json:"specification"`
	Color         flexString `json:"color"`
	Width         flexString `json:"width"`
	Size          flexString `json:"size"`
	Source        flexString `json:"source"`
}

type dedupResponse struct {
	DuplicateGroups []DuplicateGroup `json:"duplicate_groups"`
}

// flexString accepts a JSON string, number, bool or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		*f = ""
		return nil
	}
	*f = flexString(string(b))
	return nil
}

func (f flexString) String() string { return string(f) }

var leadingNumber = regexp.MustCompile(`^-?\d+(\.\d+)?`)

// flexNumber accepts a JSON number or a string that starts with one
// ("850", "1,200 LF"). Anything else leaves ok false.
type flexNumber struct {
	value float64
	ok    bool
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	*f = flexNumber{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	} else {
		s = string(b)
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if finite(v) {
			*f = flexNumber{value: v, ok: true}
		}
		return nil
	}
	if m := leadingNumber.FindString(s); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil && finite(v) {
			*f = flexNumber{value: v, ok: true}
		}
	}
	return nil
}

// finite rejects NaN and infinities, which neither sum nor encode as JSON.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// flexStrings accepts a list whose entries are strings or small objects.
// Objects collapse to their first descriptive field.
type flexStrings []string

var descriptiveKeys = []string{"item", "description", "text", "note", "reference", "name", "specification"}

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	*f = nil
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s flexString
		if err := json.Unmarshal(r, &s); err == nil && s != "" {
			out = append(out, s.String())
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(r, &obj); err != nil {
			continue
		}
		for _, k := range descriptiveKeys {
			if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
				break
			}
		}
	}
	*f = out
	return nil
}
