package model

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Topic is one entry of the relevance taxonomy.
type Topic struct {
	Key      string   `yaml:"key" json:"key"`
	Label    string   `yaml:"label" json:"label"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Taxonomy is the ordered set of topics a scan looks for.
type Taxonomy struct {
	Topics []Topic `yaml:"topics" json:"topics"`
}

// DefaultTaxonomy returns the built-in pavement-marking taxonomy.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{Topics: []Topic{
		{Key: "striping", Label: "Striping", Keywords: []string{
			"stripe", "striping", "line", "lines", "pavement marking", "traffic marking",
			"yellow line", "white line", "centerline", "edge line", "paint", "thermoplastic",
		}},
		{Key: "thermoplastic_lines", Label: "Thermoplastic Lines", Keywords: []string{
			"thermoplastic", "thermo", "line", "lines", "white", "yellow", "pavement marking",
		}},
		{Key: "crosswalks", Label: "Crosswalks", Keywords: []string{
			"crosswalk", "crosswalks", "crossing", "pedestrian crossing", "zebra crossing",
			"ladder marking", "continental",
		}},
		{Key: "stop_bars", Label: "Stop Bars", Keywords: []string{
			"stop bar", "stop line", "stop marking", "intersection",
		}},
		{Key: "symbols_legends", Label: "Symbols & Legends", Keywords: []string{
			"symbol", "symbols", "legend", "arrow", "bike lane", "bicycle", "handicap",
			"accessible", "pavement message",
		}},
		{Key: "curb_painting", Label: "Curb Painting", Keywords: []string{
			"curb", "curbing", "paint", "painting", "red curb", "yellow curb", "blue curb", "white curb",
		}},
		{Key: "signage", Label: "Signage (ADA & Posts)", Keywords: []string{
			"sign", "signage", "post", "posts", "ada", "accessible", "parking sign", "regulatory", "warning",
		}},
		{Key: "line_removal", Label: "Line Removal", Keywords: []string{
			"removal", "remove", "obliterate", "obliteration", "grind", "grinding",
			"sandblast", "waterblast", "eradicate",
		}},
		{Key: "quantities_tables", Label: "Quantities Tables", Keywords: []string{
			"quantity", "quantities", "table", "schedule", "summary", "total",
			"bid item", "pay item", "unit price",
		}},
		{Key: "specification_notes", Label: "Specification Notes", Keywords: []string{
			"specification", "spec", "note", "notes", "general note", "detail",
			"standard", "requirement", "material",
		}},
	}}
}

// LoadTaxonomy reads a YAML taxonomy file. An empty path returns the default.
func LoadTaxonomy(path string) (Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Taxonomy{}, eris.Wrapf(err, "model: read taxonomy %s", path)
	}
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Taxonomy{}, eris.Wrapf(err, "model: parse taxonomy %s", path)
	}
	if len(t.Topics) == 0 {
		return Taxonomy{}, eris.Errorf("model: taxonomy %s has no topics", path)
	}
	for i, topic := range t.Topics {
		if topic.Key == "" {
			return Taxonomy{}, eris.Errorf("model: taxonomy topic %d has no key", i)
		}
		if topic.Label == "" {
			t.Topics[i].Label = topic.Key
		}
	}
	return t, nil
}

// Keys returns the topic keys in taxonomy order.
func (t Taxonomy) Keys() []string {
	keys := make([]string, len(t.Topics))
	for i, topic := range t.Topics {
		keys[i] = topic.Key
	}
	return keys
}

// Select returns a taxonomy restricted to the given keys. Unknown keys are
// an error; an empty selection returns t unchanged.
func (t Taxonomy) Select(keys []string) (Taxonomy, error) {
	if len(keys) == 0 {
		return t, nil
	}
	byKey := make(map[string]Topic, len(t.Topics))
	for _, topic := range t.Topics {
		byKey[topic.Key] = topic
	}
	var out Taxonomy
	for _, k := range keys {
		k = strings.TrimSpace(k)
		topic, ok := byKey[k]
		if !ok {
			return Taxonomy{}, eris.Errorf("model: unknown topic %q", k)
		}
		out.Topics = append(out.Topics, topic)
	}
	return out, nil
}

// MatchTopics maps free-form topic names and keywords reported by the model
// onto taxonomy keys. A reported topic matches by key or label; a reported
// keyword matches any topic whose keyword list contains it. The result is
// sorted and de-duplicated.
func (t Taxonomy) MatchTopics(reportedTopics, reportedKeywords []string) []string {
	found := make(map[string]struct{})
	for _, r := range reportedTopics {
		nr := NormalizeKey(strings.ReplaceAll(r, "_", " "))
		if nr == "" {
			continue
		}
		for _, topic := range t.Topics {
			if nr == NormalizeKey(strings.ReplaceAll(topic.Key, "_", " ")) || nr == NormalizeKey(topic.Label) {
				found[topic.Key] = struct{}{}
			}
		}
	}
	for _, kw := range append(append([]string{}, reportedKeywords...), reportedTopics...) {
		nk := NormalizeKey(kw)
		if nk == "" {
			continue
		}
		for _, topic := range t.Topics {
			for _, tk := range topic.Keywords {
				if ContainsWord(nk, NormalizeKey(tk)) {
					found[topic.Key] = struct{}{}
					break
				}
			}
		}
	}
	out := make([]string, 0, len(found))
	for k := range found {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
