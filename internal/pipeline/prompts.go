package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/takeoff-cli/internal/model"
)

const estimatorSystemPrompt = `You are a pavement-marking estimator reading construction drawing sheets. Respond with ONLY valid JSON. No markdown, no code blocks, no commentary.`

const contextPrompt = `This is page %d of a construction drawing set. Extract document-level information that applies to every sheet.

Return:
{
  "document_type": "e.g. Site Plan Set, Striping Plan, Civil Drawings",
  "trade": "e.g. pavement marking, civil, paving",
  "project_name": "project or site name from the title block",
  "legend_items": [{"symbol": "line type or symbol", "meaning": "what it represents", "material": "material if stated"}],
  "key_specifications": ["general notes that set materials or methods, e.g. All striping shall be thermoplastic"],
  "detail_references": [{"type": "e.g. Type A Island", "sheet": "e.g. C-5"}],
  "standards_referenced": ["e.g. MUTCD, GDOT Standard 4000"]
}

Use empty strings and empty arrays for anything not shown on this page.`

const detailsPrompt = `This page contains standard construction details. Extract every dimensioned detail that defines a marking, island, symbol or striping type.

Return:
{
  "details": [
    {
      "detail_number": "e.g. 3/C-5",
      "type_designation": "e.g. Type A Island",
      "dimensions": "e.g. 24 inch wide, 10 ft on center",
      "material": "e.g. thermoplastic",
      "thickness": "e.g. 90 mil",
      "color": "e.g. white"
    }
  ]
}

Return {"details": []} if no such details are shown.`

const scanPrompt = `You are analyzing a construction document page. Check if it contains information about ANY of these topics:

%s

IMPORTANT:
- Check for ALL topics, not just the first few
- Even if you see just ONE topic keyword, mark as relevant
- When in doubt, mark as relevant

Look carefully at text in drawings and CAD labels, tables and schedules with quantities, quantity callouts and dimensions, material specifications in notes, detail references and legends.

Return:
{
  "relevant": true,
  "topics_found": ["every topic you found"],
  "keywords_found": ["actual keywords you see"],
  "page_type": "Site Plan" | "Detail Sheet" | "Schedule" | "Specification" | "Notes" | "Other",
  "confidence": 75,
  "brief_description": "what you see on the page"
}

If it is clearly a cover page, index or utility plan with no relevant information, return relevant false with empty lists and confidence 0.`

const extractPrompt = `Analyze page %d and extract every piece of information that helps quantify pavement-marking work and estimate its cost.

- COUNT everything visible: parking stalls, signs, crosswalks, stop bars, arrows, symbols
- MEASURE striping using the drawing scale and report linear feet
- READ material specs from legends, notes and callouts
- LIST scope items even without exact quantities
- Use the document context and detail specifications above to name items consistently

Return:
{
  "page_type": "Site Plan" | "Detail Sheet" | "Schedule" | "Specification" | "Notes" | "Other",
  "quantities": [{"item": "parking stalls", "value": 45, "unit": "EA", "location": "north lot", "source": "counted from plan"}],
  "materials": [{"item": "pavement striping", "specification": "4-inch white thermoplastic", "color": "white", "width": "4 inch", "source": "legend"}],
  "scope_items": ["Install parking lot striping"],
  "specifications": ["Striping shall be 4-inch white thermoplastic"],
  "notes": ["See detail C-3 for crosswalk pattern"],
  "cross_references": ["Detail C-3", "Sheet L-5"]
}

Values must be plain numbers. If the page has no quantifiable information, return empty arrays but still fill in page_type and scope_items.`

const dedupPrompt = `Below are summaries of pages extracted from one construction drawing set. Some PDFs contain the same sheet twice. Identify ONLY groups of pages that are exact duplicates of the same sheet: same page_type, same items, same quantities.

Be extremely conservative. Similar pages from different areas of the site are NOT duplicates. If there is any doubt, do not group them.

Pages:
%s

Return:
{
  "duplicate_groups": [{"keep_page": 3, "remove_pages": [7], "confidence": "high" | "medium" | "low"}]
}

Return {"duplicate_groups": []} when no pages are duplicates.`

// buildScanPrompt lists each topic with its first five keywords.
func buildScanPrompt(tax model.Taxonomy) string {
	lines := make([]string, 0, len(tax.Topics))
	for _, t := range tax.Topics {
		kws := t.Keywords
		if len(kws) > 5 {
			kws = kws[:5]
		}
		lines = append(lines, fmt.Sprintf("- %s: Look for %s", t.Label, strings.Join(kws, ", ")))
	}
	return fmt.Sprintf(scanPrompt, strings.Join(lines, "\n"))
}

// buildExtractSystem renders the shared context for every Stage 2 call.
// It is identical across pages so it sits in the cacheable system block.
func buildExtractSystem(dctx model.DocumentContext, specs model.DetailSpecs) string {
	var b strings.Builder
	b.WriteString(estimatorSystemPrompt)
	b.WriteString("\n\nDOCUMENT CONTEXT:\n")
	b.WriteString(formatContext(dctx))
	b.WriteString("\nDETAIL SPECIFICATIONS:\n")
	b.WriteString(formatDetailSpecs(specs))
	return b.String()
}

func formatContext(dctx model.DocumentContext) string {
	if dctx.IsEmpty() {
		return "(none found)\n"
	}
	var b strings.Builder
	writeField := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	writeField("Document type", dctx.DocumentType)
	writeField("Trade", dctx.Trade)
	writeField("Project", dctx.ProjectName)
	if len(dctx.LegendItems) > 0 {
		b.WriteString("Legend:\n")
		for _, l := range dctx.LegendItems {
			line := fmt.Sprintf("  - %s = %s", l.Symbol, l.Meaning)
			if l.Material != "" {
				line += " (" + l.Material + ")"
			}
			b.WriteString(line + "\n")
		}
	}
	if len(dctx.KeySpecifications) > 0 {
		b.WriteString("Key specifications:\n")
		for _, s := range dctx.KeySpecifications {
			b.WriteString("  - " + s + "\n")
		}
	}
	if len(dctx.DetailReferences) > 0 {
		b.WriteString("Detail references:\n")
		for _, d := range dctx.DetailReferences {
			fmt.Fprintf(&b, "  - %s on sheet %s\n", d.Type, d.Sheet)
		}
	}
	writeField("Standards", strings.Join(dctx.StandardsReferenced, ", "))
	return b.String()
}

func formatDetailSpecs(specs model.DetailSpecs) string {
	if len(specs) == 0 {
		return "(none found)\n"
	}
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		s := specs[k]
		parts := []string{}
		for _, p := range []string{s.Dimensions, s.Material, s.Thickness, s.Color} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		name := s.TypeDesignation
		if name == "" {
			name = s.DetailNumber
		}
		fmt.Fprintf(&b, "  - %s: %s (page %d)\n", name, strings.Join(parts, ", "), s.SourcePage)
	}
	return b.String()
}

// pageSummary is the compact description of a page sent to the dedup pass.
type pageSummary struct {
	PageNumber  int      `json:"page_number"`
	PageType    string   `json:"page_type"`
	ItemCount   int      `json:"item_count"`
	SampleItems []string `json:"sample_items"`
}

func buildDedupPrompt(summaries []pageSummary) (string, error) {
	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(dedupPrompt, string(data)), nil
}
