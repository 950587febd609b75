package pipeline

import (
	"fmt"

	"github.com/sells-group/takeoff-cli/internal/model"
)

// Question types.
const (
	QuestionTypeSummary  = "summary"
	QuestionTypeConflict = model.ConflictTypeQuantity
)

// BuildQuestions turns conflicts into review questions for the estimator.
// With no conflicts it returns a single summary question.
func BuildQuestions(conflicts []model.Conflict, pages []model.PageExtraction) []model.ReviewQuestion {
	if len(conflicts) == 0 {
		materials := 0
		for _, p := range pages {
			materials += len(p.Materials)
		}
		return []model.ReviewQuestion{{
			ID:   1,
			Type: QuestionTypeSummary,
			Question: fmt.Sprintf("Extraction complete! Found %d quantities and %d material specifications with no conflicts detected.",
				model.CountQuantities(pages), materials),
			Description: "All extracted data appears consistent across pages. You can now proceed to add your unit prices for bidding.",
			Options: []string{
				"Show me the extracted line items",
				"Review document details",
				"Analyze more pages",
			},
		}}
	}

	questions := make([]model.ReviewQuestion, 0, len(conflicts))
	for i, c := range conflicts {
		var total, highest float64
		details := make([]string, 0, len(c.Occurrences))
		for j, o := range c.Occurrences {
			total += o.Value
			if j == 0 || o.Value > highest {
				highest = o.Value
			}
			details = append(details, fmt.Sprintf("Page %d: %s %s at %s (%s)",
				o.Page, formatValue(o.Value), o.Unit, o.Location, o.Source))
		}
		questions = append(questions, model.ReviewQuestion{
			ID:          i + 1,
			Type:        QuestionTypeConflict,
			Item:        c.Item,
			Question:    fmt.Sprintf("Different %s quantities found across multiple pages. How should we handle this?", c.Item),
			Description: fmt.Sprintf("Found %d different counts:", len(c.Occurrences)),
			Details:     details,
			Options: []string{
				fmt.Sprintf("Sum all quantities (Total: %s %s)", formatValue(total), c.Unit),
				fmt.Sprintf("Use highest count (%s %s)", formatValue(highest), c.Unit),
				"Keep separate by location",
				"Need to verify with project documents",
			},
		})
	}
	return questions
}
