package model

// ConflictTypeQuantity is the only conflict kind raised today.
const ConflictTypeQuantity = "quantity_conflict"

// Occurrence is one sighting of an item on a page.
type Occurrence struct {
	Page     int     `json:"page"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Location string  `json:"location"`
	Source   string  `json:"source"`
}

// Conflict flags an item key whose occurrences disagree on value.
type Conflict struct {
	Type        string       `json:"type"`
	ItemKey     string       `json:"item_key"`
	Item        string       `json:"item"`
	Unit        string       `json:"unit"`
	Issue       string       `json:"issue"`
	Occurrences []Occurrence `json:"occurrences"`
}

// LineItem is the final aggregate for one (item, unit) pair.
type LineItem struct {
	Item            string       `json:"item"`
	Unit            string       `json:"unit"`
	TotalQuantity   float64      `json:"total_quantity"`
	Locations       []string     `json:"locations"`
	Pages           []int        `json:"pages"`
	Sources         []string     `json:"sources"`
	SourceBreakdown []Occurrence `json:"source_breakdown"`
	Conflicted      bool         `json:"conflicted,omitempty"`
}

// DedupReport summarizes Stage 2.5.
type DedupReport struct {
	PagesAnalyzed   int    `json:"pages_analyzed"`
	DuplicatesFound int    `json:"duplicates_found"`
	PagesRemoved    []int  `json:"pages_removed"`
	ItemsBefore     int    `json:"items_before"`
	ItemsAfter      int    `json:"items_after"`
	Skipped         bool   `json:"skipped,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// ReviewQuestion asks the estimator to resolve something the pipeline could
// not decide on its own.
type ReviewQuestion struct {
	ID          int      `json:"id"`
	Type        string   `json:"type"`
	Item        string   `json:"item,omitempty"`
	Question    string   `json:"question"`
	Description string   `json:"description"`
	Details     []string `json:"details,omitempty"`
	Options     []string `json:"options"`
}

// StageCost is the spend attributed to one stage.
type StageCost struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	USD          float64 `json:"usd"`
}

// CostBreakdown attributes inference spend per stage.
type CostBreakdown struct {
	Stages   map[string]StageCost `json:"stages"`
	TotalUSD float64              `json:"total_usd"`
}

// Result is what a pipeline run hands to the caller and the store.
type Result struct {
	RunID          string           `json:"run_id,omitempty"`
	Document       DocumentRef      `json:"document"`
	TotalPages     int              `json:"total_pages"`
	ScannedPages   int              `json:"scanned_pages"`
	Context        DocumentContext  `json:"document_context"`
	Project        ProjectAnalysis  `json:"project_analysis"`
	DetailSpecs    DetailSpecs      `json:"detail_specs"`
	RelevantPages  []PageScanResult `json:"relevant_pages"`
	DocumentMap    []PageExtraction `json:"document_map"`
	FailedPages    []int            `json:"failed_pages"`
	Dedup          DedupReport      `json:"deduplication"`
	LineItems      []LineItem       `json:"line_items"`
	Conflicts      []Conflict       `json:"conflicts"`
	Questions      []ReviewQuestion `json:"questions"`
	Cost           CostBreakdown    `json:"cost_breakdown"`
	Phases         []PhaseResult    `json:"phases"`
	TokenUsage     TokenUsage       `json:"token_usage"`
	ProcessingTime int64            `json:"processing_time_ms"`
}
