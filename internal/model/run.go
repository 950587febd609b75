package model

import "time"

// RunStatus represents the current state of a takeoff run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusContext     RunStatus = "building_context"
	RunStatusScanning    RunStatus = "scanning"
	RunStatusExtracting  RunStatus = "extracting"
	RunStatusReconciling RunStatus = "reconciling"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// DocumentRef identifies the source drawing set of a run.
type DocumentRef struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
}

// Run represents a single pipeline execution over one document.
type Run struct {
	ID        string      `json:"id"`
	Document  DocumentRef `json:"document"`
	Status    RunStatus   `json:"status"`
	Result    *Result     `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunPhase represents a single stage within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name       string         `json:"name"`
	Status     PhaseStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	Calls               int     `json:"calls"`
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.Calls += other.Calls
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}
