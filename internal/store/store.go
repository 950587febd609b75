// Package store persists takeoff runs, their stage bookkeeping and the
// inference response cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff-cli/internal/model"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   model.RunStatus `json:"status,omitempty"`
	Document string          `json:"document,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the takeoff pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, doc model.DocumentRef) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.Result) error
	FailRun(ctx context.Context, runID string, message string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Inference cache
	GetCachedInference(ctx context.Context, key string) ([]byte, error)
	SetCachedInference(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteExpiredInference(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100
