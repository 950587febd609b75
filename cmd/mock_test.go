package main

import (
	"context"
	"os"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, doc model.DocumentRef) (*model.Run, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return m.Called(ctx, runID, status).Error(0)
}

func (m *mockStore) UpdateRunResult(ctx context.Context, runID string, result *model.Result) error {
	return m.Called(ctx, runID, result).Error(0)
}

func (m *mockStore) FailRun(ctx context.Context, runID string, message string) error {
	return m.Called(ctx, runID, message).Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	args := m.Called(ctx, runID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RunPhase), args.Error(1)
}

func (m *mockStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	return m.Called(ctx, phaseID, result).Error(0)
}

func (m *mockStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RunPhase), args.Error(1)
}

func (m *mockStore) GetCachedInference(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockStore) SetCachedInference(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return m.Called(ctx, key, data, ttl).Error(0)
}

func (m *mockStore) DeleteExpiredInference(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

// fakeAnalyzer records what the handler staged for a run.
type fakeAnalyzer struct {
	result   *model.Result
	err      error
	path     string
	contents []byte
	tax      model.Taxonomy
}

func (f *fakeAnalyzer) Run(_ context.Context, path string, tax model.Taxonomy) (*model.Result, error) {
	f.path = path
	f.tax = tax
	f.contents, _ = os.ReadFile(path)
	return f.result, f.err
}
