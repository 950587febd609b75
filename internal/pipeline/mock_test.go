package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/takeoff-cli/internal/batch"
	"github.com/sells-group/takeoff-cli/internal/inference"
	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/render"
	"github.com/sells-group/takeoff-cli/internal/resilience"
	"github.com/sells-group/takeoff-cli/internal/store"
)

// --- Store mock ---

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
	args := m.Called(ctx, runID, status)
	return args.Error(0)
}

func (m *mockStore) UpdateRunResult(ctx context.Context, runID string, result *model.Result) error {
	args := m.Called(ctx, runID, result)
	return args.Error(0)
}

func (m *mockStore) FailRun(ctx context.Context, runID string, message string) error {
	args := m.Called(ctx, runID, message)
	return args.Error(0)
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
	if fn, ok := args.Get(0).(func(context.Context, string, string) *model.RunPhase); ok {
		return fn(ctx, runID, name), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RunPhase), args.Error(1)
}

func (m *mockStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	args := m.Called(ctx, phaseID, result)
	return args.Error(0)
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
	args := m.Called(ctx, key, data, ttl)
	return args.Error(0)
}

func (m *mockStore) DeleteExpiredInference(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// expectBookkeeping sets permissive expectations for everything Run writes.
func expectBookkeeping(st *mockStore, runID string) {
	st.On("CreateRun", mock.Anything, mock.AnythingOfType("model.DocumentRef")).
		Return(&model.Run{ID: runID, Status: model.RunStatusQueued}, nil)
	st.On("UpdateRunStatus", mock.Anything, runID, mock.AnythingOfType("model.RunStatus")).Return(nil)
	st.On("CreatePhase", mock.Anything, runID, mock.AnythingOfType("string")).
		Return(func(_ context.Context, _ string, name string) *model.RunPhase {
			return &model.RunPhase{ID: "phase-" + name, RunID: runID, Name: name, Status: model.PhaseStatusRunning}
		}, nil)
	st.On("CompletePhase", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("*model.PhaseResult")).Return(nil)
}

// --- Inference fake ---

// fakeInfer answers by pass and page. Handlers return a JSON body, or an
// error to simulate a failed call. The page number is read back from the
// image bytes fakeDoc produces.
type fakeInfer struct {
	mu       sync.Mutex
	handlers map[inference.Pass]func(page int, req inference.Request) (string, error)
	calls    []inference.Request
	usage    model.TokenUsage
}

func newFakeInfer() *fakeInfer {
	return &fakeInfer{
		handlers: make(map[inference.Pass]func(int, inference.Request) (string, error)),
		usage:    model.TokenUsage{Calls: 1, InputTokens: 100, OutputTokens: 20, Cost: 0.01},
	}
}

func (f *fakeInfer) on(pass inference.Pass, h func(page int, req inference.Request) (string, error)) *fakeInfer {
	f.handlers[pass] = h
	return f
}

func (f *fakeInfer) Infer(_ context.Context, req inference.Request) (*inference.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	h := f.handlers[req.Pass]
	f.mu.Unlock()

	if h == nil {
		return &inference.Result{Pass: req.Pass, Empty: true, Reason: "no handler", Usage: f.usage}, nil
	}
	body, err := h(pageFromImage(req.Image), req)
	if err != nil {
		return nil, err
	}
	if body == "" {
		return &inference.Result{Pass: req.Pass, Empty: true, Reason: "empty", Usage: f.usage}, nil
	}
	return &inference.Result{Pass: req.Pass, Model: req.Options.Model, JSON: json.RawMessage(body), Raw: body, Usage: f.usage}, nil
}

func (f *fakeInfer) callsFor(pass inference.Pass) []inference.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []inference.Request
	for _, c := range f.calls {
		if c.Pass == pass {
			out = append(out, c)
		}
	}
	return out
}

func pageFromImage(img []byte) int {
	s := strings.TrimPrefix(string(img), "page-")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	n, _ := strconv.Atoi(s)
	return n
}

// fatal builds a non-retryable inference error.
func fatal(msg string) error {
	return resilience.NewInferenceError(resilience.KindFatal, 400, errors.New(msg))
}

// --- Document fake ---

type fakeDoc struct {
	mu       sync.Mutex
	pages    int
	rendered map[int][]render.Quality
	closed   bool
}

func newFakeDoc(pages int) *fakeDoc {
	return &fakeDoc{pages: pages, rendered: make(map[int][]render.Quality)}
}

func (d *fakeDoc) Page(_ context.Context, n int, q render.Quality) ([]byte, error) {
	if n < 1 || n > d.pages {
		return nil, fmt.Errorf("page %d out of range", n)
	}
	d.mu.Lock()
	d.rendered[n] = append(d.rendered[n], q)
	d.mu.Unlock()
	return []byte(fmt.Sprintf("page-%d@%s", n, q)), nil
}

func (d *fakeDoc) Ref() model.DocumentRef {
	return model.DocumentRef{Name: "plan.pdf", Path: "/plans/plan.pdf", PageCount: d.pages}
}

func (d *fakeDoc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// testStage returns a Stage with no cooldown or backoff.
func testStage(inf inference.Infer, pages PageSource) Stage {
	return Stage{
		Infer: inf,
		Pages: pages,
		Batch: batch.Config{Name: "test", BatchSize: 4, MaxRetries: 1},
		Options: inference.Options{
			Model:     "test-model",
			MaxTokens: 1024,
		},
	}
}
