// Package batch runs independent tasks in fixed-size concurrent groups with
// a cooldown between groups and per-task retry. A task that keeps failing
// yields its fallback value; the executor itself never fails.
package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/takeoff-cli/internal/metrics"
	"github.com/sells-group/takeoff-cli/internal/resilience"
)

// Config controls grouping, pacing and retry for one Run.
type Config struct {
	// Name labels logs and metrics (usually the stage name).
	Name string
	// BatchSize is the number of tasks in flight at once. Default: 1.
	BatchSize int
	// Cooldown is slept between groups, never before the first.
	Cooldown time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the linear backoff step: retry n waits n * BaseDelay.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff. Default: 30s.
	MaxDelay time.Duration
	// RateLimitMultiplier stretches backoff after a 429. Default: 2.
	RateLimitMultiplier float64
	// Backoff picks linear or exponential growth. Default: linear.
	Backoff resilience.Backoff
	// Jitter randomizes each delay by up to this fraction of itself.
	Jitter float64
}

// Task is an opaque unit of work. Fallback, if set, supplies the value used
// when Fn fails permanently; otherwise the zero value is used.
type Task[T any] struct {
	Key      string
	Fn       func(ctx context.Context) (T, error)
	Fallback func(err error) T
}

// Outcome is the result of one task, reported at the task's input index.
type Outcome[T any] struct {
	Index    int
	Key      string
	Value    T
	Err      error
	Attempts int
	FellBack bool
}

// Progress is reported after each task completes.
type Progress struct {
	Name     string
	Done     int
	Total    int
	Key      string
	FellBack bool
}

type options struct {
	progress func(Progress)
	metrics  *metrics.Metrics
}

// Option configures a Run.
type Option func(*options)

// WithProgress registers a callback invoked after every task. Calls are
// serialized.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// WithMetrics records retries and fallbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Run executes tasks in groups of cfg.BatchSize. Outcomes are returned in
// task order. Cancelling ctx stops new groups from starting; tasks that
// never ran yield their fallback with ctx's error.
func Run[T any](ctx context.Context, cfg Config, tasks []Task[T], opts ...Option) []Outcome[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = 1
	}

	log := zap.L().With(zap.String("batch", cfg.Name), zap.Int("tasks", len(tasks)), zap.Int("batch_size", size))
	outcomes := make([]Outcome[T], len(tasks))

	var (
		mu   sync.Mutex
		done int
	)
	report := func(out Outcome[T]) {
		if o.progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		o.progress(Progress{Name: cfg.Name, Done: done, Total: len(tasks), Key: out.Key, FellBack: out.FellBack})
	}

	groups := 0
	for start := 0; start < len(tasks); start += size {
		end := min(start+size, len(tasks))

		if start > 0 && cfg.Cooldown > 0 {
			timer := time.NewTimer(cfg.Cooldown)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}

		if ctx.Err() != nil {
			for i := start; i < len(tasks); i++ {
				outcomes[i] = fallback(i, tasks[i], ctx.Err(), 0)
				report(outcomes[i])
			}
			log.Warn("batch: cancelled before all groups ran",
				zap.Int("groups_run", groups), zap.Error(ctx.Err()))
			break
		}

		groups++
		var g errgroup.Group
		g.SetLimit(size)
		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = runTask(ctx, cfg, i, tasks[i], o.metrics, log)
				report(outcomes[i])
				return nil
			})
		}
		_ = g.Wait()

		log.Debug("batch: group complete", zap.Int("group", groups), zap.Int("from", start), zap.Int("to", end))
	}

	fellBack := 0
	for _, out := range outcomes {
		if out.FellBack {
			fellBack++
		}
	}
	log.Debug("batch: complete", zap.Int("groups", groups), zap.Int("fell_back", fellBack))

	return outcomes
}

func runTask[T any](ctx context.Context, cfg Config, idx int, task Task[T], m *metrics.Metrics, log *zap.Logger) Outcome[T] {
	attempts := 0
	retry := retryConfig(cfg)
	logRetry := resilience.RetryLogger(cfg.Name, task.Key)
	retry.OnRetry = func(attempt int, err error) {
		m.IncRetry(cfg.Name)
		logRetry(attempt, err)
	}

	val, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		attempts++
		return task.Fn(ctx)
	})
	if err != nil {
		m.IncFallback(cfg.Name)
		log.Warn("batch: task fell back",
			zap.String("key", task.Key),
			zap.Int("attempts", attempts),
			zap.String("class", resilience.Classify(err).String()),
			zap.Error(err))
		return fallback(idx, task, err, attempts)
	}
	return Outcome[T]{Index: idx, Key: task.Key, Value: val, Attempts: attempts}
}

// retryConfig layers cfg over the resilience defaults. A zero BaseDelay
// retries without waiting.
func retryConfig(cfg Config) resilience.RetryConfig {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = resilience.RetriesToAttempts(cfg.MaxRetries)
	retry.InitialBackoff = cfg.BaseDelay
	retry.Strategy = cfg.Backoff
	retry.JitterFraction = cfg.Jitter
	if cfg.MaxDelay > 0 {
		retry.MaxBackoff = cfg.MaxDelay
	}
	if cfg.RateLimitMultiplier > 0 {
		retry.RateLimitMultiplier = cfg.RateLimitMultiplier
	}
	return retry
}

func fallback[T any](idx int, task Task[T], err error, attempts int) Outcome[T] {
	out := Outcome[T]{Index: idx, Key: task.Key, Err: err, Attempts: attempts, FellBack: true}
	if task.Fallback != nil {
		out.Value = task.Fallback(err)
	}
	return out
}

// Values returns the value of every outcome in order.
func Values[T any](outcomes []Outcome[T]) []T {
	vals := make([]T, len(outcomes))
	for i, o := range outcomes {
		vals[i] = o.Value
	}
	return vals
}
