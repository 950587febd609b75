package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff-cli/internal/metrics"
	"github.com/sells-group/takeoff-cli/internal/resilience"
)

func fastConfig(size int) Config {
	return Config{
		Name:       "test",
		BatchSize:  size,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func rateLimited() error {
	return resilience.NewInferenceError(resilience.KindRateLimited, 429, errors.New("rate limit"))
}

func TestRun_ReturnsOutcomesInTaskOrder(t *testing.T) {
	t.Parallel()

	tasks := make([]Task[int], 7)
	for i := range tasks {
		tasks[i] = Task[int]{
			Key: fmt.Sprintf("page-%d", i+1),
			Fn: func(context.Context) (int, error) {
				time.Sleep(time.Duration(7-i) * time.Millisecond)
				return (i + 1) * 10, nil
			},
		}
	}

	outcomes := Run(context.Background(), fastConfig(3), tasks)
	require.Len(t, outcomes, 7)
	for i, out := range outcomes {
		assert.Equal(t, i, out.Index)
		assert.Equal(t, fmt.Sprintf("page-%d", i+1), out.Key)
		assert.Equal(t, (i+1)*10, out.Value)
		assert.Equal(t, 1, out.Attempts)
		assert.False(t, out.FellBack)
		assert.NoError(t, out.Err)
	}
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70}, Values(outcomes))
}

func TestRun_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	tasks := make([]Task[struct{}], 11)
	for i := range tasks {
		tasks[i] = Task[struct{}]{Fn: func(context.Context) (struct{}, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return struct{}{}, nil
		}}
	}

	Run(context.Background(), fastConfig(3), tasks)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestRun_CooldownOnlyBetweenGroups(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	starts := make(map[int]time.Time)
	tasks := make([]Task[int], 4)
	for i := range tasks {
		tasks[i] = Task[int]{Fn: func(context.Context) (int, error) {
			mu.Lock()
			starts[i] = time.Now()
			mu.Unlock()
			return i, nil
		}}
	}

	cfg := fastConfig(2)
	cfg.Cooldown = 60 * time.Millisecond

	begin := time.Now()
	Run(context.Background(), cfg, tasks)

	assert.Less(t, starts[0].Sub(begin), 30*time.Millisecond, "no cooldown before the first group")
	assert.GreaterOrEqual(t, starts[2].Sub(starts[1]), 60*time.Millisecond)
	assert.Less(t, starts[1].Sub(starts[0]), 30*time.Millisecond, "tasks within a group start together")
}

func TestRun_RetryExhaustionYieldsFallback(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	tasks := []Task[string]{
		{Key: "ok", Fn: func(context.Context) (string, error) { return "fine", nil }},
		{
			Key: "flaky",
			Fn: func(context.Context) (string, error) {
				calls.Add(1)
				return "", resilience.ErrTransient
			},
			Fallback: func(err error) string { return "sentinel" },
		},
	}

	outcomes := Run(context.Background(), fastConfig(2), tasks)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "fine", outcomes[0].Value)
	assert.False(t, outcomes[0].FellBack)

	flaky := outcomes[1]
	assert.True(t, flaky.FellBack)
	assert.Equal(t, "sentinel", flaky.Value)
	assert.Equal(t, 4, flaky.Attempts, "max_retries=3 means one try plus three retries")
	assert.Equal(t, int32(4), calls.Load())
	assert.ErrorIs(t, flaky.Err, resilience.ErrTransient)
}

func TestRun_FatalErrorNotRetried(t *testing.T) {
	t.Parallel()

	tasks := []Task[int]{{
		Key: "auth",
		Fn: func(context.Context) (int, error) {
			return 0, resilience.NewInferenceError(resilience.KindFatal, 401, errors.New("invalid x-api-key"))
		},
		Fallback: func(error) int { return -1 },
	}}

	out := Run(context.Background(), fastConfig(1), tasks)[0]
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.FellBack)
	assert.Equal(t, -1, out.Value)
}

func TestRun_MissingFallbackUsesZeroValue(t *testing.T) {
	t.Parallel()

	tasks := []Task[*int]{{Fn: func(context.Context) (*int, error) {
		return nil, resilience.ErrMalformedResponse
	}}}
	out := Run(context.Background(), fastConfig(1), tasks)[0]
	assert.True(t, out.FellBack)
	assert.Nil(t, out.Value)
}

// Ten scan tasks in one group; three of them hit a 429 twice then succeed.
func TestRun_RateLimitedTasksRecoverInOneGroup(t *testing.T) {
	t.Parallel()

	const n = 10
	calls := make([]atomic.Int32, n)
	flaky := map[int]bool{2: true, 5: true, 8: true}

	tasks := make([]Task[int], n)
	for i := range tasks {
		tasks[i] = Task[int]{
			Key: fmt.Sprintf("page-%d", i+1),
			Fn: func(context.Context) (int, error) {
				c := calls[i].Add(1)
				if flaky[i] && c <= 2 {
					return 0, rateLimited()
				}
				return i + 1, nil
			},
			Fallback: func(error) int { return -1 },
		}
	}

	cfg := fastConfig(10)
	cfg.Cooldown = time.Second

	var progress []Progress
	var mu sync.Mutex
	begin := time.Now()
	outcomes := Run(context.Background(), cfg, tasks,
		WithMetrics(metrics.New()),
		WithProgress(func(p Progress) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		}),
	)

	assert.Less(t, time.Since(begin), time.Second, "a single group never sleeps the cooldown")
	require.Len(t, outcomes, n)
	for i, out := range outcomes {
		assert.False(t, out.FellBack, "task %d", i)
		assert.Equal(t, i+1, out.Value)
		retries := int(calls[i].Load()) - 1
		assert.LessOrEqual(t, retries, 3)
		if flaky[i] {
			assert.Equal(t, 2, retries)
		} else {
			assert.Equal(t, 0, retries)
		}
	}

	require.Len(t, progress, n)
	assert.Equal(t, n, progress[n-1].Done)
	assert.Equal(t, n, progress[n-1].Total)
}

func TestRun_CancelledContextFallsBack(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	tasks := []Task[string]{
		{Key: "a", Fn: func(context.Context) (string, error) { ran.Store(true); return "a", nil }, Fallback: func(error) string { return "none" }},
		{Key: "b", Fn: func(context.Context) (string, error) { ran.Store(true); return "b", nil }},
	}

	outcomes := Run(ctx, fastConfig(1), tasks)
	assert.False(t, ran.Load())
	require.Len(t, outcomes, 2)
	assert.Equal(t, "none", outcomes[0].Value)
	assert.ErrorIs(t, outcomes[0].Err, context.Canceled)
	assert.True(t, outcomes[1].FellBack)
	assert.Equal(t, 0, outcomes[1].Attempts)
}

func TestRun_CancelDuringCooldownSkipsRemainingGroups(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ran atomic.Int32
	tasks := make([]Task[int], 3)
	for i := range tasks {
		tasks[i] = Task[int]{Fn: func(context.Context) (int, error) {
			ran.Add(1)
			if i == 0 {
				cancel()
			}
			return i, nil
		}}
	}

	cfg := fastConfig(1)
	cfg.Cooldown = time.Minute
	outcomes := Run(ctx, cfg, tasks)

	assert.Equal(t, int32(1), ran.Load())
	assert.False(t, outcomes[0].FellBack)
	assert.True(t, outcomes[1].FellBack)
	assert.True(t, outcomes[2].FellBack)
}

func TestRetryConfig_LayersOverDefaults(t *testing.T) {
	t.Parallel()

	cfg := fastConfig(1)
	cfg.Backoff = resilience.BackoffExponential
	cfg.Jitter = 0.2

	retry := retryConfig(cfg)
	assert.Equal(t, 4, retry.MaxAttempts)
	assert.Equal(t, time.Millisecond, retry.InitialBackoff)
	assert.Equal(t, 5*time.Millisecond, retry.MaxBackoff)
	assert.Equal(t, resilience.BackoffExponential, retry.Strategy)
	assert.InDelta(t, 0.2, retry.JitterFraction, 0.001)

	defaults := resilience.DefaultRetryConfig()
	assert.InDelta(t, defaults.RateLimitMultiplier, retry.RateLimitMultiplier, 0.001)
	assert.InDelta(t, defaults.Multiplier, retry.Multiplier, 0.001)

	bare := retryConfig(Config{})
	assert.Equal(t, 1, bare.MaxAttempts)
	assert.Zero(t, bare.InitialBackoff, "zero base delay retries without waiting")
	assert.Equal(t, defaults.MaxBackoff, bare.MaxBackoff)
	assert.Equal(t, resilience.BackoffLinear, bare.Strategy)
}

func TestRun_ExponentialJitteredRetriesRecover(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	tasks := []Task[int]{{
		Key: "flaky",
		Fn: func(context.Context) (int, error) {
			if calls.Add(1) < 3 {
				return 0, resilience.ErrTransient
			}
			return 7, nil
		},
	}}

	cfg := fastConfig(1)
	cfg.Backoff = resilience.BackoffExponential
	cfg.Jitter = 0.5
	m := metrics.New()

	outcomes := Run(context.Background(), cfg, tasks, WithMetrics(m))
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].FellBack)
	assert.Equal(t, 7, outcomes[0].Value)
	assert.Equal(t, 3, outcomes[0].Attempts)
}

func TestRun_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Run[int](context.Background(), Config{}, nil))
}
