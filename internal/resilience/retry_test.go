package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}
}

func TestDoVal_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), DefaultRetryConfig(), func(_ context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("expected ok, got %q", val)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_SuccessAfterRetry(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastConfig(3), func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewInferenceError(KindTransient, 503, errors.New("overloaded"))
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoVal_ExhaustsRetries(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastConfig(RetriesToAttempts(3)), func(_ context.Context) (int, error) {
		calls++
		return 0, NewInferenceError(KindRateLimited, 429, errors.New("slow down"))
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDoVal_FatalNotRetried(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastConfig(4), func(_ context.Context) (int, error) {
		calls++
		return 0, NewInferenceError(KindFatal, 401, errors.New("invalid api key"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_MalformedNotRetried(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastConfig(4), func(_ context.Context) (int, error) {
		calls++
		return 0, ErrMalformedResponse
	})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second}

	var calls atomic.Int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := DoVal(ctx, cfg, func(_ context.Context) (int, error) {
		calls.Add(1)
		return 0, ErrTransient
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("cancellation did not interrupt backoff")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDoVal_OnRetryCalled(t *testing.T) {
	var retries []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error) {
		retries = append(retries, attempt)
	}
	_, _ = DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, ErrTransient
	})
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("expected retries [1 2], got %v", retries)
	}
}

func TestDoVal_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := fastConfig(3)
	cfg.ShouldRetry = func(error) bool { return true }
	_, _ = DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("anything")
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestComputeBackoff_Linear(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute})
	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	for i, w := range want {
		if got := computeBackoff(i, cfg, ErrTransient); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i, w, got)
		}
	}
}

func TestComputeBackoff_RateLimitStretches(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute, RateLimitMultiplier: 2})
	transient := computeBackoff(1, cfg, ErrTransient)
	limited := computeBackoff(1, cfg, NewInferenceError(KindRateLimited, 429, errors.New("429")))
	if limited != 2*transient {
		t.Errorf("expected rate-limit delay %v, got %v", 2*transient, limited)
	}
}

func TestComputeBackoff_Exponential(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
		Strategy:       BackoffExponential,
		Multiplier:     2,
	})
	if got := computeBackoff(1, cfg, ErrTransient); got != 200*time.Millisecond {
		t.Errorf("expected 200ms, got %v", got)
	}
	if got := computeBackoff(5, cfg, ErrTransient); got != 300*time.Millisecond {
		t.Errorf("expected cap 300ms, got %v", got)
	}
}

func TestComputeBackoff_JitterBounded(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, JitterFraction: 0.5})
	for range 50 {
		d := computeBackoff(0, cfg, ErrTransient)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestRetriesToAttempts(t *testing.T) {
	if RetriesToAttempts(3) != 4 {
		t.Errorf("expected 4")
	}
	if RetriesToAttempts(0) != 1 || RetriesToAttempts(-2) != 1 {
		t.Errorf("expected 1 for non-positive retries")
	}
}

func TestParseBackoff(t *testing.T) {
	cases := map[string]Backoff{"": BackoffLinear, "linear": BackoffLinear, " Exponential ": BackoffExponential}
	for in, want := range cases {
		got, err := ParseBackoff(in)
		if err != nil || got != want {
			t.Errorf("ParseBackoff(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseBackoff("fibonacci"); err == nil {
		t.Error("expected error for unknown backoff")
	}
}

func TestRetryLogger_DoesNotPanic(t *testing.T) {
	RetryLogger("anthropic", "scan")(1, ErrTransient)
}
