// Package inference wraps single calls to the vision-language service:
// request building, response cleanup, schema checks and error
// classification. It holds no takeoff logic.
package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/cost"
	"github.com/sells-group/takeoff-cli/internal/metrics"
	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/resilience"
	"github.com/sells-group/takeoff-cli/pkg/anthropic"
)

// Options are the per-pass model settings.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Request is one inference call. Image may be nil for text-only passes.
type Request struct {
	Pass      Pass
	Image     []byte
	MediaType string
	System    string
	Prompt    string
	Options   Options
}

// Result is the cleaned outcome of a call. Empty is set, with Reason, when
// the response held no usable JSON; callers substitute a sentinel.
type Result struct {
	Pass   Pass             `json:"pass"`
	Model  string           `json:"model"`
	JSON   json.RawMessage  `json:"json,omitempty"`
	Raw    string           `json:"raw"`
	Empty  bool             `json:"empty"`
	Reason string           `json:"reason,omitempty"`
	Cached bool             `json:"cached"`
	Usage  model.TokenUsage `json:"usage"`
}

// Cache stores raw response text between runs. store.Store satisfies it.
type Cache interface {
	GetCachedInference(ctx context.Context, key string) ([]byte, error)
	SetCachedInference(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Config tunes the adapter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	BreakerThreshold  uint32
	BreakerTimeout    time.Duration
	CacheTTL          time.Duration
}

// Infer is the call surface the pipeline stages depend on.
type Infer interface {
	Infer(ctx context.Context, req Request) (*Result, error)
}

// Adapter implements Infer on top of an anthropic.Client.
type Adapter struct {
	client   anthropic.Client
	limiter  *AdaptiveLimiter
	breaker  *gobreaker.CircuitBreaker[*anthropic.MessageResponse]
	schemas  map[Pass]*jsonschema.Schema
	cache    Cache
	cacheTTL time.Duration
	costs    *cost.Calculator
	metrics  *metrics.Metrics
}

// AdapterOption configures optional collaborators.
type AdapterOption func(*Adapter)

// WithCache enables the response cache.
func WithCache(c Cache) AdapterOption {
	return func(a *Adapter) { a.cache = c }
}

// WithCostCalculator prices usage on every result.
func WithCostCalculator(c *cost.Calculator) AdapterOption {
	return func(a *Adapter) { a.costs = c }
}

// WithMetrics records call outcomes.
func WithMetrics(m *metrics.Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// NewAdapter builds an Adapter. The client is constructed once per process
// and shared by every stage.
func NewAdapter(client anthropic.Client, cfg Config, opts ...AdapterOption) (*Adapter, error) {
	if client == nil {
		return nil, eris.New("inference: nil client")
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	a := &Adapter{
		client:   client,
		limiter:  NewAdaptiveLimiter(cfg.RequestsPerSecond, cfg.Burst),
		schemas:  schemas,
		cacheTTL: cfg.CacheTTL,
	}
	a.breaker = gobreaker.NewCircuitBreaker[*anthropic.MessageResponse](gobreaker.Settings{
		Name:        "anthropic",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Request-level rejections say nothing about service health.
			return resilience.Classify(err) == resilience.KindFatal
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("inference: circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Infer runs one call. A non-nil error is always an *resilience.InferenceError
// (or ctx's error) so the batch executor can classify it. An unusable
// response is not an error: the Result comes back with Empty set.
func (a *Adapter) Infer(ctx context.Context, req Request) (*Result, error) {
	if req.Options.Model == "" {
		return nil, resilience.NewInferenceError(resilience.KindFatal, 0, eris.New("inference: model not configured"))
	}

	key := cacheKey(req)
	if raw, ok := a.lookup(ctx, key); ok {
		res := a.finish(req, raw, model.TokenUsage{})
		res.Cached = true
		a.metrics.ObserveInference(string(req.Pass), "cached", 0, 0, 0)
		return res, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "inference: rate limiter wait")
	}

	start := time.Now()
	resp, err := a.breaker.Execute(func() (*anthropic.MessageResponse, error) {
		resp, err := a.client.CreateMessage(ctx, buildMessage(req))
		if err != nil {
			return nil, classify(ctx, err)
		}
		return resp, nil
	})
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = resilience.NewInferenceError(resilience.KindTransient, 0, eris.Wrap(resilience.ErrCircuitOpen, err.Error()))
		}
		kind := resilience.Classify(err)
		if kind == resilience.KindRateLimited {
			a.limiter.OnRateLimit()
		}
		a.metrics.ObserveInference(string(req.Pass), kind.String(), elapsed, 0, 0)
		return nil, err
	}
	a.limiter.OnSuccess()

	usage := model.TokenUsage{
		Calls:               1,
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
	}
	if a.costs != nil {
		usage.Cost = a.costs.Claude(req.Options.Model, usage.InputTokens, usage.OutputTokens, usage.CacheCreationTokens, usage.CacheReadTokens)
	}
	resp.Usage.LogCost(req.Options.Model, string(req.Pass))

	raw := resp.Text()
	res := a.finish(req, raw, usage)

	outcome := "ok"
	if res.Empty {
		outcome = "empty"
	} else {
		a.store(ctx, key, raw)
	}
	a.metrics.ObserveInference(string(req.Pass), outcome, elapsed, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	return res, nil
}

// finish turns raw response text into a Result.
func (a *Adapter) finish(req Request, raw string, usage model.TokenUsage) *Result {
	res := &Result{Pass: req.Pass, Model: req.Options.Model, Raw: raw, Usage: usage}

	cleaned := CleanJSON(raw)
	if cleaned == "" {
		res.Empty, res.Reason = true, "empty response"
		return res
	}
	normalized, ok := Normalize([]byte(cleaned), req.Pass.listKey())
	if !ok {
		res.Empty, res.Reason = true, "response is not a JSON object"
		zap.L().Debug("inference: unparseable response",
			zap.String("pass", string(req.Pass)),
			zap.Int("raw_len", len(raw)))
		return res
	}
	if err := validate(a.schemas, req.Pass, normalized); err != nil {
		res.Empty, res.Reason = true, err.Error()
		zap.L().Debug("inference: schema rejected response",
			zap.String("pass", string(req.Pass)), zap.Error(err))
		return res
	}
	res.JSON = normalized
	return res
}

func (a *Adapter) lookup(ctx context.Context, key string) (string, bool) {
	if a.cache == nil {
		return "", false
	}
	data, err := a.cache.GetCachedInference(ctx, key)
	if err != nil {
		zap.L().Debug("inference: cache lookup failed", zap.Error(err))
		return "", false
	}
	if data == nil {
		return "", false
	}
	return string(data), true
}

func (a *Adapter) store(ctx context.Context, key, raw string) {
	if a.cache == nil || a.cacheTTL <= 0 {
		return
	}
	if err := a.cache.SetCachedInference(ctx, key, []byte(raw), a.cacheTTL); err != nil {
		zap.L().Debug("inference: cache write failed", zap.Error(err))
	}
}

// Decode unmarshals a non-empty result into T. An empty result yields
// resilience.ErrMalformedResponse.
func Decode[T any](res *Result) (T, error) {
	var out T
	if res == nil || res.Empty || len(res.JSON) == 0 {
		reason := "no result"
		if res != nil && res.Reason != "" {
			reason = res.Reason
		}
		return out, eris.Wrap(resilience.ErrMalformedResponse, reason)
	}
	if err := json.Unmarshal(res.JSON, &out); err != nil {
		return out, eris.Wrap(resilience.ErrMalformedResponse, err.Error())
	}
	return out, nil
}

func buildMessage(req Request) anthropic.MessageRequest {
	msg := anthropic.Message{Role: "user", Content: req.Prompt}
	if len(req.Image) > 0 {
		mediaType := req.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		msg.Images = []anthropic.Image{{MediaType: mediaType, Data: req.Image}}
	}
	temp := req.Options.Temperature
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return anthropic.MessageRequest{
		Model:       req.Options.Model,
		MaxTokens:   maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(req.System),
		Messages:    []anthropic.Message{msg},
		Temperature: &temp,
	}
}

// classify converts a client error into an InferenceError. Context
// cancellation is passed through untouched.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if status := anthropic.StatusCode(err); status > 0 {
		return resilience.NewInferenceError(resilience.ClassifyHTTPStatus(status), status, err)
	}
	if resilience.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.NewInferenceError(resilience.KindTransient, 0, err)
	}
	return resilience.NewInferenceError(resilience.KindFatal, 0, err)
}

// cacheKey hashes everything that determines a response.
func cacheKey(req Request) string {
	h := sha256.New()
	for _, part := range []string{
		req.Options.Model,
		string(req.Pass),
		strconv.FormatInt(req.Options.MaxTokens, 10),
		strconv.FormatFloat(req.Options.Temperature, 'f', -1, 64),
		req.System,
		req.Prompt,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(req.Image)
	return hex.EncodeToString(h.Sum(nil))
}
