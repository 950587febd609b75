package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{429, KindRateLimited},
		{500, KindTransient},
		{502, KindTransient},
		{503, KindTransient},
		{529, KindTransient},
		{408, KindTransient},
		{409, KindTransient},
		{400, KindFatal},
		{401, KindFatal},
		{403, KindFatal},
		{404, KindFatal},
		{413, KindFatal},
		{422, KindFatal},
	}
	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"inference rate limit", NewInferenceError(KindRateLimited, 429, errors.New("x")), KindRateLimited},
		{"wrapped inference transient", eris.Wrap(NewInferenceError(KindTransient, 503, errors.New("x")), "scan"), KindTransient},
		{"malformed sentinel", fmt.Errorf("decode: %w", ErrMalformedResponse), KindMalformed},
		{"circuit open", ErrCircuitOpen, KindTransient},
		{"connection reset", syscall.ECONNRESET, KindTransient},
		{"net timeout", timeoutErr{}, KindTransient},
		{"unknown", errors.New("something odd"), KindFatal},
		{"nil", nil, KindFatal},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("%s: Classify = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewInferenceError(KindRateLimited, 429, errors.New("x"))) {
		t.Error("rate limit should be retryable")
	}
	if !IsRetryable(fmt.Errorf("call: %w", syscall.ECONNREFUSED)) {
		t.Error("connection refused should be retryable")
	}
	if IsRetryable(NewInferenceError(KindFatal, 401, errors.New("x"))) {
		t.Error("auth failure should not be retryable")
	}
	if IsRetryable(ErrMalformedResponse) {
		t.Error("malformed response should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestInferenceError_IsMatchesKind(t *testing.T) {
	err := eris.Wrap(NewInferenceError(KindRateLimited, 429, errors.New("too many")), "extract")
	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected ErrRateLimited match")
	}
	if errors.Is(err, ErrTransient) {
		t.Error("unexpected ErrTransient match")
	}

	var ie *InferenceError
	if !errors.As(err, &ie) || ie.StatusCode != 429 {
		t.Errorf("expected status 429, got %+v", ie)
	}
	if ie.Error() != "rate_limited (status 429): too many" {
		t.Errorf("unexpected message %q", ie.Error())
	}
}

func TestDocumentReadError(t *testing.T) {
	base := errors.New("not a pdf")
	err := eris.Wrap(&DocumentReadError{Path: "plans.pdf", Err: base}, "render: open")
	if !IsDocumentReadError(err) {
		t.Error("expected document read error")
	}
	if !errors.Is(err, base) {
		t.Error("expected to unwrap to base error")
	}
	if IsDocumentReadError(ErrTransient) {
		t.Error("transient is not a document read error")
	}
}

func TestIsTransient_Patterns(t *testing.T) {
	cases := []error{
		errors.New("read tcp: connection reset by peer"),
		errors.New("write: broken pipe"),
		errors.New("net/http: TLS handshake timeout"),
		errors.New("dial tcp: lookup api.anthropic.com: no such host"),
		fmt.Errorf("wrapped: %w", syscall.EPIPE),
		&net.OpError{Op: "read", Err: timeoutErr{}},
	}
	for _, err := range cases {
		if !IsTransient(err) {
			t.Errorf("expected transient: %v", err)
		}
	}
	if IsTransient(errors.New("invalid request")) {
		t.Error("invalid request should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil should not be transient")
	}
}

func TestKindString(t *testing.T) {
	if KindMalformed.String() != "malformed" || KindFatal.String() != "fatal" {
		t.Error("unexpected kind names")
	}
}
