package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Kind classifies an inference failure for the retry policy.
type Kind int

const (
	// KindFatal covers auth failures, malformed requests and anything
	// unrecognized. Never retried.
	KindFatal Kind = iota
	// KindTransient covers network resets, timeouts and 5xx responses.
	KindTransient
	// KindRateLimited is HTTP 429. Retried with a longer backoff.
	KindRateLimited
	// KindMalformed is an unparseable response. Fatal for that one call.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	default:
		return "fatal"
	}
}

// Sentinels matched by errors.Is against an *InferenceError of the same kind.
var (
	ErrTransient         = eris.New("transient inference error")
	ErrRateLimited       = eris.New("inference rate limited")
	ErrFatal             = eris.New("fatal inference error")
	ErrMalformedResponse = eris.New("malformed inference response")
	ErrCircuitOpen       = eris.New("circuit breaker is open")
)

// InferenceError wraps a failed call to the vision service with its
// classification and optional HTTP status code.
type InferenceError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

// NewInferenceError wraps err with the given kind and status.
func NewInferenceError(kind Kind, statusCode int, err error) *InferenceError {
	return &InferenceError{Kind: kind, StatusCode: statusCode, Err: err}
}

func (e *InferenceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRateLimited) and friends match on kind.
func (e *InferenceError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrFatal:
		return e.Kind == KindFatal
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	}
	return false
}

// DocumentReadError means the source document could not be loaded or
// rasterized at all. It is the only error that aborts a run.
type DocumentReadError struct {
	Path string
	Err  error
}

func (e *DocumentReadError) Error() string {
	return fmt.Sprintf("cannot read document %s: %v", e.Path, e.Err)
}

func (e *DocumentReadError) Unwrap() error {
	return e.Err
}

// IsDocumentReadError reports whether err (or its chain) is a DocumentReadError.
func IsDocumentReadError(err error) bool {
	var de *DocumentReadError
	return errors.As(err, &de)
}

// Classify returns the retry class of err. Unknown errors are fatal unless
// they look like network trouble.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformed
	case errors.Is(err, ErrTransient), errors.Is(err, ErrCircuitOpen):
		return KindTransient
	case errors.Is(err, ErrFatal):
		return KindFatal
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindFatal
}

// IsRetryable reports whether err should be retried by the batch executor.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	k := Classify(err)
	return k == KindTransient || k == KindRateLimited
}

// ClassifyHTTPStatus maps a vision-service HTTP status to a Kind.
func ClassifyHTTPStatus(statusCode int) Kind {
	switch {
	case statusCode == 429:
		return KindRateLimited
	case statusCode == 408, statusCode == 409, statusCode == 529, statusCode >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

// IsTransient returns true if the error (or any error in its chain) matches
// common transient error patterns (network timeouts, connection resets, DNS
// failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"socket hang up",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
