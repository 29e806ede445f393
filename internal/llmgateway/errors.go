package llmgateway

import (
	"errors"
	"strings"
)

// ErrFatalAPI wraps a provider error that will never succeed on retry
// (bad credentials, exhausted quota, permission denial). Callers should
// treat errors.Is(err, ErrFatalAPI) as a durable, non-retryable failure
// rather than a transient one.
var ErrFatalAPI = errors.New("llmgateway: fatal api error")

// fatalMarkers are substrings that identify a provider error as
// non-retryable regardless of HTTP status code.
var fatalMarkers = []string{
	"credit balance",
	"insufficient credit",
	"quota exceeded",
	"quota",
	"billing",
	"invalid api key",
	"invalid_api_key",
	"authentication failed",
	"auth failed",
	"unauthorized",
	"401",
	"403",
	"forbidden",
}

// isFatalAPIError reports whether err represents a durable failure the
// gateway should not retry: exhausted credit, quota limits, billing
// problems, bad or revoked credentials, and 401/403 responses. Transient
// failures such as rate limits, 404, 5xx and context deadline exceeded
// return false.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// wrapFatalError wraps err with ErrFatalAPI when isFatalAPIError classifies
// it as durable; otherwise err is returned unchanged so the caller's
// transient-retry path still applies.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return &fatalError{cause: err}
	}
	return err
}

type fatalError struct{ cause error }

func (e *fatalError) Error() string { return e.cause.Error() }
func (e *fatalError) Unwrap() error { return e.cause }
func (e *fatalError) Is(target error) bool { return target == ErrFatalAPI }
