// Package pipeline implements the eleven stage workers and the shared worker
// skeleton they all run through: parse/validate, publish START, load
// inputs, run stage logic, write outputs, enqueue downstream, publish DONE,
// complete the lock — with STAGE_FAILED plus abandon/dead-letter on error.
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a stage failure so Worker.Run can decide
// abandon-vs-dead-letter in one place.
type ErrorKind string

const (
	// KindValidation is a malformed message or invariant violation: always
	// dead-lettered, never retried.
	KindValidation ErrorKind = "validation"
	// KindTransient is a retryable external failure (LLM 5xx/429, renderer
	// timeout, broker hiccup): abandoned for broker redelivery.
	KindTransient ErrorKind = "transient"
	// KindDurable is an external failure that survived retries within the
	// handler (OS write failure, persistent LLM 4xx): abandoned, and the
	// broker eventually dead-letters it on delivery count exceeded.
	KindDurable ErrorKind = "durable"
	// KindLogic is an internal invariant violation (cycle > max, plan
	// invalid): dead-lettered, job marked has_error.
	KindLogic ErrorKind = "logic"
	// KindNotAuthorized is an owner mismatch: surfaced to the caller,
	// never written to job state.
	KindNotAuthorized ErrorKind = "not_authorized"
)

// StageError carries the error-kind taxonomy alongside the underlying
// cause, so worker.Run can inspect Kind without string-matching.
//
// AbandonDelay is honored only for the abandon path (KindTransient and
// KindDurable): it is the visibility delay Worker.Run passes to
// Broker.Abandon, letting a handler that knows the retry has no chance of
// succeeding yet (a dependency isn't ready) push its own redelivery back
// instead of busy-looping the queue at the broker's default zero delay.
type StageError struct {
	Kind         ErrorKind
	Err          error
	AbandonDelay time.Duration
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with kind.
func NewStageError(kind ErrorKind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

// Validationf builds a KindValidation StageError.
func Validationf(format string, args ...any) *StageError {
	return &StageError{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Transientf builds a KindTransient StageError.
func Transientf(format string, args ...any) *StageError {
	return &StageError{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// TransientWithDelay builds a KindTransient StageError that requests a
// specific abandon visibility delay, for a stage that knows immediate
// redelivery cannot succeed (e.g. a write message waiting on a
// still-in-flight sibling section).
func TransientWithDelay(delay time.Duration, format string, args ...any) *StageError {
	return &StageError{Kind: KindTransient, Err: fmt.Errorf(format, args...), AbandonDelay: delay}
}

// AbandonDelayOf returns err's requested abandon delay, or 0 if err isn't a
// StageError or didn't request one.
func AbandonDelayOf(err error) time.Duration {
	var se *StageError
	if errors.As(err, &se) {
		return se.AbandonDelay
	}
	return 0
}

// Logicf builds a KindLogic StageError.
func Logicf(format string, args ...any) *StageError {
	return &StageError{Kind: KindLogic, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to KindDurable for any
// error a stage returns that wasn't built as a StageError (an unclassified
// failure is treated conservatively as retryable-then-dead-lettered rather
// than dropped silently).
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindDurable
}
