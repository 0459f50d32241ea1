package steward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// TransientError marks a tool failure as retryable regardless of message
// heuristics. Tool implementations wrap timeouts, connection failures, and
// rate limits with Transient so the retry executor backs off and retries.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks a tool failure as non-retryable regardless of
// message heuristics.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// FatalError is an infrastructure failure the loop cannot recover from
// structurally (persistence or model provider total unavailability). It
// aborts the turn and marks the session errored. Tool-level failures are
// never fatal.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps an infrastructure error with the failing operation.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// transientMarkers are substrings that identify retryable failures from
// collaborators that return plain errors.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"service unavailable",
}

// permanentMarkers identify failures that retrying cannot fix.
var permanentMarkers = []string{
	"invalid",
	"not found",
	"unknown tool",
	"unauthorized",
	"forbidden",
	"malformed",
}

// DefaultClassify maps a tool invocation error to its retry class.
// Explicit Transient/Permanent wrappers win; context deadline and net
// timeouts are retryable; otherwise message markers decide, defaulting to
// permanent so unknown failures are never retried blindly.
func DefaultClassify(err error) ErrorClass {
	var te *TransientError
	if errors.As(err, &te) {
		return ClassRetryable
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassRetryable
	}
	msg := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return ClassPermanent
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return ClassRetryable
		}
	}
	return ClassPermanent
}
