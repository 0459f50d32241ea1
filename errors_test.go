package steward

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o deadline reached" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestDefaultClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"explicit transient", Transient(errors.New("backend hiccup")), ClassRetryable},
		{"explicit permanent", Permanent(errors.New("no such item")), ClassPermanent},
		{"wrapped transient", fmt.Errorf("call failed: %w", Transient(errors.New("x"))), ClassRetryable},
		{"deadline exceeded", context.DeadlineExceeded, ClassRetryable},
		{"net timeout", timeoutNetError{}, ClassRetryable},
		{"timeout marker", errors.New("request timed out"), ClassRetryable},
		{"connection refused", errors.New("dial tcp: connection refused"), ClassRetryable},
		{"rate limit", errors.New("429 rate limit exceeded"), ClassRetryable},
		{"service unavailable", errors.New("503 service unavailable"), ClassRetryable},
		{"invalid input", errors.New("invalid item name"), ClassPermanent},
		{"not found", errors.New("recipe not found"), ClassPermanent},
		{"unauthorized", errors.New("unauthorized"), ClassPermanent},
		{"unknown defaults permanent", errors.New("something odd happened"), ClassPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DefaultClassify(tc.err); got != tc.want {
				t.Errorf("DefaultClassify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestExplicitWrapperBeatsMarkers(t *testing.T) {
	// The message says "invalid" but the wrapper says retry.
	err := Transient(errors.New("invalid state, try again"))
	if DefaultClassify(err) != ClassRetryable {
		t.Error("Transient wrapper must win over permanent markers")
	}
	err = Permanent(errors.New("upstream timeout"))
	if DefaultClassify(err) != ClassPermanent {
		t.Error("Permanent wrapper must win over transient markers")
	}
}

func TestWrappersPassNil(t *testing.T) {
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestWrappersUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	if !errors.Is(Transient(cause), cause) {
		t.Error("TransientError must unwrap")
	}
	if !errors.Is(Permanent(cause), cause) {
		t.Error("PermanentError must unwrap")
	}
}

func TestFatalError(t *testing.T) {
	cause := errors.New("disk full")
	err := Fatal("save session", cause)
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FatalError, got %T", err)
	}
	if fe.Op != "save session" {
		t.Errorf("op = %q", fe.Op)
	}
	if !errors.Is(err, cause) {
		t.Error("FatalError must unwrap to its cause")
	}
	if err.Error() != "save session: disk full" {
		t.Errorf("message = %q", err.Error())
	}
}
