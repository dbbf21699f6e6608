package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is returned by the conversation when the UI cancelled.
	ErrAborted = errors.New("conversation aborted")
	// ErrCancelled is returned by Worker.Wait when the run ended through
	// Bridge.Cancel rather than success.
	ErrCancelled = errors.New("authentication cancelled")
	// ErrSessionStart wraps failures to open a backend session.
	ErrSessionStart = errors.New("failed to start authentication session")
	// ErrBackend is returned by Worker.Wait when the backend kept failing
	// for reasons other than the user's credentials.
	ErrBackend = errors.New("authentication backend unavailable")
)

type FailureKind int

const (
	// FailureAuth covers wrong credentials, expired or unknown accounts and
	// too many tries: the user can try again.
	FailureAuth FailureKind = iota
	// FailureAbort means the backend gave up on the conversation.
	FailureAbort
	// FailureOther is anything the backend did not classify.
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureAuth:
		return "auth"
	case FailureAbort:
		return "abort"
	default:
		return "error"
	}
}

// Failure is a classified backend failure. Reason is fit for display.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s error: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// kindOf classifies err. Unclassified errors count as FailureOther, a bare
// ErrAborted as FailureAbort.
func kindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, ErrAborted) {
		return FailureAbort
	}
	return FailureOther
}

// reasonOf extracts the displayable reason of a failed attempt.
func reasonOf(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Reason != "" {
		return f.Reason
	}
	return err.Error()
}
