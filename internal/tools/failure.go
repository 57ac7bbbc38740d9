package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind is the closed set of normalized adapter failures.
type FailureKind string

const (
	FailureRateLimited  FailureKind = "rate-limited"
	FailureTimeout      FailureKind = "timeout"
	FailureInvalidInput FailureKind = "invalid-input"
	FailureUpstream     FailureKind = "upstream-error"
)

// Failure wraps a provider-specific error with its normalized kind.
type Failure struct {
	Tool string
	Kind FailureKind
	Err  error
}

func (f Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("tool %s failed (%s): %v", f.Tool, f.Kind, f.Err)
	}
	return fmt.Sprintf("tool %s failed (%s)", f.Tool, f.Kind)
}

func (f Failure) Unwrap() error { return f.Err }

// NewFailure builds a Failure for an adapter.
func NewFailure(tool string, kind FailureKind, err error) Failure {
	return Failure{Tool: tool, Kind: kind, Err: err}
}

// AsFailure extracts a Failure from an error chain.
func AsFailure(err error) (Failure, bool) {
	var f Failure
	ok := errors.As(err, &f)
	return f, ok
}

// Classify normalizes an arbitrary adapter error into a Failure. Errors
// that already carry a kind pass through unchanged.
func Classify(tool string, err error) Failure {
	if f, ok := AsFailure(err); ok {
		if f.Tool == "" {
			f.Tool = tool
		}
		return f
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewFailure(tool, FailureTimeout, err)
	case errors.Is(err, context.Canceled):
		return NewFailure(tool, FailureTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewFailure(tool, FailureTimeout, err)
	}
	return NewFailure(tool, FailureUpstream, err)
}
