package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// Invocation is everything an executor receives for one call.
// It is built fresh for every attempt; executors must treat Input and
// Upstream values as read-only.
type Invocation struct {
	RunID    string         // Pipeline run the call belongs to
	Module   string         // Module being executed
	Attempt  int            // 1-based attempt number (0 for fallback candidates)
	Input    any            // Module input supplied by the embedding system
	Upstream map[string]any // Results of the module's settled dependencies
}

// Clone returns a copy with its own Upstream map and, when Input is a map,
// its own Input map.
func (inv Invocation) Clone() Invocation {
	cp := inv
	if inv.Upstream != nil {
		cp.Upstream = maps.Clone(inv.Upstream)
	}
	if in, ok := inv.Input.(map[string]any); ok && in != nil {
		cp.Input = maps.Clone(in)
	}
	return cp
}

// Executor is the capability a module (or fallback candidate) provides.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (any, error)
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, inv Invocation) (any, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, inv Invocation) (any, error) {
	return f(ctx, inv)
}

// NonRetryableError marks a failure that retrying cannot fix
// (bad input, validation failure).
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable wraps err so the retry policy gives up immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err (or anything it wraps) is non-retryable.
func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	return errors.As(err, &nr)
}
