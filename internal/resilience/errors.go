package resilience

import (
	"fmt"
	"strings"
	"time"
)

// CircuitOpenError is returned when a module's breaker refuses a call.
type CircuitOpenError struct {
	Module     string
	State      BreakerState
	RetryAfter time.Duration // remaining cooldown, zero when unknown
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker for %q is %s (retry after %v)", e.Module, e.State, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit breaker for %q is %s", e.Module, e.State)
}

// RetryExhaustedError is returned when every attempt of a module failed.
type RetryExhaustedError struct {
	Module   string
	Attempts int
	Err      error // last attempt's error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("module %q failed after %d attempt(s): %v", e.Module, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// CandidateFailure records one failed fallback candidate.
type CandidateFailure struct {
	CandidateID string
	Err         error
}

// FallbackExhaustedError is returned when no fallback candidate succeeded.
type FallbackExhaustedError struct {
	Module   string
	ChainID  string
	Failures []CandidateFailure
}

func (e *FallbackExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("fallback chain %q for %q: no applicable candidate", e.ChainID, e.Module)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.CandidateID, f.Err))
	}
	return fmt.Sprintf("fallback chain %q for %q exhausted: %s", e.ChainID, e.Module, strings.Join(parts, "; "))
}

// Unwrap exposes every candidate error to errors.Is/As.
func (e *FallbackExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
