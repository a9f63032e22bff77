package worker

import (
	"fmt"
	"time"
)

// TimeoutError is returned when an invocation outlives its timeout.
// It counts as a failure for circuit breaking and retry.
type TimeoutError struct {
	Module  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("module %q timed out after %v", e.Module, e.Timeout)
}

// PanicError is returned when an executor panics. The panic is contained
// to the invocation's goroutine.
type PanicError struct {
	Module string
	Value  any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("module %q panicked: %v", e.Module, e.Value)
}
