package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Static returns a fixed output after an optional delay.
// Useful as a stand-in for remote services and as a last-resort fallback.
type Static struct {
	Output any
	Delay  time.Duration
}

// Execute implements Executor.
func (s *Static) Execute(ctx context.Context, inv Invocation) (any, error) {
	if err := wait(ctx, s.Delay); err != nil {
		return nil, err
	}
	if s.Output != nil {
		return s.Output, nil
	}
	return map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("module %s completed", inv.Module),
	}, nil
}

// Fail always fails after an optional delay.
type Fail struct {
	Message   string
	Permanent bool // classify the failure as non-retryable
	Delay     time.Duration
}

// Execute implements Executor.
func (f *Fail) Execute(ctx context.Context, inv Invocation) (any, error) {
	if err := wait(ctx, f.Delay); err != nil {
		return nil, err
	}
	msg := f.Message
	if msg == "" {
		msg = fmt.Sprintf("module %s failed", inv.Module)
	}
	err := errors.New(msg)
	if f.Permanent {
		return nil, NonRetryable(err)
	}
	return nil, err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
