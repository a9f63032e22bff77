package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/pipelined/internal/executor"
)

// DefaultTimeout applies when a caller passes a non-positive timeout.
const DefaultTimeout = 5 * time.Minute

// Pool runs executor invocations in isolated goroutines, at most Size at a time.
type Pool struct {
	size   int
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool creates a pool with the given number of slots (default 4).
func NewPool(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = 4
	}
	p := &Pool{
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

type result struct {
	value any
	err   error
}

// Run executes exec for module under timeout once a slot is free.
//
// The executor runs in its own goroutine with a context that is cancelled on
// timeout; Run returns a *TimeoutError without waiting for a misbehaving
// executor to notice. Panics become *PanicError. The slot and the context are
// released on every exit path. Time spent waiting for a slot does not count
// against the timeout.
func (p *Pool) Run(ctx context.Context, module string, exec executor.Executor, inv executor.Invocation, timeout time.Duration) (any, error) {
	if exec == nil {
		return nil, executor.NonRetryable(fmt.Errorf("module %q has no executor", module))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for worker slot: %w", err)
	}
	defer p.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so the goroutine can always deliver and exit, even after
	// Run has returned on timeout.
	done := make(chan result, 1)
	isolated := inv.Clone()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("executor panicked",
					zap.String("module", module),
					zap.Any("panic", r))
				done <- result{err: &PanicError{Module: module, Value: r}}
			}
		}()
		v, err := exec.Execute(runCtx, isolated)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Module: module, Timeout: timeout}
		}
		return r.value, r.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("executor timed out",
			zap.String("module", module),
			zap.Duration("timeout", timeout))
		return nil, &TimeoutError{Module: module, Timeout: timeout}
	}
}
