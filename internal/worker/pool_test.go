package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pipelined/internal/executor"
)

func sleeper(d time.Duration, out any) executor.Executor {
	return executor.Func(func(ctx context.Context, inv executor.Invocation) (any, error) {
		select {
		case <-time.After(d):
			return out, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func TestRun_Success(t *testing.T) {
	p := NewPool(2)

	out, err := p.Run(context.Background(), "analysis", sleeper(0, "ok"), executor.Invocation{Module: "analysis"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRun_ExecutorError(t *testing.T) {
	p := NewPool(1)
	boom := errors.New("upstream 503")

	_, err := p.Run(context.Background(), "m", executor.Func(func(context.Context, executor.Invocation) (any, error) {
		return nil, boom
	}), executor.Invocation{}, time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestRun_Timeout(t *testing.T) {
	p := NewPool(1)

	start := time.Now()
	_, err := p.Run(context.Background(), "codegen", sleeper(5*time.Second, nil), executor.Invocation{}, 50*time.Millisecond)
	elapsed := time.Since(start)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "codegen", te.Module)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
	assert.Less(t, elapsed, time.Second)
}

// TestRun_TimeoutIgnoresStubbornExecutor verifies Run returns on time even if
// the executor never looks at its context.
func TestRun_TimeoutIgnoresStubbornExecutor(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	defer close(release)

	stubborn := executor.Func(func(context.Context, executor.Invocation) (any, error) {
		<-release
		return "late", nil
	})

	_, err := p.Run(context.Background(), "stubborn", stubborn, executor.Invocation{}, 30*time.Millisecond)
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)

	// Slot must have been released despite the goroutine still running
	_, err = p.Run(context.Background(), "next", sleeper(0, "ok"), executor.Invocation{}, time.Second)
	assert.NoError(t, err)
}

func TestRun_PanicContained(t *testing.T) {
	p := NewPool(1)

	_, err := p.Run(context.Background(), "crashy", executor.Func(func(context.Context, executor.Invocation) (any, error) {
		panic("nil map write")
	}), executor.Invocation{}, time.Second)

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "nil map write", pe.Value)
}

func TestRun_ParentCancellationIsNotTimeout(t *testing.T) {
	p := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Run(ctx, "m", sleeper(5*time.Second, nil), executor.Invocation{}, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	var te *TimeoutError
	assert.False(t, errors.As(err, &te))
}

func TestRun_NilExecutor(t *testing.T) {
	_, err := NewPool(1).Run(context.Background(), "m", nil, executor.Invocation{}, time.Second)
	assert.True(t, executor.IsNonRetryable(err))
}

func TestRun_InvocationIsolated(t *testing.T) {
	p := NewPool(1)
	upstream := map[string]any{"a": "original"}

	_, err := p.Run(context.Background(), "m", executor.Func(func(_ context.Context, inv executor.Invocation) (any, error) {
		inv.Upstream["a"] = "mutated"
		return nil, nil
	}), executor.Invocation{Upstream: upstream}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "original", upstream["a"])
}

// TestRun_ConcurrencyBound verifies at most Size invocations run at once and
// that five 100ms calls on two slots take at least three rounds.
func TestRun_ConcurrencyBound(t *testing.T) {
	p := NewPool(2)
	var running, peak atomic.Int32

	exec := executor.Func(func(ctx context.Context, inv executor.Invocation) (any, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	})

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Run(context.Background(), "m", exec, executor.Invocation{}, time.Second)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestNewPool_DefaultSize(t *testing.T) {
	assert.Equal(t, 4, NewPool(0).Size())
	assert.Equal(t, 7, NewPool(7).Size())
}
