package resilience

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fail(t *testing.T, b *Breakers, module string) {
	t.Helper()
	p, ok := b.Allow(module)
	require.True(t, ok, "expected breaker for %s to allow a call", module)
	p.Failure()
}

func TestBreakers_TripsOnThreshold(t *testing.T) {
	b := NewBreakers(BreakerSettings{Threshold: 3, Cooldown: time.Minute})

	fail(t, b, "codegen")
	fail(t, b, "codegen")
	assert.Equal(t, StateClosed, b.Snapshot("codegen").State)
	assert.Equal(t, uint32(2), b.Snapshot("codegen").FailureCount)

	fail(t, b, "codegen")
	snap := b.Snapshot("codegen")
	assert.Equal(t, StateOpen, snap.State)
	assert.False(t, snap.OpenedAt.IsZero())

	_, ok := b.Allow("codegen")
	assert.False(t, ok, "open breaker must reject calls during cooldown")
}

func TestBreakers_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreakers(BreakerSettings{Threshold: 3, Cooldown: time.Minute})

	fail(t, b, "testing")
	fail(t, b, "testing")
	p, ok := b.Allow("testing")
	require.True(t, ok)
	p.Success()

	fail(t, b, "testing")
	fail(t, b, "testing")
	assert.Equal(t, StateClosed, b.Snapshot("testing").State)
	assert.Equal(t, uint32(1), b.Snapshot("testing").SuccessCount)
}

func TestBreakers_SingleTrialAfterCooldown(t *testing.T) {
	b := NewBreakers(BreakerSettings{Threshold: 1, Cooldown: 50 * time.Millisecond})
	fail(t, b, "deploy")
	require.Equal(t, StateOpen, b.Snapshot("deploy").State)

	time.Sleep(70 * time.Millisecond)

	var (
		allowed atomic.Int32
		wg      sync.WaitGroup
		permits = make(chan Permit, 10)
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p, ok := b.Allow("deploy"); ok {
				allowed.Add(1)
				permits <- p
			}
		}()
	}
	wg.Wait()
	close(permits)

	assert.Equal(t, int32(1), allowed.Load(), "exactly one trial call while half-open")
	assert.Equal(t, StateHalfOpen, b.Snapshot("deploy").State)

	for p := range permits {
		p.Success()
	}
	assert.Equal(t, StateClosed, b.Snapshot("deploy").State)
}

func TestBreakers_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreakers(BreakerSettings{Threshold: 2, Cooldown: 30 * time.Millisecond})
	fail(t, b, "analysis")
	fail(t, b, "analysis")
	firstOpen := b.Snapshot("analysis").OpenedAt

	time.Sleep(50 * time.Millisecond)
	fail(t, b, "analysis")

	snap := b.Snapshot("analysis")
	assert.Equal(t, StateOpen, snap.State)
	assert.True(t, snap.OpenedAt.After(firstOpen))
}

func TestBreakers_IndependentPerModule(t *testing.T) {
	b := NewBreakers(BreakerSettings{Threshold: 1, Cooldown: time.Minute})
	fail(t, b, "a")

	_, ok := b.Allow("b")
	assert.True(t, ok)
	assert.Len(t, b.Snapshots(), 2)
}

func TestBreakers_Configure(t *testing.T) {
	b := NewBreakers(DefaultBreakerSettings())
	b.Configure("fragile", BreakerSettings{Threshold: 1, Cooldown: time.Minute})

	fail(t, b, "fragile")
	assert.Equal(t, StateOpen, b.Snapshot("fragile").State)
	assert.Equal(t, uint32(5), b.Snapshot("sturdy").Threshold)
}

func TestBreakers_ResetAndStateChange(t *testing.T) {
	type transition struct{ from, to BreakerState }
	var (
		mu   sync.Mutex
		seen []transition
	)
	core, logs := observer.New(zap.InfoLevel)
	b := NewBreakers(BreakerSettings{Threshold: 1, Cooldown: time.Minute},
		WithBreakerLogger(zap.New(core)),
		WithStateChange(func(module string, from, to BreakerState) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, transition{from, to})
		}))

	fail(t, b, "templates")
	b.Reset("templates")

	assert.Equal(t, StateClosed, b.Snapshot("templates").State)
	_, ok := b.Allow("templates")
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []transition{{StateClosed, StateOpen}, {StateOpen, StateClosed}}, seen)
	assert.Equal(t, 1, logs.FilterMessage("circuit breaker opened").Len())
	assert.Equal(t, 1, logs.FilterMessage("circuit breaker reset").Len())
}

func TestBreakers_RejectionError(t *testing.T) {
	b := NewBreakers(BreakerSettings{Threshold: 1, Cooldown: time.Minute})
	fail(t, b, "deploy")

	err := b.RejectionError("deploy")
	assert.Equal(t, StateOpen, err.State)
	assert.Greater(t, err.RetryAfter, 50*time.Second)

	var open *CircuitOpenError
	assert.True(t, errors.As(error(err), &open))
	assert.Contains(t, err.Error(), "deploy")
}

func TestPermit_ZeroValue(t *testing.T) {
	var p Permit
	assert.NotPanics(t, func() {
		p.Success()
		p.Failure()
	})
}
