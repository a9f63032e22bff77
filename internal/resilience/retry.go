package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/pipelined/internal/executor"
)

// Strategy selects how the base delay grows between attempts.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
)

// ParseStrategy maps a config string onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyExponential, StrategyLinear, StrategyFixed:
		return Strategy(s), nil
	case "":
		return StrategyExponential, nil
	default:
		return "", errors.New("unknown retry strategy " + s)
	}
}

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy struct {
	Strategy      Strategy
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Jitter        bool

	// Retryable classifies errors. Nil means DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy is exponential with factor 2 from 1s, capped at 60s, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Strategy:      StrategyExponential,
		BaseDelay:     time.Second,
		BackoffFactor: 2,
		MaxDelay:      60 * time.Second,
		Jitter:        true,
	}
}

// NextDelay returns the wait before attempt+1, given that attempt (1-based)
// just failed. The result never exceeds MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}

	base := float64(p.BaseDelay)
	var raw float64
	switch p.Strategy {
	case StrategyFixed:
		raw = base
	case StrategyLinear:
		raw = base * float64(attempt)
	default:
		factor := p.BackoffFactor
		if factor < 1 {
			factor = 1
		}
		raw = base * math.Pow(factor, float64(attempt-1))
	}

	if p.MaxDelay > 0 && raw >= float64(p.MaxDelay) {
		return p.MaxDelay
	}

	d := time.Duration(raw)
	if p.Jitter {
		d += time.Duration(rand.Int64N(int64(p.BaseDelay)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ShouldRetry reports whether another attempt follows the failed attempt
// number attempt out of maxRetries.
func (p RetryPolicy) ShouldRetry(attempt, maxRetries int, err error) bool {
	if attempt >= maxRetries {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return DefaultRetryable(err)
}

// DefaultRetryable treats non-retryable executor errors, open breakers and
// caller cancellation as permanent. Timeouts and everything else are retried.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if executor.IsNonRetryable(err) {
		return false
	}
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// BackOff adapts the policy to backoff.BackOff for use with backoff.Retry.
// The returned value stops after maxRetries attempts and never yields a
// delay shorter than the one before it.
func (p RetryPolicy) BackOff(maxRetries int) backoff.BackOff {
	return &policyBackOff{policy: p, max: maxRetries}
}

type policyBackOff struct {
	policy  RetryPolicy
	max     int
	attempt int
	last    time.Duration
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.max > 0 && b.attempt >= b.max {
		return backoff.Stop
	}
	d := b.policy.NextDelay(b.attempt)
	if d < b.last {
		d = b.last
	}
	b.last = d
	return d
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
	b.last = 0
}
