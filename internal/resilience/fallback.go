package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/pipelined/internal/executor"
)

// Candidate is one alternative executor in a fallback chain.
type Candidate struct {
	ID       string
	Executor executor.Executor

	// Condition gates the candidate; nil means always applicable.
	Condition func(executor.Invocation) bool
}

// FallbackChain is an ordered list of candidates tried when a module's
// primary executor is exhausted.
type FallbackChain struct {
	ID         string
	Candidates []Candidate
}

// FallbackResult describes the candidate that succeeded.
type FallbackResult struct {
	Value                 any
	UsedFallback          string
	AttemptsBeforeSuccess int                // failed candidates before the winner
	Failures              []CandidateFailure // every failed candidate, in order
	Skipped               []string           // candidates whose condition was false
}

// Runner executes one candidate in isolation. *worker.Pool satisfies it.
type Runner interface {
	Run(ctx context.Context, module string, exec executor.Executor, inv executor.Invocation, timeout time.Duration) (any, error)
}

// Validate checks the chain is usable.
func (c *FallbackChain) Validate() error {
	if c == nil || c.ID == "" {
		return errors.New("fallback chain needs an id")
	}
	if len(c.Candidates) == 0 {
		return fmt.Errorf("fallback chain %q has no candidates", c.ID)
	}
	seen := make(map[string]bool, len(c.Candidates))
	for i, cand := range c.Candidates {
		if cand.ID == "" {
			return fmt.Errorf("fallback chain %q: candidate %d has no id", c.ID, i)
		}
		if seen[cand.ID] {
			return fmt.Errorf("fallback chain %q: duplicate candidate %q", c.ID, cand.ID)
		}
		seen[cand.ID] = true
		if cand.Executor == nil {
			return fmt.Errorf("fallback chain %q: candidate %q has no executor", c.ID, cand.ID)
		}
	}
	return nil
}

// Cascade tries each applicable candidate in order through runner and
// returns the first success. Candidates with a false condition are skipped
// and do not count as failures. A cancelled ctx stops the cascade.
func (c *FallbackChain) Cascade(ctx context.Context, runner Runner, inv executor.Invocation, timeout time.Duration) (FallbackResult, error) {
	var (
		res      FallbackResult
		failures []CandidateFailure
	)

	for _, cand := range c.Candidates {
		if cand.Condition != nil && !cand.Condition(inv) {
			res.Skipped = append(res.Skipped, cand.ID)
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failures = failures
			return res, fmt.Errorf("fallback chain %q interrupted: %w", c.ID, err)
		}

		v, err := runner.Run(ctx, inv.Module, cand.Executor, inv, timeout)
		if err == nil {
			res.Value = v
			res.UsedFallback = cand.ID
			res.AttemptsBeforeSuccess = len(failures)
			return res, nil
		}
		failures = append(failures, CandidateFailure{CandidateID: cand.ID, Err: err})
		res.Failures = failures
	}

	return res, &FallbackExhaustedError{
		Module:   inv.Module,
		ChainID:  c.ID,
		Failures: failures,
	}
}
