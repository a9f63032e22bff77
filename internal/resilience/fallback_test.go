package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pipelined/internal/executor"
	"github.com/aristath/pipelined/internal/worker"
)

func failing(msg string) executor.Executor {
	return executor.Func(func(ctx context.Context, inv executor.Invocation) (any, error) {
		return nil, errors.New(msg)
	})
}

func succeeding(v any) executor.Executor {
	return executor.Func(func(ctx context.Context, inv executor.Invocation) (any, error) {
		return v, nil
	})
}

func TestCascade_ThirdCandidateWins(t *testing.T) {
	chain := &FallbackChain{
		ID: "codegen-fallback",
		Candidates: []Candidate{
			{ID: "candidate1", Executor: failing("model unavailable")},
			{ID: "candidate2", Executor: failing("quota exceeded")},
			{ID: "candidate3", Executor: succeeding("template output")},
		},
	}
	require.NoError(t, chain.Validate())

	res, err := chain.Cascade(context.Background(), worker.NewPool(2), executor.Invocation{Module: "codegen"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "candidate3", res.UsedFallback)
	assert.Equal(t, 2, res.AttemptsBeforeSuccess)
	assert.Equal(t, "template output", res.Value)
}

func TestCascade_ConditionSkipsWithoutCounting(t *testing.T) {
	chain := &FallbackChain{
		ID: "chain",
		Candidates: []Candidate{
			{ID: "premium", Executor: failing("never called"), Condition: func(executor.Invocation) bool { return false }},
			{ID: "cheap", Executor: succeeding(1)},
		},
	}

	res, err := chain.Cascade(context.Background(), worker.NewPool(1), executor.Invocation{Module: "m"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "cheap", res.UsedFallback)
	assert.Equal(t, 0, res.AttemptsBeforeSuccess)
	assert.Equal(t, []string{"premium"}, res.Skipped)
}

func TestCascade_Exhausted(t *testing.T) {
	sentinel := errors.New("disk full")
	chain := &FallbackChain{
		ID: "chain",
		Candidates: []Candidate{
			{ID: "one", Executor: failing("boom")},
			{ID: "two", Executor: executor.Func(func(ctx context.Context, inv executor.Invocation) (any, error) {
				return nil, sentinel
			})},
		},
	}

	_, err := chain.Cascade(context.Background(), worker.NewPool(1), executor.Invocation{Module: "deploy"}, time.Second)

	var exhausted *FallbackExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "deploy", exhausted.Module)
	require.Len(t, exhausted.Failures, 2)
	assert.Equal(t, "one", exhausted.Failures[0].CandidateID)
	assert.ErrorIs(t, err, sentinel)
}

func TestCascade_CandidateTimeout(t *testing.T) {
	slow := executor.Func(func(ctx context.Context, inv executor.Invocation) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	chain := &FallbackChain{ID: "c", Candidates: []Candidate{{ID: "slow", Executor: slow}, {ID: "fast", Executor: succeeding("ok")}}}

	res, err := chain.Cascade(context.Background(), worker.NewPool(1), executor.Invocation{Module: "m"}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "fast", res.UsedFallback)
}

func TestCascade_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := &FallbackChain{ID: "c", Candidates: []Candidate{{ID: "a", Executor: succeeding(1)}}}
	_, err := chain.Cascade(ctx, worker.NewPool(1), executor.Invocation{Module: "m"}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackChain_Validate(t *testing.T) {
	tests := []struct {
		name  string
		chain *FallbackChain
	}{
		{"nil", nil},
		{"no id", &FallbackChain{Candidates: []Candidate{{ID: "a", Executor: succeeding(1)}}}},
		{"no candidates", &FallbackChain{ID: "x"}},
		{"candidate without id", &FallbackChain{ID: "x", Candidates: []Candidate{{Executor: succeeding(1)}}}},
		{"duplicate candidate", &FallbackChain{ID: "x", Candidates: []Candidate{{ID: "a", Executor: succeeding(1)}, {ID: "a", Executor: succeeding(1)}}}},
		{"nil executor", &FallbackChain{ID: "x", Candidates: []Candidate{{ID: "a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.chain.Validate())
		})
	}
}
