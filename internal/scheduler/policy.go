package scheduler

import (
	"fmt"

	"github.com/aristath/pipelined/internal/registry"
)

// PhasePolicy splits a phase into batches. Batches run one after another;
// the modules of one batch run concurrently.
type PhasePolicy interface {
	Name() string
	Batches(modules []registry.Descriptor) [][]registry.Descriptor
}

// Phase policy names accepted by ParsePhasePolicy.
const (
	PolicyParallelFirst   = "parallel-first"
	PolicyFullyConcurrent = "concurrent"
	PolicySequentialOnly  = "sequential"
)

// ParallelFirst runs parallel-eligible modules together, then the others
// one at a time.
type ParallelFirst struct{}

func (ParallelFirst) Name() string { return PolicyParallelFirst }

func (ParallelFirst) Batches(modules []registry.Descriptor) [][]registry.Descriptor {
	var (
		parallel []registry.Descriptor
		batches  [][]registry.Descriptor
	)
	for _, m := range modules {
		if m.ParallelEligible {
			parallel = append(parallel, m)
		}
	}
	if len(parallel) > 0 {
		batches = append(batches, parallel)
	}
	for _, m := range modules {
		if !m.ParallelEligible {
			batches = append(batches, []registry.Descriptor{m})
		}
	}
	return batches
}

// FullyConcurrent runs every module of a phase together.
type FullyConcurrent struct{}

func (FullyConcurrent) Name() string { return PolicyFullyConcurrent }

func (FullyConcurrent) Batches(modules []registry.Descriptor) [][]registry.Descriptor {
	if len(modules) == 0 {
		return nil
	}
	return [][]registry.Descriptor{modules}
}

// SequentialOnly runs modules one at a time in registration order.
type SequentialOnly struct{}

func (SequentialOnly) Name() string { return PolicySequentialOnly }

func (SequentialOnly) Batches(modules []registry.Descriptor) [][]registry.Descriptor {
	batches := make([][]registry.Descriptor, 0, len(modules))
	for _, m := range modules {
		batches = append(batches, []registry.Descriptor{m})
	}
	return batches
}

// ParsePhasePolicy returns the policy for name; empty means ParallelFirst.
func ParsePhasePolicy(name string) (PhasePolicy, error) {
	switch name {
	case "", PolicyParallelFirst:
		return ParallelFirst{}, nil
	case PolicyFullyConcurrent:
		return FullyConcurrent{}, nil
	case PolicySequentialOnly:
		return SequentialOnly{}, nil
	default:
		return nil, fmt.Errorf("unknown phase policy %q", name)
	}
}
