package scheduler

import (
	"slices"
	"time"

	"github.com/aristath/pipelined/internal/resilience"
)

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s != RunInProgress
}

// ModuleState is the state of one module within a run.
type ModuleState string

const (
	ModulePending              ModuleState = "pending"
	ModuleRunning              ModuleState = "running"
	ModuleSucceeded            ModuleState = "succeeded"
	ModuleSucceededViaFallback ModuleState = "succeeded_via_fallback"
	ModuleSkipped              ModuleState = "skipped"
	ModuleFailed               ModuleState = "failed"
)

// Settled reports whether the module reached a final state.
func (s ModuleState) Settled() bool {
	switch s {
	case ModuleSucceeded, ModuleSucceededViaFallback, ModuleSkipped, ModuleFailed:
		return true
	}
	return false
}

// Succeeded reports whether dependents may consume the module's result.
func (s ModuleState) Succeeded() bool {
	return s == ModuleSucceeded || s == ModuleSucceededViaFallback
}

// Source says which executor produced a module's result.
type Source string

const (
	SourceNone     Source = "none"
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// AttemptOutcome classifies one executor attempt.
type AttemptOutcome string

const (
	AttemptSuccess  AttemptOutcome = "success"
	AttemptFailure  AttemptOutcome = "failure"
	AttemptTimedOut AttemptOutcome = "timed_out"
)

// Attempt records one primary executor invocation.
type Attempt struct {
	Module    string
	Number    int // 1-based
	StartedAt time.Time
	Duration  time.Duration
	Outcome   AttemptOutcome
	Err       error
}

// ModuleOutcome is the per-run record of one module.
type ModuleOutcome struct {
	Module                string
	Phase                 string
	Critical              bool
	State                 ModuleState
	Source                Source
	UsedFallback          string
	AttemptsBeforeSuccess int // failed fallback candidates before the winner
	Attempts              []Attempt
	FallbackFailures      []resilience.CandidateFailure
	Result                any
	Err                   error
	StartedAt             time.Time
	FinishedAt            time.Time
}

func (o ModuleOutcome) clone() ModuleOutcome {
	o.Attempts = slices.Clone(o.Attempts)
	o.FallbackFailures = slices.Clone(o.FallbackFailures)
	return o
}

// PhaseSnapshot is a copy of one phase's module outcomes.
type PhaseSnapshot struct {
	Name       string
	Order      []string // module names in registration order
	Modules    map[string]ModuleOutcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunSnapshot is a point-in-time copy of a run.
type RunSnapshot struct {
	ID           string
	Pipeline     string
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   time.Time
	Phases       []PhaseSnapshot
	CurrentPhase string  // empty before the first and after the last phase
	Progress     float64 // percentage of modules settled
	Err          error
}

// Module looks up a module's outcome across all phases.
func (s RunSnapshot) Module(name string) (ModuleOutcome, bool) {
	for _, p := range s.Phases {
		if o, ok := p.Modules[name]; ok {
			return o, true
		}
	}
	return ModuleOutcome{}, false
}

// Outcomes returns every module outcome in phase then registration order.
func (s RunSnapshot) Outcomes() []ModuleOutcome {
	var out []ModuleOutcome
	for _, p := range s.Phases {
		for _, name := range p.Order {
			out = append(out, p.Modules[name])
		}
	}
	return out
}

// Counts tallies module states.
func (s RunSnapshot) Counts() map[ModuleState]int {
	counts := make(map[ModuleState]int)
	for _, p := range s.Phases {
		for _, o := range p.Modules {
			counts[o.State]++
		}
	}
	return counts
}
