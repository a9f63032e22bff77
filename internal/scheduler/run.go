package scheduler

import (
	"maps"
	"sync"
	"time"

	"github.com/aristath/pipelined/internal/registry"
	"github.com/aristath/pipelined/internal/resilience"
)

// run is the mutable state of one pipeline run. The scheduler owns it;
// readers only ever see snapshots.
type run struct {
	mu sync.RWMutex

	id       string
	pipeline string
	input    map[string]any

	status     RunStatus
	err        error
	startedAt  time.Time
	finishedAt time.Time

	phases       []phaseState
	current      int // index of the executing phase, -1 when none
	outcomes     map[string]*ModuleOutcome
	results      map[string]any
	aborted      bool
	interrupted  bool
	totalModules int

	done chan struct{}
}

type phaseState struct {
	name       string
	order      []string
	startedAt  time.Time
	finishedAt time.Time
}

func newRun(id, pipeline string, phases []registry.Phase, input map[string]any) *run {
	r := &run{
		id:        id,
		pipeline:  pipeline,
		input:     maps.Clone(input),
		status:    RunInProgress,
		startedAt: time.Now(),
		current:   -1,
		outcomes:  make(map[string]*ModuleOutcome),
		results:   make(map[string]any),
		done:      make(chan struct{}),
	}
	for _, p := range phases {
		ps := phaseState{name: p.Name}
		for _, d := range p.Modules {
			ps.order = append(ps.order, d.Name)
			r.outcomes[d.Name] = &ModuleOutcome{
				Module:   d.Name,
				Phase:    p.Name,
				Critical: d.Critical,
				State:    ModulePending,
				Source:   SourceNone,
			}
			r.totalModules++
		}
		r.phases = append(r.phases, ps)
	}
	return r
}

func (r *run) enterPhase(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = i
	r.phases[i].startedAt = time.Now()
}

func (r *run) leavePhase(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases[i].finishedAt = time.Now()
	r.current = -1
}

// stopped reports whether no further module may start.
func (r *run) stopped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aborted || r.interrupted
}

func (r *run) interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupted = true
}

// abort records the first critical failure. Later calls are ignored.
func (r *run) abort(module string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return
	}
	r.aborted = true
	r.err = &PipelineAbortedError{RunID: r.id, Module: module, Err: err}
}

func (r *run) state(module string) ModuleState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.outcomes[module]; ok {
		return o.State
	}
	return ModulePending
}

// begin moves module to Running unless the run has stopped. It reports
// whether the module may proceed.
func (r *run) begin(module string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted || r.interrupted {
		return false
	}
	o := r.outcomes[module]
	o.State = ModuleRunning
	o.StartedAt = time.Now()
	return true
}

func (r *run) recordAttempt(module string, a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.outcomes[module]
	o.Attempts = append(o.Attempts, a)
}

// settle stores module's final outcome and returns a copy of it.
func (r *run) settle(module string, apply func(o *ModuleOutcome)) ModuleOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.outcomes[module]
	apply(o)
	o.FinishedAt = time.Now()
	if o.StartedAt.IsZero() {
		o.StartedAt = o.FinishedAt
	}
	if o.State.Succeeded() {
		r.results[module] = o.Result
	}
	return o.clone()
}

// upstream returns a fresh map holding the results of deps.
func (r *run) upstream(deps []string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	up := make(map[string]any, len(deps))
	for _, dep := range deps {
		if v, ok := r.results[dep]; ok {
			up[dep] = v
		}
	}
	return up
}

func (r *run) inputCopy() map[string]any {
	return maps.Clone(r.input)
}

func (r *run) finish(status RunStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	if r.err == nil {
		r.err = err
	}
	r.finishedAt = time.Now()
	r.current = -1
}

func (r *run) snapshot() RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := RunSnapshot{
		ID:         r.id,
		Pipeline:   r.pipeline,
		Status:     r.status,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Err:        r.err,
		Phases:     make([]PhaseSnapshot, 0, len(r.phases)),
	}
	if r.current >= 0 {
		snap.CurrentPhase = r.phases[r.current].name
	}

	settled := 0
	for _, p := range r.phases {
		ps := PhaseSnapshot{
			Name:       p.name,
			Order:      append([]string(nil), p.order...),
			Modules:    make(map[string]ModuleOutcome, len(p.order)),
			StartedAt:  p.startedAt,
			FinishedAt: p.finishedAt,
		}
		for _, name := range p.order {
			o := r.outcomes[name]
			ps.Modules[name] = o.clone()
			if o.State.Settled() {
				settled++
			}
		}
		snap.Phases = append(snap.Phases, ps)
	}
	if r.totalModules > 0 {
		snap.Progress = float64(settled) / float64(r.totalModules) * 100
	} else if r.status.Terminal() {
		snap.Progress = 100
	}
	return snap
}

func (r *run) snapshotStatus() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *run) wasInterrupted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.interrupted
}

func (r *run) setFallbackFailures(module string, failures []resilience.CandidateFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[module].FallbackFailures = failures
}
