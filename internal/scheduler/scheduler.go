// Package scheduler executes registered modules phase by phase, gating every
// attempt with a circuit breaker, retrying with backoff and falling back to
// alternative executors when a module is exhausted.
package scheduler

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aristath/pipelined/internal/events"
	"github.com/aristath/pipelined/internal/health"
	"github.com/aristath/pipelined/internal/locks"
	"github.com/aristath/pipelined/internal/registry"
	"github.com/aristath/pipelined/internal/resilience"
	"github.com/aristath/pipelined/internal/telemetry"
	"github.com/aristath/pipelined/internal/worker"
)

// DefaultRunRetention is how many finished runs stay queryable.
const DefaultRunRetention = 100

// Scheduler runs a resolved module graph. It is safe for concurrent use;
// several runs may be in flight at once.
type Scheduler struct {
	registry *registry.Registry
	phases   []registry.Phase

	pool     *worker.Pool
	breakers *resilience.Breakers
	retry    resilience.RetryPolicy
	monitor  *health.Monitor
	bus      *events.EventBus
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
	policy   PhasePolicy

	moduleLocks *locks.KeyedMutex // serialises a module name across runs

	mu        sync.RWMutex
	runs      map[string]*run
	runOrder  []string
	retention int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPool sets the worker pool (default: 4 slots).
func WithPool(p *worker.Pool) Option {
	return func(s *Scheduler) { s.pool = p }
}

// WithBreakers sets the breaker store. Callers that want breaker events must
// wire them through resilience.WithStateChange themselves.
func WithBreakers(b *resilience.Breakers) Option {
	return func(s *Scheduler) { s.breakers = b }
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(s *Scheduler) { s.retry = p }
}

// WithHealthMonitor sets the monitor fed with every attempt outcome.
func WithHealthMonitor(m *health.Monitor) Option {
	return func(s *Scheduler) { s.monitor = m }
}

// WithEventBus publishes run, phase and module events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer sets the tracer used for run, phase and module spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPhasePolicy sets how modules inside a phase are batched.
func WithPhasePolicy(p PhasePolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithRunRetention bounds how many finished runs Snapshot can still find.
func WithRunRetention(n int) Option {
	return func(s *Scheduler) { s.retention = n }
}

// New resolves the registry's phases and builds a scheduler. Registry
// errors (cycles, unknown references) are returned here, before anything runs.
func New(reg *registry.Registry, opts ...Option) (*Scheduler, error) {
	phases, err := reg.ResolvePhases()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		registry:    reg,
		phases:      phases,
		retry:       resilience.DefaultRetryPolicy(),
		logger:      zap.NewNop(),
		policy:      ParallelFirst{},
		moduleLocks: locks.NewKeyedMutex(),
		runs:        make(map[string]*run),
		retention:   DefaultRunRetention,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.pool == nil {
		s.pool = worker.NewPool(0, worker.WithLogger(s.logger))
	}
	if s.breakers == nil {
		s.breakers = resilience.NewBreakers(resilience.DefaultBreakerSettings(),
			resilience.WithBreakerLogger(s.logger),
			resilience.WithStateChange(s.breakerChanged))
	}
	if s.monitor == nil {
		s.monitor = health.NewMonitor(health.WithBus(s.bus), health.WithMetrics(s.metrics), health.WithLogger(s.logger))
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer(nil)
	}
	if s.policy == nil {
		s.policy = ParallelFirst{}
	}

	for _, p := range phases {
		for _, d := range p.Modules {
			if d.Breaker != nil {
				s.breakers.Configure(d.Name, *d.Breaker)
			}
			if d.Critical {
				s.monitor.SetCritical(d.Name, true)
			}
		}
	}
	return s, nil
}

// breakerChanged publishes breaker transitions of the default breaker store.
func (s *Scheduler) breakerChanged(module string, from, to resilience.BreakerState) {
	s.metrics.SetBreakerState(module, to.String())
	s.bus.Publish(events.BreakerStateChangedEvent{Name: module, From: from.String(), To: to.String()})
}

// Phases returns the resolved phases.
func (s *Scheduler) Phases() []registry.Phase {
	return slices.Clone(s.phases)
}

// Breakers returns the breaker store in use.
func (s *Scheduler) Breakers() *resilience.Breakers {
	return s.breakers
}

// Monitor returns the health monitor in use.
func (s *Scheduler) Monitor() *health.Monitor {
	return s.monitor
}

// Handle is a future for one run.
type Handle struct {
	run *run
}

// ID returns the run id.
func (h *Handle) ID() string { return h.run.id }

// Done is closed once the run reached a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.run.done }

// Snapshot returns the current state of the run.
func (h *Handle) Snapshot() RunSnapshot { return h.run.snapshot() }

// Wait blocks until the run finishes and returns its final snapshot and
// error: a *PipelineAbortedError after a critical failure, the context's
// error after cancellation, nil otherwise.
func (h *Handle) Wait() (RunSnapshot, error) {
	<-h.run.done
	snap := h.run.snapshot()
	return snap, snap.Err
}

// Start begins a run of the resolved graph and returns immediately.
// pipeline only labels the run; input is handed to every module invocation.
func (s *Scheduler) Start(ctx context.Context, pipeline string, input map[string]any) *Handle {
	r := newRun(uuid.NewString(), pipeline, s.phases, input)
	s.track(r)

	go s.execute(ctx, r)
	return &Handle{run: r}
}

// Run starts a run and waits for it.
func (s *Scheduler) Run(ctx context.Context, pipeline string, input map[string]any) (RunSnapshot, error) {
	return s.Start(ctx, pipeline, input).Wait()
}

// Snapshot returns the state of a run started by this scheduler.
func (s *Scheduler) Snapshot(runID string) (RunSnapshot, bool) {
	s.mu.RLock()
	r, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return RunSnapshot{}, false
	}
	return r.snapshot(), true
}

// Runs returns snapshots of every retained run, oldest first.
func (s *Scheduler) Runs() []RunSnapshot {
	s.mu.RLock()
	rs := make([]*run, 0, len(s.runOrder))
	for _, id := range s.runOrder {
		rs = append(rs, s.runs[id])
	}
	s.mu.RUnlock()

	out := make([]RunSnapshot, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.snapshot())
	}
	return out
}

func (s *Scheduler) track(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[r.id] = r
	s.runOrder = append(s.runOrder, r.id)

	if s.retention <= 0 || len(s.runOrder) <= s.retention {
		return
	}
	// Evict the oldest finished runs; in-flight runs are never evicted.
	kept := s.runOrder[:0]
	excess := len(s.runOrder) - s.retention
	for _, id := range s.runOrder {
		if excess > 0 && s.runs[id].snapshotStatus().Terminal() {
			delete(s.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.runOrder = kept
}
