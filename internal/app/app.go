// Package app assembles a runnable engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aristath/pipelined/internal/config"
	"github.com/aristath/pipelined/internal/events"
	"github.com/aristath/pipelined/internal/executor"
	"github.com/aristath/pipelined/internal/health"
	"github.com/aristath/pipelined/internal/persistence"
	"github.com/aristath/pipelined/internal/registry"
	"github.com/aristath/pipelined/internal/resilience"
	"github.com/aristath/pipelined/internal/scheduler"
	"github.com/aristath/pipelined/internal/telemetry"
	"github.com/aristath/pipelined/internal/worker"
	"github.com/aristath/pipelined/internal/workspace"
)

// Engine is a scheduler for one pipeline together with everything it shares
// with the outside: event bus, metrics, run history and child processes.
type Engine struct {
	Pipeline   string
	Scheduler  *scheduler.Scheduler
	Registry   *registry.Registry
	Bus        *events.EventBus
	Metrics    *telemetry.Metrics
	Gatherer   prometheus.Gatherer
	Processes  *executor.ProcessManager
	Workspaces *workspace.Manager
	Store      persistence.Store

	input  map[string]any
	health config.HealthConfig
	logger *zap.Logger

	bgOnce sync.Once
	bgStop context.CancelFunc
	bgWG   sync.WaitGroup
}

type options struct {
	store    persistence.Store
	registry *prometheus.Registry
	tp       trace.TracerProvider
	bus      *events.EventBus
}

// Option customises Build.
type Option func(*options)

// WithStore persists every finished run to store.
func WithStore(store persistence.Store) Option {
	return func(o *options) { o.store = store }
}

// WithPrometheusRegistry registers metrics on reg instead of a fresh registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithEventBus publishes events on bus instead of a private one.
func WithEventBus(bus *events.EventBus) Option {
	return func(o *options) { o.bus = bus }
}

// Build wires an engine for the named pipeline; an empty name selects the
// configured default. Every configuration and graph error surfaces here.
func Build(cfg *config.Config, pipeline string, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	if o.bus == nil {
		o.bus = events.NewEventBus()
	}

	name, pcfg, err := cfg.Pipeline(pipeline)
	if err != nil {
		return nil, err
	}

	policy, err := scheduler.ParsePhasePolicy(cfg.Scheduler.PhasePolicy)
	if err != nil {
		return nil, err
	}
	retry, err := retryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}

	processes := executor.NewProcessManager()
	workspaces := workspace.NewManager(workspace.ManagerConfig{
		Root:     cfg.Scheduler.WorkspaceRoot,
		KeepDirs: cfg.Scheduler.KeepWorkspaces,
	})

	reg, err := BuildRegistry(pcfg, cfg.Scheduler.DefaultTimeout.Std(), executor.Deps{
		Processes:  processes,
		Workspaces: workspaces,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}

	metrics := telemetry.NewMetrics(o.registry)
	log := logger.With(zap.String("pipeline", name))

	breakers := resilience.NewBreakers(
		resilience.BreakerSettings{Threshold: cfg.Breaker.Threshold, Cooldown: cfg.Breaker.Cooldown.Std()},
		resilience.WithBreakerLogger(log),
		resilience.WithStateChange(func(module string, from, to resilience.BreakerState) {
			metrics.SetBreakerState(module, to.String())
			o.bus.Publish(events.BreakerStateChangedEvent{Name: module, From: from.String(), To: to.String()})
		}),
	)

	monitor := health.NewMonitor(
		health.WithBus(o.bus),
		health.WithMetrics(metrics),
		health.WithLogger(log),
		health.WithThresholds(health.Thresholds{
			RestartScore:    cfg.Health.RestartScore,
			RestartFailures: cfg.Health.RestartFailures,
			CriticalScore:   cfg.Health.CriticalScore,
		}),
	)

	sched, err := scheduler.New(reg,
		scheduler.WithPool(worker.NewPool(cfg.Scheduler.PoolSize, worker.WithLogger(log))),
		scheduler.WithBreakers(breakers),
		scheduler.WithRetryPolicy(retry),
		scheduler.WithHealthMonitor(monitor),
		scheduler.WithEventBus(o.bus),
		scheduler.WithMetrics(metrics),
		scheduler.WithTracer(telemetry.Tracer(o.tp)),
		scheduler.WithLogger(log),
		scheduler.WithPhasePolicy(policy),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}

	return &Engine{
		Pipeline:   name,
		Scheduler:  sched,
		Registry:   reg,
		Bus:        o.bus,
		Metrics:    metrics,
		Gatherer:   o.registry,
		Processes:  processes,
		Workspaces: workspaces,
		Store:      o.store,
		input:      maps.Clone(pcfg.Input),
		health:     cfg.Health,
		logger:     log,
	}, nil
}

func retryPolicy(c config.RetryConfig) (resilience.RetryPolicy, error) {
	strategy, err := resilience.ParseStrategy(c.Strategy)
	if err != nil {
		return resilience.RetryPolicy{}, err
	}
	return resilience.RetryPolicy{
		Strategy:      strategy,
		BaseDelay:     c.BaseDelay.Std(),
		BackoffFactor: c.BackoffFactor,
		MaxDelay:      c.MaxDelay.Std(),
		Jitter:        c.Jitter,
	}, nil
}

// Input merges overrides over the pipeline's declared input.
func (e *Engine) Input(overrides map[string]any) map[string]any {
	input := maps.Clone(e.input)
	if input == nil {
		input = make(map[string]any, len(overrides))
	}
	maps.Copy(input, overrides)
	return input
}

// Background starts the health sweep loop and the restart handler. Both
// stop when ctx is done. Calling it again has no effect.
func (e *Engine) Background(ctx context.Context) {
	e.bgOnce.Do(func() {
		ctx, e.bgStop = context.WithCancel(ctx)
		restarts := e.Bus.Subscribe(events.TopicHealth, 0)

		e.bgWG.Add(2)
		go func() {
			defer e.bgWG.Done()
			e.Scheduler.Monitor().Run(ctx, e.health.SweepInterval.Std())
		}()
		go func() {
			defer e.bgWG.Done()
			e.handleRestarts(ctx, restarts)
		}()
	})
}

// handleRestarts gives a module that keeps failing a clean slate: its
// breaker closes and its health record starts over.
func (e *Engine) handleRestarts(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			req, isRestart := ev.(events.RestartRequestedEvent)
			if !isRestart {
				continue
			}
			e.logger.Warn("restarting unhealthy module",
				zap.String("module", req.Name),
				zap.Float64("score", req.Score),
				zap.Int("consecutive_failures", req.ConsecutiveFailures))
			e.Scheduler.Breakers().Reset(req.Name)
			e.Scheduler.Monitor().Reset(req.Name)
		}
	}
}

// Run executes the pipeline once with overrides merged into its input and
// records the finished run when a store is configured. A store failure is
// logged, not returned, so the run's own outcome is never masked.
func (e *Engine) Run(ctx context.Context, overrides map[string]any) (scheduler.RunSnapshot, error) {
	return e.Wait(ctx, e.Start(ctx, overrides))
}

// Start launches a run without waiting for it.
func (e *Engine) Start(ctx context.Context, overrides map[string]any) *scheduler.Handle {
	return e.Scheduler.Start(ctx, e.Pipeline, e.Input(overrides))
}

// Wait blocks until h finishes and persists its snapshot.
func (e *Engine) Wait(ctx context.Context, h *scheduler.Handle) (scheduler.RunSnapshot, error) {
	snap, runErr := h.Wait()
	if e.Store != nil {
		// the run context may already be cancelled; saving must still happen
		if err := e.Store.SaveRun(context.WithoutCancel(ctx), persistence.FromSnapshot(snap)); err != nil {
			e.logger.Error("failed to save run", zap.String("run_id", snap.ID), zap.Error(err))
		}
	}
	return snap, runErr
}

// Close stops background loops, kills leftover child processes, removes
// workspaces and closes the event bus. The store is left open because the
// caller owns it.
func (e *Engine) Close() error {
	e.bgOnce.Do(func() {})
	if e.bgStop != nil {
		e.bgStop()
	}
	e.bgWG.Wait()

	var errs []error
	if err := e.Processes.KillAll(); err != nil {
		errs = append(errs, fmt.Errorf("killing processes: %w", err))
	}
	if err := e.Workspaces.CleanupAll(); err != nil {
		errs = append(errs, fmt.Errorf("cleaning workspaces: %w", err))
	}
	e.Bus.Close()
	return errors.Join(errs...)
}
