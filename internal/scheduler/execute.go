package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/pipelined/internal/events"
	"github.com/aristath/pipelined/internal/executor"
	"github.com/aristath/pipelined/internal/registry"
	"github.com/aristath/pipelined/internal/resilience"
	"github.com/aristath/pipelined/internal/telemetry"
	"github.com/aristath/pipelined/internal/worker"
)

// execute drives r through every phase and closes r.done at the end.
func (s *Scheduler) execute(ctx context.Context, r *run) {
	defer close(r.done)

	ctx, span := s.tracer.Start(ctx, "run "+r.pipeline)
	span.SetAttributes(telemetry.AttrRunID.String(r.id), telemetry.AttrPipeline.String(r.pipeline))

	log := s.logger.With(zap.String("run_id", r.id), zap.String("pipeline", r.pipeline))
	log.Info("pipeline run started", zap.Int("phases", len(s.phases)), zap.Int("modules", r.totalModules))
	s.bus.Publish(events.RunStartedEvent{
		RunID:     r.id,
		Pipeline:  r.pipeline,
		Modules:   r.totalModules,
		Phases:    len(s.phases),
		Timestamp: r.startedAt,
	})

	for i, phase := range s.phases {
		if ctx.Err() != nil {
			r.interrupt()
		}
		if r.stopped() {
			break
		}
		s.executePhase(ctx, r, i, phase)
	}

	status := RunCompleted
	var runErr error
	r.mu.RLock()
	aborted, interrupted := r.aborted, r.interrupted
	r.mu.RUnlock()
	switch {
	case aborted:
		status = RunFailed
	case interrupted:
		status = RunCancelled
		runErr = context.Cause(ctx)
		if runErr == nil {
			runErr = context.Canceled
		}
	}
	r.finish(status, runErr)

	snap := r.snapshot()
	duration := snap.FinishedAt.Sub(snap.StartedAt)
	if snap.Err != nil {
		log.Warn("pipeline run finished", zap.String("status", string(status)), zap.Duration("duration", duration), zap.Error(snap.Err))
	} else {
		log.Info("pipeline run finished", zap.String("status", string(status)), zap.Duration("duration", duration))
	}
	s.metrics.RecordRun(r.pipeline, string(status))
	s.bus.Publish(events.RunFinishedEvent{
		RunID:     r.id,
		Pipeline:  r.pipeline,
		Status:    string(status),
		Err:       snap.Err,
		Duration:  duration,
		Timestamp: snap.FinishedAt,
	})
	span.SetAttributes(telemetry.AttrState.String(string(status)))
	telemetry.EndSpan(span, snap.Err)
}

// executePhase runs the batches of one phase. Modules of a batch run
// concurrently; the phase settles when all of them did.
func (s *Scheduler) executePhase(ctx context.Context, r *run, index int, phase registry.Phase) {
	ctx, span := s.tracer.Start(ctx, phase.Name)
	span.SetAttributes(telemetry.AttrRunID.String(r.id), telemetry.AttrPhase.String(phase.Name))

	r.enterPhase(index)
	start := time.Now()

	for _, batch := range s.policy.Batches(phase.Modules) {
		if r.stopped() {
			break
		}

		var g errgroup.Group
		g.SetLimit(s.pool.Size())
		for _, d := range batch {
			g.Go(func() error {
				s.settleModule(ctx, r, phase.Name, d)
				return nil
			})
		}
		_ = g.Wait()
	}

	r.leavePhase(index)
	duration := time.Since(start)
	s.metrics.ObservePhase(r.pipeline, duration)

	ev := events.PhaseSettledEvent{
		RunID:     r.id,
		Phase:     phase.Name,
		Index:     index,
		Modules:   len(phase.Modules),
		Duration:  duration,
		Timestamp: time.Now(),
	}
	for _, d := range phase.Modules {
		switch st := r.state(d.Name); {
		case st.Succeeded():
			ev.Succeeded++
		case st == ModuleSkipped:
			ev.Skipped++
		case st == ModuleFailed:
			ev.Failed++
		}
	}
	s.bus.Publish(ev)
	s.logger.Debug("phase settled",
		zap.String("run_id", r.id),
		zap.String("phase", phase.Name),
		zap.Int("succeeded", ev.Succeeded),
		zap.Int("skipped", ev.Skipped),
		zap.Int("failed", ev.Failed))
	telemetry.EndSpan(span, nil)
}

// settleModule takes one module from Pending to a settled state:
// dependency check, breaker-gated attempts with backoff, then the fallback
// chain. A module whose breaker is open from the start skips the fallback
// chain. A module that cannot start because the run stopped stays Pending.
func (s *Scheduler) settleModule(ctx context.Context, r *run, phase string, d registry.Descriptor) {
	if ctx.Err() != nil {
		r.interrupt()
		return
	}
	if r.stopped() {
		return
	}

	for _, dep := range d.Dependencies {
		if st := r.state(dep); !st.Succeeded() {
			s.finalize(r, d, nil, &DependencyFailedError{Module: d.Name, Dependency: dep, State: st})
			return
		}
	}

	s.moduleLocks.Lock(d.Name)
	defer s.moduleLocks.Unlock(d.Name)

	if !r.begin(d.Name) {
		return
	}

	ctx, span := telemetry.StartModuleSpan(ctx, s.tracer, r.id, phase, d.Name)
	s.bus.Publish(events.ModuleStartedEvent{RunID: r.id, Name: d.Name, Phase: phase, Timestamp: time.Now()})

	inv := executor.Invocation{
		RunID:    r.id,
		Module:   d.Name,
		Input:    r.inputCopy(),
		Upstream: r.upstream(d.Dependencies),
	}

	value, err := s.attempt(ctx, r, d, inv)
	if err == nil {
		out := s.finalize(r, d, func(o *ModuleOutcome) {
			o.State = ModuleSucceeded
			o.Source = SourcePrimary
			o.Result = value
		}, nil)
		span.SetAttributes(telemetry.AttrState.String(string(out.State)))
		telemetry.EndSpan(span, nil)
		return
	}

	if d.FallbackID != "" && !interrupted(ctx, err) && !refusedUpfront(err) {
		if chain, ok := s.registry.Fallback(d.FallbackID); ok {
			res, ferr := chain.Cascade(ctx, s.pool, inv, d.Timeout)
			s.recordFallback(d.Name, res)
			if ferr == nil {
				out := s.finalize(r, d, func(o *ModuleOutcome) {
					o.State = ModuleSucceededViaFallback
					o.Source = SourceFallback
					o.UsedFallback = res.UsedFallback
					o.AttemptsBeforeSuccess = res.AttemptsBeforeSuccess
					o.FallbackFailures = res.Failures
					o.Result = res.Value
					o.Err = err
				}, nil)
				span.SetAttributes(telemetry.AttrState.String(string(out.State)), telemetry.AttrFallback.String(res.UsedFallback))
				telemetry.EndSpan(span, nil)
				return
			}
			r.setFallbackFailures(d.Name, res.Failures)
			err = errors.Join(err, ferr)
		}
	}

	if interrupted(ctx, err) {
		r.interrupt()
	}
	out := s.finalize(r, d, nil, err)
	span.SetAttributes(telemetry.AttrState.String(string(out.State)))
	telemetry.EndSpan(span, err)
}

// finalize settles a module. With a nil apply the module failed with err:
// critical modules fail the run, others are skipped. A module interrupted by
// run cancellation is skipped either way.
func (s *Scheduler) finalize(r *run, d registry.Descriptor, apply func(*ModuleOutcome), err error) ModuleOutcome {
	abort := false
	if apply == nil {
		abort = d.Critical && !r.wasInterrupted()
		apply = func(o *ModuleOutcome) {
			o.Source = SourceNone
			o.Err = err
			if abort {
				o.State = ModuleFailed
			} else {
				o.State = ModuleSkipped
			}
		}
	}

	out := r.settle(d.Name, apply)
	if abort {
		r.abort(d.Name, err)
	}

	log := s.logger.With(zap.String("run_id", r.id), zap.String("module", d.Name), zap.String("state", string(out.State)))
	switch out.State {
	case ModuleFailed:
		log.Error("critical module failed, aborting run", zap.Error(out.Err))
	case ModuleSkipped:
		log.Warn("module skipped", zap.Error(out.Err))
	case ModuleSucceededViaFallback:
		log.Info("module recovered via fallback", zap.String("fallback", out.UsedFallback))
	default:
		log.Info("module succeeded", zap.Int("attempts", len(out.Attempts)))
	}

	s.metrics.RecordOutcome(d.Name, string(out.State))
	s.bus.Publish(events.ModuleSettledEvent{
		RunID:        r.id,
		Name:         d.Name,
		Phase:        out.Phase,
		State:        string(out.State),
		Source:       string(out.Source),
		UsedFallback: out.UsedFallback,
		Attempts:     len(out.Attempts),
		Err:          out.Err,
		Duration:     out.FinishedAt.Sub(out.StartedAt),
		Timestamp:    out.FinishedAt,
	})
	return out
}

// attempt runs the primary executor up to d.MaxRetries times. Every attempt
// first asks the breaker; a refusal ends the loop.
func (s *Scheduler) attempt(ctx context.Context, r *run, d registry.Descriptor, inv executor.Invocation) (any, error) {
	var (
		value    any
		attempts int
	)

	op := func() error {
		permit, ok := s.breakers.Allow(d.Name)
		if !ok {
			return backoff.Permanent(s.breakers.RejectionError(d.Name))
		}

		attempts++
		inv.Attempt = attempts
		start := time.Now()
		v, err := s.pool.Run(ctx, d.Name, d.Executor, inv, d.Timeout)
		a := Attempt{
			Module:    d.Name,
			Number:    attempts,
			StartedAt: start,
			Duration:  time.Since(start),
			Outcome:   AttemptSuccess,
			Err:       err,
		}

		switch {
		case err == nil:
			permit.Success()
			s.monitor.Observe(d.Name, true)
			value = v
		case interrupted(ctx, err):
			// The caller gave up; this says nothing about the module.
			permit.Success()
			a.Outcome = AttemptFailure
		default:
			permit.Failure()
			s.monitor.Observe(d.Name, false)
			a.Outcome = AttemptFailure
			var timeout *worker.TimeoutError
			if errors.As(err, &timeout) {
				a.Outcome = AttemptTimedOut
			}
		}
		r.recordAttempt(d.Name, a)
		s.metrics.RecordAttempt(d.Name, string(a.Outcome), a.Duration)

		if err == nil {
			return nil
		}
		if interrupted(ctx, err) || !s.retry.ShouldRetry(attempts, d.MaxRetries, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Debug("retrying module",
			zap.String("run_id", r.id),
			zap.String("module", d.Name),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(s.retry.BackOff(d.MaxRetries), ctx), notify)
	if err == nil {
		return value, nil
	}
	if attempts == 0 || interrupted(ctx, err) {
		return nil, err
	}
	return nil, &resilience.RetryExhaustedError{Module: d.Name, Attempts: attempts, Err: err}
}

func (s *Scheduler) recordFallback(module string, res resilience.FallbackResult) {
	for _, f := range res.Failures {
		s.metrics.RecordFallback(module, f.CandidateID, false)
	}
	if res.UsedFallback != "" {
		s.metrics.RecordFallback(module, res.UsedFallback, true)
	}
}

// refusedUpfront reports whether the breaker turned the module away before
// its first attempt. Such a module fails at once without its fallback chain.
func refusedUpfront(err error) bool {
	var (
		open      *resilience.CircuitOpenError
		exhausted *resilience.RetryExhaustedError
	)
	return errors.As(err, &open) && !errors.As(err, &exhausted)
}

// interrupted reports whether err stems from the run's own cancellation
// rather than from the module.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
