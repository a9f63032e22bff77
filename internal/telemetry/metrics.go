// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing
// for pipeline runs.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pipelined"

// Metrics holds the Prometheus collectors of the pipeline engine.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	AttemptsTotal       *prometheus.CounterVec
	AttemptDuration     *prometheus.HistogramVec
	OutcomesTotal       *prometheus.CounterVec
	FallbackInvocations *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec
	HealthScore         *prometheus.GaugeVec
	RunsTotal           *prometheus.CounterVec
	PhaseDuration       *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
//
// Metrics:
//   - pipelined_module_attempts_total{module,outcome}
//   - pipelined_module_attempt_duration_seconds{module}
//   - pipelined_module_outcomes_total{module,state}
//   - pipelined_fallback_invocations_total{module,candidate,result}
//   - pipelined_breaker_state{module} (0 closed, 1 half-open, 2 open)
//   - pipelined_module_health_score{module}
//   - pipelined_runs_total{pipeline,status}
//   - pipelined_phase_duration_seconds{pipeline}
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_attempts_total",
				Help:      "Module executor attempts by outcome",
			},
			[]string{"module", "outcome"}, // "success", "failure", "timed_out"
		),

		AttemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_attempt_duration_seconds",
				Help:      "Duration of a single module attempt in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"module"},
		),

		OutcomesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_outcomes_total",
				Help:      "Settled module outcomes by final state",
			},
			[]string{"module", "state"},
		),

		FallbackInvocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_invocations_total",
				Help:      "Fallback candidate invocations by result",
			},
			[]string{"module", "candidate", "result"},
		),

		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"module"},
		),

		HealthScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "module_health_score",
				Help:      "Module success-rate health score in [0,100]",
			},
			[]string{"module"},
		),

		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished pipeline runs by status",
			},
			[]string{"pipeline", "status"},
		),

		PhaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Wall time from phase start until every module settled",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pipeline"},
		),
	}
}

// RecordAttempt records one executor attempt.
func (m *Metrics) RecordAttempt(module, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(module, outcome).Inc()
	m.AttemptDuration.WithLabelValues(module).Observe(d.Seconds())
}

// RecordOutcome records a settled module.
func (m *Metrics) RecordOutcome(module, state string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(module, state).Inc()
}

// RecordFallback records one fallback candidate invocation.
func (m *Metrics) RecordFallback(module, candidate string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.FallbackInvocations.WithLabelValues(module, candidate, result).Inc()
}

// SetBreakerState updates the breaker gauge from a state name.
func (m *Metrics) SetBreakerState(module, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(module).Set(v)
}

// SetHealthScore updates the health gauge.
func (m *Metrics) SetHealthScore(module string, score float64) {
	if m == nil {
		return
	}
	m.HealthScore.WithLabelValues(module).Set(score)
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(pipeline, status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(pipeline, status).Inc()
}

// ObservePhase records how long a phase took.
func (m *Metrics) ObservePhase(pipeline string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}
