// Package health tracks a success-rate score per module and raises restart
// and critical-health events from periodic sweeps.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/pipelined/internal/events"
	"github.com/aristath/pipelined/internal/locks"
	"github.com/aristath/pipelined/internal/telemetry"
)

const (
	// DefaultSweepInterval is used by Run when no interval is given.
	DefaultSweepInterval = 60 * time.Second

	initialScore = 100.0
	decay        = 0.9
	successBonus = 10.0
)

// Thresholds control when a sweep raises events.
type Thresholds struct {
	RestartScore    float64 // restart requested below this score...
	RestartFailures int     // ...and above this many consecutive failures
	CriticalScore   float64 // critical modules below this score are unhealthy
}

// DefaultThresholds returns 50 / 5 / 70.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RestartScore:    50,
		RestartFailures: 5,
		CriticalScore:   70,
	}
}

// Record is a copy of one module's health state.
type Record struct {
	Module              string
	Score               float64
	ConsecutiveFailures int
	Observations        int
	Critical            bool
	LastObserved        time.Time
}

type record struct {
	score        float64
	failures     int
	observations int
	lastObserved time.Time
}

// Monitor observes module outcomes. It never affects scheduling; it only
// publishes events.
type Monitor struct {
	mu       sync.RWMutex // guards the records and critical maps
	records  map[string]*record
	critical map[string]bool
	locks    *locks.KeyedMutex // per-module record updates

	thresholds Thresholds
	bus        *events.EventBus
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBus publishes sweep events on bus.
func WithBus(bus *events.EventBus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithMetrics exports scores as gauges.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithThresholds overrides DefaultThresholds.
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// NewMonitor creates an empty monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		records:    make(map[string]*record),
		critical:   make(map[string]bool),
		locks:      locks.NewKeyedMutex(),
		thresholds: DefaultThresholds(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetCritical marks module as critical for sweep purposes.
func (m *Monitor) SetCritical(module string, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.critical[module] = critical
}

// Observe folds one outcome into module's score:
// score = score*0.9 + (10 on success, 0 on failure), starting at 100.
func (m *Monitor) Observe(module string, success bool) {
	rec := m.recordFor(module)

	m.locks.Lock(module)
	rec.score *= decay
	if success {
		rec.score += successBonus
		rec.failures = 0
	} else {
		rec.failures++
	}
	rec.observations++
	rec.lastObserved = time.Now()
	m.metrics.SetHealthScore(module, clamp(rec.score))
	m.locks.Unlock(module)
}

// HealthScore returns module's score in [0,100]. Unobserved modules score 100.
func (m *Monitor) HealthScore(module string) float64 {
	m.mu.RLock()
	rec, ok := m.records[module]
	m.mu.RUnlock()
	if !ok {
		return initialScore
	}

	m.locks.Lock(module)
	defer m.locks.Unlock(module)
	return clamp(rec.score)
}

// Snapshot returns copies of every record, sorted by module name.
func (m *Monitor) Snapshot() []Record {
	m.mu.RLock()
	names := make([]string, 0, len(m.records))
	recs := make(map[string]*record, len(m.records))
	critical := make(map[string]bool, len(m.critical))
	for name, rec := range m.records {
		names = append(names, name)
		recs[name] = rec
	}
	for name, c := range m.critical {
		critical[name] = c
	}
	m.mu.RUnlock()

	sort.Strings(names)
	out := make([]Record, 0, len(names))
	for _, name := range names {
		rec := recs[name]
		m.locks.Lock(name)
		out = append(out, Record{
			Module:              name,
			Score:               clamp(rec.score),
			ConsecutiveFailures: rec.failures,
			Observations:        rec.observations,
			Critical:            critical[name],
			LastObserved:        rec.lastObserved,
		})
		m.locks.Unlock(name)
	}
	return out
}

// Reset forgets module's history so it scores 100 again. The record is
// cleared in place under the module lock, so an Observe racing with Reset
// lands either before the reset or on the fresh record.
func (m *Monitor) Reset(module string) {
	rec := m.recordFor(module)

	m.locks.Lock(module)
	*rec = record{score: initialScore}
	m.metrics.SetHealthScore(module, initialScore)
	m.locks.Unlock(module)

	m.logger.Info("health record reset", zap.String("module", module))
}

// Sweep evaluates every record once and publishes the resulting events:
// a RestartRequestedEvent for modules below the restart score with too many
// consecutive failures, and a CriticalModuleUnhealthyEvent for critical
// modules below the critical score.
func (m *Monitor) Sweep() []events.Event {
	now := time.Now()
	var out []events.Event

	for _, rec := range m.Snapshot() {
		if rec.Score < m.thresholds.RestartScore && rec.ConsecutiveFailures > m.thresholds.RestartFailures {
			m.logger.Warn("module restart requested",
				zap.String("module", rec.Module),
				zap.Float64("score", rec.Score),
				zap.Int("consecutive_failures", rec.ConsecutiveFailures))
			out = append(out, events.RestartRequestedEvent{
				Name:                rec.Module,
				Score:               rec.Score,
				ConsecutiveFailures: rec.ConsecutiveFailures,
				Timestamp:           now,
			})
		}
		if rec.Critical && rec.Score < m.thresholds.CriticalScore {
			m.logger.Error("critical module unhealthy",
				zap.String("module", rec.Module),
				zap.Float64("score", rec.Score))
			out = append(out, events.CriticalModuleUnhealthyEvent{
				Name:      rec.Module,
				Score:     rec.Score,
				Timestamp: now,
			})
		}
	}

	for _, ev := range out {
		m.bus.Publish(ev)
	}
	return out
}

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Monitor) recordFor(module string) *record {
	m.mu.RLock()
	rec, ok := m.records[module]
	m.mu.RUnlock()
	if ok {
		return rec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok = m.records[module]; ok {
		return rec
	}
	rec = &record{score: initialScore}
	m.records[module] = rec
	return rec
}

func clamp(score float64) float64 {
	return max(0, min(100, score))
}
