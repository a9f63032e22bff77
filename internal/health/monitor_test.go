package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pipelined/internal/events"
	"github.com/aristath/pipelined/internal/telemetry"
)

func TestObserve_Score(t *testing.T) {
	m := NewMonitor()

	assert.Equal(t, 100.0, m.HealthScore("unseen"))

	m.Observe("codegen", false)
	assert.InDelta(t, 90.0, m.HealthScore("codegen"), 1e-9)

	m.Observe("codegen", false)
	assert.InDelta(t, 81.0, m.HealthScore("codegen"), 1e-9)

	m.Observe("codegen", true)
	assert.InDelta(t, 82.9, m.HealthScore("codegen"), 1e-9)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 0, snap[0].ConsecutiveFailures)
	assert.Equal(t, 3, snap[0].Observations)
}

func TestObserve_StaysInRange(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 200; i++ {
		m.Observe("steady", true)
		m.Observe("broken", false)
	}
	assert.LessOrEqual(t, m.HealthScore("steady"), 100.0)
	assert.GreaterOrEqual(t, m.HealthScore("broken"), 0.0)
}

func TestSweep_RestartRequested(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicHealth, 10)

	m := NewMonitor(WithBus(bus))
	// 0.9^7*100 ≈ 47.8 with 7 consecutive failures.
	for i := 0; i < 7; i++ {
		m.Observe("deployment", false)
	}
	m.Observe("testing", false)

	evs := m.Sweep()
	require.Len(t, evs, 1)
	restart, ok := evs[0].(events.RestartRequestedEvent)
	require.True(t, ok)
	assert.Equal(t, "deployment", restart.Name)
	assert.Equal(t, 7, restart.ConsecutiveFailures)

	select {
	case ev := <-ch:
		assert.Equal(t, events.EventTypeRestartRequested, ev.EventType())
	case <-time.After(100 * time.Millisecond):
		t.Fatal("sweep did not publish")
	}
}

func TestSweep_LowScoreWithFewFailuresDoesNotRestart(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 8; i++ {
		m.Observe("flaky", false)
	}
	m.Observe("flaky", true)

	assert.Less(t, m.HealthScore("flaky"), 50.0)
	assert.Empty(t, m.Sweep())
}

func TestSweep_CriticalUnhealthy(t *testing.T) {
	m := NewMonitor()
	m.SetCritical("requirement_analysis", true)
	for i := 0; i < 4; i++ { // 65.61
		m.Observe("requirement_analysis", false)
		m.Observe("template_selection", false)
	}

	evs := m.Sweep()
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventTypeCriticalModuleUnhealthy, evs[0].EventType())
	assert.Equal(t, "requirement_analysis", evs[0].Module())
}

func TestReset(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 10; i++ {
		m.Observe("x", false)
	}
	m.Reset("x")

	assert.Equal(t, 100.0, m.HealthScore("x"))
	recs := m.Snapshot()
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].ConsecutiveFailures)
	assert.Zero(t, recs[0].Observations)
	assert.Empty(t, m.Sweep())
}

func TestReset_KeepsObservationsAfterIt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitor(WithMetrics(telemetry.NewMetrics(reg)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Observe("x", false)
		}()
		go func() {
			defer wg.Done()
			m.Reset("x")
		}()
	}
	wg.Wait()

	m.Reset("x")
	m.Observe("x", false)

	recs := m.Snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Observations, "an observation after reset must land on the live record")
	assert.Equal(t, 1, recs[0].ConsecutiveFailures)
	assert.InDelta(t, 90.0, m.HealthScore("x"), 0.001)
	assert.InDelta(t, 90.0, testutil.ToFloat64(m.metrics.HealthScore.WithLabelValues("x")), 0.001)
}

func TestObserve_Concurrent(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Observe("shared", i%2 == 0)
		}(i)
	}
	wg.Wait()

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 50, snap[0].Observations)
}

func TestMetricsGauge(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	m := NewMonitor(WithMetrics(metrics))

	m.Observe("codegen", false)
	assert.InDelta(t, 90.0, testutil.ToFloat64(metrics.HealthScore.WithLabelValues("codegen")), 1e-9)
}

func TestRun_StopsOnCancel(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicHealth, 10)

	m := NewMonitor(WithBus(bus), WithThresholds(Thresholds{RestartScore: 101, RestartFailures: 0, CriticalScore: 0}))
	m.Observe("m", false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no sweep happened")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
