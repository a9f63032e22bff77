package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	Module() string // empty for run- and phase-level events
}

// Topic constants
const (
	TopicModule  = "module"
	TopicPhase   = "phase"
	TopicRun     = "run"
	TopicHealth  = "health"
	TopicBreaker = "breaker"
)

// Event type constants
const (
	EventTypeModuleStarted           = "module.started"
	EventTypeModuleSettled           = "module.settled"
	EventTypePhaseSettled            = "phase.settled"
	EventTypeRunStarted              = "run.started"
	EventTypeRunFinished             = "run.finished"
	EventTypeCriticalModuleUnhealthy = "health.critical_unhealthy"
	EventTypeRestartRequested        = "health.restart_requested"
	EventTypeBreakerStateChanged     = "breaker.state_changed"
)

// ModuleStartedEvent is published when a module leaves Pending.
type ModuleStartedEvent struct {
	RunID     string
	Name      string
	Phase     string
	Timestamp time.Time
}

func (e ModuleStartedEvent) EventType() string { return EventTypeModuleStarted }
func (e ModuleStartedEvent) Topic() string     { return TopicModule }
func (e ModuleStartedEvent) Module() string    { return e.Name }

// ModuleSettledEvent is published once per module per run with its final state.
type ModuleSettledEvent struct {
	RunID        string
	Name         string
	Phase        string
	State        string
	Source       string
	UsedFallback string
	Attempts     int
	Err          error
	Duration     time.Duration
	Timestamp    time.Time
}

func (e ModuleSettledEvent) EventType() string { return EventTypeModuleSettled }
func (e ModuleSettledEvent) Topic() string     { return TopicModule }
func (e ModuleSettledEvent) Module() string    { return e.Name }

// PhaseSettledEvent is published when every module of a phase has settled.
type PhaseSettledEvent struct {
	RunID     string
	Phase     string
	Index     int // 0-based position among the run's phases
	Modules   int // modules in this phase
	Succeeded int
	Skipped   int
	Failed    int
	Duration  time.Duration
	Timestamp time.Time
}

func (e PhaseSettledEvent) EventType() string { return EventTypePhaseSettled }
func (e PhaseSettledEvent) Topic() string     { return TopicPhase }
func (e PhaseSettledEvent) Module() string    { return "" }

// RunStartedEvent is published when a pipeline run begins.
type RunStartedEvent struct {
	RunID     string
	Pipeline  string
	Modules   int
	Phases    int
	Timestamp time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) Topic() string     { return TopicRun }
func (e RunStartedEvent) Module() string    { return "" }

// RunFinishedEvent is published when a run reaches a terminal status.
type RunFinishedEvent struct {
	RunID     string
	Pipeline  string
	Status    string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) Topic() string     { return TopicRun }
func (e RunFinishedEvent) Module() string    { return "" }

// CriticalModuleUnhealthyEvent is published by a health sweep for a critical
// module whose score dropped below the critical threshold.
type CriticalModuleUnhealthyEvent struct {
	Name      string
	Score     float64
	Timestamp time.Time
}

func (e CriticalModuleUnhealthyEvent) EventType() string { return EventTypeCriticalModuleUnhealthy }
func (e CriticalModuleUnhealthyEvent) Topic() string     { return TopicHealth }
func (e CriticalModuleUnhealthyEvent) Module() string    { return e.Name }

// RestartRequestedEvent is published by a health sweep for a module that
// keeps failing.
type RestartRequestedEvent struct {
	Name                string
	Score               float64
	ConsecutiveFailures int
	Timestamp           time.Time
}

func (e RestartRequestedEvent) EventType() string { return EventTypeRestartRequested }
func (e RestartRequestedEvent) Topic() string     { return TopicHealth }
func (e RestartRequestedEvent) Module() string    { return e.Name }

// BreakerStateChangedEvent is published on every circuit breaker transition.
type BreakerStateChangedEvent struct {
	Name      string
	From      string
	To        string
	Timestamp time.Time
}

func (e BreakerStateChangedEvent) EventType() string { return EventTypeBreakerStateChanged }
func (e BreakerStateChangedEvent) Topic() string     { return TopicBreaker }
func (e BreakerStateChangedEvent) Module() string    { return e.Name }
