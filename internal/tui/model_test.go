package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pipelined/internal/events"
)

func feed(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		require.True(t, ok)
	}
	return m
}

func runEvents() []tea.Msg {
	now := time.Now()
	return []tea.Msg{
		events.RunStartedEvent{RunID: "run-1", Pipeline: "fullstack-app", Modules: 3, Phases: 2, Timestamp: now},
		events.ModuleStartedEvent{RunID: "run-1", Name: "analysis", Phase: "phase-1", Timestamp: now},
		events.ModuleSettledEvent{RunID: "run-1", Name: "analysis", Phase: "phase-1", State: "succeeded", Source: "primary", Attempts: 1, Timestamp: now},
		events.PhaseSettledEvent{RunID: "run-1", Phase: "phase-1", Index: 0, Modules: 1, Succeeded: 1},
		events.ModuleStartedEvent{RunID: "run-1", Name: "templates", Phase: "phase-2", Timestamp: now},
		events.BreakerStateChangedEvent{Name: "templates", From: "closed", To: "open", Timestamp: now},
		events.ModuleSettledEvent{RunID: "run-1", Name: "templates", Phase: "phase-2", State: "succeeded_via_fallback", UsedFallback: "blank", Attempts: 3, Timestamp: now},
		events.ModuleSettledEvent{RunID: "run-1", Name: "docs", Phase: "phase-2", State: "skipped", Err: errors.New("dependency failed"), Timestamp: now},
	}
}

func TestModel_TracksRun(t *testing.T) {
	m := feed(t, New(events.NewEventBus(), "fullstack-app"), runEvents()...)

	assert.Equal(t, "in_progress", m.progressPane.Status())
	assert.InDelta(t, 100.0, m.progressPane.Progress(), 0.001)
	assert.Zero(t, m.progressPane.Running())
	assert.Equal(t, 1, m.progressPane.succeeded)
	assert.Equal(t, 1, m.progressPane.fallback)
	assert.Equal(t, 1, m.progressPane.skipped)
	assert.Equal(t, 1, m.progressPane.phasesDone)
	assert.Equal(t, 2, m.progressPane.totalPhases, "phase settle must not replace the run's phase count")

	m = feed(t, m, events.RunFinishedEvent{RunID: "run-1", Status: "completed", Duration: time.Second})
	assert.Equal(t, "completed", m.progressPane.Status())
}

func TestModel_RunningCount(t *testing.T) {
	m := feed(t, New(events.NewEventBus(), "p"),
		events.RunStartedEvent{RunID: "r", Modules: 2, Phases: 1},
		events.ModuleStartedEvent{Name: "a"},
		events.ModuleStartedEvent{Name: "b"},
	)
	assert.Equal(t, 2, m.progressPane.Running())

	m = feed(t, m, events.ModuleSettledEvent{Name: "a", State: "failed"})
	assert.Equal(t, 1, m.progressPane.Running())
	assert.Equal(t, 1, m.progressPane.failed)
}

func TestModel_ModuleLogAndSelection(t *testing.T) {
	m := feed(t, New(events.NewEventBus(), "fullstack-app"), runEvents()...)

	sel, ok := m.modulePane.Selected()
	require.True(t, ok)
	assert.Equal(t, "analysis", sel.Name)
	assert.Equal(t, "succeeded", sel.State)
	require.Len(t, sel.Log, 2)
	assert.Contains(t, sel.Log[0], "started in phase-1")

	m = feed(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	sel, _ = m.modulePane.Selected()
	assert.Equal(t, "templates", sel.Name)
	assert.Equal(t, "blank", sel.UsedFallback)
	require.Len(t, sel.Log, 3)
	assert.Contains(t, sel.Log[1], "circuit breaker closed -> open")
	assert.Contains(t, sel.Log[2], "using fallback blank")

	m = feed(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	sel, _ = m.modulePane.Selected()
	assert.Equal(t, "docs", sel.Name)
	assert.Contains(t, sel.Log[0], "dependency failed")
}

func TestModel_KeysOnlyReachFocusedPane(t *testing.T) {
	m := feed(t, New(events.NewEventBus(), "p"), runEvents()...)
	m = feed(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, PaneProgress, m.focusedPane)

	m = feed(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	sel, _ := m.modulePane.Selected()
	assert.Equal(t, "analysis", sel.Name)

	m = feed(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("1")})
	assert.Equal(t, PaneModules, m.focusedPane)
}

func TestModel_View(t *testing.T) {
	m := New(events.NewEventBus(), "fullstack-app")
	assert.Equal(t, "Initializing...", m.View())

	m = feed(t, m, append([]tea.Msg{tea.WindowSizeMsg{Width: 140, Height: 30}}, runEvents()...)...)
	view := m.View()
	assert.Contains(t, view, "Modules")
	assert.Contains(t, view, "Run fullstack-app")
	assert.Contains(t, view, "analysis")
	assert.Contains(t, view, "100%")
}

func TestModel_Quit(t *testing.T) {
	m := New(events.NewEventBus(), "p")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "Goodbye!\n", next.View())
}

func TestWaitForEvent(t *testing.T) {
	bus := events.NewEventBus()
	m := New(bus, "p")

	bus.Publish(events.RunStartedEvent{RunID: "r"})
	msg := m.Init()()
	assert.IsType(t, events.RunStartedEvent{}, msg)

	bus.Close()
	assert.Equal(t, busClosedMsg{}, waitForEvent(m.eventSub)())
}
