package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/pipelined/internal/events"
)

// ProgressPaneModel shows run status, phase progress and module counts.
type ProgressPaneModel struct {
	runID       string
	pipeline    string
	status      string
	err         error
	duration    time.Duration
	totalPhases int
	phasesDone  int
	phase       string
	total       int
	running     map[string]bool
	succeeded   int
	fallback    int
	skipped     int
	failed      int
	width       int
	height      int
	focused     bool
}

// NewProgressPaneModel creates an empty progress pane.
func NewProgressPaneModel(pipeline string) ProgressPaneModel {
	return ProgressPaneModel{pipeline: pipeline, status: "waiting", running: make(map[string]bool)}
}

// Update handles run, phase and module events.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.RunStartedEvent:
		m = ProgressPaneModel{width: m.width, height: m.height, focused: m.focused, running: make(map[string]bool)}
		m.runID = msg.RunID
		m.pipeline = msg.Pipeline
		m.status = "in_progress"
		m.total = msg.Modules
		m.totalPhases = msg.Phases

	case events.ModuleStartedEvent:
		m.running[msg.Name] = true
		m.phase = msg.Phase

	case events.ModuleSettledEvent:
		delete(m.running, msg.Name)
		switch msg.State {
		case stateSucceeded:
			m.succeeded++
		case stateSucceededViaFallback:
			m.fallback++
		case stateSkipped:
			m.skipped++
		case stateFailed:
			m.failed++
		}

	case events.PhaseSettledEvent:
		m.phasesDone = msg.Index + 1

	case events.RunFinishedEvent:
		m.status = msg.Status
		m.err = msg.Err
		m.duration = msg.Duration
		clear(m.running)
	}
	return m, nil
}

func (m ProgressPaneModel) settled() int {
	return m.succeeded + m.fallback + m.skipped + m.failed
}

// Progress returns the percentage of modules settled.
func (m ProgressPaneModel) Progress() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.settled()) / float64(m.total) * 100
}

// Status returns the run status shown in the pane.
func (m ProgressPaneModel) Status() string {
	return m.status
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Run " + m.pipeline)
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Run:       %s\n", m.runID))
	b.WriteString(fmt.Sprintf("Status:    %s\n", m.renderStatus()))
	b.WriteString(fmt.Sprintf("Phase:     %d/%d %s\n", m.phasesDone, m.totalPhases, m.phase))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", len(m.running)))))
	b.WriteString(fmt.Sprintf("Succeeded: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.succeeded))))
	b.WriteString(fmt.Sprintf("Fallback:  %s\n", StyleStatusFallback.Render(fmt.Sprintf("%d", m.fallback))))
	b.WriteString(fmt.Sprintf("Skipped:   %s\n", StyleStatusSkipped.Render(fmt.Sprintf("%d", m.skipped))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-16, 40)
		okWidth := ((m.succeeded + m.fallback) * barWidth) / m.total
		skippedWidth := (m.skipped * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		restWidth := barWidth - okWidth - skippedWidth - failedWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, okWidth)))
		bar += StyleStatusSkipped.Render(strings.Repeat("~", max(0, skippedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, restWidth)))

		b.WriteString(fmt.Sprintf("[%s] %3.0f%%\n", bar, m.Progress()))
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render(m.err.Error()))
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m ProgressPaneModel) renderStatus() string {
	switch m.status {
	case "completed":
		return StyleStatusComplete.Render(fmt.Sprintf("%s in %v", m.status, m.duration.Round(time.Millisecond)))
	case "failed", "cancelled":
		return StyleStatusFailed.Render(m.status)
	case "in_progress":
		return StyleStatusRunning.Render(m.status)
	default:
		return StyleStatusPending.Render(m.status)
	}
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// Running returns how many modules are executing.
func (m ProgressPaneModel) Running() int {
	return len(m.running)
}
