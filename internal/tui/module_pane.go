package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/pipelined/internal/events"
)

// Module states as published in events.
const (
	statePending              = "pending"
	stateRunning              = "running"
	stateSucceeded            = "succeeded"
	stateSucceededViaFallback = "succeeded_via_fallback"
	stateSkipped              = "skipped"
	stateFailed               = "failed"
)

// ModuleView is what the pane knows about one module.
type ModuleView struct {
	Name         string
	Phase        string
	State        string
	UsedFallback string
	Attempts     int
	Duration     time.Duration
	Log          []string
}

// ModulePaneModel shows the module list and the selected module's event log.
type ModulePaneModel struct {
	modules     map[string]*ModuleView
	order       []string // first-seen order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewModulePaneModel creates an empty module pane.
func NewModulePaneModel() ModulePaneModel {
	return ModulePaneModel{
		modules:  make(map[string]*ModuleView),
		viewport: viewport.New(0, 0),
	}
}

// Update handles keys and module-scoped events.
func (m ModulePaneModel) Update(msg tea.Msg) (ModulePaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.ModuleStartedEvent:
		mod := m.module(msg.Name)
		mod.Phase = msg.Phase
		mod.State = stateRunning
		m.log(mod, msg.Timestamp, "started in %s", msg.Phase)

	case events.ModuleSettledEvent:
		mod := m.module(msg.Name)
		mod.Phase = msg.Phase
		mod.State = msg.State
		mod.UsedFallback = msg.UsedFallback
		mod.Attempts = msg.Attempts
		mod.Duration = msg.Duration

		line := fmt.Sprintf("%s after %d attempt(s) in %v", msg.State, msg.Attempts, msg.Duration.Round(time.Millisecond))
		if msg.UsedFallback != "" {
			line += fmt.Sprintf(" using fallback %s", msg.UsedFallback)
		}
		if msg.Err != nil {
			line += fmt.Sprintf(": %v", msg.Err)
		}
		m.log(mod, msg.Timestamp, "%s", line)

	case events.BreakerStateChangedEvent:
		m.log(m.module(msg.Name), msg.Timestamp, "circuit breaker %s -> %s", msg.From, msg.To)

	case events.RestartRequestedEvent:
		m.log(m.module(msg.Name), msg.Timestamp, "restart requested (score %.1f, %d consecutive failures)", msg.Score, msg.ConsecutiveFailures)

	case events.CriticalModuleUnhealthyEvent:
		m.log(m.module(msg.Name), msg.Timestamp, "critical module unhealthy (score %.1f)", msg.Score)
	}

	return m, cmd
}

// module returns the view for name, adding it on first sight. The model is
// copied by value but the map is shared, so entries stay in sync.
func (m *ModulePaneModel) module(name string) *ModuleView {
	mod, ok := m.modules[name]
	if !ok {
		mod = &ModuleView{Name: name, State: statePending}
		m.modules[name] = mod
		m.order = append(m.order, name)
		if len(m.order) == 1 {
			m.selectedIdx = 0
		}
	}
	return mod
}

func (m *ModulePaneModel) log(mod *ModuleView, at time.Time, format string, args ...any) {
	if at.IsZero() {
		at = time.Now()
	}
	mod.Log = append(mod.Log, at.Format("15:04:05.000")+"  "+fmt.Sprintf(format, args...))
	if m.selected() == mod.Name {
		m.updateViewportContent()
	}
}

// View renders the module pane.
func (m ModulePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 32
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderModuleList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m ModulePaneModel) renderModuleList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Modules")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, name := range m.order {
		mod := m.modules[name]
		if len(name) > width-6 {
			name = name[:width-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(mod.State), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled indicator for a module state.
func StatusIcon(state string) string {
	if si, ok := stateIcons[state]; ok {
		return si.style.Render(si.icon)
	}
	return StyleStatusPending.Render("○")
}

func (m ModulePaneModel) selected() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the view of the selected module, if any.
func (m ModulePaneModel) Selected() (ModuleView, bool) {
	mod, ok := m.modules[m.selected()]
	if !ok {
		return ModuleView{}, false
	}
	return *mod, true
}

func (m *ModulePaneModel) updateViewportContent() {
	mod, ok := m.modules[m.selected()]
	if !ok {
		m.viewport.SetContent("Waiting for modules...")
		return
	}
	m.viewport.SetContent(strings.Join(mod.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *ModulePaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-32-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *ModulePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *ModulePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
