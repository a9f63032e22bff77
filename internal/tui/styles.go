package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette
const (
	colorAccent  = lipgloss.Color("62")
	colorMuted   = lipgloss.Color("240")
	colorHelp    = lipgloss.Color("241")
	colorActive  = lipgloss.Color("yellow")
	colorOK      = lipgloss.Color("green")
	colorBad     = lipgloss.Color("red")
	colorReroute = lipgloss.Color("cyan")
	colorSkipped = lipgloss.Color("214")
)

func paneBorder(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(c)
}

func stateText(c lipgloss.Color, bold bool) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c).Bold(bold)
}

var (
	StyleFocusedBorder   = paneBorder(colorAccent)
	StyleUnfocusedBorder = paneBorder(colorMuted)

	StyleStatusRunning  = stateText(colorActive, true)
	StyleStatusComplete = stateText(colorOK, true)
	StyleStatusFailed   = stateText(colorBad, true)
	StyleStatusFallback = stateText(colorReroute, true)
	StyleStatusSkipped  = stateText(colorSkipped, false)
	StyleStatusPending  = stateText(colorMuted, false)

	StyleTitle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	StyleHelp     = lipgloss.NewStyle().Foreground(colorHelp)
	StyleSelected = lipgloss.NewStyle().Background(colorAccent).Foreground(lipgloss.Color("0"))
)

// stateIcons pairs each module state with its list marker.
var stateIcons = map[string]struct {
	icon  string
	style lipgloss.Style
}{
	stateRunning:              {"●", StyleStatusRunning},
	stateSucceeded:            {"✓", StyleStatusComplete},
	stateSucceededViaFallback: {"↺", StyleStatusFallback},
	stateSkipped:              {"⊘", StyleStatusSkipped},
	stateFailed:               {"✗", StyleStatusFailed},
}
