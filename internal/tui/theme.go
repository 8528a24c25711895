package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/cliprun/internal/runner"
)

// Theme centralizes all styling for the TUI.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style

	// Output line classes
	LineError   lipgloss.Style
	LineWarning lipgloss.Style
	LineNote    lipgloss.Style

	Border       lipgloss.Style
	ActiveBorder lipgloss.Style
	Title        lipgloss.Style
	Dim          lipgloss.Style
	Highlight    lipgloss.Style
	Help         lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style

	Table table.Styles
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		LineError:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")),
		LineWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		LineNote:    lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Help:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),

		Table: ts,
	}
}

// LineStyle returns the style for an output line of the given class.
func (t Theme) LineStyle(c runner.Class) lipgloss.Style {
	switch c {
	case runner.ClassError:
		return t.LineError
	case runner.ClassWarning:
		return t.LineWarning
	case runner.ClassNote:
		return t.LineNote
	default:
		return lipgloss.NewStyle()
	}
}

// OutcomeStyle colors a history outcome.
func (t Theme) OutcomeStyle(exitCode int) lipgloss.Style {
	if exitCode == 0 {
		return t.StatusOK
	}
	return t.StatusFailed
}
