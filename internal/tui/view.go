package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	parts := []string{
		m.renderHeader(),
		m.renderPane("Rules", m.ruleTable.View(), m.focus == paneRules),
		m.renderOutput(),
		m.renderPane("History", m.historyTable.View(), m.focus == paneHistory),
	}
	if m.status != "" {
		style := m.theme.Highlight
		if m.statusErr {
			style = m.theme.StatusFailed
		}
		parts = append(parts, style.Render(" "+m.status))
	}
	parts = append(parts, m.theme.Help.Render(m.helpLine()))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	innerWidth := m.width - 4

	last := "none yet"
	if m.lastText != "" {
		last = truncate(strings.ReplaceAll(m.lastText, "\n", " "), innerWidth-30)
	}
	activity := m.spinner.Render(m.theme)

	title := m.theme.Title.Render("CLIPRUN")
	line := fmt.Sprintf("%s %s  Last text: %s", title, activity, m.theme.Dim.Render(last))

	autoclose := m.theme.Dim.Render("autoclose " + onOff(m.autoclose))
	return m.theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, line, " "+autoclose),
	)
}

func (m Model) renderPane(title, body string, active bool) string {
	border := m.theme.Border
	if active {
		border = m.theme.ActiveBorder
	}
	return border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render(title), body),
	)
}

func (m Model) renderOutput() string {
	title := "Output"
	if m.outputTitle != "" {
		title = "Output: " + truncate(m.outputTitle, m.width-20)
	}
	body := m.output.View()
	if len(m.outputLines) == 0 {
		body = m.theme.Dim.Render("  Waiting for a run...")
	}
	return m.renderPane(title, body, false)
}

func (m Model) helpLine() string {
	if m.focus == paneRules {
		return " [q] Quit • [tab] History • [↑/↓] Select • [enter] Run on last text • [a] Autorun • [s] Shell • [x] Autoclose • [pgup/pgdn] Scroll output"
	}
	return " [q] Quit • [tab] Rules • [↑/↓] Select • [enter] Show output • [c] Copy link • [x] Autoclose • [pgup/pgdn] Scroll output"
}

func truncate(s string, width int) string {
	if width < 4 {
		width = 4
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
