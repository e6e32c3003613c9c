package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.done {
		return ""
	}

	var sections []string
	sections = append(sections, m.renderHeader(), m.renderEntries())
	if pane := m.renderLogs(); pane != "" {
		sections = append(sections, pane)
	}
	sections = append(sections, footerStyle.Render(m.renderFooter()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	name := m.info.Workflow
	if name == "" {
		name = "matrix"
	}
	title := fmt.Sprintf("%s · %d entries", name, len(m.rows))
	if m.info.Backend != "" {
		title += " on " + m.info.Backend
	}
	if m.info.Event != "" {
		title += " · " + string(m.info.Event)
	}
	return headerStyle.Render(title)
}

func (m Model) renderEntries() string {
	nameWidth, osWidth, pyWidth, profileWidth := 0, 0, 0, 0
	for _, r := range m.rows {
		nameWidth = max(nameWidth, runewidth.StringWidth(r.entry.DisplayName()))
		osWidth = max(osWidth, runewidth.StringWidth(r.entry.RunsOn))
		pyWidth = max(pyWidth, runewidth.StringWidth(r.entry.Python))
		profileWidth = max(profileWidth, runewidth.StringWidth(r.entry.Profile))
	}

	lines := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		line := fmt.Sprintf("%s %s  %s  %s  %s  %s",
			m.rowIcon(r),
			runewidth.FillRight(r.entry.DisplayName(), nameWidth),
			runewidth.FillRight(r.entry.RunsOn, osWidth),
			runewidth.FillRight(r.entry.Python, pyWidth),
			runewidth.FillRight(r.entry.Profile, profileWidth),
			m.rowStatus(r),
		)
		lines = append(lines, line)
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) rowIcon(r entryRow) string {
	switch r.state {
	case rowRunning:
		return m.spinner.View()
	case rowPassed:
		return passedStyle.Render("✔")
	case rowFailed:
		return failedStyle.Render("✘")
	case rowCancelled:
		return cancelledStyle.Render("⊘")
	default:
		return pendingStyle.Render("·")
	}
}

func (m Model) rowStatus(r entryRow) string {
	switch r.state {
	case rowRunning:
		status := "running"
		if r.step != "" {
			status += " (after " + r.step + ")"
		}
		return runningStyle.Render(fmt.Sprintf("%s %s", status, time.Since(r.started).Round(time.Second)))
	case rowPassed:
		return passedStyle.Render("passed " + r.duration.Round(100*time.Millisecond).String())
	case rowFailed:
		text := "failed " + r.duration.Round(100*time.Millisecond).String()
		if r.detail != "" {
			text += " - " + r.detail
		}
		return failedStyle.Render(text)
	case rowCancelled:
		return cancelledStyle.Render("cancelled")
	default:
		return pendingStyle.Render("pending")
	}
}

func (m Model) renderLogs() string {
	if len(m.logs) == 0 {
		return ""
	}

	rows := minLogPaneRows
	if m.height > 0 {
		// header + entries panel + footer + log panel frame
		rows = max(minLogPaneRows, m.height-len(m.rows)-7)
	}
	lines := m.logs
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}

	width := m.width - panelStyle.GetHorizontalFrameSize()
	styled := make([]string, len(lines))
	for i, line := range lines {
		if width > 1 && runewidth.StringWidth(line) > width {
			line = runewidth.Truncate(line, width-1, "…")
		}
		switch {
		case strings.Contains(line, "[ERROR]"):
			styled[i] = logErrorStyle.Render(line)
		case strings.Contains(line, "[WARN]"):
			styled[i] = logWarnStyle.Render(line)
		default:
			styled[i] = logLineStyle.Render(line)
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left, panelTitleStyle.Render("Log"), strings.Join(styled, "\n"))
	return panelStyle.Render(content)
}

func (m Model) renderFooter() string {
	pending, running, passed, failed, cancelled := m.counts()
	text := fmt.Sprintf("%d pending · %d running · %d passed · %d failed · %d cancelled",
		pending, running, passed, failed, cancelled)
	if dropped := m.queue.stats().Dropped; dropped > 0 {
		text += fmt.Sprintf(" · %d progress updates skipped", dropped)
	}
	if m.interrupted {
		return text + " · cancelling..."
	}
	return text + " · q to cancel"
}
