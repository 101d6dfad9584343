package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/javi11/mediajanitor/internal/scan"
	"github.com/javi11/mediajanitor/internal/view"
)

func (m Model) View() string {
	if m.width == 0 {
		return "Loading…"
	}

	var content string
	if m.screen == screenPlan {
		content = ui.base.Render(m.table.View())
	} else {
		content = m.scanView()
	}

	return ui.container.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		m.headerView(),
		content,
		m.statusView(),
		m.footerView(),
	))
}

func (m Model) headerView() string {
	title := ui.title.Render("mediajanitor")
	var chips []string
	if !m.view.PlanID.IsUnset() {
		chips = append(chips, ui.chip.Render(fmt.Sprintf("plan %s", m.view.PlanID)))
	}
	if m.screen == screenPlan {
		chips = append(chips,
			ui.chip.Render(fmt.Sprintf("sort: %s", m.sort)),
			ui.chip.Render(fmt.Sprintf("filter: %s", presets[m.presetIdx].name)),
			ui.chip.Render(fmt.Sprintf("rule: %s", ruleLabel(m.rule))),
		)
	}

	line := title
	if len(chips) > 0 {
		line = lipgloss.JoinHorizontal(lipgloss.Left, title, " ", strings.Join(chips, " "))
	}
	subtitle := ui.subtitle.Render("Review what the server proposes to delete")
	return ui.header.Render(lipgloss.JoinVertical(lipgloss.Left, line, subtitle))
}

func (m Model) scanView() string {
	st := m.scanStatus
	var lines []string

	switch st.State {
	case scan.StateError:
		lines = append(lines, ui.danger.Render(fmt.Sprintf("Scan failed: %s", st.Error)))
	case scan.StateCompleted:
		lines = append(lines, ui.success.Render(fmt.Sprintf("Scan complete, plan %s", st.PlanID)))
	case scan.StateIdle:
		lines = append(lines, ui.muted.Render("No scan running"))
	default:
		step := st.CurrentStep
		if step == "" {
			step = "Starting scan"
		}
		lines = append(lines, ui.status.Render(fmt.Sprintf("%s %s… %.0f%%", m.spinner.View(), step, st.Progress)))
	}
	lines = append(lines, m.bar.View())

	logs := st.Logs
	if len(logs) > maxLogLines {
		logs = logs[len(logs)-maxLogLines:]
	}
	for _, entry := range logs {
		style := ui.muted
		switch strings.ToLower(entry.Level) {
		case "error":
			style = ui.danger
		case "warning", "warn":
			style = ui.warning
		}
		stamp := "--:--:--"
		if !entry.Timestamp.IsZero() {
			stamp = entry.Timestamp.Local().Format(time.TimeOnly)
		}
		lines = append(lines, style.Render(fmt.Sprintf("%s %s", stamp, entry.Message)))
	}

	return ui.base.Width(max(m.width-4, 20)).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) statusView() string {
	if m.screen != screenPlan {
		return ""
	}
	if err := m.store.Err(); err != nil {
		return ui.danger.Render(fmt.Sprintf("Error: %v", err))
	}

	status := view.Summary(m.view)
	if m.busy {
		status = fmt.Sprintf("%s %s", m.spinner.View(), status)
	}
	return ui.status.Render(status)
}

func (m Model) footerView() string {
	switch m.mode {
	case modeConfirmApply:
		label := fmt.Sprintf("Apply plan: delete %d item(s), %s? Enter the confirmation phrase (esc to cancel)",
			m.view.All.Selected, view.Bytes(m.view.All.SelectedBytes))
		return lipgloss.JoinVertical(lipgloss.Left, ui.prompt.Render(label), m.input.View())
	case modeProtectReason:
		row, _ := m.currentRow()
		label := fmt.Sprintf("Protect %s from future plans (esc to cancel)", view.Title(row))
		return lipgloss.JoinVertical(lipgloss.Left, ui.prompt.Render(label), m.input.View())
	}

	var lines []string
	if n := len(m.notifications); n > 0 {
		latest := m.notifications[n-1]
		text := latest.Message
		if n > 1 {
			text = fmt.Sprintf("%s (+%d)", text, n-1)
		}
		lines = append(lines, levelStyle(latest.Level).Render(text))
	}
	if m.lastEvent != "" {
		lines = append(lines, ui.muted.Render(m.lastEvent))
	}
	lines = append(lines, m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
