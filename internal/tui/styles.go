package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/javi11/mediajanitor/internal/notify"
)

type styles struct {
	base      lipgloss.Style
	header    lipgloss.Style
	title     lipgloss.Style
	subtitle  lipgloss.Style
	status    lipgloss.Style
	muted     lipgloss.Style
	accent    lipgloss.Style
	danger    lipgloss.Style
	warning   lipgloss.Style
	success   lipgloss.Style
	prompt    lipgloss.Style
	chip      lipgloss.Style
	container lipgloss.Style
}

var ui = styles{
	base: lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("238")),
	container: lipgloss.NewStyle().Padding(0, 1),
	header:    lipgloss.NewStyle().Padding(0, 1),
	title:     lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
	subtitle:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	status:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
	muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	accent:    lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
	danger:    lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	warning:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	success:   lipgloss.NewStyle().Foreground(lipgloss.Color("78")).Bold(true),
	prompt:    lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("203")).Bold(true).Padding(0, 1),
	chip:      lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("62")).Padding(0, 1),
}

func levelStyle(level notify.Level) lipgloss.Style {
	switch level {
	case notify.LevelError:
		return ui.danger
	case notify.LevelWarning:
		return ui.warning
	case notify.LevelSuccess:
		return ui.success
	default:
		return ui.status
	}
}
