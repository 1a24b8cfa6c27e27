package ui

import "github.com/charmbracelet/lipgloss"

var (
	accent  = lipgloss.AdaptiveColor{Light: "#5A3FC0", Dark: "#7D56F4"}
	success = lipgloss.AdaptiveColor{Light: "#028A5A", Dark: "#04B575"}
	danger  = lipgloss.AdaptiveColor{Light: "#C80000", Dark: "#FF4D4D"}
	caution = lipgloss.AdaptiveColor{Light: "#B86E00", Dark: "#FFA500"}
	muted   = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#626262"}
)

// styles are shared by every view. Colors adapt to the terminal background.
var styles = struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	check lipgloss.Style
}{
	title: lipgloss.NewStyle().Foreground(accent).Bold(true).MarginBottom(1),
	ok:    lipgloss.NewStyle().Foreground(success).Bold(true),
	err:   lipgloss.NewStyle().Foreground(danger).Bold(true),
	warn:  lipgloss.NewStyle().Foreground(caution),
	help:  lipgloss.NewStyle().Foreground(muted).Italic(true),
	check: lipgloss.NewStyle().Foreground(success),
}
