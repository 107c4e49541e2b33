package tui

import "github.com/charmbracelet/lipgloss"

var (
	Subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	Highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	Special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	Danger    = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F6D"}

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("#FFF7DB")).
			Background(Highlight)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Subtle).
			Padding(0, 1)

	FocusedPanelStyle = PanelStyle.BorderForeground(Highlight)

	CursorStyle   = lipgloss.NewStyle().Foreground(Highlight).Bold(true)
	SelectedStyle = lipgloss.NewStyle().Foreground(Special)
	ErrorStyle    = lipgloss.NewStyle().Foreground(Danger).Bold(true)
	HelpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	PhaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFF"))
)
