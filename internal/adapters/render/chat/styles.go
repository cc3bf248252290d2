package chat

import "github.com/charmbracelet/lipgloss"

type styles struct {
	prompt  lipgloss.Style
	model   lipgloss.Style
	info    lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	hint    lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	faint   lipgloss.Style
}

func newStyles() styles {
	return styles{
		prompt:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		model:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		info:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		err:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		hint:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		key:     lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		faint:   lipgloss.NewStyle().Faint(true),
	}
}
