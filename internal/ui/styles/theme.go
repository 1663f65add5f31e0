// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles holds the lipgloss styles shared by all screens.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme collects the colors and styles for one rendering profile.
type Theme struct {
	ColorProfile termenv.Profile

	Title     lipgloss.Style
	Subtle    lipgloss.Style
	UserMsg   lipgloss.Style
	Assistant lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Success   lipgloss.Style
	StatusBar lipgloss.Style
	InputBox  lipgloss.Style
	Selected  lipgloss.Style
}

// NewTheme builds the theme for the detected terminal color profile.
func NewTheme() *Theme {
	profile := termenv.ColorProfile()

	return &Theme{
		ColorProfile: profile,

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("150")),
		Subtle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		UserMsg: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("81")),
		Assistant: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203")),
		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")),
		StatusBar: lipgloss.NewStyle().
			Foreground(lipgloss.Color("246")).
			Background(lipgloss.Color("236")),
		InputBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		Selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")),
	}
}
