package main

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	classColor  = lipgloss.Color("#4682B4") // Steel blue
	baseColor   = lipgloss.Color("#228B22") // Forest green
	warnColor   = lipgloss.Color("#FF8800") // Orange
	mutedColor  = lipgloss.Color("#888888") // Medium gray
	headerColor = lipgloss.Color("#CCCCCC") // Light gray
)

var (
	classStyle  = lipgloss.NewStyle().Foreground(classColor).Bold(true)
	baseStyle   = lipgloss.NewStyle().Foreground(baseColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	headerStyle = lipgloss.NewStyle().Foreground(headerColor).Bold(true).Underline(true)
)
