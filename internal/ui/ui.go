// Package ui holds the terminal render helpers the CLI shares: a small
// set of semantic styles rather than per-command ad-hoc colors.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/stepline/stepline/internal/types"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A5D8DD")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	colorEnabled = termenv.EnvColorProfile() != termenv.Ascii
)

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent highlights titles and selected values.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass marks success output.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn marks warnings and degraded states.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail marks failures.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted dims secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// TabSwatch renders a tab's name in its display color.
func TabSwatch(tab types.Tab) string {
	if !colorEnabled {
		return tab.Name
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(tab.Color.Hex())).Render(tab.Name)
}
