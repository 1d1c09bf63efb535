package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Lip Gloss styles for the interactive view, rebuilt on every SetTheme.
var (
	TitleStyle    lipgloss.Style
	SuccessStyle  lipgloss.Style
	PendingStyle  lipgloss.Style
	AccentStyle   lipgloss.Style
	MutedStyle    lipgloss.Style
	ErrorStyle    lipgloss.Style
	SelectedStyle lipgloss.Style
	DoneStyle     lipgloss.Style
	HelpStyle     lipgloss.Style
	BorderStyle   lipgloss.Style
)

func init() { refreshStyles() }

func refreshStyles() {
	t := current
	color := func(s lipgloss.Style, c string) lipgloss.Style {
		if c == "" {
			return s
		}
		return s.Foreground(lipgloss.Color(c))
	}
	TitleStyle = lipgloss.NewStyle().Bold(true)
	SuccessStyle = color(lipgloss.NewStyle(), t.TUISuccess)
	PendingStyle = color(lipgloss.NewStyle(), t.TUIPending)
	AccentStyle = color(lipgloss.NewStyle(), t.TUIAccent)
	MutedStyle = lipgloss.NewStyle().Faint(true)
	ErrorStyle = color(lipgloss.NewStyle(), t.TUIError).Bold(true)
	SelectedStyle = lipgloss.NewStyle().Bold(true).Reverse(true)
	DoneStyle = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	HelpStyle = lipgloss.NewStyle().Faint(true)

	border := lipgloss.NormalBorder()
	if t.CornerTL == "╭" {
		border = lipgloss.RoundedBorder()
	}
	BorderStyle = lipgloss.NewStyle().Border(border).Padding(0, 1)
	if t.TUIBorder != "" {
		BorderStyle = BorderStyle.BorderForeground(lipgloss.Color(t.TUIBorder))
	}
}

// PanelString frames inner with the theme border.
func PanelString(inner string) string {
	return BorderStyle.Render(inner)
}

// Counter renders "done/total" in the pending or success color.
func Counter(done, total int) string {
	s := fmt.Sprintf("%d/%d", done, total)
	if total > 0 && done == total {
		return SuccessStyle.Render(s)
	}
	return PendingStyle.Render(s)
}

// Truncate shortens s to width runes.
func Truncate(s string, width int) string {
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return strings.TrimSpace(string(r[:width-3])) + "..."
}
