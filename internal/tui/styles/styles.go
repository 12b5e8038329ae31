// Package styles holds the console's color themes and the lipgloss styles
// derived from them.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/state"
)

// Styles is the full set of console styles for one palette.
type Styles struct {
	Palette *ColorPalette

	// Convenience styles for colors
	Primary   lipgloss.Style
	Secondary lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Muted     lipgloss.Style
	Text      lipgloss.Style

	Title  lipgloss.Style
	Header lipgloss.Style

	// Sidebar
	Sidebar           lipgloss.Style
	SidebarTitle      lipgloss.Style
	SidebarItem       lipgloss.Style
	SidebarItemActive lipgloss.Style

	// Main panel
	ContentBox lipgloss.Style
	TabActive  lipgloss.Style
	TabIdle    lipgloss.Style
	ParamKey   lipgloss.Style
	ParamValue lipgloss.Style

	// Picker overlay
	Dropdown             lipgloss.Style
	DropdownItem         lipgloss.Style
	DropdownItemSelected lipgloss.Style

	// Footer
	StatusBar lipgloss.Style
	HelpKey   lipgloss.Style
	ErrorMsg  lipgloss.Style
	InfoMsg   lipgloss.Style
}

// New derives Styles from a palette. A nil palette means the default theme.
func New(p *ColorPalette) *Styles {
	if p == nil {
		p = DefaultPalette()
	}
	return &Styles{
		Palette: p,

		Primary:   lipgloss.NewStyle().Foreground(p.Primary),
		Secondary: lipgloss.NewStyle().Foreground(p.Secondary),
		Warning:   lipgloss.NewStyle().Foreground(p.Warning),
		Error:     lipgloss.NewStyle().Foreground(p.Error),
		Muted:     lipgloss.NewStyle().Foreground(p.Muted),
		Text:      lipgloss.NewStyle().Foreground(p.Text),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Primary),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Primary).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(p.Border),

		Sidebar: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Border).
			Padding(0, 1),
		SidebarTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Primary).
			MarginBottom(1),
		SidebarItem: lipgloss.NewStyle().
			Foreground(p.Text),
		SidebarItemActive: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Surface).
			Background(p.Primary),

		ContentBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Border).
			Padding(0, 1),
		TabActive: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Surface).
			Background(p.Primary).
			Padding(0, 1),
		TabIdle: lipgloss.NewStyle().
			Foreground(p.Muted).
			Padding(0, 1),
		ParamKey: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Secondary),
		ParamValue: lipgloss.NewStyle().
			Foreground(p.Text),

		Dropdown: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Primary).
			Padding(0, 1),
		DropdownItem: lipgloss.NewStyle().
			Foreground(p.Text).
			Padding(0, 1),
		DropdownItemSelected: lipgloss.NewStyle().
			Foreground(p.Surface).
			Background(p.Primary).
			Bold(true).
			Padding(0, 1),

		StatusBar: lipgloss.NewStyle().
			Foreground(p.Text).
			Padding(0, 1),
		HelpKey: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Secondary),
		ErrorMsg: lipgloss.NewStyle().
			Foreground(p.Error).
			Bold(true),
		InfoMsg: lipgloss.NewStyle().
			Foreground(p.Secondary),
	}
}

// StatusColor returns the color for an instance status.
func (s *Styles) StatusColor(status state.Status) lipgloss.Color {
	switch status {
	case state.StatusRunning:
		return s.Palette.StatusRunning
	case state.StatusStopped:
		return s.Palette.StatusStopped
	case state.StatusError:
		return s.Palette.StatusError
	default:
		return s.Palette.StatusIdle
	}
}

// Status renders text in the color of status.
func (s *Styles) Status(status state.Status, text string) string {
	return lipgloss.NewStyle().Foreground(s.StatusColor(status)).Render(text)
}

// LogStyle returns the style for a log line of the given kind.
func (s *Styles) LogStyle(kind instance.Kind) lipgloss.Style {
	var c lipgloss.Color
	switch kind {
	case instance.KindStderr:
		c = s.Palette.LogStderr
	case instance.KindStatus:
		c = s.Palette.LogStatus
	case instance.KindError:
		c = s.Palette.LogError
	case instance.KindResult:
		c = s.Palette.LogResult
	default:
		c = s.Palette.LogStdout
	}
	return lipgloss.NewStyle().Foreground(c)
}

// StatusIcon returns an icon for an instance status
func StatusIcon(status state.Status) string {
	switch status {
	case state.StatusRunning:
		return "●"
	case state.StatusStopped:
		return "■"
	case state.StatusError:
		return "✗"
	default:
		return "○"
	}
}
