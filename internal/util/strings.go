// Package util provides small string helpers shared by the console and the
// CLI.
package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// TruncateANSI truncates s to maxWidth terminal columns, ending in an
// ellipsis when it had to cut. Escape sequences and wide characters are
// accounted for, so styled text keeps its styling.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}

// PadRight pads s with spaces to width terminal columns. Wider strings are
// returned unchanged.
func PadRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

// FormatAge renders a duration compactly for list columns: "now", "42s",
// "7m", "3h", "2d".
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
}

// ShortID returns the first eight characters of an id, enough to tell
// instances and runs apart in tables.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
