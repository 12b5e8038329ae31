package styles

import (
	"slices"

	"github.com/charmbracelet/lipgloss"
)

// ThemeName represents a named color theme.
type ThemeName string

// Available theme names.
const (
	ThemeDefault        ThemeName = "default"         // Purple/green dark theme
	ThemeDracula        ThemeName = "dracula"         // Dracula theme colors
	ThemeNord           ThemeName = "nord"            // Nord theme - cool blue-gray
	ThemeSolarizedLight ThemeName = "solarized-light" // Solarized Light variant
)

// BuiltinThemes returns all built-in theme names.
func BuiltinThemes() []string {
	return []string{
		string(ThemeDefault),
		string(ThemeDracula),
		string(ThemeNord),
		string(ThemeSolarizedLight),
	}
}

// IsBuiltinTheme reports whether name is a built-in theme.
func IsBuiltinTheme(name string) bool {
	return slices.Contains(BuiltinThemes(), name)
}

// ColorPalette defines the color scheme for a theme.
type ColorPalette struct {
	// Primary accent color (titles, focused instance)
	Primary lipgloss.Color
	// Secondary accent color (key hints, success)
	Secondary lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	// Muted color (de-emphasized text, timestamps)
	Muted   lipgloss.Color
	Surface lipgloss.Color
	Text    lipgloss.Color
	Border  lipgloss.Color

	// Instance status colors
	StatusIdle    lipgloss.Color
	StatusRunning lipgloss.Color
	StatusStopped lipgloss.Color
	StatusError   lipgloss.Color

	// Log line colors by event kind
	LogStdout lipgloss.Color
	LogStderr lipgloss.Color
	LogStatus lipgloss.Color
	LogError  lipgloss.Color
	LogResult lipgloss.Color
}

// DefaultPalette returns the default purple/green dark theme palette.
func DefaultPalette() *ColorPalette {
	return &ColorPalette{
		Primary:   lipgloss.Color("#A78BFA"), // Purple (violet-400)
		Secondary: lipgloss.Color("#10B981"), // Green
		Warning:   lipgloss.Color("#F59E0B"), // Amber
		Error:     lipgloss.Color("#F87171"), // Red (red-400)
		Muted:     lipgloss.Color("#9CA3AF"), // Gray
		Surface:   lipgloss.Color("#1F2937"), // Dark surface
		Text:      lipgloss.Color("#F9FAFB"), // Light text
		Border:    lipgloss.Color("#6B7280"), // Gray-500

		StatusIdle:    lipgloss.Color("#9CA3AF"),
		StatusRunning: lipgloss.Color("#10B981"),
		StatusStopped: lipgloss.Color("#A78BFA"),
		StatusError:   lipgloss.Color("#F87171"),

		LogStdout: lipgloss.Color("#F9FAFB"),
		LogStderr: lipgloss.Color("#FB923C"), // Orange
		LogStatus: lipgloss.Color("#60A5FA"), // Blue
		LogError:  lipgloss.Color("#F87171"),
		LogResult: lipgloss.Color("#10B981"),
	}
}

// DraculaPalette returns the Dracula theme palette.
func DraculaPalette() *ColorPalette {
	return &ColorPalette{
		Primary:   lipgloss.Color("#BD93F9"), // Dracula purple
		Secondary: lipgloss.Color("#50FA7B"), // Dracula green
		Warning:   lipgloss.Color("#F1FA8C"), // Dracula yellow
		Error:     lipgloss.Color("#FF5555"), // Dracula red
		Muted:     lipgloss.Color("#6272A4"), // Dracula comment
		Surface:   lipgloss.Color("#282A36"), // Dracula background
		Text:      lipgloss.Color("#F8F8F2"), // Dracula foreground
		Border:    lipgloss.Color("#44475A"), // Dracula selection

		StatusIdle:    lipgloss.Color("#6272A4"),
		StatusRunning: lipgloss.Color("#50FA7B"),
		StatusStopped: lipgloss.Color("#BD93F9"),
		StatusError:   lipgloss.Color("#FF5555"),

		LogStdout: lipgloss.Color("#F8F8F2"),
		LogStderr: lipgloss.Color("#FFB86C"), // Orange
		LogStatus: lipgloss.Color("#8BE9FD"), // Cyan
		LogError:  lipgloss.Color("#FF5555"),
		LogResult: lipgloss.Color("#50FA7B"),
	}
}

// NordPalette returns the Nord theme palette.
func NordPalette() *ColorPalette {
	return &ColorPalette{
		Primary:   lipgloss.Color("#88C0D0"), // Nord frost (cyan)
		Secondary: lipgloss.Color("#A3BE8C"), // Nord aurora green
		Warning:   lipgloss.Color("#EBCB8B"), // Nord aurora yellow
		Error:     lipgloss.Color("#BF616A"), // Nord aurora red
		Muted:     lipgloss.Color("#4C566A"), // Nord polar night 3
		Surface:   lipgloss.Color("#2E3440"), // Nord polar night 0
		Text:      lipgloss.Color("#ECEFF4"), // Nord snow storm 2
		Border:    lipgloss.Color("#3B4252"), // Nord polar night 1

		StatusIdle:    lipgloss.Color("#4C566A"),
		StatusRunning: lipgloss.Color("#A3BE8C"),
		StatusStopped: lipgloss.Color("#B48EAD"),
		StatusError:   lipgloss.Color("#BF616A"),

		LogStdout: lipgloss.Color("#ECEFF4"),
		LogStderr: lipgloss.Color("#D08770"), // Aurora orange
		LogStatus: lipgloss.Color("#81A1C1"), // Frost blue
		LogError:  lipgloss.Color("#BF616A"),
		LogResult: lipgloss.Color("#A3BE8C"),
	}
}

// SolarizedLightPalette returns the Solarized Light theme palette.
func SolarizedLightPalette() *ColorPalette {
	return &ColorPalette{
		Primary:   lipgloss.Color("#268BD2"), // Solarized blue
		Secondary: lipgloss.Color("#859900"), // Solarized green
		Warning:   lipgloss.Color("#B58900"), // Solarized yellow
		Error:     lipgloss.Color("#DC322F"), // Solarized red
		Muted:     lipgloss.Color("#93A1A1"), // Base1
		Surface:   lipgloss.Color("#FDF6E3"), // Base3 background
		Text:      lipgloss.Color("#657B83"), // Base00 text
		Border:    lipgloss.Color("#EEE8D5"), // Base2

		StatusIdle:    lipgloss.Color("#93A1A1"),
		StatusRunning: lipgloss.Color("#859900"),
		StatusStopped: lipgloss.Color("#6C71C4"), // Violet
		StatusError:   lipgloss.Color("#DC322F"),

		LogStdout: lipgloss.Color("#657B83"),
		LogStderr: lipgloss.Color("#CB4B16"), // Orange
		LogStatus: lipgloss.Color("#2AA198"), // Cyan
		LogError:  lipgloss.Color("#DC322F"),
		LogResult: lipgloss.Color("#859900"),
	}
}

// GetPalette returns the palette for a built-in theme. Unknown names get
// the default palette.
func GetPalette(name ThemeName) *ColorPalette {
	switch name {
	case ThemeDracula:
		return DraculaPalette()
	case ThemeNord:
		return NordPalette()
	case ThemeSolarizedLight:
		return SolarizedLightPalette()
	default:
		return DefaultPalette()
	}
}
