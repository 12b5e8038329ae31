package styles

import (
	"fmt"
	"os"
	"regexp"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
)

// ThemeFile represents a custom theme definition loaded from YAML.
type ThemeFile struct {
	// Name is the theme's display name
	Name        string `yaml:"name"`
	Author      string `yaml:"author,omitempty"`
	Description string `yaml:"description,omitempty"`
	// Version is the theme file format version (currently "1")
	Version string      `yaml:"version"`
	Colors  ThemeColors `yaml:"colors"`
}

// ThemeColors contains all color definitions for a theme.
// All colors must be hex (#RRGGBB or #RGB).
type ThemeColors struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
	Warning   string `yaml:"warning"`
	Error     string `yaml:"error"`
	Muted     string `yaml:"muted"`
	Surface   string `yaml:"surface"`
	Text      string `yaml:"text"`
	Border    string `yaml:"border"`

	// Optional; unset entries fall back to the base colors.
	Status ThemeStatusColors `yaml:"status,omitempty"`
	Log    ThemeLogColors    `yaml:"log,omitempty"`
}

// ThemeStatusColors defines colors for instance statuses.
type ThemeStatusColors struct {
	Idle    string `yaml:"idle,omitempty"`
	Running string `yaml:"running,omitempty"`
	Stopped string `yaml:"stopped,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

// ThemeLogColors defines colors for log event kinds.
type ThemeLogColors struct {
	Stdout string `yaml:"stdout,omitempty"`
	Stderr string `yaml:"stderr,omitempty"`
	Status string `yaml:"status,omitempty"`
	Error  string `yaml:"error,omitempty"`
	Result string `yaml:"result,omitempty"`
}

var hexColorRegex = regexp.MustCompile(`^#([0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)

// LoadThemeFile loads a theme from a YAML file.
func LoadThemeFile(path string) (*ThemeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading theme file: %w", err)
	}

	var theme ThemeFile
	if err := yaml.Unmarshal(data, &theme); err != nil {
		return nil, fmt.Errorf("parsing theme file: %w", err)
	}

	if err := theme.Validate(); err != nil {
		return nil, fmt.Errorf("invalid theme: %w", err)
	}

	return &theme, nil
}

// Validate checks that the theme file is well-formed.
func (t *ThemeFile) Validate() error {
	if t.Name == "" {
		return errors.New("theme name is required")
	}
	if t.Version != "1" {
		return fmt.Errorf("unsupported theme version: %q (supported: 1)", t.Version)
	}

	required := []struct{ name, color string }{
		{"primary", t.Colors.Primary},
		{"secondary", t.Colors.Secondary},
		{"warning", t.Colors.Warning},
		{"error", t.Colors.Error},
		{"muted", t.Colors.Muted},
		{"surface", t.Colors.Surface},
		{"text", t.Colors.Text},
		{"border", t.Colors.Border},
	}
	for _, c := range required {
		if c.color == "" {
			return fmt.Errorf("color '%s' is required", c.name)
		}
		if !hexColorRegex.MatchString(c.color) {
			return fmt.Errorf("color '%s' has invalid format: %s (expected #RGB or #RRGGBB)", c.name, c.color)
		}
	}

	optional := []struct{ name, color string }{
		{"status.idle", t.Colors.Status.Idle},
		{"status.running", t.Colors.Status.Running},
		{"status.stopped", t.Colors.Status.Stopped},
		{"status.error", t.Colors.Status.Error},
		{"log.stdout", t.Colors.Log.Stdout},
		{"log.stderr", t.Colors.Log.Stderr},
		{"log.status", t.Colors.Log.Status},
		{"log.error", t.Colors.Log.Error},
		{"log.result", t.Colors.Log.Result},
	}
	for _, c := range optional {
		if c.color != "" && !hexColorRegex.MatchString(c.color) {
			return fmt.Errorf("color '%s' has invalid format: %s (expected #RGB or #RRGGBB)", c.name, c.color)
		}
	}
	return nil
}

// ToPalette converts the theme file to a ColorPalette.
func (t *ThemeFile) ToPalette() *ColorPalette {
	c := t.Colors
	return &ColorPalette{
		Primary:   lipgloss.Color(c.Primary),
		Secondary: lipgloss.Color(c.Secondary),
		Warning:   lipgloss.Color(c.Warning),
		Error:     lipgloss.Color(c.Error),
		Muted:     lipgloss.Color(c.Muted),
		Surface:   lipgloss.Color(c.Surface),
		Text:      lipgloss.Color(c.Text),
		Border:    lipgloss.Color(c.Border),

		StatusIdle:    colorOrDefault(c.Status.Idle, c.Muted),
		StatusRunning: colorOrDefault(c.Status.Running, c.Secondary),
		StatusStopped: colorOrDefault(c.Status.Stopped, c.Primary),
		StatusError:   colorOrDefault(c.Status.Error, c.Error),

		LogStdout: colorOrDefault(c.Log.Stdout, c.Text),
		LogStderr: colorOrDefault(c.Log.Stderr, c.Warning),
		LogStatus: colorOrDefault(c.Log.Status, c.Primary),
		LogError:  colorOrDefault(c.Log.Error, c.Error),
		LogResult: colorOrDefault(c.Log.Result, c.Secondary),
	}
}

func colorOrDefault(color, defaultColor string) lipgloss.Color {
	if color != "" {
		return lipgloss.Color(color)
	}
	return lipgloss.Color(defaultColor)
}

// ResolvePalette returns the palette for a console: the theme file when one
// is configured, the named built-in theme otherwise.
func ResolvePalette(theme, themeFile string) (*ColorPalette, error) {
	if themeFile == "" {
		return GetPalette(ThemeName(theme)), nil
	}
	t, err := LoadThemeFile(themeFile)
	if err != nil {
		return nil, err
	}
	return t.ToPalette(), nil
}

// ExportTheme renders a built-in theme as a YAML theme file, a starting
// point for customization.
func ExportTheme(name ThemeName) ([]byte, error) {
	if !IsBuiltinTheme(string(name)) {
		return nil, fmt.Errorf("unknown theme: %s", name)
	}
	p := GetPalette(name)
	return yaml.Marshal(&ThemeFile{
		Name:        string(name),
		Description: fmt.Sprintf("Exported from built-in theme '%s'", name),
		Version:     "1",
		Colors: ThemeColors{
			Primary:   string(p.Primary),
			Secondary: string(p.Secondary),
			Warning:   string(p.Warning),
			Error:     string(p.Error),
			Muted:     string(p.Muted),
			Surface:   string(p.Surface),
			Text:      string(p.Text),
			Border:    string(p.Border),
			Status: ThemeStatusColors{
				Idle:    string(p.StatusIdle),
				Running: string(p.StatusRunning),
				Stopped: string(p.StatusStopped),
				Error:   string(p.StatusError),
			},
			Log: ThemeLogColors{
				Stdout: string(p.LogStdout),
				Stderr: string(p.LogStderr),
				Status: string(p.LogStatus),
				Error:  string(p.LogError),
				Result: string(p.LogResult),
			},
		},
	})
}
