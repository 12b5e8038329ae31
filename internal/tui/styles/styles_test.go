package styles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/state"
)

func TestGetPalette(t *testing.T) {
	for _, name := range BuiltinThemes() {
		t.Run(name, func(t *testing.T) {
			p := GetPalette(ThemeName(name))
			if p == nil {
				t.Fatal("GetPalette returned nil")
			}
			if p.Primary == "" || p.StatusRunning == "" || p.LogStderr == "" {
				t.Errorf("palette %q has empty colors: %+v", name, p)
			}
		})
	}

	if got := GetPalette("no-such-theme"); got.Primary != DefaultPalette().Primary {
		t.Errorf("unknown theme should fall back to default, got primary %q", got.Primary)
	}
}

func TestStatusIcon(t *testing.T) {
	tests := []struct {
		status state.Status
		want   string
	}{
		{state.StatusIdle, "○"},
		{state.StatusRunning, "●"},
		{state.StatusStopped, "■"},
		{state.StatusError, "✗"},
		{"unknown", "○"},
	}
	for _, tt := range tests {
		if got := StatusIcon(tt.status); got != tt.want {
			t.Errorf("StatusIcon(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusColor(t *testing.T) {
	s := New(NordPalette())
	if got := s.StatusColor(state.StatusError); got != s.Palette.StatusError {
		t.Errorf("StatusColor(error) = %q, want %q", got, s.Palette.StatusError)
	}
	if got := s.StatusColor(state.StatusRunning); got != s.Palette.StatusRunning {
		t.Errorf("StatusColor(running) = %q, want %q", got, s.Palette.StatusRunning)
	}
	if got := s.StatusColor(state.StatusIdle); got != s.Palette.StatusIdle {
		t.Errorf("StatusColor(idle) = %q, want %q", got, s.Palette.StatusIdle)
	}
}

func TestLogStyle(t *testing.T) {
	s := New(nil)
	if got := s.LogStyle(instance.KindError).GetForeground(); got != lipgloss.TerminalColor(s.Palette.LogError) {
		t.Errorf("error kind foreground = %v, want %v", got, s.Palette.LogError)
	}
	if got := s.LogStyle("mystery").GetForeground(); got != lipgloss.TerminalColor(s.Palette.LogStdout) {
		t.Errorf("unknown kind foreground = %v, want stdout color", got)
	}
}

func writeTheme(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "theme.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalTheme = `name: ocean
version: "1"
colors:
  primary: "#0077BE"
  secondary: "#00A86B"
  warning: "#FFA500"
  error: "#DC143C"
  muted: "#708090"
  surface: "#001F3F"
  text: "#F0F8FF"
  border: "#4682B4"
  status:
    running: "#7FFF00"
`

func TestLoadThemeFile(t *testing.T) {
	theme, err := LoadThemeFile(writeTheme(t, minimalTheme))
	if err != nil {
		t.Fatalf("LoadThemeFile() error = %v", err)
	}
	p := theme.ToPalette()
	if p.StatusRunning != "#7FFF00" {
		t.Errorf("StatusRunning = %q, want override", p.StatusRunning)
	}
	if p.StatusError != "#DC143C" {
		t.Errorf("StatusError = %q, want fallback to error color", p.StatusError)
	}
	if p.LogStdout != "#F0F8FF" {
		t.Errorf("LogStdout = %q, want fallback to text color", p.LogStdout)
	}
}

func TestLoadThemeFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", strings.Replace(minimalTheme, "name: ocean", "", 1), "name is required"},
		{"bad version", strings.Replace(minimalTheme, `version: "1"`, `version: "2"`, 1), "unsupported theme version"},
		{"missing color", strings.Replace(minimalTheme, `  border: "#4682B4"`, "", 1), "'border' is required"},
		{"bad hex", strings.Replace(minimalTheme, `"#0077BE"`, `"blue"`, 1), "'primary' has invalid format"},
		{"bad optional", strings.Replace(minimalTheme, `"#7FFF00"`, `"#12"`, 1), "'status.running' has invalid format"},
		{"not yaml", "colors: [", "parsing theme file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadThemeFile(writeTheme(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadThemeFile() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolvePalette(t *testing.T) {
	p, err := ResolvePalette("dracula", "")
	if err != nil || p.Primary != DraculaPalette().Primary {
		t.Errorf("ResolvePalette(dracula) = %v, %v", p, err)
	}

	p, err = ResolvePalette("dracula", writeTheme(t, minimalTheme))
	if err != nil {
		t.Fatalf("ResolvePalette(file) error = %v", err)
	}
	if p.Primary != "#0077BE" {
		t.Errorf("theme file should win over the named theme, primary = %q", p.Primary)
	}

	if _, err := ResolvePalette("default", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing theme file")
	}
}

func TestExportTheme(t *testing.T) {
	data, err := ExportTheme(ThemeNord)
	if err != nil {
		t.Fatalf("ExportTheme() error = %v", err)
	}
	var theme ThemeFile
	if err := yaml.Unmarshal(data, &theme); err != nil {
		t.Fatalf("exported YAML does not parse: %v", err)
	}
	if err := theme.Validate(); err != nil {
		t.Errorf("exported theme does not validate: %v", err)
	}
	if theme.Colors.Status.Stopped != string(NordPalette().StatusStopped) {
		t.Errorf("status.stopped = %q", theme.Colors.Status.Stopped)
	}

	if _, err := ExportTheme("bogus"); err == nil {
		t.Error("expected error for unknown theme")
	}
}
