package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend.BaseURL != "http://localhost:8080/api" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "http://localhost:8080/api")
	}
	if cfg.Instance.MaxLogEntries != 5000 {
		t.Errorf("Instance.MaxLogEntries = %d, want 5000", cfg.Instance.MaxLogEntries)
	}
	if cfg.Console.Theme != "default" {
		t.Errorf("Console.Theme = %q, want %q", cfg.Console.Theme, "default")
	}
	if !cfg.Journal.Enabled {
		t.Error("Journal.Enabled should be true by default")
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default().Validate() = %v, want no errors", errs)
	}
}

func TestTimeouts(t *testing.T) {
	cfg := Default()
	if got := cfg.Backend.RequestTimeout(); got != 10*time.Second {
		t.Errorf("RequestTimeout() = %v, want 10s", got)
	}
	if got := cfg.Stream.HandshakeTimeout(); got != 10*time.Second {
		t.Errorf("HandshakeTimeout() = %v, want 10s", got)
	}
}

func TestStreamConfig_ResolveURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		apiBase string
		want    string
	}{
		{"derived http", "", "http://localhost:8080/api", "ws://localhost:8080/ws/logs"},
		{"derived https trailing slash", "", "https://deck.example.com/api/", "wss://deck.example.com/ws/logs"},
		{"derived without api suffix", "", "http://10.0.0.2:9000", "ws://10.0.0.2:9000/ws/logs"},
		{"explicit", "ws://other:1/stream/", "http://ignored/api", "ws://other:1/stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := StreamConfig{URL: tt.url}
			if got := sc.ResolveURL(tt.apiBase); got != tt.want {
				t.Errorf("ResolveURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), "/custom/config/scriptdeck"; got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
		if got, want := ConfigFile(), "/custom/config/scriptdeck/config.yaml"; got != want {
			t.Errorf("ConfigFile() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "scriptdeck"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestResolvePaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/x")

	j := JournalConfig{}
	if got, want := j.ResolvePath(), "/x/scriptdeck/history.db"; got != want {
		t.Errorf("ResolvePath() = %q, want %q", got, want)
	}
	j.Path = "/var/lib/deck.db"
	if got := j.ResolvePath(); got != "/var/lib/deck.db" {
		t.Errorf("ResolvePath() = %q, want explicit path", got)
	}

	l := LoggingConfig{}
	if got, want := l.ResolveDir(), "/x/scriptdeck/logs"; got != want {
		t.Errorf("ResolveDir() = %q, want %q", got, want)
	}
}

func TestLoad_FromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("backend.base_url", "http://robots:9000/api")
	viper.Set("instance.max_log_entries", 0)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "http://robots:9000/api" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Instance.MaxLogEntries != 0 {
		t.Errorf("Instance.MaxLogEntries = %d, want 0", cfg.Instance.MaxLogEntries)
	}
	if cfg.Console.SidebarWidth != 32 {
		t.Errorf("Console.SidebarWidth = %d, want default 32", cfg.Console.SidebarWidth)
	}
}

func TestLoad_InvalidFallsBackInGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("console.theme", "neon")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail for unknown theme")
	}
	if got := Get().Console.Theme; got != "default" {
		t.Errorf("Get().Console.Theme = %q, want default", got)
	}
}
