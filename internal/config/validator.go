package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "backend.base_url")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidThemes returns the console color themes
func ValidThemes() []string {
	return []string{"default", "dracula", "nord", "solarized-light"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBackend()...)
	errors = append(errors, c.validateStream()...)
	errors = append(errors, c.validateInstance()...)
	errors = append(errors, c.validateConsole()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateBackend() []ValidationError {
	var errors []ValidationError

	if msg := checkURL(c.Backend.BaseURL, "http", "https"); msg != "" {
		errors = append(errors, ValidationError{
			Field:   "backend.base_url",
			Value:   c.Backend.BaseURL,
			Message: msg,
		})
	}

	if c.Backend.RequestTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "backend.request_timeout_ms",
			Value:   c.Backend.RequestTimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateStream() []ValidationError {
	var errors []ValidationError

	if c.Stream.URL != "" {
		if msg := checkURL(c.Stream.URL, "ws", "wss"); msg != "" {
			errors = append(errors, ValidationError{
				Field:   "stream.url",
				Value:   c.Stream.URL,
				Message: msg,
			})
		}
	}

	if c.Stream.HandshakeTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "stream.handshake_timeout_ms",
			Value:   c.Stream.HandshakeTimeoutMs,
			Message: "must be positive",
		})
	}

	if c.Stream.ReadLimitBytes < 0 {
		errors = append(errors, ValidationError{
			Field:   "stream.read_limit_bytes",
			Value:   c.Stream.ReadLimitBytes,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateInstance() []ValidationError {
	if c.Instance.MaxLogEntries < 0 {
		return []ValidationError{{
			Field:   "instance.max_log_entries",
			Value:   c.Instance.MaxLogEntries,
			Message: "must be non-negative (0 keeps every entry)",
		}}
	}
	return nil
}

func (c *Config) validateConsole() []ValidationError {
	var errors []ValidationError

	if c.Console.Theme != "" && !slices.Contains(ValidThemes(), c.Console.Theme) {
		errors = append(errors, ValidationError{
			Field:   "console.theme",
			Value:   c.Console.Theme,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidThemes(), ", ")),
		})
	}

	if c.Console.ThemeFile != "" {
		ext := strings.ToLower(filepath.Ext(c.Console.ThemeFile))
		if ext != ".yaml" && ext != ".yml" {
			errors = append(errors, ValidationError{
				Field:   "console.theme_file",
				Value:   c.Console.ThemeFile,
				Message: "must be a .yaml or .yml file",
			})
		}
	}

	const minSidebar, maxSidebar = 20, 60
	if c.Console.SidebarWidth < minSidebar || c.Console.SidebarWidth > maxSidebar {
		errors = append(errors, ValidationError{
			Field:   "console.sidebar_width",
			Value:   c.Console.SidebarWidth,
			Message: fmt.Sprintf("must be between %d and %d", minSidebar, maxSidebar),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB <= 0 || c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("must be between 1 and %d", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// checkURL returns a message describing why raw is not an absolute URL with
// one of schemes, or "" when it is.
func checkURL(raw string, schemes ...string) string {
	if raw == "" {
		return "must not be empty"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Sprintf("scheme must be one of: %s", strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return "missing host"
	}
	return ""
}
