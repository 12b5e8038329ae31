package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tibame201020/opencv-custom-sub001/internal/config"
	"github.com/tibame201020/opencv-custom-sub001/internal/tui/styles"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify scriptdeck configuration",
	Long: `View or modify scriptdeck configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  scriptdeck config set backend.base_url http://lab-box:8080/api
  scriptdeck config set console.theme nord
  scriptdeck config set instance.max_log_entries 20000`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Manage console color themes",
	Long: `Built-in themes are selected with console.theme. A custom theme is a YAML
file referenced by console.theme_file; 'theme export' writes a starting point.`,
}

var themeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in themes",
	Args:  cobra.NoArgs,
	RunE:  runThemeList,
}

var themeExportCmd = &cobra.Command{
	Use:   "export <theme-name> [output-file]",
	Short: "Export a built-in theme to YAML",
	Long: `Export a built-in theme to YAML for customization.

If no output file is specified, the YAML is printed to stdout.

Examples:
  scriptdeck config theme export dracula
  scriptdeck config theme export nord ~/.config/scriptdeck/my-theme.yaml`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runThemeExport,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(themeCmd)
	themeCmd.AddCommand(themeListCmd)
	themeCmd.AddCommand(themeExportCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	if err != nil {
		return err
	}

	if _, err := config.Load(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nWarning: %v\n", err)
	}
	return nil
}

// settableKeys maps each key accepted by 'config set' to its value type.
var settableKeys = map[string]string{
	"backend.base_url":            "string",
	"backend.request_timeout_ms":  "int",
	"stream.url":                  "string",
	"stream.handshake_timeout_ms": "int",
	"stream.read_limit_bytes":     "int",
	"instance.max_log_entries":    "int",
	"console.theme":               "string",
	"console.theme_file":          "string",
	"console.sidebar_width":       "int",
	"console.show_timestamps":     "bool",
	"console.follow_output":       "bool",
	"journal.enabled":             "bool",
	"journal.path":                "string",
	"logging.enabled":             "bool",
	"logging.level":               "string",
	"logging.dir":                 "string",
	"logging.max_size_mb":         "int",
	"logging.max_backups":         "int",
	"logging.compress":            "bool",
}

func parseSetting(key, value string) (any, error) {
	keyType, ok := settableKeys[key]
	if !ok {
		keys := make([]string, 0, len(settableKeys))
		for k := range settableKeys {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return nil, fmt.Errorf("unknown configuration key: %s\nValid keys:\n  %s", key, strings.Join(keys, "\n  "))
	}

	switch keyType {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	typed, err := parseSetting(key, value)
	if err != nil {
		return err
	}

	previous := viper.Get(key)
	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return fmt.Errorf("rejected %s=%s: %w", key, value, err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\nConfig saved to %s\n", key, typed, configFile)
	return nil
}

const defaultConfigFile = `# scriptdeck configuration

# Script backend HTTP API
backend:
  base_url: http://localhost:8080/api
  request_timeout_ms: 10000

# Live log stream. Leave url empty to derive it from backend.base_url
# (http://host/api becomes ws://host/ws/logs).
stream:
  url: ""
  handshake_timeout_ms: 10000
  read_limit_bytes: 1048576

instance:
  # Log entries kept per instance; older entries are dropped. 0 keeps all.
  max_log_entries: 5000

console:
  # default, dracula, nord or solarized-light
  theme: default
  # YAML theme overriding theme (see 'scriptdeck config theme export')
  theme_file: ""
  sidebar_width: 32
  show_timestamps: true
  follow_output: true

# Run history, browsable with 'scriptdeck history'
journal:
  enabled: true
  path: ""

logging:
  enabled: true
  # debug, info, warn or error
  level: info
  dir: ""
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'scriptdeck config set' to modify values", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_BACKEND_BASE_URL), also read from ./.env\n",
		config.EnvPrefix, config.EnvPrefix)
	return nil
}

func runThemeList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	current := viper.GetString("console.theme")
	fmt.Fprintln(out, "Built-in themes:")
	for _, name := range styles.BuiltinThemes() {
		marker := " "
		if string(name) == current {
			marker = "*"
		}
		fmt.Fprintf(out, " %s %s\n", marker, name)
	}
	if file := viper.GetString("console.theme_file"); file != "" {
		fmt.Fprintf(out, "\nTheme file in use: %s\n", file)
	}
	return nil
}

func runThemeExport(cmd *cobra.Command, args []string) error {
	themeName := args[0]
	data, err := styles.ExportTheme(styles.ThemeName(themeName))
	if err != nil {
		return fmt.Errorf("exporting theme: %w", err)
	}

	if len(args) > 1 {
		outputPath := args[1]
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing to %s: %w", outputPath, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Theme exported to: %s\n", outputPath)
		return nil
	}

	_, err = cmd.OutOrStdout().Write(data)
	return err
}
