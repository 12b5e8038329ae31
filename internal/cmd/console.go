package cmd

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/tibame201020/opencv-custom-sub001/internal/config"
	"github.com/tibame201020/opencv-custom-sub001/internal/logging"
	"github.com/tibame201020/opencv-custom-sub001/internal/tui"
)

// Minimum terminal size the console lays out in.
const (
	minConsoleWidth  = 60
	minConsoleHeight = 15
)

var consoleCmd = &cobra.Command{
	Use:     "console",
	Aliases: []string{"start"},
	Short:   "Open the interactive console",
	Long: `Open the terminal console. Instances opened here live for the session;
by default their runs keep going on the backend after the console exits.
Use --stop-on-exit to stop them instead.

Console settings (theme, sidebar width, timestamps, follow mode) are
reloaded when the config file changes.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().Bool("stop-on-exit", false, "stop running scripts when the console exits")
	consoleCmd.Flags().String("export-dir", "", "directory for exported logs (default is the working directory)")
}

func runConsole(cmd *cobra.Command, args []string) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("the console needs an interactive terminal; use 'scriptdeck run' for scripted use")
	}
	if w, h, err := term.GetSize(fd); err == nil && (w < minConsoleWidth || h < minConsoleHeight) {
		return fmt.Errorf("terminal is %dx%d; the console needs at least %dx%d", w, h, minConsoleWidth, minConsoleHeight)
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	stopOnExit, _ := cmd.Flags().GetBool("stop-on-exit")

	opts, err := tui.OptionsFromConfig(s.cfg)
	if err != nil {
		_ = s.close(false)
		return err
	}
	opts.ExportDir, _ = cmd.Flags().GetString("export-dir")
	opts.Logger = s.logger

	app := tui.New(s.orch, opts)
	watchConsoleConfig(app, opts, s.logger)

	runErr := app.Run(cmd.Context())
	closeErr := s.close(stopOnExit)
	if runErr != nil {
		return fmt.Errorf("console error: %w", runErr)
	}
	return closeErr
}

// watchConsoleConfig reloads console options whenever the config file in
// use changes. Invalid edits are logged and ignored.
func watchConsoleConfig(app *tui.App, base tui.Options, logger *logging.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		opts, err := reloadConsoleOptions(base)
		if err != nil {
			logger.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		logger.Info("config reloaded", "file", e.Name)
		app.Reload(opts)
	})
	viper.WatchConfig()
}

// reloadConsoleOptions rebuilds console options from the current viper
// state, keeping the settings that only come from flags.
func reloadConsoleOptions(base tui.Options) (tui.Options, error) {
	cfg, err := config.Load()
	if err != nil {
		return tui.Options{}, err
	}
	opts, err := tui.OptionsFromConfig(cfg)
	if err != nil {
		return tui.Options{}, err
	}
	opts.ExportDir = base.ExportDir
	opts.Logger = base.Logger
	return opts, nil
}
