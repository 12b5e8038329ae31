package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tibame201020/opencv-custom-sub001/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "scriptdeck",
	Short: "Operator console for automation script runs",
	Long: `scriptdeck opens execution instances of automation scripts, starts and
stops their runs on the script backend, and follows each run's live log
stream in a terminal console.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/scriptdeck/config.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "script backend API base URL (overrides backend.base_url)")
	bindGlobalFlags()
}

func bindGlobalFlags() {
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("backend.base_url", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	// A .env in the working directory may carry SCRIPTDECK_* overrides.
	_ = godotenv.Load()

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	// SCRIPTDECK_BACKEND_BASE_URL for backend.base_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
