package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tibame201020/opencv-custom-sub001/internal/backend"
	"github.com/tibame201020/opencv-custom-sub001/internal/catalog"
	"github.com/tibame201020/opencv-custom-sub001/internal/config"
	"github.com/tibame201020/opencv-custom-sub001/internal/util"
)

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "List the scripts the backend can run",
	Long: `List the backend's script catalog. --filter takes a case-insensitive glob
matched against script ids and names; plain text matches as a substring.`,
	Args: cobra.NoArgs,
	RunE: runScripts,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices attached to the backend",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(scriptsCmd)
	rootCmd.AddCommand(devicesCmd)
	scriptsCmd.Flags().StringP("filter", "f", "", "glob or substring to match")
}

// newBackendClient builds an API client from the loaded configuration.
func newBackendClient() (*backend.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return backend.New(cfg.Backend.BaseURL).WithTimeout(cfg.Backend.RequestTimeout()), nil
}

func runScripts(cmd *cobra.Command, args []string) error {
	client, err := newBackendClient()
	if err != nil {
		return err
	}
	scripts, err := client.ListScripts(cmd.Context())
	if err != nil {
		return err
	}
	pattern, _ := cmd.Flags().GetString("filter")
	scripts, err = catalog.Filter(scripts, pattern)
	if err != nil {
		return err
	}
	catalog.Sort(scripts)
	printScripts(cmd.OutOrStdout(), scripts)
	return nil
}

func printScripts(w io.Writer, scripts []catalog.Script) {
	if len(scripts) == 0 {
		fmt.Fprintln(w, "No scripts found.")
		return
	}
	refW := len("ID")
	for _, s := range scripts {
		refW = max(refW, len(s.Ref))
	}
	fmt.Fprintf(w, "%s  %-8s  %s\n", util.PadRight("ID", refW), "PLATFORM", "NAME")
	for _, s := range scripts {
		platform := s.Platform
		if platform == "" {
			platform = "-"
		}
		line := fmt.Sprintf("%s  %-8s  %s", util.PadRight(s.Ref, refW), platform, s.DisplayName())
		if s.Description != "" {
			line += "  (" + s.Description + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func runDevices(cmd *cobra.Command, args []string) error {
	client, err := newBackendClient()
	if err != nil {
		return err
	}
	devices, err := client.ListDevices(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices connected.")
		return nil
	}
	for _, d := range devices {
		fmt.Fprintln(out, d)
	}
	return nil
}
