package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tibame201020/opencv-custom-sub001/internal/config"
	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/journal"
	"github.com/tibame201020/opencv-custom-sub001/internal/orchestrator"
	"github.com/tibame201020/opencv-custom-sub001/internal/util"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded runs",
	Long: `Without arguments, list the most recent runs from the run journal.
With a run id, print that run's recorded log.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete runs older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPurge,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPurgeCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to list (0 lists all)")
	historyCmd.Flags().String("format", "text", "log output format: text or jsonl")
	historyPurgeCmd.Flags().Duration("older-than", 30*24*time.Hour, "age of the oldest run to keep")
}

// openJournal opens the configured journal store.
func openJournal(ctx context.Context) (*journal.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if !cfg.Journal.Enabled {
		return nil, errors.NewValidationError("the run journal is disabled").WithField("journal.enabled")
	}
	return journal.Open(ctx, cfg.Journal.ResolvePath())
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openJournal(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	if len(args) == 1 {
		format, _ := cmd.Flags().GetString("format")
		f, err := orchestrator.ParseExportFormat(format)
		if err != nil {
			return err
		}
		return printRunLog(cmd.Context(), cmd.OutOrStdout(), store, args[0], f)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), runs, time.Now())
	return nil
}

func printRuns(w io.Writer, runs []journal.Run, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	runW := len("RUN")
	for _, r := range runs {
		runW = max(runW, len(r.RunID))
	}
	fmt.Fprintf(w, "%s  %-8s  %-9s  %s\n", util.PadRight("RUN", runW), "STARTED", "STATUS", "SCRIPT")
	for _, r := range runs {
		status := r.Status
		if !r.Ended() {
			status = "open"
		}
		line := fmt.Sprintf("%s  %-8s  %-9s  %s",
			util.PadRight(r.RunID, runW),
			util.FormatAge(now.Sub(r.StartedAt))+" ago",
			status,
			r.Label,
		)
		if r.Reason != "" {
			line += "  (" + r.Reason + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func printRunLog(ctx context.Context, w io.Writer, store *journal.Store, runID string, format orchestrator.ExportFormat) error {
	if _, err := store.GetRun(ctx, runID); err != nil {
		return err
	}
	rows, err := store.RunLogs(ctx, runID)
	if err != nil {
		return err
	}
	events := make([]instance.LogEvent, 0, len(rows))
	for _, row := range rows {
		kind, ok := instance.ParseKind(row.Kind)
		if !ok {
			kind = instance.KindStdout
		}
		events = append(events, instance.LogEvent{
			Kind:       kind,
			Message:    row.Message,
			Data:       row.Data,
			ReceivedAt: row.ReceivedAt,
			Seq:        row.Seq,
		})
	}
	return orchestrator.WriteEvents(w, events, format)
}

func runHistoryPurge(cmd *cobra.Command, args []string) error {
	store, err := openJournal(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	age, _ := cmd.Flags().GetDuration("older-than")
	if age <= 0 {
		return errors.NewValidationError("--older-than must be positive").WithField("older-than").WithValue(age)
	}
	n, err := store.Purge(cmd.Context(), time.Now().Add(-age))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs.\n", n)
	return nil
}
