package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tibame201020/opencv-custom-sub001/internal/catalog"
	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/event"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/state"
	"github.com/tibame201020/opencv-custom-sub001/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run one script and follow its log",
	Long: `Open an instance for a script, start it and print its log until the run
ends. Interrupting the command stops the run on the backend.

Params come from --params-file (a YAML mapping), then each --param in order,
then --device. Values given with --param are decoded as JSON when they parse,
so loops=3 sends a number and name=nightly sends a string.

Examples:
  scriptdeck run android_login --device emulator-5554
  scriptdeck run desktop_farm --param loops=3 --format jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("params-file", "", "YAML file with run params")
	cmd.Flags().StringArrayP("param", "p", nil, "param as key=value (repeatable)")
	cmd.Flags().StringP("device", "d", "", "device serial, sets the deviceId param")
	cmd.Flags().String("format", "text", "output format: text or jsonl")
	cmd.Flags().Bool("timestamps", true, "prefix text lines with their receive time")
}

// runRequest describes one headless run.
type runRequest struct {
	ScriptRef  string
	Params     map[string]any
	Format     orchestrator.ExportFormat
	Timestamps bool
}

func runRun(cmd *cobra.Command, args []string) error {
	req, err := runRequestFromFlags(cmd, args[0])
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	rec, runErr := followRun(cmd.Context(), s.orch, req, cmd.OutOrStdout())
	closeErr := s.close(true)

	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "run %s ended: %s\n", rec.RunID, rec.Status)
	if rec.Status == state.StatusError {
		return errors.NewInstanceError("run failed", errors.ErrRunFailed).
			WithInstanceID(rec.ID).WithRunID(rec.RunID)
	}
	return closeErr
}

func runRequestFromFlags(cmd *cobra.Command, scriptRef string) (runRequest, error) {
	req := runRequest{ScriptRef: scriptRef, Params: map[string]any{}}

	if path, _ := cmd.Flags().GetString("params-file"); path != "" {
		params, err := orchestrator.LoadParamsFile(path)
		if err != nil {
			return req, err
		}
		req.Params = params
	}
	pairs, _ := cmd.Flags().GetStringArray("param")
	extra, err := orchestrator.ParseParams(pairs)
	if err != nil {
		return req, err
	}
	for k, v := range extra {
		if v == nil {
			delete(req.Params, k)
			continue
		}
		req.Params[k] = v
	}
	if device, _ := cmd.Flags().GetString("device"); device != "" {
		req.Params[catalog.DeviceParam] = device
	}

	format, _ := cmd.Flags().GetString("format")
	if req.Format, err = orchestrator.ParseExportFormat(format); err != nil {
		return req, err
	}
	req.Timestamps, _ = cmd.Flags().GetBool("timestamps")
	return req, nil
}

// followRun opens an instance for req, starts it and writes its log to w
// until the run leaves the running state. Canceling ctx stops the run; the
// record is still returned and the error is nil when the stop succeeded.
func followRun(ctx context.Context, orch *orchestrator.Orchestrator, req runRequest, w io.Writer) (instance.Record, error) {
	id, err := orch.Open(req.ScriptRef)
	if err != nil {
		return instance.Record{}, err
	}
	if len(req.Params) > 0 {
		if err := orch.SetParams(id, req.Params); err != nil {
			return instance.Record{}, err
		}
	}

	changed := make(chan struct{}, 1)
	sub := orch.Bus().SubscribeAll(func(event.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer orch.Bus().Unsubscribe(sub)

	p := &logPrinter{w: w, format: req.Format, timestamps: req.Timestamps}
	if err := orch.Start(ctx, id); err != nil {
		rec, _ := orch.Get(id)
		_ = p.print(rec)
		return rec, err
	}

	for {
		rec, ok := orch.Get(id)
		if !ok {
			return instance.Record{}, errors.NewNotFoundError("instance", id)
		}
		if err := p.print(rec); err != nil {
			return rec, err
		}
		if !rec.State().IsActive() {
			return rec, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			err := orch.Stop(stopCtx, id)
			cancel()
			rec, _ = orch.Get(id)
			_ = p.print(rec)
			return rec, err
		}
	}
}

// logPrinter writes the log entries of successive snapshots once each.
type logPrinter struct {
	w          io.Writer
	format     orchestrator.ExportFormat
	timestamps bool

	printed bool
	lastSeq uint64
}

func (p *logPrinter) print(rec instance.Record) error {
	var fresh []instance.LogEvent
	for _, ev := range rec.Logs {
		if p.printed && ev.Seq <= p.lastSeq {
			continue
		}
		fresh = append(fresh, ev)
		p.printed, p.lastSeq = true, ev.Seq
	}
	if len(fresh) == 0 {
		return nil
	}
	if p.format == orchestrator.ExportJSONLines {
		return orchestrator.WriteEvents(p.w, fresh, p.format)
	}
	for _, ev := range fresh {
		if _, err := fmt.Fprintln(p.w, orchestrator.FormatLine(ev, p.timestamps)); err != nil {
			return err
		}
	}
	return nil
}
