// Package logging provides structured logging for scriptdeck.
//
// Logs are JSON lines produced by log/slog. A Logger carries persistent
// attributes so that every line emitted while handling an instance is
// tagged with the instance, run and script it concerns:
//
//	logger, err := logging.New(logging.Options{Dir: dir, Level: logging.LevelDebug})
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	l := logger.WithInstance(id).WithRun(runID)
//	l.Info("stream attached", "generation", gen)
//
// When a directory is configured the output goes to {dir}/scriptdeck.log and
// is rotated by size through RotatingWriter. Rotated files are numbered .1
// (newest) through .N and may be gzip compressed.
//
// The console owns the terminal, so operator-facing output never goes
// through this package; it is strictly a diagnostic trail.
package logging
