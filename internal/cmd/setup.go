package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/tibame201020/opencv-custom-sub001/internal/config"
	"github.com/tibame201020/opencv-custom-sub001/internal/journal"
	"github.com/tibame201020/opencv-custom-sub001/internal/logging"
	"github.com/tibame201020/opencv-custom-sub001/internal/orchestrator"
)

// shutdownTimeout bounds the backend stop calls made on exit.
const shutdownTimeout = 10 * time.Second

// newLogger builds the diagnostic logger described by cfg. Disabled logging
// discards everything so nothing is written over the console.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.New(logging.Options{
		Dir:   cfg.Logging.ResolveDir(),
		Level: cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
}

// session bundles what a command that drives runs needs: the loaded
// configuration, the logger, the orchestrator and, when enabled, the journal
// recording its runs.
type session struct {
	cfg      *config.Config
	logger   *logging.Logger
	orch     *orchestrator.Orchestrator
	store    *journal.Store
	recorder *journal.Recorder
}

// openSession loads the configuration and wires the orchestrator to the
// backend. A journal that fails to open is logged and skipped.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	s := &session{
		cfg:    cfg,
		logger: logger,
		orch:   orchestrator.NewFromConfig(cfg, logger),
	}

	if cfg.Journal.Enabled {
		store, err := journal.Open(ctx, cfg.Journal.ResolvePath())
		if err != nil {
			logger.Warn("run journal unavailable", "path", cfg.Journal.ResolvePath(), "error", err)
		} else {
			s.store = store
			s.recorder = journal.NewRecorder(store, s.orch.Bus(), logger)
		}
	}

	if err := s.orch.Refresh(ctx); err != nil {
		// The console can still open instances once the backend is reachable.
		logger.Warn("initial catalog refresh failed", "error", err)
	}
	logger.Info("session opened", "backend", cfg.Backend.BaseURL)
	return s, nil
}

// close shuts the orchestrator down, optionally stopping live runs, then
// drains the journal and closes the logger.
func (s *session) close(stopRuns bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.orch.Shutdown(ctx, stopRuns)
	if err != nil {
		s.logger.Warn("shutdown left runs behind", "error", err)
	}
	if s.recorder != nil {
		s.recorder.Close()
	}
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil {
			s.logger.Warn("journal close failed", "error", cerr)
		}
	}
	s.logger.Info("session closed")
	_ = s.logger.Close()
	return err
}
