package lifecycle

import (
	"context"
	"time"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/logging"
)

// DefaultCleanupTimeout bounds best-effort stops of superseded or orphaned
// runs.
const DefaultCleanupTimeout = 10 * time.Second

// RunService executes scripts on the backend.
type RunService interface {
	StartRun(ctx context.Context, scriptRef string, params map[string]any) (string, error)
	StopRun(ctx context.Context, runID string) error
}

// Streams attaches instances to run event streams. *stream.Client
// implements it.
type Streams interface {
	Attach(ctx context.Context, id, runID string) error
	Detach(id string)
}

// Options configures a Controller.
type Options struct {
	Logger *logging.Logger
	// CleanupTimeout bounds best-effort stops. Zero means
	// DefaultCleanupTimeout.
	CleanupTimeout time.Duration
}

// Controller runs the start and stop sequences for instances.
type Controller struct {
	reg     *instance.Registry
	runs    RunService
	streams Streams
	logger  *logging.Logger
	cleanup time.Duration
}

// NewController creates a Controller.
func NewController(reg *instance.Registry, runs RunService, streams Streams, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = DefaultCleanupTimeout
	}
	return &Controller{
		reg:     reg,
		runs:    runs,
		streams: streams,
		logger:  opts.Logger,
		cleanup: opts.CleanupTimeout,
	}
}

// Start runs the instance's script with its current params. Any live stream
// is detached first and a run the instance was still bound to is stopped.
//
// A backend failure moves the instance to error, appends one error event and
// is returned. A start superseded by a later Stop or Start returns nil.
func (c *Controller) Start(ctx context.Context, id string) error {
	c.streams.Detach(id)

	ticket, err := c.reg.RequestStart(id)
	if err != nil {
		return err
	}
	log := c.logger.WithInstance(id).WithScript(ticket.ScriptRef)

	if ticket.Superseded != "" {
		c.stopQuietly(ctx, id, ticket.Superseded, "superseded by restart")
	}
	_ = c.reg.SetSubView(id, instance.SubViewConsole)

	log.Info("starting run", "attempt", ticket.Attempt)
	runID, err := c.runs.StartRun(ctx, ticket.ScriptRef, ticket.Params)
	if err != nil {
		reason := errors.Reason(err)
		if c.reg.FailStart(id, ticket.Attempt, reason) {
			log.Failure("run failed to start", err)
			return errors.NewInstanceError("start failed", err).WithInstanceID(id)
		}
		log.Debug("start failure ignored for superseded attempt", "error", err)
		return nil
	}

	log = log.WithRun(runID)
	if !c.reg.ConfirmStart(id, ticket.Attempt, runID) {
		log.Info("start confirmation arrived after stop or restart")
		c.stopQuietly(ctx, id, runID, "orphaned run")
		return nil
	}

	if err := c.streams.Attach(ctx, id, runID); err != nil {
		if !c.reg.FailAttach(id, ticket.Attempt, errors.Reason(err)) {
			// Stopped or restarted between confirm and attach; Stop owns the run.
			log.Debug("attach failure ignored", "error", err)
			return nil
		}
		log.Failure("log stream failed to open", err)
		c.stopQuietly(ctx, id, runID, "log stream unavailable")
		return errors.NewInstanceError("attach failed", err).WithInstanceID(id).WithRunID(runID)
	}

	log.Info("run started")
	return nil
}

// Stop stops a running instance. The status moves to stopped and the stream
// is severed before the backend is asked to stop; a failed backend stop is
// recorded in the phase and returned, and the status stays stopped. Stopping
// an instance that is not running does nothing.
func (c *Controller) Stop(ctx context.Context, id string) error {
	ticket, changed, err := c.reg.RequestStop(id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	c.streams.Detach(id)

	log := c.logger.WithInstance(id)
	if ticket.RunID == "" {
		// Start still in flight; Start stops the run when it is confirmed.
		c.reg.ResolveStop(id, ticket, nil)
		log.Info("stopped before run was confirmed")
		return nil
	}

	log = log.WithRun(ticket.RunID)
	stopErr := c.runs.StopRun(ctx, ticket.RunID)
	c.reg.ResolveStop(id, ticket, stopErr)
	if stopErr != nil {
		// The instance is stopped locally either way.
		err := errors.NewInstanceError("stop failed", stopErr).WithInstanceID(id).WithRunID(ticket.RunID).
			WithSeverity(errors.SeverityWarning)
		log.Failure("backend stop failed", err)
		return err
	}
	log.Info("run stopped")
	return nil
}

// Close stops the instance if it is active and then discards it. A run the
// instance acquired while it was being closed is stopped as well.
func (c *Controller) Close(ctx context.Context, id string) error {
	rec, ok := c.reg.Get(id)
	if !ok {
		return errors.NewNotFoundError("instance", id).WithCause(errors.ErrInstanceNotFound)
	}
	if rec.State().IsActive() {
		if err := c.Stop(ctx, id); err != nil {
			c.logger.WithInstance(id).Failure("stop before close failed", err)
		}
	}
	orphan, err := c.reg.Close(id)
	if err != nil {
		return err
	}
	if orphan != "" {
		c.stopQuietly(ctx, id, orphan, "instance closed")
	}
	return nil
}

// stopQuietly stops a run nobody is tracking anymore. It outlives ctx's
// cancellation but is bounded by the cleanup timeout.
func (c *Controller) stopQuietly(ctx context.Context, id, runID, why string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cleanup)
	defer cancel()
	log := c.logger.WithInstance(id).WithRun(runID)
	if err := c.runs.StopRun(ctx, runID); err != nil {
		log.Failure("best-effort stop failed", err, "reason", why)
		return
	}
	log.Info("stopped untracked run", "reason", why)
}
