// Package orchestrator composes the instance registry, run controller and
// stream client into the single surface the console and CLI talk to.
package orchestrator

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tibame201020/opencv-custom-sub001/internal/backend"
	"github.com/tibame201020/opencv-custom-sub001/internal/catalog"
	"github.com/tibame201020/opencv-custom-sub001/internal/config"
	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/event"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/lifecycle"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/stream"
	"github.com/tibame201020/opencv-custom-sub001/internal/logging"
)

// DeviceLister enumerates devices scripts can target.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]string, error)
}

// Deps are the collaborators an Orchestrator is built from.
type Deps struct {
	Runs    lifecycle.RunService
	Source  stream.Source
	Catalog catalog.Catalog
	// Devices is optional.
	Devices DeviceLister
	Logger  *logging.Logger
	// MaxLogEntries bounds each instance's log; 0 keeps everything.
	MaxLogEntries int
}

// Orchestrator manages execution instances for one console session.
type Orchestrator struct {
	reg     *instance.Registry
	streams *stream.Client
	ctl     *lifecycle.Controller
	catalog catalog.Catalog
	devices DeviceLister
	logger  *logging.Logger

	mu         sync.RWMutex
	scripts    []catalog.Script
	deviceList []string
}

// New creates an Orchestrator from deps.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	cat := deps.Catalog
	if cat == nil {
		cat = catalog.Static(nil)
	}

	reg := instance.NewRegistry(instance.Options{
		MaxLogEntries: deps.MaxLogEntries,
		Logger:        logger,
	})
	streams := stream.NewClient(deps.Source, reg, logger)
	reg.SetDetacher(streams)

	return &Orchestrator{
		reg:     reg,
		streams: streams,
		ctl:     lifecycle.NewController(reg, deps.Runs, streams, lifecycle.Options{Logger: logger}),
		catalog: cat,
		devices: deps.Devices,
		logger:  logger,
	}
}

// NewFromConfig wires an Orchestrator to the HTTP and WebSocket backend
// described by cfg.
func NewFromConfig(cfg *config.Config, logger *logging.Logger) *Orchestrator {
	api := backend.New(cfg.Backend.BaseURL).WithTimeout(cfg.Backend.RequestTimeout())
	source := stream.NewWebSocketSource(cfg.Stream.ResolveURL(cfg.Backend.BaseURL), stream.WebSocketOptions{
		HandshakeTimeout: cfg.Stream.HandshakeTimeout(),
		ReadLimit:        cfg.Stream.ReadLimitBytes,
	})
	return New(Deps{
		Runs:          api,
		Source:        source,
		Catalog:       catalog.Func(api.ListScripts),
		Devices:       api,
		Logger:        logger,
		MaxLogEntries: cfg.Instance.MaxLogEntries,
	})
}

// Bus returns the bus that carries every instance change.
func (o *Orchestrator) Bus() *event.Bus {
	return o.reg.Bus()
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

// Refresh reloads the script catalog and the device list concurrently. A
// device listing failure is logged and leaves the previous list in place;
// a catalog failure is returned.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	var scripts []catalog.Script
	var devices []string
	devicesOK := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := o.catalog.List(gctx)
		if err != nil {
			return err
		}
		catalog.Sort(list)
		scripts = list
		return nil
	})
	if o.devices != nil {
		g.Go(func() error {
			list, err := o.devices.ListDevices(gctx)
			if err != nil {
				o.logger.Warn("device listing failed", "error", err)
				return nil
			}
			devices, devicesOK = list, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	o.mu.Lock()
	o.scripts = scripts
	if devicesOK {
		o.deviceList = devices
	}
	o.mu.Unlock()
	o.logger.Debug("catalog refreshed", "scripts", len(scripts), "devices", len(devices))
	return nil
}

// Scripts returns the last fetched catalog.
func (o *Orchestrator) Scripts() []catalog.Script {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.scripts)
}

// Devices returns the last fetched device serials.
func (o *Orchestrator) Devices() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.deviceList)
}

func (o *Orchestrator) script(ref string) (catalog.Script, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return catalog.Lookup(o.scripts, ref)
}

// -----------------------------------------------------------------------------
// Instances
// -----------------------------------------------------------------------------

// Instances returns every instance in creation order, without logs.
func (o *Orchestrator) Instances() []instance.Record {
	return o.reg.List()
}

// Get returns one instance including its logs.
func (o *Orchestrator) Get(id string) (instance.Record, bool) {
	return o.reg.Get(id)
}

// Focused returns the focused instance including its logs.
func (o *Orchestrator) Focused() (instance.Record, bool) {
	return o.reg.Focused()
}

// Open creates an idle instance for scriptRef, labelled with the catalog
// name when the script is known.
func (o *Orchestrator) Open(scriptRef string) (string, error) {
	label := scriptRef
	if s, ok := o.script(scriptRef); ok {
		label = s.DisplayName()
	}
	return o.reg.Open(scriptRef, label)
}

// Close stops the instance if it is running, then discards it.
func (o *Orchestrator) Close(ctx context.Context, id string) error {
	return o.ctl.Close(ctx, id)
}

// Focus focuses an instance.
func (o *Orchestrator) Focus(id string) error {
	return o.reg.SetFocus(id)
}

// Rename changes an instance's label.
func (o *Orchestrator) Rename(id, label string) error {
	return o.reg.Rename(id, label)
}

// SetSubView switches the panel shown for an instance.
func (o *Orchestrator) SetSubView(id string, view instance.SubView) error {
	return o.reg.SetSubView(id, view)
}

// SetParams shallow-merges partial into the instance's params.
func (o *Orchestrator) SetParams(id string, partial map[string]any) error {
	return o.reg.SetParams(id, partial)
}

// Clear empties an instance's log.
func (o *Orchestrator) Clear(id string) error {
	return o.reg.ClearLogs(id)
}

// Start runs the instance's script. Scripts that drive a device must have a
// deviceId param; without one the instance is left untouched.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	rec, ok := o.reg.Get(id)
	if !ok {
		return errors.NewNotFoundError("instance", id).WithCause(errors.ErrInstanceNotFound)
	}
	if s, known := o.script(rec.ScriptRef); known && s.NeedsDevice() && rec.Param(catalog.DeviceParam) == "" {
		return errors.NewValidationError("select a device before starting").
			WithField(catalog.DeviceParam).
			WithCause(errors.ErrParamsRequired)
	}
	return o.ctl.Start(ctx, id)
}

// Stop stops a running instance.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	return o.ctl.Stop(ctx, id)
}

// Shutdown stops every running instance when stopRuns is set, closes all
// streams and stops the registry.
func (o *Orchestrator) Shutdown(ctx context.Context, stopRuns bool) error {
	var err error
	if stopRuns {
		var g errgroup.Group
		for _, rec := range o.reg.List() {
			if !rec.State().IsActive() {
				continue
			}
			g.Go(func() error { return o.ctl.Stop(ctx, rec.ID) })
		}
		err = g.Wait()
	}
	o.streams.DetachAll()
	o.reg.Shutdown()
	return err
}
