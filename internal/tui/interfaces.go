package tui

import (
	"context"
	"io"

	"github.com/tibame201020/opencv-custom-sub001/internal/catalog"
	"github.com/tibame201020/opencv-custom-sub001/internal/event"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/orchestrator"
)

// Orchestrator is the instance surface the console drives.
// *orchestrator.Orchestrator implements it.
type Orchestrator interface {
	Bus() *event.Bus
	Refresh(ctx context.Context) error
	Scripts() []catalog.Script
	Devices() []string

	Instances() []instance.Record
	Focused() (instance.Record, bool)

	Open(scriptRef string) (string, error)
	Close(ctx context.Context, id string) error
	Focus(id string) error
	Rename(id, label string) error
	SetSubView(id string, view instance.SubView) error
	SetParams(id string, partial map[string]any) error
	Clear(id string) error
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	ExportLogs(id string, w io.Writer, format orchestrator.ExportFormat) error
}

var _ Orchestrator = (*orchestrator.Orchestrator)(nil)
