package tui

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
)

// App wraps the Bubbletea program
type App struct {
	orch Orchestrator
	opts Options

	mu      sync.Mutex
	program *tea.Program
}

// New creates a new console application
func New(orch Orchestrator, opts Options) *App {
	return &App{orch: orch, opts: opts}
}

// Run starts the console and blocks until the operator quits or ctx is
// canceled. Running instances are left to the caller to shut down.
func (a *App) Run(ctx context.Context) error {
	model := NewModel(ctx, a.orch, a.opts)
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	a.mu.Lock()
	a.program = p
	a.mu.Unlock()

	// SIGINT arrives as ctrl+c while the terminal is in raw mode; the
	// remaining termination signals quit the program the same way.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		if _, ok := <-sigChan; ok {
			p.Quit()
		}
	}()

	_, err := p.Run()

	signal.Stop(sigChan)
	close(sigChan)
	a.mu.Lock()
	a.program = nil
	a.mu.Unlock()

	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Reload applies new console options to the running program. It is a no-op
// when the console is not running.
func (a *App) Reload(opts Options) {
	a.mu.Lock()
	a.opts = opts
	p := a.program
	a.mu.Unlock()
	if p != nil {
		p.Send(optionsMsg{opts: opts})
	}
}
