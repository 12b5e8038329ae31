package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// tickMsg refreshes relative times in the sidebar.
type tickMsg time.Time

// opDoneMsg reports the outcome of a command run off the render loop.
type opDoneMsg struct {
	action string
	id     string
	note   string
	err    error
}

// catalogMsg reports a catalog refresh.
type catalogMsg struct {
	scripts int
	err     error
}

// optionsMsg applies reloaded console options.
type optionsMsg struct {
	opts Options
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// op runs fn as a command so backend round trips never block rendering.
func (m Model) op(action, id string, fn func(ctx context.Context) (string, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		note, err := fn(ctx)
		return opDoneMsg{action: action, id: id, note: note, err: err}
	}
}

func (m Model) refreshCatalog() tea.Cmd {
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		err := orch.Refresh(ctx)
		return catalogMsg{scripts: len(orch.Scripts()), err: err}
	}
}
