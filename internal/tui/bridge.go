package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tibame201020/opencv-custom-sub001/internal/event"
)

// changedMsg tells the model that instance state moved and it should pull
// fresh snapshots.
type changedMsg struct{}

// changeNotifier turns bus events into changedMsg. Bus handlers run on the
// registry's actor goroutine, so the handler only does a non-blocking send
// into a one-slot channel; bursts of events collapse into one redraw.
type changeNotifier struct {
	bus   *event.Bus
	subID string
	ch    chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newChangeNotifier(bus *event.Bus) *changeNotifier {
	n := &changeNotifier{
		bus:  bus,
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	n.subID = bus.SubscribeAll(func(event.Event) {
		select {
		case n.ch <- struct{}{}:
		default:
		}
	})
	return n
}

// wait returns a command that blocks until the next change.
func (n *changeNotifier) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-n.ch:
			return changedMsg{}
		case <-n.done:
			return nil
		}
	}
}

func (n *changeNotifier) stop() {
	n.once.Do(func() {
		n.bus.Unsubscribe(n.subID)
		close(n.done)
	})
}
