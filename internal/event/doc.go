// Package event provides a pub-sub event bus that lets the console, the run
// journal and the CLI observe the instance registry without depending on it.
//
// # Main Types
//
//   - [Event]: interface implemented by every event (EventType, Timestamp)
//   - [Bus]: synchronous dispatcher, safe for concurrent use
//   - [Handler]: func(Event)
//
// # Event Categories
//
// Instance:
//   - [InstanceOpenedEvent], [InstanceClosedEvent], [InstanceFocusedEvent]
//   - [InstanceUpdatedEvent]: label, sub-view or params changed
//
// Status and runs:
//   - [StatusChangedEvent]: coarse status or phase moved
//   - [RunStartedEvent], [RunEndedEvent]
//
// Logs:
//   - [LogAppendedEvent], [LogsClearedEvent]
//
// # Delivery
//
// Publish calls handlers on the publisher's goroutine. The registry publishes
// from its actor loop, so handlers must return quickly and must not call
// back into the registry; hand work off to a channel or goroutine instead.
// A panicking handler is recovered and does not affect other handlers.
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeLogAppended, func(e event.Event) {
//		ev := e.(event.LogAppendedEvent)
//		fmt.Println(ev.InstanceID, ev.Message)
//	})
//
// # Naming
//
// Event types follow "category.action": instance.opened, status.changed,
// log.appended, run.ended.
package event
