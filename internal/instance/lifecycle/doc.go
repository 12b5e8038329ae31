// Package lifecycle starts and stops backend runs for execution instances.
//
// The Controller sequences the registry, the run execution service and the
// stream client so that each instance is bound to at most one run and one
// live stream at a time.
//
// Usage:
//
//	ctl := lifecycle.NewController(reg, runs, streams, lifecycle.Options{Logger: logger})
//	if err := ctl.Start(ctx, id); err != nil {
//	    // the instance is already in error with a "Failed to start" log line
//	}
//	defer ctl.Stop(ctx, id)
//
// Status changes are optimistic: Start moves the instance to running before
// the backend answers and Stop moves it to stopped before the backend
// acknowledges. The backend's answer is recorded as the instance's phase.
//
// A start confirmation that arrives after the operator stopped or restarted
// the instance is rejected, and the run it created is stopped on a best-effort
// basis so it does not keep running unobserved.
package lifecycle
