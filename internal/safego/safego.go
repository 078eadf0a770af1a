// Package safego launches background goroutines that survive panics. The
// marketplace runs three kinds of fire-and-forget work: shipping committed
// audit entries, writing sampled behavioral telemetry and the periodic chain
// verifier. None of them may take the request path or the process down.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/gigmarket/marketplace/internal/telemetry"
)

// Go runs fn in a new goroutine. A panic is recovered, logged with its stack
// and counted under task in background_panics_total.
func Go(task string, fn func()) {
	go func() {
		defer Recover(task)
		fn()
	}()
}

// Recover is the deferred half of Go, for goroutines started elsewhere.
func Recover(task string) {
	r := recover()
	if r == nil {
		return
	}
	telemetry.BackgroundPanicsTotal.WithLabelValues(task).Inc()
	slog.Error("recovered panic in background goroutine",
		"task", task, "panic", r, "stack", string(debug.Stack()))
}
