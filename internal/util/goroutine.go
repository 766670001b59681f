package util

import (
	"fmt"

	"github.com/real-rm/golog"

	"github.com/real-rm/livechat/internal/metrics"
)

// SafeGo launches a goroutine with panic recovery.
// If the goroutine panics, the panic is recovered, logged, and the dropped-event
// metric is incremented. This prevents a single goroutine panic from tearing
// down the whole engine.
func SafeGo(logger *golog.Logger, component string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in goroutine",
					"component", component,
					"panic", fmt.Sprintf("%v", r))
				metrics.EventsDropped.Inc()
			}
		}()
		fn()
	}()
}
