package analytics

import (
	"context"
	"log/slog"
)

// Properties carries event metadata. Values should be JSON-serializable.
type Properties map[string]any

// Tracker receives decision events from the engine.
// Implementations must be safe for concurrent use and must not block:
// the engine calls Track synchronously on its hot paths.
type Tracker interface {
	Track(ctx context.Context, event string, props Properties)
}

// TrackerFunc adapts a function to the Tracker interface.
type TrackerFunc func(ctx context.Context, event string, props Properties)

func (f TrackerFunc) Track(ctx context.Context, event string, props Properties) {
	f(ctx, event, props)
}

// NewNoop returns a Tracker that discards all events.
func NewNoop() Tracker {
	return TrackerFunc(func(context.Context, string, Properties) {})
}

// NewLogTracker returns a Tracker that writes events to a slog logger at
// debug level. Useful during development and as a fallback sink.
func NewLogTracker(log *slog.Logger) Tracker {
	if log == nil {
		log = slog.Default()
	}
	return TrackerFunc(func(ctx context.Context, event string, props Properties) {
		log.DebugContext(ctx, "analytics event",
			slog.String("event", event),
			slog.Any("properties", props),
		)
	})
}
