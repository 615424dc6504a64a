// Package transport delivers telemetry events to an OTLP logs backend over
// gRPC or HTTP.
package transport

import (
	"context"

	"github.com/eventspool/eventspool/internal/event"
)

// Sender delivers a single event to the backend. Implementations must be
// safe for concurrent use: the retry dispatcher settles whole batches in
// parallel.
type Sender interface {
	Send(ctx context.Context, ev event.Event) error
}

// SenderFunc adapts a plain function to the Sender interface.
type SenderFunc func(ctx context.Context, ev event.Event) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, ev event.Event) error {
	return f(ctx, ev)
}
