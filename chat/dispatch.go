package chat

import (
	"context"
	"log/slog"

	"github.com/onnwee/kickbot/events"
	"github.com/onnwee/kickbot/telemetry"
)

// Handler consumes one incoming chat message. Handlers must not block for
// long; the webhook receiver calls Dispatch on the request path.
type Handler func(ctx context.Context, msg events.ChatMessage)

// Dispatcher fans each incoming chat message out to its handlers in
// registration order.
type Dispatcher struct {
	handlers []Handler
}

// NewDispatcher returns a dispatcher over the given handlers.
func NewDispatcher(handlers ...Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Register appends another handler.
func (d *Dispatcher) Register(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch delivers msg to every handler. Messages without a sender or text
// are malformed and dropped here so handlers can assume both are set.
func (d *Dispatcher) Dispatch(ctx context.Context, msg events.ChatMessage) {
	if msg.Sender == "" || msg.Text == "" {
		slog.Debug("dropping malformed chat message", slog.String("component", "chat"))
		return
	}
	if telemetry.ChatMessagesSeen != nil {
		telemetry.ChatMessagesSeen.Inc()
	}
	for _, h := range d.handlers {
		h(ctx, msg)
	}
}
