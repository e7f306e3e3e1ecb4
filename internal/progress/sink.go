package progress

import (
	"context"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Subscriber consumes batches of events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently in
// sync mode. Subscribers are compared by identity on Register and
// Unregister, so use pointer types: a value of a non-comparable type is never
// recognized as already registered and cannot be unregistered.
type Subscriber interface {
	Consume(ctx context.Context, batch []crawler.Event) error
	Close(ctx context.Context) error
}

// HandlerFunc handles one event at a time.
type HandlerFunc func(ctx context.Context, evt crawler.Event) error

// Handler adapts fn to a Subscriber.
func Handler(fn HandlerFunc) Subscriber {
	return &handler{fn: fn}
}

type handler struct {
	fn HandlerFunc
}

func (h *handler) Consume(ctx context.Context, batch []crawler.Event) error {
	for _, evt := range batch {
		if err := h.fn(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (*handler) Close(context.Context) error {
	return nil
}
