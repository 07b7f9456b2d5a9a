package workflow

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
	"github.com/CartwheelHQ/cartwheel-search/pkg/natsutil"
)

// EventHandler reacts to one catalog event.
type EventHandler func(ctx context.Context, productID string) error

// Dispatcher routes catalog events to workflow handlers. Handler errors are
// logged and dropped; the event bus does not redeliver.
type Dispatcher struct {
	handlers map[string]EventHandler
	log      *slog.Logger
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]EventHandler),
		log:      log,
	}
}

// On registers a handler for an event name.
func (d *Dispatcher) On(event string, h EventHandler) {
	d.handlers[event] = h
}

// Dispatch invokes the handler registered for event, if any. Unknown events
// are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, productID string) {
	h, ok := d.handlers[event]
	if !ok {
		return
	}
	if err := h(ctx, productID); err != nil {
		d.log.Error("event handler failed", "event", event, "product_id", productID, "error", err)
	}
}

// Subscribe attaches the dispatcher to the catalog event subjects on nc.
// Each event runs its handler on its own goroutine so a slow embedding call
// does not block delivery of other events.
func (d *Dispatcher) Subscribe(nc *nats.Conn) ([]*nats.Subscription, error) {
	subs := make([]*nats.Subscription, 0, len(d.handlers))
	for event := range d.handlers {
		event := event
		sub, err := natsutil.Subscribe(nc, domain.EventSubject(event), func(ctx context.Context, ev domain.ProductEvent) {
			go d.Dispatch(ctx, event, ev.ID)
		})
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Wire registers the standard catalog event handlers: created and updated
// products run the embedding workflow, deleted products are removed from
// the vector store.
func Wire(d *Dispatcher, wf *EmbedProduct, store RecordDeleter) {
	reindex := func(ctx context.Context, productID string) error {
		return wf.Run(ctx, productID)
	}
	d.On(domain.EventProductCreated, reindex)
	d.On(domain.EventProductUpdated, reindex)
	d.On(domain.EventProductDeleted, func(ctx context.Context, productID string) error {
		return store.Delete(ctx, productID)
	})
}
