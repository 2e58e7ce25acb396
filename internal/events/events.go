// Package events distributes engine lifecycle events to observers: an
// in-process fanout, a Kafka producer, and a signal-bus bridge. Events are
// best-effort by contract; no publisher failure ever reaches the engine's
// callers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openhooks/matchbook/internal/domain"
)

// Nop discards every event.
type Nop struct{}

// Publish implements domain.EventPublisher.
func (Nop) Publish(context.Context, domain.Event) error { return nil }

// Fanout forwards each event to every registered publisher. Individual
// publisher failures are logged and do not stop delivery to the rest.
type Fanout struct {
	pubs   []domain.EventPublisher
	logger *slog.Logger
}

// NewFanout creates a fanout over the given publishers. Nil entries are
// skipped.
func NewFanout(logger *slog.Logger, pubs ...domain.EventPublisher) *Fanout {
	kept := make([]domain.EventPublisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Fanout{
		pubs:   kept,
		logger: logger.With(slog.String("component", "events")),
	}
}

// Publish implements domain.EventPublisher.
func (f *Fanout) Publish(ctx context.Context, ev domain.Event) error {
	for _, p := range f.pubs {
		if err := p.Publish(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "publisher failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// BusPublisher bridges events onto the signal bus, one channel per event
// family, so the websocket hub and other subscribers can fan them out.
type BusPublisher struct {
	bus domain.SignalBus
}

// NewBusPublisher creates a BusPublisher over bus.
func NewBusPublisher(bus domain.SignalBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

// Channels lists every signal-bus channel events are published on.
func Channels() []string {
	return []string{"ch:order", "ch:match", "ch:admin", "ch:refund"}
}

// Channel maps an event type to its signal-bus channel.
func Channel(typ domain.EventType) string {
	switch typ {
	case domain.EventMatchExecuted, domain.EventMatchUnwound:
		return "ch:match"
	case domain.EventWhitelistUpdated, domain.EventAdminProposed, domain.EventAdminChanged:
		return "ch:admin"
	case domain.EventRefundPushFailed:
		return "ch:refund"
	default:
		return "ch:order"
	}
}

// Publish implements domain.EventPublisher.
func (p *BusPublisher) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	return p.bus.Publish(ctx, Channel(ev.Type), payload)
}
