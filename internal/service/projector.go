// Package service contains the long-running components that surround the
// matching engine: the event projector, the simulation harness, and the
// archive scheduler.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openhooks/matchbook/internal/domain"
)

// Projector consumes engine events and maintains the off-engine read models:
// the Postgres order and match history, the append-only event log, and the
// Redis book mirror. It implements domain.EventPublisher so the engine can
// fan events into it directly.
//
// Projection is best-effort: the engine's book and escrow are the source of
// truth, and a failed projection write never unwinds an engine state change.
type Projector struct {
	orders  domain.OrderStore
	matches domain.MatchStore
	events  domain.EventStore
	book    domain.BookCache
	logger  *slog.Logger
}

var _ domain.EventPublisher = (*Projector)(nil)

// NewProjector creates a Projector. Any store may be nil, in which case the
// corresponding projection is skipped.
func NewProjector(
	orders domain.OrderStore,
	matches domain.MatchStore,
	events domain.EventStore,
	book domain.BookCache,
	logger *slog.Logger,
) *Projector {
	return &Projector{
		orders:  orders,
		matches: matches,
		events:  events,
		book:    book,
		logger:  logger.With(slog.String("component", "projector")),
	}
}

// Publish records the raw event and applies its projection. All writes are
// attempted even when earlier ones fail; the joined error is returned for
// the caller to log.
func (p *Projector) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error

	if p.events != nil {
		if err := p.events.Log(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("projector: event log: %w", err))
		}
	}

	if err := p.apply(ctx, ev); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Projector) apply(ctx context.Context, ev domain.Event) error {
	switch data := ev.Data.(type) {
	case domain.OrderCreatedEvent:
		return p.applyOrderCreated(ctx, data)
	case domain.OrderCancelledEvent:
		return p.applyOrderClosed(ctx, data.MarketID, data.OrderID, domain.OrderStatusCancelled)
	case domain.OrderPurgedEvent:
		return p.applyOrderClosed(ctx, data.MarketID, data.OrderID, domain.OrderStatusPurged)
	case domain.MatchExecutedEvent:
		return p.applyMatch(ctx, data)
	case domain.MatchUnwoundEvent:
		return p.applyMatchUnwound(ctx, data)
	default:
		// Whitelist, admin and refund events carry no projection beyond the
		// event log.
		return nil
	}
}

func (p *Projector) applyOrderCreated(ctx context.Context, ev domain.OrderCreatedEvent) error {
	var errs []error
	if p.orders != nil {
		if err := p.orders.Insert(ctx, ev.Order); err != nil {
			errs = append(errs, fmt.Errorf("projector: insert order %d: %w", ev.Order.ID, err))
		}
	}
	if p.book != nil {
		if err := p.book.AddOrder(ctx, ev.Order); err != nil {
			errs = append(errs, fmt.Errorf("projector: cache order %d: %w", ev.Order.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Projector) applyOrderClosed(ctx context.Context, marketID common.Hash, orderID uint64, status domain.OrderStatus) error {
	var errs []error
	if p.orders != nil {
		if err := p.orders.UpdateStatus(ctx, orderID, status); err != nil {
			errs = append(errs, fmt.Errorf("projector: close order %d: %w", orderID, err))
		}
	}
	if p.book != nil {
		if err := p.book.RemoveOrder(ctx, marketID, orderID); err != nil {
			errs = append(errs, fmt.Errorf("projector: uncache order %d: %w", orderID, err))
		}
	}
	return errors.Join(errs...)
}

// applyMatchUnwound reverses a match projection: the match row goes away and
// the order returns to open in both the store and the book mirror.
func (p *Projector) applyMatchUnwound(ctx context.Context, ev domain.MatchUnwoundEvent) error {
	var errs []error
	o := ev.Order
	if p.matches != nil {
		if err := p.matches.Delete(ctx, o.ID); err != nil {
			errs = append(errs, fmt.Errorf("projector: delete match %d: %w", o.ID, err))
		}
	}
	if p.orders != nil {
		if err := p.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusOpen); err != nil {
			errs = append(errs, fmt.Errorf("projector: reopen order %d: %w", o.ID, err))
		}
	}
	if p.book != nil {
		if err := p.book.AddOrder(ctx, o); err != nil {
			errs = append(errs, fmt.Errorf("projector: recache order %d: %w", o.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Projector) applyMatch(ctx context.Context, ev domain.MatchExecutedEvent) error {
	var errs []error
	m := ev.Match
	if p.matches != nil {
		if err := p.matches.Insert(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("projector: insert match %d: %w", m.OrderID, err))
		}
	}
	if p.orders != nil {
		if err := p.orders.UpdateStatus(ctx, m.OrderID, domain.OrderStatusMatched); err != nil {
			errs = append(errs, fmt.Errorf("projector: mark matched %d: %w", m.OrderID, err))
		}
	}
	if p.book != nil {
		if err := p.book.RemoveOrder(ctx, m.MarketID, m.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("projector: uncache order %d: %w", m.OrderID, err))
		}
	}
	return errors.Join(errs...)
}
