package domain

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists the order history projection. The live book is the
// source of truth; the store is the queryable record of every order that
// ever existed.
type OrderStore interface {
	Insert(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id uint64, status OrderStatus) error
	GetByID(ctx context.Context, id uint64) (Order, OrderStatus, error)
	ListByMarket(ctx context.Context, marketID common.Hash, opts ListOpts) ([]Order, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// MatchStore persists settled matches. Delete removes the record for an
// order whose match was later unwound; at most one match exists per order,
// so the order ID identifies it.
type MatchStore interface {
	Insert(ctx context.Context, m Match) error
	Delete(ctx context.Context, orderID uint64) error
	ListByMarket(ctx context.Context, marketID common.Hash, opts ListOpts) ([]Match, error)
	ListBefore(ctx context.Context, before time.Time) ([]Match, error)
}

// EventStore is an append-only audit log of raw engine events.
type EventStore interface {
	Log(ctx context.Context, ev Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
}

// BookCache mirrors the per-market active order index for cheap read access
// by off-process consumers. It is kept in sync by the event projector and
// may lag the live book; it is never consulted by the matching path.
type BookCache interface {
	AddOrder(ctx context.Context, order Order) error
	RemoveOrder(ctx context.Context, marketID common.Hash, orderID uint64) error
	OrderIDs(ctx context.Context, marketID common.Hash) ([]uint64, error)
}

// SignalBus is a lightweight pub/sub fabric for event distribution.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
