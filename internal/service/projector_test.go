package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/openhooks/matchbook/internal/domain"
)

type fakeOrderStore struct {
	inserted []domain.Order
	statuses map[uint64]domain.OrderStatus
}

func (s *fakeOrderStore) Insert(_ context.Context, o domain.Order) error {
	s.inserted = append(s.inserted, o)
	return nil
}

func (s *fakeOrderStore) UpdateStatus(_ context.Context, id uint64, status domain.OrderStatus) error {
	if s.statuses == nil {
		s.statuses = make(map[uint64]domain.OrderStatus)
	}
	s.statuses[id] = status
	return nil
}

func (s *fakeOrderStore) GetByID(context.Context, uint64) (domain.Order, domain.OrderStatus, error) {
	return domain.Order{}, "", domain.ErrOrderNotFound
}

func (s *fakeOrderStore) ListByMarket(context.Context, common.Hash, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (s *fakeOrderStore) ListClosedBefore(context.Context, time.Time) ([]domain.Order, error) {
	return nil, nil
}

type fakeMatchStore struct {
	inserted []domain.Match
	deleted  []uint64
}

func (s *fakeMatchStore) Insert(_ context.Context, m domain.Match) error {
	s.inserted = append(s.inserted, m)
	return nil
}

func (s *fakeMatchStore) Delete(_ context.Context, orderID uint64) error {
	s.deleted = append(s.deleted, orderID)
	return nil
}

func (s *fakeMatchStore) ListByMarket(context.Context, common.Hash, domain.ListOpts) ([]domain.Match, error) {
	return nil, nil
}

func (s *fakeMatchStore) ListBefore(context.Context, time.Time) ([]domain.Match, error) {
	return nil, nil
}

type fakeEventStore struct {
	logged []domain.Event
}

func (s *fakeEventStore) Log(_ context.Context, ev domain.Event) error {
	s.logged = append(s.logged, ev)
	return nil
}

func (s *fakeEventStore) List(context.Context, domain.ListOpts) ([]domain.Event, error) {
	return nil, nil
}

type fakeBookCache struct {
	added   []uint64
	removed []uint64
}

func (c *fakeBookCache) AddOrder(_ context.Context, o domain.Order) error {
	c.added = append(c.added, o.ID)
	return nil
}

func (c *fakeBookCache) RemoveOrder(_ context.Context, _ common.Hash, id uint64) error {
	c.removed = append(c.removed, id)
	return nil
}

func (c *fakeBookCache) OrderIDs(context.Context, common.Hash) ([]uint64, error) {
	return nil, nil
}

func newTestProjector() (*Projector, *fakeOrderStore, *fakeMatchStore, *fakeEventStore, *fakeBookCache) {
	orders := &fakeOrderStore{}
	matches := &fakeMatchStore{}
	events := &fakeEventStore{}
	book := &fakeBookCache{}
	return NewProjector(orders, matches, events, book, slog.Default()), orders, matches, events, book
}

func TestProjectorOrderLifecycle(t *testing.T) {
	require := require.New(t)
	p, orders, _, events, book := newTestProjector()
	ctx := context.Background()

	order := domain.Order{
		ID:           3,
		MarketID:     common.HexToHash("0xaa"),
		AmountIn:     uint256.NewInt(100),
		MinAmountOut: uint256.NewInt(95),
		Active:       true,
	}

	require.NoError(p.Publish(ctx, domain.Event{
		ID:   "ev-1",
		Type: domain.EventOrderCreated,
		Data: domain.OrderCreatedEvent{Order: order},
	}))
	require.Len(orders.inserted, 1)
	require.Equal(uint64(3), orders.inserted[0].ID)
	require.Equal([]uint64{3}, book.added)
	require.Len(events.logged, 1)

	require.NoError(p.Publish(ctx, domain.Event{
		ID:   "ev-2",
		Type: domain.EventOrderCancelled,
		Data: domain.OrderCancelledEvent{OrderID: 3, MarketID: order.MarketID},
	}))
	require.Equal(domain.OrderStatusCancelled, orders.statuses[3])
	require.Equal([]uint64{3}, book.removed)

	require.NoError(p.Publish(ctx, domain.Event{
		ID:   "ev-3",
		Type: domain.EventOrderPurged,
		Data: domain.OrderPurgedEvent{OrderID: 3, MarketID: order.MarketID},
	}))
	require.Equal(domain.OrderStatusPurged, orders.statuses[3])
	require.Len(events.logged, 3)
}

func TestProjectorMatch(t *testing.T) {
	require := require.New(t)
	p, orders, matches, _, book := newTestProjector()

	m := domain.Match{
		OrderID:   5,
		MarketID:  common.HexToHash("0xbb"),
		TakerPaid: uint256.NewInt(95),
		MakerGave: uint256.NewInt(100),
	}
	require.NoError(p.Publish(context.Background(), domain.Event{
		ID:   "ev-4",
		Type: domain.EventMatchExecuted,
		Data: domain.MatchExecutedEvent{Match: m},
	}))

	require.Len(matches.inserted, 1)
	require.Equal(uint64(5), matches.inserted[0].OrderID)
	require.Equal(domain.OrderStatusMatched, orders.statuses[5])
	require.Equal([]uint64{5}, book.removed)
}

func TestProjectorMatchUnwound(t *testing.T) {
	require := require.New(t)
	p, orders, matches, _, book := newTestProjector()
	ctx := context.Background()

	m := domain.Match{
		OrderID:   8,
		MarketID:  common.HexToHash("0xcc"),
		TakerPaid: uint256.NewInt(95),
		MakerGave: uint256.NewInt(100),
	}
	require.NoError(p.Publish(ctx, domain.Event{
		ID:   "ev-6",
		Type: domain.EventMatchExecuted,
		Data: domain.MatchExecutedEvent{Match: m},
	}))
	require.Equal(domain.OrderStatusMatched, orders.statuses[8])

	// The unwind erases the match row and reopens the order everywhere.
	order := domain.Order{
		ID:           8,
		MarketID:     m.MarketID,
		AmountIn:     uint256.NewInt(100),
		MinAmountOut: uint256.NewInt(95),
		Active:       true,
	}
	require.NoError(p.Publish(ctx, domain.Event{
		ID:   "ev-7",
		Type: domain.EventMatchUnwound,
		Data: domain.MatchUnwoundEvent{Order: order},
	}))

	require.Equal([]uint64{8}, matches.deleted)
	require.Equal(domain.OrderStatusOpen, orders.statuses[8])
	require.Equal([]uint64{8}, book.added)
}

func TestProjectorIgnoresAdminEvents(t *testing.T) {
	require := require.New(t)
	p, orders, matches, events, book := newTestProjector()

	require.NoError(p.Publish(context.Background(), domain.Event{
		ID:   "ev-5",
		Type: domain.EventWhitelistUpdated,
		Data: domain.WhitelistUpdatedEvent{Added: true},
	}))

	// Only the audit log sees it.
	require.Len(events.logged, 1)
	require.Empty(orders.inserted)
	require.Empty(matches.inserted)
	require.Empty(book.added)
}

func TestProjectorToleratesNilStores(t *testing.T) {
	require := require.New(t)
	p := NewProjector(nil, nil, nil, nil, slog.Default())

	require.NoError(p.Publish(context.Background(), domain.Event{
		Type: domain.EventOrderCreated,
		Data: domain.OrderCreatedEvent{},
	}))
}
