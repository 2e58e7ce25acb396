// Package engine implements the peer-to-peer order-matching hook: escrowed
// resting orders, pre-swap matching against the book, delta-based settlement
// with the surrounding pool, participant whitelisting with a two-step admin
// handoff, and permissionless expiry maintenance with pull-based refunds.
//
// The engine is synchronous and sequentially consistent: one mutex serializes
// every top-level operation, and every state change is committed before any
// balance transfer is issued, so a transfer callback can never observe or
// re-enter a half-updated book.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/openhooks/matchbook/internal/book"
	"github.com/openhooks/matchbook/internal/domain"
	"github.com/openhooks/matchbook/internal/ledger"
)

const (
	// MaxOrderDuration caps how long escrow can be locked by a single
	// order, bounding griefing via never-expiring orders.
	MaxOrderDuration = 30 * 24 * time.Hour

	// MaxMatchScan caps the number of index entries examined per matching
	// attempt so a market bloated with unpurged orders cannot make swaps
	// arbitrarily expensive.
	MaxMatchScan = 32
)

// Engine is the matching hook. Construct with New; the zero value is not
// usable.
type Engine struct {
	mu sync.Mutex

	book   *book.Book
	tokens *ledger.Ledger

	// custody is the engine's own escrow account; poolCustody is the
	// account the enclosing liquidity engine settles through.
	custody     common.Address
	poolCustody common.Address

	admin        common.Address
	pendingAdmin common.Address
	whitelist    map[common.Address]bool

	// unclaimed holds refunds whose push transfer failed, keyed by owner
	// then asset, claimable via ClaimRefund.
	unclaimed map[common.Address]map[common.Address]*uint256.Int

	pub    domain.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// New creates an engine settling against tokens, escrowing into custody and
// paying the pool through poolCustody. The admin starts with an empty
// whitelist.
func New(
	tokens *ledger.Ledger,
	custody, poolCustody, admin common.Address,
	pub domain.EventPublisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		book:        book.New(),
		tokens:      tokens,
		custody:     custody,
		poolCustody: poolCustody,
		admin:       admin,
		whitelist:   make(map[common.Address]bool),
		unclaimed:   make(map[common.Address]map[common.Address]*uint256.Int),
		pub:         pub,
		logger:      logger.With(slog.String("component", "engine")),
		now:         time.Now,
	}
}

// WithClock overrides the engine's time source. Tests use this to warp past
// order expiries.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Custody returns the engine's escrow account address.
func (e *Engine) Custody() common.Address {
	return e.custody
}

// PostOrder escrows amountIn of the offered asset from maker and places a
// resting order in the market's book. It returns the assigned order ID.
func (e *Engine) PostOrder(
	ctx context.Context,
	maker common.Address,
	market domain.Market,
	sellToken0 bool,
	amountIn, minAmountOut *uint256.Int,
	duration time.Duration,
) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.whitelist[maker] {
		return 0, domain.ErrNotWhitelisted
	}
	if amountIn == nil || amountIn.IsZero() || minAmountOut == nil || minAmountOut.IsZero() {
		return 0, domain.ErrZeroAmount
	}
	if duration <= 0 || duration > MaxOrderDuration {
		return 0, domain.ErrInvalidDuration
	}

	now := e.now()
	offered, _ := market.Assets(sellToken0)
	order := &domain.Order{
		MarketID:     market.ID(),
		Maker:        maker,
		SellToken0:   sellToken0,
		AmountIn:     amountIn.Clone(),
		MinAmountOut: minAmountOut.Clone(),
		Expiry:       now.Add(duration),
		Active:       true,
		CreatedAt:    now,
	}

	if err := e.tokens.Transfer(offered, maker, e.custody, order.AmountIn); err != nil {
		return 0, err
	}
	id := e.book.Append(order)

	e.emit(ctx, domain.EventOrderCreated, domain.OrderCreatedEvent{Order: *order})
	return id, nil
}

// CancelOrder deactivates a resting order and refunds its escrow to the
// maker. The market context must match the one the order was posted under;
// a mismatch is rejected rather than resolved, since honoring it would
// release escrow against the wrong market's assets.
func (e *Engine) CancelOrder(ctx context.Context, caller common.Address, market domain.Market, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.book.Get(orderID)
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.MarketID != market.ID() {
		return domain.ErrMarketMismatch
	}
	if o.Maker != caller {
		return domain.ErrNotMaker
	}
	if !o.Active {
		return domain.ErrOrderNotActive
	}

	e.book.Deactivate(o)

	offered, _ := market.Assets(o.SellToken0)
	if err := e.tokens.Transfer(offered, e.custody, o.Maker, o.AmountIn); err != nil {
		// A failed refund aborts the cancellation entirely; the order
		// stays active with its escrow intact.
		e.book.Reactivate(o)
		return err
	}

	e.emit(ctx, domain.EventOrderCancelled, domain.OrderCancelledEvent{
		OrderID:  o.ID,
		MarketID: o.MarketID,
		Maker:    o.Maker,
		Refunded: o.AmountIn.Clone(),
	})
	return nil
}

// OrdersForMarket returns a snapshot of the market's active order IDs. The
// ordering of entries is unspecified.
func (e *Engine) OrdersForMarket(market domain.Market) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.ActiveIDs(market.ID())
}

// Order returns a copy of the order with the given ID. Inactive orders
// remain queryable forever.
func (e *Engine) Order(id uint64) (domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.book.Get(id)
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// emit publishes a lifecycle event. Publish failures are logged and
// swallowed: events feed off-chain indexing and are not required for
// correctness.
func (e *Engine) emit(ctx context.Context, typ domain.EventType, data any) {
	if e.pub == nil {
		return
	}
	ev := domain.Event{
		ID:   uuid.NewString(),
		Type: typ,
		At:   e.now(),
		Data: data,
	}
	if err := e.pub.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
