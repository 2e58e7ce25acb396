package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OrderStatus tracks the persisted order lifecycle. The live book only cares
// about Active; the richer status is derived from lifecycle events for the
// history store.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusPurged    OrderStatus = "purged"
)

// Order is a resting peer-to-peer order. The maker's AmountIn is held in
// escrow for exactly as long as Active is true. Orders are never deleted:
// once assigned, an ID stays addressable forever and existence is decided by
// comparison against the next unassigned ID, not by inspecting fields.
type Order struct {
	// ID is assigned sequentially starting at 0 and never reused.
	ID uint64

	// MarketID binds the order to the market it was posted under. Every
	// operation that references the order by ID must present a matching
	// market context.
	MarketID common.Hash

	// Maker owns cancellation rights and receives escrow refunds.
	Maker common.Address

	// SellToken0 is the direction flag: true when the maker offers the
	// market's token0 and wants token1.
	SellToken0 bool

	// AmountIn is the escrowed quantity of the offered asset.
	AmountIn *uint256.Int

	// MinAmountOut is the least quantity of the wanted asset the maker
	// accepts. A match settles at exactly this amount.
	MinAmountOut *uint256.Int

	// Expiry is the instant after which the order is unmatchable. Expired
	// orders stay in storage, flagged active, until purged.
	Expiry time.Time

	// Active is true from creation until the order is matched, cancelled,
	// or purged.
	Active bool

	CreatedAt time.Time
}

// Expired reports whether the order can no longer match at time now. The
// expiry instant itself is still matchable.
func (o *Order) Expired(now time.Time) bool {
	return now.After(o.Expiry)
}
