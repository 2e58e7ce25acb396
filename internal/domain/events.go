package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType names the lifecycle events the engine surfaces for off-chain
// indexing. Events are observational: losing one never affects the book or
// escrow state.
type EventType string

const (
	EventOrderCreated     EventType = "order.created"
	EventOrderCancelled   EventType = "order.cancelled"
	EventOrderPurged      EventType = "order.purged"
	EventMatchExecuted    EventType = "match.executed"
	EventMatchUnwound     EventType = "match.unwound"
	EventWhitelistUpdated EventType = "whitelist.updated"
	EventAdminProposed    EventType = "admin.proposed"
	EventAdminChanged     EventType = "admin.changed"
	EventRefundPushFailed EventType = "refund.push_failed"
)

// Event is the envelope published for every state change.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// OrderCreatedEvent carries the full terms of a freshly posted order.
type OrderCreatedEvent struct {
	Order Order `json:"order"`
}

// OrderCancelledEvent is emitted when a maker cancels a resting order.
type OrderCancelledEvent struct {
	OrderID  uint64         `json:"order_id"`
	MarketID common.Hash    `json:"market_id"`
	Maker    common.Address `json:"maker"`
	Refunded *uint256.Int   `json:"refunded"`
}

// OrderPurgedEvent is emitted when maintenance removes an expired order.
// Pushed is false when the refund transfer failed and the amount was
// diverted to the maker's unclaimed balance instead.
type OrderPurgedEvent struct {
	OrderID  uint64         `json:"order_id"`
	MarketID common.Hash    `json:"market_id"`
	Maker    common.Address `json:"maker"`
	Asset    common.Address `json:"asset"`
	Refunded *uint256.Int   `json:"refunded"`
	Pushed   bool           `json:"pushed"`
}

// MatchExecutedEvent carries the full economic terms of a settled match.
type MatchExecutedEvent struct {
	Match Match `json:"match"`
}

// MatchUnwoundEvent is emitted when a settled match is reversed because the
// enclosing swap failed after settlement. The order snapshot lets consumers
// restore the order to their active view.
type MatchUnwoundEvent struct {
	Order Order          `json:"order"`
	Taker common.Address `json:"taker"`
}

// WhitelistUpdatedEvent is emitted when the admin changes the participant
// whitelist.
type WhitelistUpdatedEvent struct {
	Account common.Address `json:"account"`
	Added   bool           `json:"added"`
}

// AdminProposedEvent is the first half of the two-step admin handoff.
type AdminProposedEvent struct {
	Admin   common.Address `json:"admin"`
	Pending common.Address `json:"pending"`
}

// AdminChangedEvent is emitted when a pending admin accepts the handoff.
type AdminChangedEvent struct {
	Previous common.Address `json:"previous"`
	Admin    common.Address `json:"admin"`
}

// RefundPushFailedEvent is emitted when a purge-time refund transfer fails
// and the amount is credited to the owner's pull-claimable balance.
type RefundPushFailedEvent struct {
	Owner  common.Address `json:"owner"`
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
	Reason string         `json:"reason"`
}

// EventPublisher distributes engine events to observers. Implementations
// must tolerate losing events; publish errors are logged by the caller, not
// retried.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}
