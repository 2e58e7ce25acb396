// Package book stores orders and maintains the per-market active index. The
// book is a pure data structure: it never touches balances or emits events,
// and it is not safe for concurrent use on its own; the engine serializes
// access.
package book

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/openhooks/matchbook/internal/domain"
)

// Book is the order store plus one active-ID index per market. Orders live
// in a dense slice so existence is simply id < NextID; inactive orders stay
// addressable forever.
type Book struct {
	orders []*domain.Order
	index  map[common.Hash][]uint64
}

// New creates an empty book.
func New() *Book {
	return &Book{
		index: make(map[common.Hash][]uint64),
	}
}

// Append assigns the next sequential ID to the order, stores it, and adds it
// to its market's active index. The order must arrive with Active set.
func (b *Book) Append(o *domain.Order) uint64 {
	o.ID = uint64(len(b.orders))
	b.orders = append(b.orders, o)
	b.index[o.MarketID] = append(b.index[o.MarketID], o.ID)
	return o.ID
}

// Get returns the order with the given ID, or false if no such ID has been
// assigned yet.
func (b *Book) Get(id uint64) (*domain.Order, bool) {
	if id >= uint64(len(b.orders)) {
		return nil, false
	}
	return b.orders[id], true
}

// NextID returns the ID the next appended order will receive.
func (b *Book) NextID() uint64 {
	return uint64(len(b.orders))
}

// Deactivate flips the order inactive and removes it from its market index
// in one step, keeping the flag and the index in agreement.
func (b *Book) Deactivate(o *domain.Order) {
	o.Active = false
	b.removeFromIndex(o.MarketID, o.ID)
}

// Reactivate undoes a Deactivate whose follow-up work failed, restoring the
// flag and the index entry together.
func (b *Book) Reactivate(o *domain.Order) {
	o.Active = true
	b.index[o.MarketID] = append(b.index[o.MarketID], o.ID)
}

// ActiveIDs returns a snapshot copy of the market's active index. Callers
// must not rely on the ordering of entries: removal re-seats the last entry
// into the vacated slot.
func (b *Book) ActiveIDs(marketID common.Hash) []uint64 {
	ids := b.index[marketID]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// IndexLen returns the number of entries in the market's active index.
func (b *Book) IndexLen(marketID common.Hash) int {
	return len(b.index[marketID])
}

// IndexAt returns the order ID at position i of the market's index. It is
// the scan primitive for matching and purging, which must observe index
// mutations mid-scan rather than a stale snapshot.
func (b *Book) IndexAt(marketID common.Hash, i int) uint64 {
	return b.index[marketID][i]
}

// removeFromIndex deletes orderID from the market's index by swapping the
// last entry into its slot and truncating.
func (b *Book) removeFromIndex(marketID common.Hash, orderID uint64) {
	ids := b.index[marketID]
	for i, id := range ids {
		if id == orderID {
			last := len(ids) - 1
			ids[i] = ids[last]
			b.index[marketID] = ids[:last]
			return
		}
	}
}
