package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Match records a settled peer-to-peer trade: the taker paid exactly the
// maker's minimum in AssetIn, and the maker's full escrow was released in
// AssetOut.
type Match struct {
	OrderID  uint64
	MarketID common.Hash
	Maker    common.Address
	Taker    common.Address

	// AssetIn is the asset the taker paid, AssetOut the asset the maker's
	// escrow released.
	AssetIn  common.Address
	AssetOut common.Address

	TakerPaid *uint256.Int
	MakerGave *uint256.Int

	At time.Time
}

// SwapDelta is the settlement report handed back to the liquidity engine
// after a pre-swap matching attempt. TakerPaid of the input asset has
// already been consumed outside the curve and MakerGave of the output asset
// has already been provided into pool custody; the pool routes only the
// remainder of the swap through its own liquidity. The zero value means no
// match: the swap proceeds through the pool untouched.
type SwapDelta struct {
	Matched   bool
	OrderID   uint64
	TakerPaid *uint256.Int
	MakerGave *uint256.Int
}

// NoMatch is the neutral fall-through delta.
func NoMatch() SwapDelta {
	return SwapDelta{
		TakerPaid: uint256.NewInt(0),
		MakerGave: uint256.NewInt(0),
	}
}
