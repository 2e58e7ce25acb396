package engine

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/openhooks/matchbook/internal/domain"
)

// BeforeSwap is the pre-swap interception point. The liquidity engine calls
// it with the swap initiator, the market, the direction (zeroForOne means
// the taker sells token0), and the signed swap size: negative for exact
// input, positive for exact output.
//
// The returned delta tells the pool how much of the swap was already settled
// peer-to-peer. A zero delta with a nil error means "no match, proceed
// unmodified". That is the outcome for non-whitelisted takers, exact-output
// swaps, and markets with no compatible order, none of which are errors. The
// only hard failures are an amount that does not fit the settlement range
// and a settlement transfer failure, both of which must abort the enclosing
// swap.
func (e *Engine) BeforeSwap(
	ctx context.Context,
	taker common.Address,
	market domain.Market,
	zeroForOne bool,
	amountSpecified *big.Int,
) (domain.SwapDelta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Exact-output swaps carry a positive amount: the taker's input is not
	// known upfront, so matching is impossible and the pool handles it.
	if amountSpecified == nil || amountSpecified.Sign() >= 0 {
		return domain.NoMatch(), nil
	}
	if !e.whitelist[taker] {
		return domain.NoMatch(), nil
	}

	takerOffers, overflow := uint256.FromBig(new(big.Int).Neg(amountSpecified))
	if overflow {
		// Never clamp: a truncated amount would mis-price the trade.
		return domain.NoMatch(), domain.ErrAmountOverflow
	}

	marketID := market.ID()
	now := e.now()

	scanned := 0
	for i := 0; i < e.book.IndexLen(marketID) && scanned < MaxMatchScan; scanned++ {
		o, _ := e.book.Get(e.book.IndexAt(marketID, i))

		// Maker and taker must be on opposite sides, the order must still
		// be live, and the taker must offer at least the maker's minimum.
		if !o.Active || o.Expired(now) || o.SellToken0 == zeroForOne || takerOffers.Lt(o.MinAmountOut) {
			i++
			continue
		}

		// First compatible order wins. Commit the deactivation before any
		// transfer so a callback from a settlement hook cannot re-match
		// the same order.
		e.book.Deactivate(o)

		delta, err := e.settleMatch(ctx, market, o, taker)
		if err != nil {
			e.book.Reactivate(o)
			return domain.NoMatch(), err
		}

		e.logger.InfoContext(ctx, "order matched",
			slog.Uint64("order_id", o.ID),
			slog.String("maker", o.Maker.Hex()),
			slog.String("taker", taker.Hex()),
			slog.String("taker_paid", delta.TakerPaid.Dec()),
			slog.String("maker_gave", delta.MakerGave.Dec()),
		)
		return delta, nil
	}

	return domain.NoMatch(), nil
}
