package engine

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openhooks/matchbook/internal/domain"
)

// settleMatch performs the two-sided fund movement for a matched order and
// reports the settlement delta back to the caller.
//
// The taker pays exactly the maker's stated minimum, not the taker's full
// offered amount. The excess input stays in the swap and flows through
// the pool's curve afterwards.
//
// Movement one redirects the taker's payment to the maker instead of the
// pool. Movement two pays the maker's full escrow into pool custody,
// compensating the pool so the taker receives the output through the pool's
// normal settlement path. The engine never holds the taker's output.
func (e *Engine) settleMatch(
	ctx context.Context,
	market domain.Market,
	o *domain.Order,
	taker common.Address,
) (domain.SwapDelta, error) {
	// The maker's wanted asset is the taker's input; the maker's offered
	// asset is the taker's output.
	assetOut, assetIn := market.Assets(o.SellToken0)

	takerPays := o.MinAmountOut.Clone()
	makerGives := o.AmountIn.Clone()

	if err := e.tokens.Transfer(assetIn, taker, o.Maker, takerPays); err != nil {
		return domain.SwapDelta{}, err
	}
	if err := e.tokens.Transfer(assetOut, e.custody, e.poolCustody, makerGives); err != nil {
		// Unwind the taker's payment so the aborted swap leaves no
		// partial escrow state behind.
		if rbErr := e.tokens.Transfer(assetIn, o.Maker, taker, takerPays); rbErr != nil {
			e.logger.ErrorContext(ctx, "settlement rollback failed",
				slog.Uint64("order_id", o.ID),
				slog.String("error", rbErr.Error()),
			)
		}
		return domain.SwapDelta{}, err
	}

	match := domain.Match{
		OrderID:   o.ID,
		MarketID:  o.MarketID,
		Maker:     o.Maker,
		Taker:     taker,
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		TakerPaid: takerPays,
		MakerGave: makerGives,
		At:        e.now(),
	}
	e.emit(ctx, domain.EventMatchExecuted, domain.MatchExecutedEvent{Match: match})

	return domain.SwapDelta{
		Matched:   true,
		OrderID:   o.ID,
		TakerPaid: takerPays.Clone(),
		MakerGave: makerGives.Clone(),
	}, nil
}

// UnwindMatch reverses a settled match after the enclosing swap failed
// downstream of BeforeSwap. Both transfers are undone and the order returns
// to the book as if the match never happened, so an aborted swap leaves the
// taker, the maker, and the escrow exactly where they started.
//
// A nil-delta call is a no-op, which lets the pool invoke it unconditionally
// on any exact-input failure path.
func (e *Engine) UnwindMatch(
	ctx context.Context,
	taker common.Address,
	market domain.Market,
	delta domain.SwapDelta,
) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !delta.Matched {
		return nil
	}
	o, ok := e.book.Get(delta.OrderID)
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.MarketID != market.ID() {
		return domain.ErrMarketMismatch
	}
	// A live order was never consumed by this delta; reactivating it again
	// would duplicate its index entry.
	if o.Active {
		return domain.ErrOrderNotActive
	}

	assetOut, assetIn := market.Assets(o.SellToken0)

	// Undo in reverse settlement order: pull the escrow back from pool
	// custody first, then return the taker's payment.
	if err := e.tokens.Transfer(assetOut, e.poolCustody, e.custody, delta.MakerGave); err != nil {
		return err
	}
	if err := e.tokens.Transfer(assetIn, o.Maker, taker, delta.TakerPaid); err != nil {
		if rbErr := e.tokens.Transfer(assetOut, e.custody, e.poolCustody, delta.MakerGave); rbErr != nil {
			e.logger.ErrorContext(ctx, "unwind rollback failed",
				slog.Uint64("order_id", o.ID),
				slog.String("error", rbErr.Error()),
			)
		}
		return err
	}

	e.book.Reactivate(o)

	e.logger.InfoContext(ctx, "match unwound",
		slog.Uint64("order_id", o.ID),
		slog.String("taker", taker.Hex()),
	)
	e.emit(ctx, domain.EventMatchUnwound, domain.MatchUnwoundEvent{
		Order: *o,
		Taker: taker,
	})
	return nil
}
