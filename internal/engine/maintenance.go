package engine

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/openhooks/matchbook/internal/domain"
)

// PurgeExpired scans the market's active index and deactivates orders past
// their expiry, refunding escrow to each maker. It is permissionless and
// stops after maxToProcess removals so a single call stays bounded; callers
// repeat until it reports fewer removals than the cap.
//
// A refund transfer that fails (a restricted asset, a blacklisted maker)
// must not block cleanup of unrelated orders, so the amount is credited to
// the maker's unclaimed balance for later pull via ClaimRefund and the purge
// carries on.
func (e *Engine) PurgeExpired(ctx context.Context, market domain.Market, maxToProcess int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	marketID := market.ID()
	now := e.now()
	purged := 0

	// Deactivate swap-pops the index, re-seating the last entry into slot
	// i, so the cursor only advances past entries that stay.
	for i := 0; purged < maxToProcess && i < e.book.IndexLen(marketID); {
		o, _ := e.book.Get(e.book.IndexAt(marketID, i))
		if !o.Expired(now) {
			i++
			continue
		}

		e.book.Deactivate(o)

		offered, _ := market.Assets(o.SellToken0)
		pushed := true
		if err := e.tokens.Transfer(offered, e.custody, o.Maker, o.AmountIn); err != nil {
			pushed = false
			e.creditUnclaimed(o.Maker, offered, o.AmountIn)
			e.logger.WarnContext(ctx, "refund push failed, crediting unclaimed balance",
				slog.Uint64("order_id", o.ID),
				slog.String("maker", o.Maker.Hex()),
				slog.String("error", err.Error()),
			)
			e.emit(ctx, domain.EventRefundPushFailed, domain.RefundPushFailedEvent{
				Owner:  o.Maker,
				Asset:  offered,
				Amount: o.AmountIn.Clone(),
				Reason: err.Error(),
			})
		}

		e.emit(ctx, domain.EventOrderPurged, domain.OrderPurgedEvent{
			OrderID:  o.ID,
			MarketID: o.MarketID,
			Maker:    o.Maker,
			Asset:    offered,
			Refunded: o.AmountIn.Clone(),
			Pushed:   pushed,
		})
		purged++
	}

	return purged, nil
}

// ClaimRefund pulls the caller's full unclaimed balance for one asset. The
// balance is zeroed before the transfer is attempted; a second claim with no
// intervening failed push is a zero-effect no-op.
func (e *Engine) ClaimRefund(ctx context.Context, caller, asset common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	byAsset := e.unclaimed[caller]
	amount, ok := byAsset[asset]
	if !ok || amount.IsZero() {
		return uint256.NewInt(0), nil
	}
	delete(byAsset, asset)

	if err := e.tokens.Transfer(asset, e.custody, caller, amount); err != nil {
		// The claim failed outright; restore the balance so the funds
		// stay claimable.
		byAsset[asset] = amount
		return uint256.NewInt(0), err
	}
	return amount.Clone(), nil
}

// UnclaimedBalance returns the pending pull-refund amount for (owner, asset).
func (e *Engine) UnclaimedBalance(owner, asset common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount, ok := e.unclaimed[owner][asset]; ok {
		return amount.Clone()
	}
	return uint256.NewInt(0)
}

func (e *Engine) creditUnclaimed(owner, asset common.Address, amount *uint256.Int) {
	byAsset, ok := e.unclaimed[owner]
	if !ok {
		byAsset = make(map[common.Address]*uint256.Int)
		e.unclaimed[owner] = byAsset
	}
	if existing, ok := byAsset[asset]; ok {
		existing.Add(existing, amount)
		return
	}
	byAsset[asset] = amount.Clone()
}
