package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/openhooks/matchbook/internal/domain"
)

// swapIntent builds the signed exact-input amount for n whole tokens.
func swapIntent(n uint64) *big.Int {
	return new(big.Int).Neg(amt(n).ToBig())
}

func TestBeforeSwapIgnoresNonExactInput(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	_, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	for _, specified := range []*big.Int{nil, big.NewInt(0), amt(100).ToBig()} {
		delta, err := eng.BeforeSwap(ctx, taker, market, false, specified)
		require.NoError(err)
		require.False(delta.Matched)
		require.True(delta.TakerPaid.IsZero())
		require.True(delta.MakerGave.IsZero())
	}
}

func TestBeforeSwapUnlistedTakerGetsNoMatch(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	_, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	// Not an error: the swap just proceeds through the pool unmatched.
	delta, err := eng.BeforeSwap(ctx, outsider, market, false, swapIntent(100))
	require.NoError(err)
	require.False(delta.Matched)

	// The order is untouched and still matchable by a listed taker.
	delta, err = eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.True(delta.Matched)
}

func TestBeforeSwapOverflowingAmountIsRejected(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)

	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	_, err := eng.BeforeSwap(context.Background(), taker, testMarket(), false, new(big.Int).Neg(huge))
	require.ErrorIs(err, domain.ErrAmountOverflow)
}

func TestMatchSettlement(t *testing.T) {
	require := require.New(t)
	eng, tokens, pub, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	id, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	makerT1Before := tokens.BalanceOf(token1, maker)
	takerT1Before := tokens.BalanceOf(token1, taker)

	delta, err := eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.True(delta.Matched)
	require.Equal(id, delta.OrderID)
	require.Equal(amt(95), delta.TakerPaid)
	require.Equal(amt(100), delta.MakerGave)

	// The taker paid exactly the maker's minimum, not the full offer.
	require.Equal(uint256.NewInt(0).Add(makerT1Before, amt(95)), tokens.BalanceOf(token1, maker))
	require.Equal(uint256.NewInt(0).Sub(takerT1Before, amt(95)), tokens.BalanceOf(token1, taker))

	// The maker's escrow moved from engine custody to pool custody.
	require.True(tokens.BalanceOf(token0, custody).IsZero())
	require.Equal(amt(100), tokens.BalanceOf(token0, poolCustody))

	o, _ := eng.Order(id)
	require.False(o.Active)
	require.Empty(eng.OrdersForMarket(market))

	require.Equal([]domain.EventType{domain.EventOrderCreated, domain.EventMatchExecuted}, pub.types())
	match := pub.events[1].Data.(domain.MatchExecutedEvent).Match
	require.Equal(id, match.OrderID)
	require.Equal(maker, match.Maker)
	require.Equal(taker, match.Taker)
	require.Equal(token1, match.AssetIn)
	require.Equal(token0, match.AssetOut)
}

func TestMatchNeverDoubleFills(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	_, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	delta, err := eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.True(delta.Matched)

	delta, err = eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.False(delta.Matched)
}

func TestMatchSkipsIncompatibleOrders(t *testing.T) {
	require := require.New(t)
	eng, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	// Same side as the taker.
	_, err := eng.PostOrder(ctx, maker, market, false, amt(100), amt(95), time.Hour)
	require.NoError(err)
	// Asks more than the taker offers.
	_, err = eng.PostOrder(ctx, maker, market, true, amt(100), amt(150), time.Hour)
	require.NoError(err)
	// Expires before the swap arrives.
	_, err = eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Minute)
	require.NoError(err)

	clock.Advance(10 * time.Minute)

	delta, err := eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.False(delta.Matched)

	// A compatible order is found even behind the incompatible ones.
	want, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)
	delta, err = eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.True(delta.Matched)
	require.Equal(want, delta.OrderID)
}

func TestMatchScanIsBounded(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	// Fill the scan window with orders that ask more than the taker offers,
	// then park a matchable order just past the cap.
	for i := 0; i < MaxMatchScan; i++ {
		_, err := eng.PostOrder(ctx, maker, market, true, amt(1), amt(500), time.Hour)
		require.NoError(err)
	}
	hidden, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	delta, err := eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.False(delta.Matched)

	// Clearing one blocker brings the hidden order into the window.
	require.NoError(eng.CancelOrder(ctx, maker, market, 0))
	delta, err = eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.True(delta.Matched)
	require.Equal(hidden, delta.OrderID)
}

func TestMatchIsolatedPerMarket(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()
	other := market
	other.FeeBips = 500

	_, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	delta, err := eng.BeforeSwap(ctx, taker, other, false, swapIntent(100))
	require.NoError(err)
	require.False(delta.Matched)
}

func TestMatchSettlementFailureReactivatesOrder(t *testing.T) {
	require := require.New(t)
	eng, tokens, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	id, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	blocked := errors.New("asset frozen")
	tokens.Restrict(token1, func(_, _, _ common.Address, _ *uint256.Int) error {
		return blocked
	})

	_, err = eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.ErrorIs(err, domain.ErrTransferRestricted)

	// The failed settlement left no partial state behind.
	o, _ := eng.Order(id)
	require.True(o.Active)
	require.Contains(eng.OrdersForMarket(market), id)
	require.Equal(amt(100), tokens.BalanceOf(token0, custody))
	require.True(tokens.BalanceOf(token0, poolCustody).IsZero())

	tokens.Restrict(token1, nil)
	delta, err := eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.True(delta.Matched)
	require.Equal(id, delta.OrderID)
}

func TestMatchEscrowRollbackOnSecondLegFailure(t *testing.T) {
	require := require.New(t)
	eng, tokens, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	id, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	takerT1Before := tokens.BalanceOf(token1, taker)
	makerT1Before := tokens.BalanceOf(token1, maker)

	// Fail only the custody -> pool custody leg.
	tokens.Restrict(token0, func(_, from, _ common.Address, _ *uint256.Int) error {
		if from == custody {
			return errors.New("custody frozen")
		}
		return nil
	})

	_, err = eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.ErrorIs(err, domain.ErrTransferRestricted)

	// The taker's payment was unwound.
	require.Equal(takerT1Before, tokens.BalanceOf(token1, taker))
	require.Equal(makerT1Before, tokens.BalanceOf(token1, maker))
	o, _ := eng.Order(id)
	require.True(o.Active)
}

func TestUnwindMatchRestoresSettlement(t *testing.T) {
	require := require.New(t)
	eng, tokens, pub, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	id, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	delta, err := eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.True(delta.Matched)

	require.NoError(eng.UnwindMatch(ctx, taker, market, delta))

	// Both settlement transfers are reversed and the escrow is back with
	// the engine, as if the match never happened.
	require.Equal(amt(1_000_000), tokens.BalanceOf(token1, taker))
	require.Equal(amt(1_000_000), tokens.BalanceOf(token1, maker))
	require.Equal(amt(100), tokens.BalanceOf(token0, custody))
	require.True(tokens.BalanceOf(token0, poolCustody).IsZero())

	o, ok := eng.Order(id)
	require.True(ok)
	require.True(o.Active)
	require.Contains(eng.OrdersForMarket(market), id)

	require.Equal([]domain.EventType{
		domain.EventOrderCreated,
		domain.EventMatchExecuted,
		domain.EventMatchUnwound,
	}, pub.types())

	// The order is matchable again.
	delta, err = eng.BeforeSwap(ctx, taker, market, false, swapIntent(100))
	require.NoError(err)
	require.True(delta.Matched)
	require.Equal(id, delta.OrderID)
}

func TestUnwindMatchValidation(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	// A non-matched delta is a no-op.
	require.NoError(eng.UnwindMatch(ctx, taker, market, domain.NoMatch()))

	matched := domain.SwapDelta{
		Matched:   true,
		OrderID:   42,
		TakerPaid: amt(95),
		MakerGave: amt(100),
	}
	require.ErrorIs(eng.UnwindMatch(ctx, taker, market, matched), domain.ErrOrderNotFound)

	id, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)
	other := testMarket()
	other.FeeBips = 500
	matched.OrderID = id
	require.ErrorIs(eng.UnwindMatch(ctx, taker, other, matched), domain.ErrMarketMismatch)

	// The posted order is still live, so its delta cannot be unwound.
	require.ErrorIs(eng.UnwindMatch(ctx, taker, market, matched), domain.ErrOrderNotActive)
}
