package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/openhooks/matchbook/internal/domain"
	"github.com/openhooks/matchbook/internal/ledger"
)

var (
	token0      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token1      = common.HexToAddress("0x1000000000000000000000000000000000000002")
	custody     = common.HexToAddress("0x2000000000000000000000000000000000000001")
	poolCustody = common.HexToAddress("0x2000000000000000000000000000000000000002")
	admin       = common.HexToAddress("0x3000000000000000000000000000000000000001")
	maker       = common.HexToAddress("0x4000000000000000000000000000000000000001")
	taker       = common.HexToAddress("0x4000000000000000000000000000000000000002")
	outsider    = common.HexToAddress("0x4000000000000000000000000000000000000003")
)

func testMarket() domain.Market {
	return domain.Market{
		Token0:      token0,
		Token1:      token1,
		FeeBips:     30,
		TickSpacing: 60,
	}
}

// capturePub records every emitted event for assertions.
type capturePub struct {
	events []domain.Event
}

func (p *capturePub) Publish(_ context.Context, ev domain.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePub) types() []domain.EventType {
	out := make([]domain.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger, *capturePub, *testClock) {
	t.Helper()

	tokens := ledger.New()
	pub := &capturePub{}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	eng := New(tokens, custody, poolCustody, admin, pub, slog.Default()).WithClock(clock.Now)

	grant := amt(1_000_000)
	for _, acct := range []common.Address{maker, taker} {
		tokens.Mint(token0, acct, grant)
		tokens.Mint(token1, acct, grant)
		require.NoError(t, eng.AddToWhitelist(context.Background(), admin, acct))
	}
	pub.events = nil // drop whitelist setup events
	return eng, tokens, pub, clock
}

// amt scales a whole-token count to 18 decimals.
func amt(n uint64) *uint256.Int {
	return uint256.NewInt(0).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func TestPostOrderEscrowsFunds(t *testing.T) {
	require := require.New(t)
	eng, tokens, pub, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	before := tokens.BalanceOf(token0, maker)

	id, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)
	require.Equal(uint64(0), id)

	require.Equal(amt(100), tokens.BalanceOf(token0, custody))
	require.Equal(uint256.NewInt(0).Sub(before, amt(100)), tokens.BalanceOf(token0, maker))

	o, ok := eng.Order(id)
	require.True(ok)
	require.True(o.Active)
	require.Equal(maker, o.Maker)
	require.Equal(market.ID(), o.MarketID)
	require.Equal(amt(100), o.AmountIn)
	require.Equal(amt(95), o.MinAmountOut)

	id2, err := eng.PostOrder(ctx, maker, market, false, amt(50), amt(49), time.Hour)
	require.NoError(err)
	require.Equal(uint64(1), id2)
	require.Equal(amt(50), tokens.BalanceOf(token1, custody))

	require.Equal([]domain.EventType{domain.EventOrderCreated, domain.EventOrderCreated}, pub.types())
}

func TestPostOrderValidation(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	_, err := eng.PostOrder(ctx, outsider, market, true, amt(1), amt(1), time.Hour)
	require.ErrorIs(err, domain.ErrNotWhitelisted)

	_, err = eng.PostOrder(ctx, maker, market, true, uint256.NewInt(0), amt(1), time.Hour)
	require.ErrorIs(err, domain.ErrZeroAmount)

	_, err = eng.PostOrder(ctx, maker, market, true, amt(1), nil, time.Hour)
	require.ErrorIs(err, domain.ErrZeroAmount)

	_, err = eng.PostOrder(ctx, maker, market, true, amt(1), amt(1), 0)
	require.ErrorIs(err, domain.ErrInvalidDuration)

	_, err = eng.PostOrder(ctx, maker, market, true, amt(1), amt(1), MaxOrderDuration+time.Second)
	require.ErrorIs(err, domain.ErrInvalidDuration)

	_, err = eng.PostOrder(ctx, maker, market, true, amt(1), amt(1), MaxOrderDuration)
	require.NoError(err)
}

func TestPostOrderInsufficientBalance(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)

	_, err := eng.PostOrder(context.Background(), maker, testMarket(), true, amt(2_000_000), amt(1), time.Hour)
	require.ErrorIs(err, domain.ErrInsufficientBalance)
	require.Empty(eng.OrdersForMarket(testMarket()))
}

func TestCancelOrderRefunds(t *testing.T) {
	require := require.New(t)
	eng, tokens, pub, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	before := tokens.BalanceOf(token0, maker)
	id, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	require.NoError(eng.CancelOrder(ctx, maker, market, id))
	require.Equal(before, tokens.BalanceOf(token0, maker))
	require.True(tokens.BalanceOf(token0, custody).IsZero())

	o, ok := eng.Order(id)
	require.True(ok)
	require.False(o.Active)
	require.Empty(eng.OrdersForMarket(market))

	// Cancelling again is rejected, not double-refunded.
	require.ErrorIs(eng.CancelOrder(ctx, maker, market, id), domain.ErrOrderNotActive)
	require.Equal(before, tokens.BalanceOf(token0, maker))

	require.Equal([]domain.EventType{domain.EventOrderCreated, domain.EventOrderCancelled}, pub.types())
}

func TestCancelOrderValidation(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	require.ErrorIs(eng.CancelOrder(ctx, maker, market, 7), domain.ErrOrderNotFound)

	id, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	other := market
	other.FeeBips = 500
	require.ErrorIs(eng.CancelOrder(ctx, maker, other, id), domain.ErrMarketMismatch)
	require.ErrorIs(eng.CancelOrder(ctx, taker, market, id), domain.ErrNotMaker)

	o, _ := eng.Order(id)
	require.True(o.Active)
}

func TestCancelOrderRefundFailureKeepsOrderActive(t *testing.T) {
	require := require.New(t)
	eng, tokens, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	id, err := eng.PostOrder(ctx, maker, market, true, amt(100), amt(95), time.Hour)
	require.NoError(err)

	blocked := errors.New("asset frozen")
	tokens.Restrict(token0, func(_, _, _ common.Address, _ *uint256.Int) error {
		return blocked
	})

	err = eng.CancelOrder(ctx, maker, market, id)
	require.ErrorIs(err, domain.ErrTransferRestricted)

	// Escrow intact, order still live and cancellable once the asset thaws.
	require.Equal(amt(100), tokens.BalanceOf(token0, custody))
	o, _ := eng.Order(id)
	require.True(o.Active)
	require.Contains(eng.OrdersForMarket(market), id)

	tokens.Restrict(token0, nil)
	require.NoError(eng.CancelOrder(ctx, maker, market, id))
}

func TestOrdersForMarketSnapshot(t *testing.T) {
	require := require.New(t)
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	market := testMarket()

	for i := 0; i < 3; i++ {
		_, err := eng.PostOrder(ctx, maker, market, true, amt(10), amt(9), time.Hour)
		require.NoError(err)
	}

	ids := eng.OrdersForMarket(market)
	require.ElementsMatch([]uint64{0, 1, 2}, ids)

	// Mutating the snapshot must not touch the book.
	ids[0] = 99
	require.ElementsMatch([]uint64{0, 1, 2}, eng.OrdersForMarket(market))
}
