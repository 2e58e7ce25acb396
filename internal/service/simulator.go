package service

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/openhooks/matchbook/internal/domain"
	"github.com/openhooks/matchbook/internal/engine"
	"github.com/openhooks/matchbook/internal/ledger"
	"github.com/openhooks/matchbook/internal/pool"
)

// SimulatorConfig drives the trading simulation.
type SimulatorConfig struct {
	Makers   int
	Takers   int
	Interval time.Duration
	Seed     int64
}

// Simulator drives randomized maker and taker flow through the engine and
// pool so the whole pipeline (matching, settlement, projection, archival,
// event feed) can be observed without external participants. All randomness
// comes from a single seeded source, so a given seed replays the same
// trading session.
type Simulator struct {
	eng    *engine.Engine
	pool   *pool.Pool
	tokens *ledger.Ledger
	market domain.Market
	admin  common.Address
	makers []common.Address
	takers []common.Address
	cfg    SimulatorConfig
	rng    *rand.Rand
	logger *slog.Logger
}

// NewSimulator creates a Simulator. Maker and taker accounts are derived
// deterministically, funded from thin air, and whitelisted on first Run.
func NewSimulator(
	eng *engine.Engine,
	pl *pool.Pool,
	tokens *ledger.Ledger,
	market domain.Market,
	admin common.Address,
	cfg SimulatorConfig,
	logger *slog.Logger,
) *Simulator {
	if cfg.Makers <= 0 {
		cfg.Makers = 4
	}
	if cfg.Takers <= 0 {
		cfg.Takers = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}

	s := &Simulator{
		eng:    eng,
		pool:   pl,
		tokens: tokens,
		market: market,
		admin:  admin,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger.With(slog.String("component", "simulator")),
	}
	for i := 0; i < cfg.Makers; i++ {
		s.makers = append(s.makers, simAccount("maker", i))
	}
	for i := 0; i < cfg.Takers; i++ {
		s.takers = append(s.takers, simAccount("taker", i))
	}
	return s
}

// Run seeds accounts and liquidity, then performs one random action per
// tick until the context is cancelled. Call in a goroutine.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.seed(ctx); err != nil {
		return fmt.Errorf("simulator: seed: %w", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

// seed funds every participant with both tokens, whitelists them, and
// provides initial pool liquidity from a dedicated provider account.
func (s *Simulator) seed(ctx context.Context) error {
	grant := uint256.NewInt(0).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1e18))

	for _, acct := range append(append([]common.Address{}, s.makers...), s.takers...) {
		s.tokens.Mint(s.market.Token0, acct, grant)
		s.tokens.Mint(s.market.Token1, acct, grant)
		if err := s.eng.AddToWhitelist(ctx, s.admin, acct); err != nil {
			return fmt.Errorf("whitelist %s: %w", acct.Hex(), err)
		}
	}

	provider := simAccount("provider", 0)
	liquidity := uint256.NewInt(0).Mul(uint256.NewInt(10_000_000), uint256.NewInt(1e18))
	s.tokens.Mint(s.market.Token0, provider, liquidity)
	s.tokens.Mint(s.market.Token1, provider, liquidity)
	if err := s.pool.AddLiquidity(ctx, provider, liquidity, liquidity); err != nil {
		return fmt.Errorf("add liquidity: %w", err)
	}

	s.logger.InfoContext(ctx, "simulation seeded",
		slog.Int("makers", len(s.makers)),
		slog.Int("takers", len(s.takers)),
		slog.Int64("seed", s.cfg.Seed),
	)
	return nil
}

// step performs one random action: mostly order posts and swaps, with the
// occasional cancel and a periodic expiry sweep.
func (s *Simulator) step(ctx context.Context) {
	switch roll := s.rng.Intn(10); {
	case roll < 4:
		s.postOrder(ctx)
	case roll < 8:
		s.swap(ctx)
	case roll < 9:
		s.cancel(ctx)
	default:
		s.purge(ctx)
	}
}

func (s *Simulator) postOrder(ctx context.Context) {
	maker := s.makers[s.rng.Intn(len(s.makers))]
	sellToken0 := s.rng.Intn(2) == 0

	// Amounts in the 1..1000 token range, with the asked price within a
	// few percent of 1:1 so some orders match and some rest.
	amountIn := randAmount(s.rng, 1, 1000)
	minOut := applyBips(amountIn, 9_600+s.rng.Intn(800))
	duration := time.Duration(1+s.rng.Intn(120)) * time.Minute

	id, err := s.eng.PostOrder(ctx, maker, s.market, sellToken0, amountIn, minOut, duration)
	if err != nil {
		s.logger.WarnContext(ctx, "post order failed", slog.String("error", err.Error()))
		return
	}
	s.logger.DebugContext(ctx, "posted order",
		slog.Uint64("order_id", id),
		slog.Bool("sell_token0", sellToken0),
		slog.String("amount_in", amountIn.Dec()),
	)
}

func (s *Simulator) swap(ctx context.Context) {
	taker := s.takers[s.rng.Intn(len(s.takers))]
	zeroForOne := s.rng.Intn(2) == 0
	amount := randAmount(s.rng, 1, 2000)

	// Negative amount requests an exact-input swap.
	specified := new(big.Int).Neg(amount.ToBig())
	out, err := s.pool.Swap(ctx, taker, zeroForOne, specified)
	if err != nil {
		s.logger.WarnContext(ctx, "swap failed", slog.String("error", err.Error()))
		return
	}
	s.logger.DebugContext(ctx, "swapped",
		slog.Bool("zero_for_one", zeroForOne),
		slog.String("amount_in", amount.Dec()),
		slog.String("amount_out", out.Dec()),
	)
}

func (s *Simulator) cancel(ctx context.Context) {
	ids := s.eng.OrdersForMarket(s.market)
	if len(ids) == 0 {
		return
	}
	id := ids[s.rng.Intn(len(ids))]
	order, ok := s.eng.Order(id)
	if !ok {
		return
	}
	if err := s.eng.CancelOrder(ctx, order.Maker, s.market, id); err != nil {
		s.logger.WarnContext(ctx, "cancel failed",
			slog.Uint64("order_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Simulator) purge(ctx context.Context) {
	purged, err := s.eng.PurgeExpired(ctx, s.market, 16)
	if err != nil {
		s.logger.WarnContext(ctx, "purge failed", slog.String("error", err.Error()))
		return
	}
	if purged > 0 {
		s.logger.InfoContext(ctx, "purged expired orders", slog.Int("count", purged))
	}
}

// simAccount derives a stable address from a role and index.
func simAccount(role string, i int) common.Address {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i+1))
	return common.BytesToAddress(append([]byte("sim:"+role+":"), buf[:]...))
}

// randAmount returns a random whole-token amount in [lo, hi] scaled to 18
// decimals.
func randAmount(rng *rand.Rand, lo, hi int64) *uint256.Int {
	n := lo + rng.Int63n(hi-lo+1)
	return uint256.NewInt(0).Mul(uint256.NewInt(uint64(n)), uint256.NewInt(1e18))
}

// applyBips scales v by bips/10000 without overflowing.
func applyBips(v *uint256.Int, bips int) *uint256.Int {
	out := uint256.NewInt(0).Mul(v, uint256.NewInt(uint64(bips)))
	return out.Div(out, uint256.NewInt(10_000))
}
