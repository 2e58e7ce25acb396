// Package pool is the liquidity engine surrounding the matching hook: a
// constant-product pool that intercepts every swap through the hook's
// BeforeSwap, applies the returned settlement delta, and routes only the
// unmatched remainder through its own curve. The taker always receives
// output through the pool's settlement path, whether it came from liquidity
// or from the hook's escrow.
package pool

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/openhooks/matchbook/internal/domain"
	"github.com/openhooks/matchbook/internal/ledger"
)

const feeDenominator = 10_000

// SwapHook is the pre-swap interception contract the pool consumes. A hook
// that settles funds ahead of the curve must also be able to unwind that
// settlement: the pool calls UnwindMatch with the matched delta whenever a
// later leg of the swap fails, so the swap as a whole stays all-or-nothing.
type SwapHook interface {
	BeforeSwap(ctx context.Context, taker common.Address, market domain.Market, zeroForOne bool, amountSpecified *big.Int) (domain.SwapDelta, error)
	UnwindMatch(ctx context.Context, taker common.Address, market domain.Market, delta domain.SwapDelta) error
}

// Pool is a single-market constant-product pool.
type Pool struct {
	mu sync.Mutex

	market  domain.Market
	tokens  *ledger.Ledger
	custody common.Address
	hook    SwapHook

	reserve0 *uint256.Int
	reserve1 *uint256.Int

	logger *slog.Logger
}

// New creates an empty pool for market, settling through custody. hook may
// be nil, in which case every swap runs purely through the curve.
func New(market domain.Market, tokens *ledger.Ledger, custody common.Address, hook SwapHook, logger *slog.Logger) *Pool {
	return &Pool{
		market:   market,
		tokens:   tokens,
		custody:  custody,
		hook:     hook,
		reserve0: uint256.NewInt(0),
		reserve1: uint256.NewInt(0),
		logger:   logger.With(slog.String("component", "pool")),
	}
}

// Market returns the pool's market parameters.
func (p *Pool) Market() domain.Market {
	return p.market
}

// Reserves returns copies of the current reserves.
func (p *Pool) Reserves() (*uint256.Int, *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserve0.Clone(), p.reserve1.Clone()
}

// AddLiquidity transfers both assets in from the provider and grows the
// reserves. Share accounting is out of scope here; the pool only needs
// funded reserves to act as the fallback venue.
func (p *Pool) AddLiquidity(ctx context.Context, provider common.Address, amount0, amount1 *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.tokens.Transfer(p.market.Token0, provider, p.custody, amount0); err != nil {
		return err
	}
	if err := p.tokens.Transfer(p.market.Token1, provider, p.custody, amount1); err != nil {
		if rbErr := p.tokens.Transfer(p.market.Token0, p.custody, provider, amount0); rbErr != nil {
			p.logger.ErrorContext(ctx, "liquidity rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	p.reserve0.Add(p.reserve0, amount0)
	p.reserve1.Add(p.reserve1, amount1)
	return nil
}

// Swap executes a swap for the taker. amountSpecified follows the signed
// convention: negative for exact input, positive for exact output. It
// returns the amount of the output asset the taker received.
//
// The hook runs first. A hook error aborts the whole swap; a zero delta
// leaves the swap untouched; a match shrinks the curve leg by the amount
// already settled peer-to-peer.
func (p *Pool) Swap(ctx context.Context, taker common.Address, zeroForOne bool, amountSpecified *big.Int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amountSpecified == nil || amountSpecified.Sign() == 0 {
		return nil, domain.ErrZeroAmount
	}

	delta := domain.NoMatch()
	if p.hook != nil {
		var err error
		delta, err = p.hook.BeforeSwap(ctx, taker, p.market, zeroForOne, amountSpecified)
		if err != nil {
			return nil, err
		}
	}

	if amountSpecified.Sign() < 0 {
		return p.swapExactIn(ctx, taker, zeroForOne, amountSpecified, delta)
	}
	return p.swapExactOut(ctx, taker, zeroForOne, amountSpecified)
}

func (p *Pool) swapExactIn(ctx context.Context, taker common.Address, zeroForOne bool, amountSpecified *big.Int, delta domain.SwapDelta) (*uint256.Int, error) {
	assetIn, assetOut := p.market.Assets(zeroForOne)

	amountIn, overflow := uint256.FromBig(new(big.Int).Neg(amountSpecified))
	if overflow {
		return nil, domain.ErrAmountOverflow
	}

	remaining := amountIn.Clone()
	remaining.Sub(remaining, delta.TakerPaid)

	reserveIn, reserveOut := p.reserve0, p.reserve1
	if !zeroForOne {
		reserveIn, reserveOut = p.reserve1, p.reserve0
	}

	// Every failure past this point must also unwind the hook settlement,
	// or a matched order would be consumed by a swap that never completed.
	curveOut := uint256.NewInt(0)
	if !remaining.IsZero() {
		var err error
		curveOut, err = quoteOut(remaining, reserveIn, reserveOut, p.market.FeeBips)
		if err != nil {
			return nil, p.abortMatched(ctx, taker, delta, err)
		}
		if err := p.tokens.Transfer(assetIn, taker, p.custody, remaining); err != nil {
			return nil, p.abortMatched(ctx, taker, delta, err)
		}
	}

	totalOut := curveOut.Clone()
	totalOut.Add(totalOut, delta.MakerGave)
	if !totalOut.IsZero() {
		if err := p.tokens.Transfer(assetOut, p.custody, taker, totalOut); err != nil {
			if !remaining.IsZero() {
				if rbErr := p.tokens.Transfer(assetIn, p.custody, taker, remaining); rbErr != nil {
					p.logger.ErrorContext(ctx, "swap rollback failed", slog.String("error", rbErr.Error()))
				}
			}
			return nil, p.abortMatched(ctx, taker, delta, err)
		}
	}

	// Reserves grow only once every transfer has landed.
	if !remaining.IsZero() {
		reserveIn.Add(reserveIn, remaining)
		reserveOut.Sub(reserveOut, curveOut)
	}

	p.logger.DebugContext(ctx, "swap executed",
		slog.String("taker", taker.Hex()),
		slog.Bool("zero_for_one", zeroForOne),
		slog.String("amount_in", amountIn.Dec()),
		slog.String("matched_in", delta.TakerPaid.Dec()),
		slog.String("amount_out", totalOut.Dec()),
	)
	return totalOut, nil
}

// abortMatched asks the hook to reverse a matched settlement after a later
// leg of the swap failed. It always returns cause; an unwind failure is
// logged but cannot replace the original error.
func (p *Pool) abortMatched(ctx context.Context, taker common.Address, delta domain.SwapDelta, cause error) error {
	if p.hook == nil || !delta.Matched {
		return cause
	}
	if err := p.hook.UnwindMatch(ctx, taker, p.market, delta); err != nil {
		p.logger.ErrorContext(ctx, "match unwind failed",
			slog.Uint64("order_id", delta.OrderID),
			slog.String("error", err.Error()),
		)
	}
	return cause
}

func (p *Pool) swapExactOut(ctx context.Context, taker common.Address, zeroForOne bool, amountSpecified *big.Int) (*uint256.Int, error) {
	assetIn, assetOut := p.market.Assets(zeroForOne)

	amountOut, overflow := uint256.FromBig(amountSpecified)
	if overflow {
		return nil, domain.ErrAmountOverflow
	}

	reserveIn, reserveOut := p.reserve0, p.reserve1
	if !zeroForOne {
		reserveIn, reserveOut = p.reserve1, p.reserve0
	}

	amountIn, err := quoteIn(amountOut, reserveIn, reserveOut, p.market.FeeBips)
	if err != nil {
		return nil, err
	}

	if err := p.tokens.Transfer(assetIn, taker, p.custody, amountIn); err != nil {
		return nil, err
	}
	if err := p.tokens.Transfer(assetOut, p.custody, taker, amountOut); err != nil {
		if rbErr := p.tokens.Transfer(assetIn, p.custody, taker, amountIn); rbErr != nil {
			p.logger.ErrorContext(ctx, "swap rollback failed", slog.String("error", rbErr.Error()))
		}
		return nil, err
	}
	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, amountOut)

	return amountOut, nil
}

// quoteOut prices an exact-input leg: out = Rout * inFee / (Rin + inFee)
// with the fee shaved off the input.
func quoteOut(amountIn, reserveIn, reserveOut *uint256.Int, feeBips uint32) (*uint256.Int, error) {
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, domain.ErrNoLiquidity
	}

	inWithFee := new(uint256.Int)
	if _, over := inWithFee.MulOverflow(amountIn, uint256.NewInt(uint64(feeDenominator-feeBips))); over {
		return nil, domain.ErrAmountOverflow
	}
	inWithFee.Div(inWithFee, uint256.NewInt(feeDenominator))

	num := new(uint256.Int)
	if _, over := num.MulOverflow(reserveOut, inWithFee); over {
		return nil, domain.ErrAmountOverflow
	}
	den := new(uint256.Int).Add(reserveIn, inWithFee)
	return num.Div(num, den), nil
}

// quoteIn prices an exact-output leg, rounding the required input up.
func quoteIn(amountOut, reserveIn, reserveOut *uint256.Int, feeBips uint32) (*uint256.Int, error) {
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, domain.ErrNoLiquidity
	}
	if !amountOut.Lt(reserveOut) {
		return nil, domain.ErrExactOutputThroughPool
	}

	num := new(uint256.Int)
	if _, over := num.MulOverflow(reserveIn, amountOut); over {
		return nil, domain.ErrAmountOverflow
	}
	if _, over := num.MulOverflow(num, uint256.NewInt(feeDenominator)); over {
		return nil, domain.ErrAmountOverflow
	}

	den := new(uint256.Int).Sub(reserveOut, amountOut)
	den.Mul(den, uint256.NewInt(uint64(feeDenominator-feeBips)))

	num.Div(num, den)
	return num.AddUint64(num, 1), nil
}
