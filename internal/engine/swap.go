package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"poolswap/internal/fixed"
	"poolswap/internal/model"
	"poolswap/internal/store"
)

// SwapRequest asks to trade AmountIn of TokenIn against the pool.
type SwapRequest struct {
	Principal string
	PoolID    string
	TokenIn   string
	AmountIn  fixed.Dec
}

// SwapResult reports the executed trade and the pool's new reserves.
type SwapResult struct {
	Trade     model.Trade
	AmountOut fixed.Dec
	Fee       fixed.Dec
	Pool      model.Pool
}

// swapQuote computes the fee and output amount for swapping amountIn of
// tokenIn against the pool's current reserves. Pure; shared by Swap and
// Quote.
//
// The output follows from holding reserveIn*reserveOut constant across the
// trade (the fee is excluded from the traded amount and accrues into the
// pool instead): out = reserveOut*afterFee / (reserveIn+afterFee).
func swapQuote(pool model.Pool, tokenIn string, amountIn fixed.Dec) (tokenOut string, out, fee fixed.Dec, err error) {
	if !pool.HasToken(tokenIn) {
		return "", fixed.Dec{}, fixed.Dec{}, fmt.Errorf("%w: %s not in %s", ErrInvalidToken, tokenIn, pool.ID)
	}
	tokenOut, _ = pool.OppositeToken(tokenIn)
	reserveIn, _ := pool.ReserveFor(tokenIn)
	reserveOut, _ := pool.ReserveFor(tokenOut)

	if reserveIn.IsZero() || reserveOut.IsZero() {
		return "", fixed.Dec{}, fixed.Dec{}, fmt.Errorf("%w: pool %s", ErrInsufficientLiquidity, pool.ID)
	}

	fee = amountIn.Mul(pool.FeeRate)
	afterFee := amountIn.Sub(fee)
	if !afterFee.IsPositive() {
		return "", fixed.Dec{}, fixed.Dec{}, errValidation("amount_in", "too small after fee")
	}

	numerator := reserveOut.Mul(afterFee)
	denominator := reserveIn.Add(afterFee)
	out, err = numerator.Quo(denominator)
	if err != nil {
		// unreachable given the zero-reserve guard; never swallowed
		return "", fixed.Dec{}, fixed.Dec{}, fmt.Errorf("swap arithmetic on %s: %w", pool.ID, err)
	}
	return tokenOut, out, fee, nil
}

// Swap executes the trade atomically and records it. The pool's product
// reserve_a*reserve_b never decreases across a swap; the fee stays in the
// pool.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	if req.Principal == "" {
		return SwapResult{}, errValidation("principal", "required")
	}
	if req.TokenIn == "" {
		return SwapResult{}, errValidation("token_in", "required")
	}
	if !req.AmountIn.IsPositive() {
		return SwapResult{}, errValidation("amount_in", "must be positive")
	}

	var (
		result    SwapResult
		committed *model.Trade
	)
	err := e.withPoolRetry(ctx, req.PoolID, func(tx store.PoolTx) error {
		pool := tx.Pool()

		tokenOut, out, fee, err := swapQuote(pool, req.TokenIn, req.AmountIn)
		if err != nil {
			return err
		}

		reserveIn, _ := pool.ReserveFor(req.TokenIn)
		reserveOut, _ := pool.ReserveFor(tokenOut)
		newIn := reserveIn.Add(req.AmountIn)
		newOut := reserveOut.Sub(out)

		if req.TokenIn == pool.TokenA {
			pool.ReserveA, pool.ReserveB = newIn, newOut
		} else {
			pool.ReserveA, pool.ReserveB = newOut, newIn
		}
		tx.SetReserves(pool.ReserveA, pool.ReserveB)

		trade := model.Trade{
			Principal: req.Principal,
			PoolID:    pool.ID,
			TokenIn:   req.TokenIn,
			AmountIn:  req.AmountIn,
			TokenOut:  tokenOut,
			AmountOut: out,
			Fee:       fee,
		}
		tx.AppendTrade(&trade)
		committed = &trade

		result = SwapResult{AmountOut: out, Fee: fee, Pool: pool}
		return nil
	})
	if err != nil {
		if errors.Is(err, fixed.ErrDivisionByZero) {
			e.logger.Error("swap arithmetic invariant violated",
				zap.String("pool", req.PoolID),
				zap.Error(err),
			)
		}
		return SwapResult{}, err
	}

	// the store filled in the trade's ID and Ref at commit
	result.Trade = *committed
	e.mirror(result.Trade)
	e.logger.Info("swap executed",
		zap.String("pool", result.Pool.ID),
		zap.String("principal", req.Principal),
		zap.String("in", req.AmountIn.String()+" "+req.TokenIn),
		zap.String("out", result.AmountOut.String()+" "+result.Trade.TokenOut),
		zap.String("fee", result.Fee.String()),
	)
	return result, nil
}

// Quote computes the output a swap would produce against current reserves
// without mutating anything.
func (e *Engine) Quote(ctx context.Context, poolID, tokenIn string, amountIn fixed.Dec) (SwapResult, error) {
	if tokenIn == "" {
		return SwapResult{}, errValidation("token_in", "required")
	}
	if !amountIn.IsPositive() {
		return SwapResult{}, errValidation("amount_in", "must be positive")
	}

	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return SwapResult{}, err
	}
	tokenOut, out, fee, err := swapQuote(pool, tokenIn, amountIn)
	if err != nil {
		return SwapResult{}, err
	}
	return SwapResult{
		Trade:     model.Trade{PoolID: pool.ID, TokenIn: tokenIn, AmountIn: amountIn, TokenOut: tokenOut, AmountOut: out, Fee: fee},
		AmountOut: out,
		Fee:       fee,
		Pool:      pool,
	}, nil
}
