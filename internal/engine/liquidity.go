package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"poolswap/internal/fixed"
	"poolswap/internal/model"
	"poolswap/internal/store"
)

// AddLiquidityRequest deposits both tokens into the pool.
type AddLiquidityRequest struct {
	Principal string
	PoolID    string
	AmountA   fixed.Dec
	AmountB   fixed.Dec
}

// AddLiquidityResult reports the minted shares and the pool's new state.
type AddLiquidityResult struct {
	MintedShares fixed.Dec
	Position     model.Position
	Pool         model.Pool
}

// RemoveLiquidityRequest burns shares of the caller's position.
type RemoveLiquidityRequest struct {
	Principal string
	PoolID    string
	Shares    fixed.Dec
}

// RemoveLiquidityResult reports the amounts owed to the depositor and the
// pool's new state. Disbursement of the amounts is the caller's concern.
type RemoveLiquidityResult struct {
	AmountA         fixed.Dec
	AmountB         fixed.Dec
	RemainingShares fixed.Dec
	Pool            model.Pool
}

// AddLiquidity deposits AmountA/AmountB (in the pool's canonical token
// order) and mints liquidity shares.
//
// The first depositor receives sqrt(amountA*amountB) shares. Later
// depositors receive min(amountA*total/reserveA, amountB*total/reserveB):
// when the deposit's ratio differs from the pool's, the lesser ratio decides
// the mint and the excess of the other token is absorbed by the pool,
// accruing to existing providers. That donation effect is intended behavior,
// inherited semantics rather than an oversight; deposits are not rejected or
// refunded for ratio mismatch.
func (e *Engine) AddLiquidity(ctx context.Context, req AddLiquidityRequest) (AddLiquidityResult, error) {
	if req.Principal == "" {
		return AddLiquidityResult{}, errValidation("principal", "required")
	}
	if !req.AmountA.IsPositive() {
		return AddLiquidityResult{}, errValidation("amount_a", "must be positive")
	}
	if !req.AmountB.IsPositive() {
		return AddLiquidityResult{}, errValidation("amount_b", "must be positive")
	}

	var result AddLiquidityResult
	err := e.withPoolRetry(ctx, req.PoolID, func(tx store.PoolTx) error {
		pool := tx.Pool()

		minted, err := mintedShares(pool, req.AmountA, req.AmountB)
		if err != nil {
			return err
		}
		if !minted.IsPositive() {
			return errValidation("amounts", "deposit too small to mint shares")
		}

		pool.ReserveA = pool.ReserveA.Add(req.AmountA)
		pool.ReserveB = pool.ReserveB.Add(req.AmountB)
		pool.TotalShares = pool.TotalShares.Add(minted)

		pos, exists, err := tx.Position(req.Principal)
		if err != nil {
			return err
		}
		shares := minted
		if exists {
			shares = pos.Shares.Add(minted)
		}

		tx.SetReserves(pool.ReserveA, pool.ReserveB)
		tx.SetTotalShares(pool.TotalShares)
		tx.UpsertPosition(req.Principal, shares)

		result = AddLiquidityResult{
			MintedShares: minted,
			Position:     model.Position{Principal: req.Principal, PoolID: pool.ID, Shares: shares},
			Pool:         pool,
		}
		return nil
	})
	if err != nil {
		return AddLiquidityResult{}, err
	}

	e.logger.Info("liquidity added",
		zap.String("pool", result.Pool.ID),
		zap.String("principal", req.Principal),
		zap.String("amount_a", req.AmountA.String()),
		zap.String("amount_b", req.AmountB.String()),
		zap.String("minted_shares", result.MintedShares.String()),
	)
	return result, nil
}

// mintedShares computes the share mint for a deposit against the pool's
// current state. Pure.
func mintedShares(pool model.Pool, amountA, amountB fixed.Dec) (fixed.Dec, error) {
	if pool.TotalShares.IsZero() {
		// first provider: geometric mean of the contribution sets the
		// share-to-reserve exchange rate
		return amountA.Mul(amountB).Sqrt()
	}

	byA, err := amountA.Mul(pool.TotalShares).Quo(pool.ReserveA)
	if err != nil {
		return fixed.Dec{}, fmt.Errorf("mint arithmetic on %s: %w", pool.ID, err)
	}
	byB, err := amountB.Mul(pool.TotalShares).Quo(pool.ReserveB)
	if err != nil {
		return fixed.Dec{}, fmt.Errorf("mint arithmetic on %s: %w", pool.ID, err)
	}
	if byA.Cmp(byB) < 0 {
		return byA, nil
	}
	return byB, nil
}

// RemoveLiquidity burns shares and returns the pro-rata portion of both
// reserves. The position record is deleted outright when the stake reaches
// zero.
func (e *Engine) RemoveLiquidity(ctx context.Context, req RemoveLiquidityRequest) (RemoveLiquidityResult, error) {
	if req.Principal == "" {
		return RemoveLiquidityResult{}, errValidation("principal", "required")
	}
	if !req.Shares.IsPositive() {
		return RemoveLiquidityResult{}, errValidation("shares", "must be positive")
	}

	var result RemoveLiquidityResult
	err := e.withPoolRetry(ctx, req.PoolID, func(tx store.PoolTx) error {
		pool := tx.Pool()

		pos, exists, err := tx.Position(req.Principal)
		if err != nil {
			return err
		}
		if !exists || pos.Shares.Cmp(req.Shares) < 0 {
			return fmt.Errorf("%w: pool %s", ErrInsufficientShares, pool.ID)
		}

		share, err := req.Shares.Quo(pool.TotalShares)
		if err != nil {
			return fmt.Errorf("burn arithmetic on %s: %w", pool.ID, err)
		}
		amountA := pool.ReserveA.Mul(share)
		amountB := pool.ReserveB.Mul(share)

		pool.ReserveA = pool.ReserveA.Sub(amountA)
		pool.ReserveB = pool.ReserveB.Sub(amountB)
		pool.TotalShares = pool.TotalShares.Sub(req.Shares)

		remaining := pos.Shares.Sub(req.Shares)

		tx.SetReserves(pool.ReserveA, pool.ReserveB)
		tx.SetTotalShares(pool.TotalShares)
		if remaining.IsZero() {
			tx.DeletePosition(req.Principal)
		} else {
			tx.UpsertPosition(req.Principal, remaining)
		}

		result = RemoveLiquidityResult{
			AmountA:         amountA,
			AmountB:         amountB,
			RemainingShares: remaining,
			Pool:            pool,
		}
		return nil
	})
	if err != nil {
		return RemoveLiquidityResult{}, err
	}

	e.logger.Info("liquidity removed",
		zap.String("pool", result.Pool.ID),
		zap.String("principal", req.Principal),
		zap.String("burned_shares", req.Shares.String()),
		zap.String("amount_a", result.AmountA.String()),
		zap.String("amount_b", result.AmountB.String()),
	)
	return result, nil
}
