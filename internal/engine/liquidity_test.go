package engine

import (
	"context"
	"errors"
	"testing"

	"poolswap/internal/fixed"
	"poolswap/internal/store"
)

func TestFirstDepositMintsGeometricMean(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()
	pool, err := e.CreatePool(ctx, "A", "B", nil)
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}

	res, err := e.AddLiquidity(ctx, AddLiquidityRequest{
		Principal: "alice",
		PoolID:    pool.ID,
		AmountA:   fixed.FromInt(100),
		AmountB:   fixed.FromInt(400),
	})
	if err != nil {
		t.Fatalf("AddLiquidity failed: %v", err)
	}

	// sqrt(100*400) = 200
	if want := fixed.FromInt(200); !res.MintedShares.Equal(want) {
		t.Fatalf("minted = %s, want %s", res.MintedShares, want)
	}
	if !res.Pool.TotalShares.Equal(fixed.FromInt(200)) {
		t.Fatalf("total shares = %s", res.Pool.TotalShares)
	}

	pos, err := mem.GetPosition(ctx, "alice", pool.ID)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if !pos.Shares.Equal(fixed.FromInt(200)) {
		t.Fatalf("position shares = %s", pos.Shares)
	}
}

func TestSubsequentDepositProportional(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pool := fundedPool(t, e, "100", "400")

	// matching the 1:4 ratio exactly: both quotients give 100
	res, err := e.AddLiquidity(ctx, AddLiquidityRequest{
		Principal: "bob",
		PoolID:    pool.ID,
		AmountA:   fixed.FromInt(50),
		AmountB:   fixed.FromInt(200),
	})
	if err != nil {
		t.Fatalf("AddLiquidity failed: %v", err)
	}
	if want := fixed.FromInt(100); !res.MintedShares.Equal(want) {
		t.Fatalf("minted = %s, want %s", res.MintedShares, want)
	}
	if !res.Pool.ReserveA.Equal(fixed.FromInt(150)) || !res.Pool.ReserveB.Equal(fixed.FromInt(600)) {
		t.Fatalf("reserves = %s/%s", res.Pool.ReserveA, res.Pool.ReserveB)
	}
	if !res.Pool.TotalShares.Equal(fixed.FromInt(300)) {
		t.Fatalf("total shares = %s", res.Pool.TotalShares)
	}
}

// A deposit whose ratio differs from the pool's mints by the lesser quotient:
// the excess of the over-supplied token is absorbed into the reserves with no
// share credit, accruing to existing providers. Intended behavior, not a bug.
func TestUnbalancedDepositDonatesExcess(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pool := fundedPool(t, e, "100", "100") // seed minted 100 shares

	res, err := e.AddLiquidity(ctx, AddLiquidityRequest{
		Principal: "bob",
		PoolID:    pool.ID,
		AmountA:   fixed.FromInt(100), // would alone justify 100 shares
		AmountB:   fixed.FromInt(10),  // justifies only 10
	})
	if err != nil {
		t.Fatalf("AddLiquidity failed: %v", err)
	}

	if want := fixed.FromInt(10); !res.MintedShares.Equal(want) {
		t.Fatalf("minted = %s, want %s (lesser quotient)", res.MintedShares, want)
	}
	// the full deposit still entered the reserves
	if !res.Pool.ReserveA.Equal(fixed.FromInt(200)) || !res.Pool.ReserveB.Equal(fixed.FromInt(110)) {
		t.Fatalf("reserves = %s/%s", res.Pool.ReserveA, res.Pool.ReserveB)
	}
	if !res.Pool.TotalShares.Equal(fixed.FromInt(110)) {
		t.Fatalf("total shares = %s", res.Pool.TotalShares)
	}
}

func TestAddLiquidityValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pool := fundedPool(t, e, "100", "100")

	cases := []AddLiquidityRequest{
		{Principal: "", PoolID: pool.ID, AmountA: fixed.FromInt(1), AmountB: fixed.FromInt(1)},
		{Principal: "bob", PoolID: pool.ID, AmountA: fixed.Dec{}, AmountB: fixed.FromInt(1)},
		{Principal: "bob", PoolID: pool.ID, AmountA: fixed.FromInt(1), AmountB: fixed.FromInt(-2)},
	}
	for i, req := range cases {
		if _, err := e.AddLiquidity(ctx, req); !IsValidation(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestFullWithdrawalReturnsReservesAndDeletesPosition(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()

	pool, err := e.CreatePool(ctx, "A", "B", feePtr("0.003"))
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	if _, err := e.AddLiquidity(ctx, AddLiquidityRequest{Principal: "alice", PoolID: pool.ID, AmountA: fixed.FromInt(1000), AmountB: fixed.FromInt(1000)}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	// a swap moves the reserves off their initial values
	if _, err := e.Swap(ctx, SwapRequest{Principal: "carol", PoolID: pool.ID, TokenIn: "A", AmountIn: fixed.FromInt(100)}); err != nil {
		t.Fatalf("swap failed: %v", err)
	}
	current, _ := mem.GetPool(ctx, pool.ID)

	res, err := e.RemoveLiquidity(ctx, RemoveLiquidityRequest{
		Principal: "alice",
		PoolID:    pool.ID,
		Shares:    fixed.FromInt(1000),
	})
	if err != nil {
		t.Fatalf("RemoveLiquidity failed: %v", err)
	}

	// sole provider burning all shares receives the full current reserves
	if !res.AmountA.Equal(current.ReserveA) || !res.AmountB.Equal(current.ReserveB) {
		t.Fatalf("withdrawal = %s/%s, want %s/%s", res.AmountA, res.AmountB, current.ReserveA, current.ReserveB)
	}
	if !res.Pool.TotalShares.IsZero() || !res.Pool.ReserveA.IsZero() || !res.Pool.ReserveB.IsZero() {
		t.Fatalf("pool not emptied: %+v", res.Pool)
	}
	if !res.RemainingShares.IsZero() {
		t.Fatalf("remaining shares = %s", res.RemainingShares)
	}

	if _, err := mem.GetPosition(ctx, "alice", pool.ID); !errors.Is(err, store.ErrPositionNotFound) {
		t.Fatalf("position should be deleted, got %v", err)
	}
}

func TestPartialWithdrawal(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()
	pool := fundedPool(t, e, "100", "400") // seed holds 200 shares

	res, err := e.RemoveLiquidity(ctx, RemoveLiquidityRequest{
		Principal: "seed",
		PoolID:    pool.ID,
		Shares:    fixed.FromInt(50),
	})
	if err != nil {
		t.Fatalf("RemoveLiquidity failed: %v", err)
	}

	// share = 50/200 = 0.25
	if !res.AmountA.Equal(fixed.FromInt(25)) || !res.AmountB.Equal(fixed.FromInt(100)) {
		t.Fatalf("withdrawal = %s/%s", res.AmountA, res.AmountB)
	}
	if !res.RemainingShares.Equal(fixed.FromInt(150)) {
		t.Fatalf("remaining = %s", res.RemainingShares)
	}

	pos, err := mem.GetPosition(ctx, "seed", pool.ID)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if !pos.Shares.Equal(fixed.FromInt(150)) {
		t.Fatalf("position shares = %s", pos.Shares)
	}
}

func TestWithdrawalInsufficientShares(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()
	pool := fundedPool(t, e, "100", "100") // seed holds 100 shares

	_, err := e.RemoveLiquidity(ctx, RemoveLiquidityRequest{Principal: "seed", PoolID: pool.ID, Shares: fixed.FromInt(101)})
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}

	// a principal with no position at all fails the same way
	_, err = e.RemoveLiquidity(ctx, RemoveLiquidityRequest{Principal: "mallory", PoolID: pool.ID, Shares: fixed.FromInt(1)})
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}

	got, _ := mem.GetPool(ctx, pool.ID)
	if !got.ReserveA.Equal(fixed.FromInt(100)) || !got.TotalShares.Equal(fixed.FromInt(100)) {
		t.Fatalf("failed withdrawal changed state: %+v", got)
	}
}

func TestShareConservation(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()
	pool, err := e.CreatePool(ctx, "A", "B", feePtr("0.003"))
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}

	type step struct {
		principal string
		deposit   bool
		a, b      string // deposit amounts
		burn      string // withdrawal shares
	}
	steps := []step{
		{principal: "alice", deposit: true, a: "100", b: "400"},
		{principal: "bob", deposit: true, a: "10", b: "40"},
		{principal: "carol", deposit: true, a: "3.5", b: "99.12345678"},
		{principal: "alice", burn: "37.25"},
		{principal: "bob", deposit: true, a: "1", b: "1"},
		{principal: "carol", burn: "0.00000001"},
	}

	for i, st := range steps {
		if st.deposit {
			_, err = e.AddLiquidity(ctx, AddLiquidityRequest{
				Principal: st.principal, PoolID: pool.ID,
				AmountA: fixed.MustFromString(st.a), AmountB: fixed.MustFromString(st.b),
			})
		} else {
			_, err = e.RemoveLiquidity(ctx, RemoveLiquidityRequest{
				Principal: st.principal, PoolID: pool.ID, Shares: fixed.MustFromString(st.burn),
			})
		}
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}

		got, err := mem.GetPool(ctx, pool.ID)
		if err != nil {
			t.Fatalf("GetPool failed: %v", err)
		}
		var sum fixed.Dec
		for _, principal := range []string{"alice", "bob", "carol"} {
			pos, err := mem.GetPosition(ctx, principal, pool.ID)
			if err != nil {
				if errors.Is(err, store.ErrPositionNotFound) {
					continue
				}
				t.Fatalf("GetPosition failed: %v", err)
			}
			sum = sum.Add(pos.Shares)
		}
		if !sum.Equal(got.TotalShares) {
			t.Fatalf("step %d: share sum %s != total %s", i, sum, got.TotalShares)
		}
		if got.ReserveA.IsNegative() || got.ReserveB.IsNegative() {
			t.Fatalf("step %d: negative reserve %+v", i, got)
		}
	}
}

func TestDustDepositRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	pool := fundedPool(t, e, "100000000", "0.00000001")

	// both quotients truncate to zero shares; reject instead of absorbing the
	// deposit with no credit
	_, err := e.AddLiquidity(ctx, AddLiquidityRequest{
		Principal: "bob",
		PoolID:    pool.ID,
		AmountA:   fixed.NewUnits(1),
		AmountB:   fixed.NewUnits(1),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for dust deposit, got %v", err)
	}
}
