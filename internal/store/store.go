// Package store defines the persistence contract for pools, positions and
// trades. All reserve mutation goes through WithPoolLocked, which serializes
// the read-compute-write cycle per pool.
package store

import (
	"context"
	"errors"

	"poolswap/internal/fixed"
	"poolswap/internal/model"
)

var (
	// ErrPoolNotFound is returned when a pool ID resolves to no record.
	ErrPoolNotFound = errors.New("store: pool not found")
	// ErrPositionNotFound is returned when a principal has no stake in a pool.
	ErrPositionNotFound = errors.New("store: position not found")
	// ErrBusy is returned when the per-pool lock cannot be acquired within the
	// store's bounded wait.
	ErrBusy = errors.New("store: pool busy")
	// ErrConcurrentModification is returned by optimistic implementations when
	// a commit races another writer; callers must retry the whole computation.
	ErrConcurrentModification = errors.New("store: concurrent modification")
)

// PoolTx is the view handed to a WithPoolLocked callback. Reads observe the
// locked pool's current state; the Set/Upsert/Delete/Append methods collect a
// proposed next state that the store commits atomically if and only if the
// callback returns nil. Position mutations apply in call order, so an upsert
// after a delete of the same principal leaves the position in place.
type PoolTx interface {
	// Pool returns the locked pool's current state.
	Pool() model.Pool
	// Position returns the principal's current position in the locked pool.
	Position(principal string) (model.Position, bool, error)

	// SetReserves proposes new reserves for the pool's canonical token order.
	SetReserves(reserveA, reserveB fixed.Dec)
	// SetTotalShares proposes a new total share supply.
	SetTotalShares(total fixed.Dec)
	// UpsertPosition proposes an absolute share balance for the principal.
	UpsertPosition(principal string, shares fixed.Dec)
	// DeletePosition proposes removing the principal's position record.
	DeletePosition(principal string)
	// AppendTrade proposes recording the trade. The store fills in trade.ID
	// and trade.Ref at commit.
	AppendTrade(trade *model.Trade)
}

// PoolStore owns Pool, Position and Trade records.
type PoolStore interface {
	// GetOrCreatePool resolves the unordered pair to its pool, creating an
	// empty one with the given fee rate if absent.
	GetOrCreatePool(ctx context.Context, tokenA, tokenB string, feeRate fixed.Dec) (model.Pool, error)
	GetPool(ctx context.Context, poolID string) (model.Pool, error)
	ListPools(ctx context.Context) ([]model.Pool, error)

	// WithPoolLocked runs fn with exclusive access to the pool. No other
	// mutation of the same pool interleaves; mutations of different pools do
	// not block each other. A non-nil error from fn aborts with no state
	// change.
	WithPoolLocked(ctx context.Context, poolID string, fn func(tx PoolTx) error) error

	GetPosition(ctx context.Context, principal, poolID string) (model.Position, error)
	ListPositions(ctx context.Context, principal string) ([]model.Position, error)
	ListTrades(ctx context.Context, principal string, limit int) ([]model.Trade, error)

	Close()
}
