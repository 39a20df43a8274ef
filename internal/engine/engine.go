// Package engine implements the constant-product swap and liquidity
// operations. The engine never mutates reserves directly: every operation
// computes a proposed next state from the snapshot handed to it inside the
// store's per-pool locked section and asks the store to commit it.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"poolswap/internal/fixed"
	"poolswap/internal/ledger"
	"poolswap/internal/model"
	"poolswap/internal/store"
)

// DefaultFeeRate is the fee fraction applied to new pools when none is given.
var DefaultFeeRate = fixed.MustFromString("0.003")

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 50 * time.Millisecond
)

// Options configures an Engine.
type Options struct {
	// Ledger mirrors committed trades; nil means no mirror.
	Ledger ledger.Sink
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// DefaultFeeRate applies to pools created without an explicit rate; zero
	// means DefaultFeeRate.
	DefaultFeeRate fixed.Dec
	// MaxRetries bounds how often a busy or concurrently-modified pool is
	// retried before the error is surfaced.
	MaxRetries int
	// RetryBackoff is the initial delay between retries, doubled each attempt.
	RetryBackoff time.Duration
}

// Engine runs swaps and liquidity operations against a PoolStore.
type Engine struct {
	store        store.PoolStore
	sink         ledger.Sink
	logger       *zap.Logger
	defaultFee   fixed.Dec
	maxRetries   int
	retryBackoff time.Duration
}

// New builds an Engine on top of the store.
func New(st store.PoolStore, opts Options) *Engine {
	e := &Engine{
		store:        st,
		sink:         opts.Ledger,
		logger:       opts.Logger,
		defaultFee:   opts.DefaultFeeRate,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
	}
	if e.sink == nil {
		e.sink = ledger.Nop{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.defaultFee.IsZero() {
		e.defaultFee = DefaultFeeRate
	}
	if e.maxRetries <= 0 {
		e.maxRetries = defaultMaxRetries
	}
	if e.retryBackoff <= 0 {
		e.retryBackoff = defaultRetryBackoff
	}
	return e
}

// Store exposes the underlying store for read-only queries.
func (e *Engine) Store() store.PoolStore { return e.store }

// CreatePool resolves or creates the pool for the unordered pair. A nil fee
// rate means the engine default; an explicit zero creates a fee-free pool.
func (e *Engine) CreatePool(ctx context.Context, tokenA, tokenB string, feeRate *fixed.Dec) (model.Pool, error) {
	rate := e.defaultFee
	if feeRate != nil {
		rate = *feeRate
	}
	if rate.IsNegative() {
		return model.Pool{}, errValidation("fee_rate", "must not be negative")
	}
	if rate.Cmp(fixed.FromInt(1)) >= 0 {
		return model.Pool{}, errValidation("fee_rate", "must be below 1")
	}
	pool, err := e.store.GetOrCreatePool(ctx, tokenA, tokenB, rate)
	if err != nil {
		return model.Pool{}, err
	}
	e.logger.Info("pool ready",
		zap.String("pool", pool.ID),
		zap.String("fee_rate", pool.FeeRate.String()),
	)
	return pool, nil
}

// withPoolRetry runs the locked mutation, retrying the whole computation a
// bounded number of times when the pool is busy or was concurrently modified.
// fn must be pure given the snapshot it reads from the transaction, since a
// retry re-invokes it against fresh state.
func (e *Engine) withPoolRetry(ctx context.Context, poolID string, fn func(tx store.PoolTx) error) error {
	delay := e.retryBackoff
	for attempt := 0; ; attempt++ {
		err := e.store.WithPoolLocked(ctx, poolID, fn)
		if err == nil || !isTransient(err) || attempt >= e.maxRetries {
			return err
		}

		e.logger.Warn("pool contended, retrying",
			zap.String("pool", poolID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func isTransient(err error) bool {
	return errors.Is(err, store.ErrBusy) || errors.Is(err, store.ErrConcurrentModification)
}

// mirror appends the trade to the ledger sink. The store commit is already
// durable at this point, so a sink failure is logged rather than unwound.
func (e *Engine) mirror(trade model.Trade) {
	if err := e.sink.Append(trade); err != nil {
		e.logger.Error("trade ledger append failed",
			zap.String("ref", trade.Ref),
			zap.Error(err),
		)
	}
}
