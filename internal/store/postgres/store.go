// Package postgres implements store.PoolStore on PostgreSQL. Per-pool
// exclusivity comes from SELECT ... FOR UPDATE on the pool row; the whole
// proposed state commits in one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolswap/internal/fixed"
	"poolswap/internal/model"
	"poolswap/internal/store"
)

const defaultLockWait = 2 * time.Second

// lock_not_available, raised when lock_timeout expires while waiting on the
// pool row.
const pgLockNotAvailable = "55P03"

// Store provides Postgres persistence for pools, positions and trades.
type Store struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

// NewStore connects to Postgres. lockWait bounds how long a locked mutation
// waits on a pool row before ErrBusy; zero means two seconds.
func NewStore(ctx context.Context, dsn string, lockWait time.Duration) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, lockWait: lockWait}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pools (
			id TEXT PRIMARY KEY,
			token_a TEXT NOT NULL,
			token_b TEXT NOT NULL,
			reserve_a NUMERIC(30,8) NOT NULL DEFAULT 0,
			reserve_b NUMERIC(30,8) NOT NULL DEFAULT 0,
			total_shares NUMERIC(30,8) NOT NULL DEFAULT 0,
			fee_rate NUMERIC(12,8) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (token_a, token_b)
		);

		CREATE TABLE IF NOT EXISTS positions (
			principal TEXT NOT NULL,
			pool_id TEXT NOT NULL REFERENCES pools(id),
			shares NUMERIC(30,8) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (principal, pool_id)
		);

		CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			ref TEXT NOT NULL,
			principal TEXT NOT NULL,
			pool_id TEXT NOT NULL REFERENCES pools(id),
			token_in TEXT NOT NULL,
			amount_in NUMERIC(30,8) NOT NULL,
			token_out TEXT NOT NULL,
			amount_out NUMERIC(30,8) NOT NULL,
			fee NUMERIC(30,8) NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS trades_principal_idx ON trades (principal, id DESC);
	`)
	return err
}

const poolColumns = `id, token_a, token_b, reserve_a::text, reserve_b::text, total_shares::text, fee_rate::text, created_at, updated_at`

func scanPool(row pgx.Row) (model.Pool, error) {
	var p model.Pool
	err := row.Scan(&p.ID, &p.TokenA, &p.TokenB, &p.ReserveA, &p.ReserveB, &p.TotalShares, &p.FeeRate, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetOrCreatePool implements store.PoolStore.
func (s *Store) GetOrCreatePool(ctx context.Context, tokenA, tokenB string, feeRate fixed.Dec) (model.Pool, error) {
	id, first, second, err := model.PairID(tokenA, tokenB)
	if err != nil {
		return model.Pool{}, err
	}
	if feeRate.IsNegative() {
		return model.Pool{}, fmt.Errorf("fee rate must not be negative, got %s", feeRate)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pools (id, token_a, token_b, fee_rate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_a, token_b) DO NOTHING
	`, id, first, second, feeRate)
	if err != nil {
		return model.Pool{}, fmt.Errorf("create pool: %w", err)
	}

	return s.GetPool(ctx, id)
}

// GetPool implements store.PoolStore.
func (s *Store) GetPool(ctx context.Context, poolID string) (model.Pool, error) {
	pool, err := scanPool(s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, poolID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pool{}, store.ErrPoolNotFound
		}
		return model.Pool{}, fmt.Errorf("get pool: %w", err)
	}
	return pool, nil
}

// ListPools implements store.PoolStore.
func (s *Store) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}

// WithPoolLocked implements store.PoolStore. The pool row is locked FOR
// UPDATE for the duration of fn, and the proposed state is committed in the
// same transaction.
func (s *Store) WithPoolLocked(ctx context.Context, poolID string, fn func(tx store.PoolTx) error) error {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer dbtx.Rollback(ctx)

	if _, err := dbtx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	pool, err := scanPool(dbtx.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1 FOR UPDATE`, poolID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrPoolNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return store.ErrBusy
		}
		return fmt.Errorf("lock pool: %w", err)
	}

	ptx := &pgTx{ctx: ctx, tx: dbtx, pool: pool}
	if err := fn(ptx); err != nil {
		return err
	}
	if err := ptx.apply(); err != nil {
		return err
	}

	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetPosition implements store.PoolStore.
func (s *Store) GetPosition(ctx context.Context, principal, poolID string) (model.Position, error) {
	return queryPosition(ctx, s.pool, principal, poolID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func queryPosition(ctx context.Context, q querier, principal, poolID string) (model.Position, error) {
	var pos model.Position
	err := q.QueryRow(ctx, `
		SELECT principal, pool_id, shares::text, created_at, updated_at
		FROM positions WHERE principal = $1 AND pool_id = $2
	`, principal, poolID).Scan(&pos.Principal, &pos.PoolID, &pos.Shares, &pos.CreatedAt, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Position{}, store.ErrPositionNotFound
		}
		return model.Position{}, fmt.Errorf("get position: %w", err)
	}
	return pos, nil
}

// ListPositions implements store.PoolStore.
func (s *Store) ListPositions(ctx context.Context, principal string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT principal, pool_id, shares::text, created_at, updated_at
		FROM positions WHERE principal = $1 ORDER BY pool_id
	`, principal)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var pos model.Position
		if err := rows.Scan(&pos.Principal, &pos.PoolID, &pos.Shares, &pos.CreatedAt, &pos.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

// ListTrades implements store.PoolStore. Trades are returned newest first; an
// empty principal lists all trades.
func (s *Store) ListTrades(ctx context.Context, principal string, limit int) ([]model.Trade, error) {
	query := `
		SELECT id, ref, principal, pool_id, token_in, amount_in::text, token_out, amount_out::text, fee::text, executed_at
		FROM trades`
	args := []any{}
	if principal != "" {
		query += ` WHERE principal = $1`
		args = append(args, principal)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var tr model.Trade
		if err := rows.Scan(&tr.ID, &tr.Ref, &tr.Principal, &tr.PoolID, &tr.TokenIn, &tr.AmountIn, &tr.TokenOut, &tr.AmountOut, &tr.Fee, &tr.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

var _ store.PoolStore = (*Store)(nil)

// pgTx collects the proposed state for one locked pool.
type pgTx struct {
	ctx  context.Context
	tx   pgx.Tx
	pool model.Pool

	reservesSet bool
	reserveA    fixed.Dec
	reserveB    fixed.Dec
	sharesSet   bool
	totalShares fixed.Dec
	posOps      []positionOp
	trades      []*model.Trade
}

// positionOp is one queued position mutation; ops replay in call order.
type positionOp struct {
	principal string
	shares    fixed.Dec
	remove    bool
}

func (t *pgTx) Pool() model.Pool { return t.pool }

func (t *pgTx) Position(principal string) (model.Position, bool, error) {
	pos, err := queryPosition(t.ctx, t.tx, principal, t.pool.ID)
	if err != nil {
		if errors.Is(err, store.ErrPositionNotFound) {
			return model.Position{}, false, nil
		}
		return model.Position{}, false, err
	}
	return pos, true, nil
}

func (t *pgTx) SetReserves(reserveA, reserveB fixed.Dec) {
	t.reservesSet = true
	t.reserveA, t.reserveB = reserveA, reserveB
}

func (t *pgTx) SetTotalShares(total fixed.Dec) {
	t.sharesSet = true
	t.totalShares = total
}

func (t *pgTx) UpsertPosition(principal string, shares fixed.Dec) {
	t.posOps = append(t.posOps, positionOp{principal: principal, shares: shares})
}

func (t *pgTx) DeletePosition(principal string) {
	t.posOps = append(t.posOps, positionOp{principal: principal, remove: true})
}

func (t *pgTx) AppendTrade(trade *model.Trade) {
	t.trades = append(t.trades, trade)
}

func (t *pgTx) apply() error {
	reserveA, reserveB := t.pool.ReserveA, t.pool.ReserveB
	if t.reservesSet {
		reserveA, reserveB = t.reserveA, t.reserveB
	}
	totalShares := t.pool.TotalShares
	if t.sharesSet {
		totalShares = t.totalShares
	}

	if _, err := t.tx.Exec(t.ctx, `
		UPDATE pools SET reserve_a = $2, reserve_b = $3, total_shares = $4, updated_at = now()
		WHERE id = $1
	`, t.pool.ID, reserveA, reserveB, totalShares); err != nil {
		return fmt.Errorf("update pool: %w", err)
	}

	for _, op := range t.posOps {
		if op.remove {
			if _, err := t.tx.Exec(t.ctx, `
				DELETE FROM positions WHERE principal = $1 AND pool_id = $2
			`, op.principal, t.pool.ID); err != nil {
				return fmt.Errorf("delete position: %w", err)
			}
			continue
		}
		if _, err := t.tx.Exec(t.ctx, `
			INSERT INTO positions (principal, pool_id, shares)
			VALUES ($1, $2, $3)
			ON CONFLICT (principal, pool_id)
			DO UPDATE SET shares = EXCLUDED.shares, updated_at = now()
		`, op.principal, t.pool.ID, op.shares); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	for _, trade := range t.trades {
		trade.PoolID = t.pool.ID
		row := t.tx.QueryRow(t.ctx, `
			INSERT INTO trades (ref, principal, pool_id, token_in, amount_in, token_out, amount_out, fee)
			VALUES ('', $1, $2, $3, $4, $5, $6, $7)
			RETURNING id, executed_at
		`, trade.Principal, trade.PoolID, trade.TokenIn, trade.AmountIn, trade.TokenOut, trade.AmountOut, trade.Fee)
		if err := row.Scan(&trade.ID, &trade.ExecutedAt); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		trade.Ref = model.TradeRef(trade.PoolID, trade.ID)
		if _, err := t.tx.Exec(t.ctx, `UPDATE trades SET ref = $2 WHERE id = $1`, trade.ID, trade.Ref); err != nil {
			return fmt.Errorf("set trade ref: %w", err)
		}
	}

	return nil
}
