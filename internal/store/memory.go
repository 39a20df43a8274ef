package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"poolswap/internal/fixed"
	"poolswap/internal/model"
)

const defaultLockWait = 2 * time.Second

// MemoryOptions configures a Memory store.
type MemoryOptions struct {
	// SnapshotPath, when set, persists the full store state to a JSON file
	// after every commit and reloads it on open.
	SnapshotPath string
	// LockWait bounds how long WithPoolLocked waits for a pool's lock before
	// returning ErrBusy. Zero means the default of two seconds.
	LockWait time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Memory is an in-process PoolStore. Each pool carries its own lock, so
// operations against different pools never block each other.
type Memory struct {
	mu          sync.RWMutex
	pools       map[string]*poolEntry
	positions   map[string]map[string]model.Position // pool ID -> principal
	trades      []model.Trade
	nextTradeID uint64

	lockWait time.Duration
	snapshot *snapshotFile
	now      func() time.Time
}

type poolEntry struct {
	pool model.Pool
	sem  chan struct{}
}

// NewMemory opens an in-memory store, loading the snapshot file if one is
// configured and present.
func NewMemory(opts MemoryOptions) (*Memory, error) {
	m := &Memory{
		pools:       make(map[string]*poolEntry),
		positions:   make(map[string]map[string]model.Position),
		nextTradeID: 1,
		lockWait:    opts.LockWait,
		now:         opts.Now,
	}
	if m.lockWait <= 0 {
		m.lockWait = defaultLockWait
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if opts.SnapshotPath != "" {
		m.snapshot = &snapshotFile{path: opts.SnapshotPath}
		snap, ok, err := m.snapshot.load()
		if err != nil {
			return nil, err
		}
		if ok {
			m.restore(snap)
		}
	}
	return m, nil
}

func (m *Memory) restore(snap memorySnapshot) {
	for _, pool := range snap.Pools {
		m.pools[pool.ID] = newPoolEntry(pool)
	}
	for _, pos := range snap.Positions {
		byPrincipal, ok := m.positions[pos.PoolID]
		if !ok {
			byPrincipal = make(map[string]model.Position)
			m.positions[pos.PoolID] = byPrincipal
		}
		byPrincipal[pos.Principal] = pos
	}
	m.trades = append(m.trades, snap.Trades...)
	if snap.NextTradeID > 0 {
		m.nextTradeID = snap.NextTradeID
	}
}

func newPoolEntry(pool model.Pool) *poolEntry {
	return &poolEntry{pool: pool, sem: make(chan struct{}, 1)}
}

// Close is a no-op; the store has no external resources.
func (m *Memory) Close() {}

// GetOrCreatePool implements PoolStore.
func (m *Memory) GetOrCreatePool(ctx context.Context, tokenA, tokenB string, feeRate fixed.Dec) (model.Pool, error) {
	id, _, _, err := model.PairID(tokenA, tokenB)
	if err != nil {
		return model.Pool{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.pools[id]; ok {
		return entry.pool, nil
	}

	pool, err := model.NewPool(tokenA, tokenB, feeRate, m.now())
	if err != nil {
		return model.Pool{}, err
	}
	m.pools[id] = newPoolEntry(pool)

	if err := m.persistLocked(); err != nil {
		delete(m.pools, id)
		return model.Pool{}, err
	}
	return pool, nil
}

// GetPool implements PoolStore.
func (m *Memory) GetPool(ctx context.Context, poolID string) (model.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.pools[poolID]
	if !ok {
		return model.Pool{}, ErrPoolNotFound
	}
	return entry.pool, nil
}

// ListPools implements PoolStore. Pools are ordered by ID.
func (m *Memory) ListPools(ctx context.Context) ([]model.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pools := make([]model.Pool, 0, len(m.pools))
	for _, entry := range m.pools {
		pools = append(pools, entry.pool)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })
	return pools, nil
}

// WithPoolLocked implements PoolStore. The pool's lock is held from before fn
// reads the snapshot until after the proposed state is applied, so two
// callers can never compute from the same stale reserves.
func (m *Memory) WithPoolLocked(ctx context.Context, poolID string, fn func(tx PoolTx) error) error {
	m.mu.RLock()
	entry, ok := m.pools[poolID]
	m.mu.RUnlock()
	if !ok {
		return ErrPoolNotFound
	}

	timer := time.NewTimer(m.lockWait)
	defer timer.Stop()
	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBusy
	}
	defer func() { <-entry.sem }()

	m.mu.RLock()
	snapshot := entry.pool
	m.mu.RUnlock()

	tx := &memTx{store: m, pool: snapshot}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(entry, tx)
}

// applyLocked turns the collected proposal into the next store state. Nothing
// is published until the snapshot holding the proposal is on disk, so a failed
// save leaves the store exactly as fn found it.
func (m *Memory) applyLocked(entry *poolEntry, tx *memTx) error {
	now := m.now()

	pool := tx.pool
	if tx.reservesSet {
		pool.ReserveA, pool.ReserveB = tx.reserveA, tx.reserveB
	}
	if tx.sharesSet {
		pool.TotalShares = tx.totalShares
	}
	pool.UpdatedAt = now

	next := make(map[string]model.Position, len(m.positions[pool.ID]))
	for principal, pos := range m.positions[pool.ID] {
		next[principal] = pos
	}
	for _, op := range tx.posOps {
		if op.remove {
			delete(next, op.principal)
			continue
		}
		pos, exists := next[op.principal]
		if !exists {
			pos = model.Position{Principal: op.principal, PoolID: pool.ID, CreatedAt: now}
		}
		pos.Shares = op.shares
		pos.UpdatedAt = now
		next[op.principal] = pos
	}

	nextTradeID := m.nextTradeID
	staged := make([]model.Trade, 0, len(tx.trades))
	for _, trade := range tx.trades {
		tr := *trade
		tr.ID = nextTradeID
		tr.Ref = model.TradeRef(pool.ID, tr.ID)
		tr.PoolID = pool.ID
		if tr.ExecutedAt.IsZero() {
			tr.ExecutedAt = now
		}
		nextTradeID++
		staged = append(staged, tr)
	}

	if err := m.persistProposedLocked(pool, next, staged, nextTradeID); err != nil {
		return err
	}

	entry.pool = pool
	m.positions[pool.ID] = next
	m.trades = append(m.trades, staged...)
	m.nextTradeID = nextTradeID
	for i, trade := range tx.trades {
		*trade = staged[i]
	}
	return nil
}

func (m *Memory) persistLocked() error {
	if m.snapshot == nil {
		return nil
	}
	snap := memorySnapshot{NextTradeID: m.nextTradeID, Trades: m.trades}
	for _, entry := range m.pools {
		snap.Pools = append(snap.Pools, entry.pool)
	}
	for _, byPrincipal := range m.positions {
		for _, pos := range byPrincipal {
			snap.Positions = append(snap.Positions, pos)
		}
	}
	return m.writeSnapshotLocked(snap)
}

// persistProposedLocked saves the store state as it will look once the
// proposal for one pool is published.
func (m *Memory) persistProposedLocked(pool model.Pool, positions map[string]model.Position, staged []model.Trade, nextTradeID uint64) error {
	if m.snapshot == nil {
		return nil
	}
	snap := memorySnapshot{NextTradeID: nextTradeID}
	snap.Trades = append(append([]model.Trade(nil), m.trades...), staged...)
	for _, entry := range m.pools {
		p := entry.pool
		if p.ID == pool.ID {
			p = pool
		}
		snap.Pools = append(snap.Pools, p)
	}
	for poolID, byPrincipal := range m.positions {
		if poolID == pool.ID {
			continue
		}
		for _, pos := range byPrincipal {
			snap.Positions = append(snap.Positions, pos)
		}
	}
	for _, pos := range positions {
		snap.Positions = append(snap.Positions, pos)
	}
	return m.writeSnapshotLocked(snap)
}

// writeSnapshotLocked runs under the store lock. The snapshot file holds the
// whole store, so a write racing another pool's publish could persist a state
// missing an acknowledged commit.
func (m *Memory) writeSnapshotLocked(snap memorySnapshot) error {
	if m.snapshot == nil {
		return nil
	}
	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].ID < snap.Pools[j].ID })
	sort.Slice(snap.Positions, func(i, j int) bool {
		a, b := snap.Positions[i], snap.Positions[j]
		if a.PoolID != b.PoolID {
			return a.PoolID < b.PoolID
		}
		return a.Principal < b.Principal
	})
	return m.snapshot.save(snap, m.now())
}

// GetPosition implements PoolStore.
func (m *Memory) GetPosition(ctx context.Context, principal, poolID string) (model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.pools[poolID]; !ok {
		return model.Position{}, ErrPoolNotFound
	}
	pos, ok := m.positions[poolID][principal]
	if !ok {
		return model.Position{}, ErrPositionNotFound
	}
	return pos, nil
}

// ListPositions implements PoolStore. Positions are ordered by pool ID.
func (m *Memory) ListPositions(ctx context.Context, principal string) ([]model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Position
	for _, byPrincipal := range m.positions {
		if pos, ok := byPrincipal[principal]; ok {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

// ListTrades implements PoolStore. Trades are returned newest first.
func (m *Memory) ListTrades(ctx context.Context, principal string, limit int) ([]model.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		if principal != "" && m.trades[i].Principal != principal {
			continue
		}
		out = append(out, m.trades[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// memTx collects a proposed pool state under the pool's lock.
type memTx struct {
	store *Memory
	pool  model.Pool

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

func (t *memTx) Pool() model.Pool { return t.pool }

func (t *memTx) Position(principal string) (model.Position, bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	pos, ok := t.store.positions[t.pool.ID][principal]
	return pos, ok, nil
}

func (t *memTx) SetReserves(reserveA, reserveB fixed.Dec) {
	t.reservesSet = true
	t.reserveA, t.reserveB = reserveA, reserveB
}

func (t *memTx) SetTotalShares(total fixed.Dec) {
	t.sharesSet = true
	t.totalShares = total
}

func (t *memTx) UpsertPosition(principal string, shares fixed.Dec) {
	t.posOps = append(t.posOps, positionOp{principal: principal, shares: shares})
}

func (t *memTx) DeletePosition(principal string) {
	t.posOps = append(t.posOps, positionOp{principal: principal, remove: true})
}

func (t *memTx) AppendTrade(trade *model.Trade) {
	t.trades = append(t.trades, trade)
}

var _ PoolStore = (*Memory)(nil)
