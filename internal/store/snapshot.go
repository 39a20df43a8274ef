package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"poolswap/internal/model"
)

// memorySnapshot is the on-disk form of a Memory store.
type memorySnapshot struct {
	Pools       []model.Pool     `json:"pools"`
	Positions   []model.Position `json:"positions"`
	Trades      []model.Trade    `json:"trades"`
	NextTradeID uint64           `json:"next_trade_id"`
	UpdatedAt   string           `json:"updated_at"`
}

// snapshotFile persists snapshots to disk with an atomic tmp+rename write.
type snapshotFile struct {
	path string
}

func (s *snapshotFile) load() (memorySnapshot, bool, error) {
	stat, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return memorySnapshot{}, false, nil
		}
		return memorySnapshot{}, false, fmt.Errorf("stat snapshot: %w", err)
	}
	if stat.IsDir() {
		return memorySnapshot{}, false, fmt.Errorf("snapshot path is a directory")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return memorySnapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return memorySnapshot{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *snapshotFile) save(snap memorySnapshot, now time.Time) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	snap.UpdatedAt = now.UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
