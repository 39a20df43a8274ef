// Package ledger provides append-only sinks for completed trade records.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"poolswap/internal/model"
)

// Sink receives completed trades. The store's trade table stays the
// authoritative record; a sink is a mirror for auditing.
type Sink interface {
	Append(trades ...model.Trade) error
}

// Nop discards trades.
type Nop struct{}

func (Nop) Append(...model.Trade) error { return nil }

// Jsonl appends trades to a JSONL file.
type Jsonl struct {
	path string
	mu   sync.Mutex
}

func NewJsonl(path string) *Jsonl {
	return &Jsonl{path: path}
}

// Append writes each trade as one JSON line.
func (s *Jsonl) Append(trades ...model.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, trade := range trades {
		line, err := json.Marshal(trade)
		if err != nil {
			return fmt.Errorf("marshal trade: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write trade: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}

	return nil
}
