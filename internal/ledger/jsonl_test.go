package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"poolswap/internal/fixed"
	"poolswap/internal/model"
)

func TestJsonlAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "trades.jsonl")
	sink := NewJsonl(path)

	first := model.Trade{
		ID: 1, Ref: "local-A/B-1", Principal: "alice", PoolID: "A/B",
		TokenIn: "A", AmountIn: fixed.FromInt(100),
		TokenOut: "B", AmountOut: fixed.MustFromString("90.66108938"),
		Fee: fixed.MustFromString("0.3"), ExecutedAt: time.Now().UTC(),
	}
	second := first
	second.ID = 2
	second.Ref = "local-A/B-2"

	if err := sink.Append(first); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := sink.Append(second); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer file.Close()

	var got []model.Trade
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var tr model.Trade
		if err := json.Unmarshal(scanner.Bytes(), &tr); err != nil {
			t.Fatalf("parse line failed: %v", err)
		}
		got = append(got, tr)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("unexpected ledger contents: %+v", got)
	}
	if !got[0].AmountOut.Equal(first.AmountOut) {
		t.Fatalf("amount mismatch: %s", got[0].AmountOut)
	}
}

func TestJsonlAppendEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	sink := NewJsonl(path)
	if err := sink.Append(); err != nil {
		t.Fatalf("empty append failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("empty append should not create the file")
	}
}
