package model

import (
	"fmt"
	"strings"
	"time"

	"poolswap/internal/fixed"
)

// Pool holds the shared reserves for one unordered token pair. Token symbols
// are kept in canonical (lexicographic) order so (A,B) and (B,A) address the
// same record.
type Pool struct {
	ID          string    `json:"id"`
	TokenA      string    `json:"token_a"`
	TokenB      string    `json:"token_b"`
	ReserveA    fixed.Dec `json:"reserve_a"`
	ReserveB    fixed.Dec `json:"reserve_b"`
	TotalShares fixed.Dec `json:"total_shares"`
	FeeRate     fixed.Dec `json:"fee_rate"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PairID normalizes an unordered token pair into its canonical pool ID and
// ordered symbols.
func PairID(tokenA, tokenB string) (id, first, second string, err error) {
	first = strings.ToUpper(strings.TrimSpace(tokenA))
	second = strings.ToUpper(strings.TrimSpace(tokenB))
	if first == "" || second == "" {
		return "", "", "", fmt.Errorf("both token symbols are required")
	}
	if first == second {
		return "", "", "", fmt.Errorf("pool tokens must differ, got %s/%s", first, second)
	}
	if first > second {
		first, second = second, first
	}
	return first + "/" + second, first, second, nil
}

// NewPool creates an empty pool for the pair with the given fee rate.
func NewPool(tokenA, tokenB string, feeRate fixed.Dec, now time.Time) (Pool, error) {
	id, first, second, err := PairID(tokenA, tokenB)
	if err != nil {
		return Pool{}, err
	}
	if feeRate.IsNegative() {
		return Pool{}, fmt.Errorf("fee rate must not be negative, got %s", feeRate)
	}
	return Pool{
		ID:        id,
		TokenA:    first,
		TokenB:    second,
		FeeRate:   feeRate,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasToken reports whether symbol is one of the pool's two tokens.
func (p Pool) HasToken(symbol string) bool {
	return symbol == p.TokenA || symbol == p.TokenB
}

// ReserveFor returns the reserve held for symbol.
func (p Pool) ReserveFor(symbol string) (fixed.Dec, error) {
	switch symbol {
	case p.TokenA:
		return p.ReserveA, nil
	case p.TokenB:
		return p.ReserveB, nil
	default:
		return fixed.Dec{}, fmt.Errorf("token %s is not in pool %s", symbol, p.ID)
	}
}

// OppositeToken returns the pool token paired with symbol.
func (p Pool) OppositeToken(symbol string) (string, error) {
	switch symbol {
	case p.TokenA:
		return p.TokenB, nil
	case p.TokenB:
		return p.TokenA, nil
	default:
		return "", fmt.Errorf("token %s is not in pool %s", symbol, p.ID)
	}
}
