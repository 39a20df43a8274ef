package model

import (
	"fmt"
	"time"

	"poolswap/internal/fixed"
)

// Trade is the append-only record of one completed swap. Records are never
// mutated or deleted once written.
type Trade struct {
	ID         uint64    `json:"id"`
	Ref        string    `json:"ref"`
	Principal  string    `json:"principal"`
	PoolID     string    `json:"pool_id"`
	TokenIn    string    `json:"token_in"`
	AmountIn   fixed.Dec `json:"amount_in"`
	TokenOut   string    `json:"token_out"`
	AmountOut  fixed.Dec `json:"amount_out"`
	Fee        fixed.Dec `json:"fee"`
	ExecutedAt time.Time `json:"executed_at"`
}

// TradeRef builds the synthetic reference for the n-th trade of a pool.
func TradeRef(poolID string, id uint64) string {
	return fmt.Sprintf("local-%s-%d", poolID, id)
}
