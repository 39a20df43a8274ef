package model

import (
	"time"

	"poolswap/internal/fixed"
)

// Position is one depositor's liquidity stake in a pool. A principal holds at
// most one position per pool; it is deleted outright when the stake reaches
// zero.
type Position struct {
	Principal string    `json:"principal"`
	PoolID    string    `json:"pool_id"`
	Shares    fixed.Dec `json:"shares"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
