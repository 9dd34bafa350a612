package market

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Token observation model
// ---------------------------------------------------------------------------

// Metric is a numeric observation field that may be unknown when its source
// was unreachable or returned malformed data. Unknown fields are valid
// downstream inputs; the scorer treats them as worst-case.
type Metric struct {
	Value decimal.Decimal `json:"value"`
	Known bool            `json:"known"`
}

// KnownMetric wraps a value read successfully from a source.
func KnownMetric(v decimal.Decimal) Metric {
	return Metric{Value: v, Known: true}
}

// UnknownMetric marks a field whose source degraded.
func UnknownMetric() Metric {
	return Metric{}
}

// SecurityReport is the security-API verdict for a mint. Known is false when
// the provider was unreachable; the individual flags are then meaningless.
type SecurityReport struct {
	Known bool `json:"known"`

	// Mint authority not renounced: supply can be inflated.
	Mintable bool `json:"mintable"`

	// Freeze authority not renounced: holder accounts can be frozen.
	Freezable bool `json:"freezable"`

	// Combined share of supply held by the largest holders, percent.
	TopHolderPct float64 `json:"top_holder_pct"`

	// LP tokens locked or burned.
	LPLocked bool `json:"lp_locked"`
}

// TokenObservation is an immutable snapshot of everything the system knows
// about a mint at one point in time. A newer observation of the same mint
// supersedes it; it is never mutated in place.
type TokenObservation struct {
	Mint         solana.Pubkey  `json:"mint"`
	LiquidityUSD Metric         `json:"liquidity_usd"`
	Volume24hUSD Metric         `json:"volume_24h_usd"`
	PriceUSD     Metric         `json:"price_usd"`
	Security     SecurityReport `json:"security"`
	ObservedAt   time.Time      `json:"observed_at"`
}
