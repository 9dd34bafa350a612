package safety

import (
	"github.com/shopspring/decimal"
	"github.com/talon-trading/talon/internal/market"
)

// ---------------------------------------------------------------------------
// Safety Scoring Engine
// Liquidity + Volume + Security sub-scores, equally weighted composite
// ---------------------------------------------------------------------------

// Verdict is the scorer's pass/fail decision.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// Score is the full safety breakdown for one observation. Sub-scores and
// the composite are all in [0, 1].
type Score struct {
	Composite float64  `json:"composite"`
	Liquidity float64  `json:"liquidity"`
	Volume    float64  `json:"volume"`
	Security  float64  `json:"security"`
	Verdict   Verdict  `json:"verdict"`
	Reasons   []string `json:"reasons,omitempty"`
}

// SecurityPenalties defines the score deduction per security flag.
type SecurityPenalties struct {
	Mintable     float64 `yaml:"mintable"`       // default 0.40
	Freezable    float64 `yaml:"freezable"`      // default 0.30
	LPUnlocked   float64 `yaml:"lp_unlocked"`    // default 0.20
	Concentrated float64 `yaml:"concentrated"`   // default 0.30
	TopHolderPct float64 `yaml:"top_holder_pct"` // concentration trigger, default 50
}

// DefaultPenalties returns the standard deduction table.
func DefaultPenalties() SecurityPenalties {
	return SecurityPenalties{
		Mintable:     0.40,
		Freezable:    0.30,
		LPUnlocked:   0.20,
		Concentrated: 0.30,
		TopHolderPct: 50,
	}
}

// Config configures the scorer.
type Config struct {
	Threshold       float64           `yaml:"threshold"`          // default 0.55
	MinLiquidityUSD decimal.Decimal   `yaml:"min_liquidity_usd"`  // default 2500
	MinVolume24hUSD decimal.Decimal   `yaml:"min_volume_24h_usd"` // default 500
	Penalties       SecurityPenalties `yaml:"penalties"`
}

// DefaultConfig returns the standard scorer settings.
func DefaultConfig() Config {
	return Config{
		Threshold:       0.55,
		MinLiquidityUSD: decimal.NewFromInt(2500),
		MinVolume24hUSD: decimal.NewFromInt(500),
		Penalties:       DefaultPenalties(),
	}
}

// Scorer computes safety scores. It is stateless: the same observation and
// config always produce the same score.
type Scorer struct {
	config Config
}

// NewScorer creates a scorer.
func NewScorer(config Config) *Scorer {
	return &Scorer{config: config}
}

// Evaluate scores one observation. Unknown fields contribute a zero
// sub-score, so missing data always pushes toward rejection.
func (s *Scorer) Evaluate(obs market.TokenObservation) Score {
	sc := Score{}

	sc.Liquidity = s.ratioScore(obs.LiquidityUSD, s.config.MinLiquidityUSD)
	if !obs.LiquidityUSD.Known {
		sc.Reasons = append(sc.Reasons, "liquidity_unknown")
	}

	sc.Volume = s.ratioScore(obs.Volume24hUSD, s.config.MinVolume24hUSD)
	if !obs.Volume24hUSD.Known {
		sc.Reasons = append(sc.Reasons, "volume_unknown")
	}

	var secReasons []string
	sc.Security, secReasons = s.securityScore(obs.Security)
	sc.Reasons = append(sc.Reasons, secReasons...)

	sc.Composite = (sc.Liquidity + sc.Volume + sc.Security) / 3

	if sc.Composite >= s.config.Threshold {
		sc.Verdict = VerdictPass
	} else {
		sc.Verdict = VerdictFail
	}
	return sc
}

// ratioScore maps a metric against its minimum: value/min capped at 1.0,
// zero when the metric is unknown or the minimum is non-positive.
func (s *Scorer) ratioScore(m market.Metric, min decimal.Decimal) float64 {
	if !m.Known || !min.IsPositive() {
		return 0
	}
	if m.Value.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	ratio, _ := m.Value.Div(min).Float64()
	if ratio > 1 {
		return 1
	}
	return ratio
}

// securityScore starts at 1.0 and deducts per raised flag, floored at zero.
func (s *Scorer) securityScore(rep market.SecurityReport) (float64, []string) {
	if !rep.Known {
		return 0, []string{"security_unknown"}
	}

	p := s.config.Penalties
	score := 1.0
	var reasons []string

	if rep.Mintable {
		score -= p.Mintable
		reasons = append(reasons, "mint_authority_active")
	}
	if rep.Freezable {
		score -= p.Freezable
		reasons = append(reasons, "freeze_authority_active")
	}
	if !rep.LPLocked {
		score -= p.LPUnlocked
		reasons = append(reasons, "lp_unlocked")
	}
	if rep.TopHolderPct > p.TopHolderPct {
		score -= p.Concentrated
		reasons = append(reasons, "holder_concentration")
	}

	if score < 0 {
		score = 0
	}
	return score, reasons
}
