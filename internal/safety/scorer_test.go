package safety

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talon-trading/talon/internal/market"
)

func cleanReport() market.SecurityReport {
	return market.SecurityReport{Known: true, LPLocked: true}
}

func obsWith(liq, vol int64, rep market.SecurityReport) market.TokenObservation {
	return market.TokenObservation{
		Mint:         "So11111111111111111111111111111111111111112",
		LiquidityUSD: market.KnownMetric(decimal.NewFromInt(liq)),
		Volume24hUSD: market.KnownMetric(decimal.NewFromInt(vol)),
		PriceUSD:     market.KnownMetric(decimal.NewFromFloat(0.001)),
		Security:     rep,
	}
}

func TestEvaluate_HealthyTokenPasses(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// Liquidity and volume both well above minimums, clean security.
	score := s.Evaluate(obsWith(10_000, 1_000, cleanReport()))

	assert.Equal(t, 1.0, score.Liquidity)
	assert.Equal(t, 1.0, score.Volume)
	assert.Equal(t, 1.0, score.Security)
	assert.Equal(t, 1.0, score.Composite)
	assert.Equal(t, VerdictPass, score.Verdict)
	assert.Empty(t, score.Reasons)
}

func TestEvaluate_RatioSaturatesAtOne(t *testing.T) {
	s := NewScorer(DefaultConfig())

	modest := s.Evaluate(obsWith(5_000, 1_000, cleanReport()))
	huge := s.Evaluate(obsWith(50_000_000, 1_000, cleanReport()))

	// Excess liquidity beyond the cap buys no extra score.
	assert.Equal(t, modest.Liquidity, huge.Liquidity)
	assert.Equal(t, modest.Composite, huge.Composite)
}

func TestEvaluate_PartialRatios(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// 1250/2500 liquidity, 250/500 volume: both sub-scores 0.5.
	score := s.Evaluate(obsWith(1_250, 250, cleanReport()))

	assert.InDelta(t, 0.5, score.Liquidity, 1e-9)
	assert.InDelta(t, 0.5, score.Volume, 1e-9)
	assert.InDelta(t, (0.5+0.5+1.0)/3, score.Composite, 1e-9)
	assert.Equal(t, VerdictPass, score.Verdict)
}

func TestEvaluate_UnknownFieldsScoreZero(t *testing.T) {
	s := NewScorer(DefaultConfig())

	obs := obsWith(10_000, 1_000, cleanReport())
	obs.LiquidityUSD = market.UnknownMetric()

	score := s.Evaluate(obs)

	assert.Equal(t, 0.0, score.Liquidity)
	assert.Contains(t, score.Reasons, "liquidity_unknown")
	// (0 + 1 + 1) / 3 ≈ 0.667, still above 0.55.
	assert.InDelta(t, 2.0/3, score.Composite, 1e-9)
	assert.Equal(t, VerdictPass, score.Verdict)
}

func TestEvaluate_UnknownSecurityFails(t *testing.T) {
	s := NewScorer(DefaultConfig())

	obs := obsWith(2_500, 500, market.SecurityReport{})
	obs.Volume24hUSD = market.UnknownMetric()

	score := s.Evaluate(obs)

	// (1 + 0 + 0) / 3 = 0.333, below the 0.55 threshold.
	assert.Equal(t, 0.0, score.Security)
	assert.Contains(t, score.Reasons, "security_unknown")
	assert.Equal(t, VerdictFail, score.Verdict)
}

func TestEvaluate_SecurityPenalties(t *testing.T) {
	s := NewScorer(DefaultConfig())

	t.Run("mintable", func(t *testing.T) {
		rep := cleanReport()
		rep.Mintable = true
		score := s.Evaluate(obsWith(10_000, 1_000, rep))
		assert.InDelta(t, 0.60, score.Security, 1e-9)
		assert.Contains(t, score.Reasons, "mint_authority_active")
	})

	t.Run("all flags floor at zero", func(t *testing.T) {
		rep := market.SecurityReport{
			Known:        true,
			Mintable:     true,
			Freezable:    true,
			LPLocked:     false,
			TopHolderPct: 80,
		}
		score := s.Evaluate(obsWith(10_000, 1_000, rep))
		// 1.0 - 0.40 - 0.30 - 0.20 - 0.30 floors at 0.
		assert.Equal(t, 0.0, score.Security)
		assert.Equal(t, VerdictPass, score.Verdict) // (1+1+0)/3 = 0.667
	})

	t.Run("concentration under trigger is free", func(t *testing.T) {
		rep := cleanReport()
		rep.TopHolderPct = 49.9
		score := s.Evaluate(obsWith(10_000, 1_000, rep))
		assert.Equal(t, 1.0, score.Security)
	})
}

func TestEvaluate_MonotoneInLiquidity(t *testing.T) {
	s := NewScorer(DefaultConfig())

	prev := -1.0
	for _, liq := range []int64{0, 500, 1_000, 2_000, 2_500, 5_000} {
		score := s.Evaluate(obsWith(liq, 1_000, cleanReport()))
		require.GreaterOrEqual(t, score.Composite, prev, "liquidity %d", liq)
		prev = score.Composite
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	s := NewScorer(DefaultConfig())
	obs := obsWith(3_333, 777, cleanReport())

	first := s.Evaluate(obs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Evaluate(obs))
	}
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 1.0
	s := NewScorer(cfg)

	// Composite exactly at threshold passes.
	score := s.Evaluate(obsWith(10_000, 1_000, cleanReport()))
	assert.Equal(t, 1.0, score.Composite)
	assert.Equal(t, VerdictPass, score.Verdict)
}
