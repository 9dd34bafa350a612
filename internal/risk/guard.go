package risk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Session risk guard
// ---------------------------------------------------------------------------

// Config holds the loss limits. The daily loss cap is always active;
// it cannot be disabled, only widened.
type Config struct {
	// Trading halts for the rest of the UTC day once realized losses
	// reach this amount.
	MaxDailyLossUSD float64 `yaml:"max_daily_loss_usd"`

	// This many losing exits in a row pause entries for CooldownMinutes.
	MaxConsecutiveLosses int `yaml:"max_consecutive_losses"`
	CooldownMinutes      int `yaml:"cooldown_minutes"`
}

func (c *Config) applyDefaults() {
	if c.MaxDailyLossUSD == 0 {
		c.MaxDailyLossUSD = 25.0
	}
	if c.MaxConsecutiveLosses == 0 {
		c.MaxConsecutiveLosses = 5
	}
	if c.CooldownMinutes == 0 {
		c.CooldownMinutes = 30
	}
}

// Denial reasons.
const (
	ReasonKilled     = "kill_switch"
	ReasonDailyLoss  = "daily_loss_limit"
	ReasonLossStreak = "loss_streak_cooldown"
)

// Guard gates entry admission on realized losses. Exits are never
// blocked: a position in the book must always be allowed to unwind.
type Guard struct {
	config Config

	mu            sync.Mutex
	day           time.Time // UTC midnight of the current loss window
	dailyLossUSD  decimal.Decimal
	consecLosses  int
	cooldownUntil time.Time

	killed atomic.Bool

	allowed atomic.Int64
	denied  atomic.Int64
}

// NewGuard creates a session risk guard.
func NewGuard(config Config) *Guard {
	config.applyDefaults()
	return &Guard{
		config: config,
		day:    utcDay(time.Now()),
	}
}

// AllowEntry reports whether a new entry may be admitted. The second
// return names the denial reason when blocked.
func (g *Guard) AllowEntry() (bool, string) {
	if g.killed.Load() {
		g.denied.Add(1)
		return false, ReasonKilled
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(time.Now())

	if g.dailyLossUSD.GreaterThanOrEqual(decimal.NewFromFloat(g.config.MaxDailyLossUSD)) {
		g.denied.Add(1)
		return false, ReasonDailyLoss
	}
	if time.Now().Before(g.cooldownUntil) {
		g.denied.Add(1)
		return false, ReasonLossStreak
	}

	g.allowed.Add(1)
	return true, ""
}

// RecordExit feeds a realized result back into the loss counters.
func (g *Guard) RecordExit(pnlUSDC decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(time.Now())

	if pnlUSDC.IsPositive() {
		g.consecLosses = 0
		return
	}

	g.dailyLossUSD = g.dailyLossUSD.Add(pnlUSDC.Neg())
	g.consecLosses++

	if g.dailyLossUSD.GreaterThanOrEqual(decimal.NewFromFloat(g.config.MaxDailyLossUSD)) {
		log.Warn().
			Str("daily_loss_usd", g.dailyLossUSD.String()).
			Float64("limit", g.config.MaxDailyLossUSD).
			Msg("risk: daily loss limit reached, entries halted until UTC rollover")
	}
	if g.consecLosses >= g.config.MaxConsecutiveLosses {
		g.cooldownUntil = time.Now().Add(time.Duration(g.config.CooldownMinutes) * time.Minute)
		g.consecLosses = 0
		log.Warn().
			Int("streak", g.config.MaxConsecutiveLosses).
			Time("until", g.cooldownUntil).
			Msg("risk: loss streak, entry cooldown engaged")
	}
}

// Kill engages the kill switch: no further entries this process.
func (g *Guard) Kill() {
	if !g.killed.Swap(true) {
		log.Error().Msg("risk: kill switch engaged")
	}
}

// Killed reports the kill switch state.
func (g *Guard) Killed() bool {
	return g.killed.Load()
}

// rollDayLocked resets the daily window after UTC midnight.
func (g *Guard) rollDayLocked(now time.Time) {
	if day := utcDay(now); day.After(g.day) {
		g.day = day
		g.dailyLossUSD = decimal.Zero
	}
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Stats reports admission counters.
type Stats struct {
	Allowed      int64           `json:"allowed"`
	Denied       int64           `json:"denied"`
	DailyLossUSD decimal.Decimal `json:"daily_loss_usd"`
	Killed       bool            `json:"killed"`
}

func (g *Guard) Stats() Stats {
	g.mu.Lock()
	loss := g.dailyLossUSD
	g.mu.Unlock()
	return Stats{
		Allowed:      g.allowed.Load(),
		Denied:       g.denied.Load(),
		DailyLossUSD: loss,
		Killed:       g.killed.Load(),
	}
}
