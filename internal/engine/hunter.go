package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/talon-trading/talon/internal/audit"
	"github.com/talon-trading/talon/internal/blacklist"
	"github.com/talon-trading/talon/internal/market"
	"github.com/talon-trading/talon/internal/observability"
	"github.com/talon-trading/talon/internal/position"
	"github.com/talon-trading/talon/internal/risk"
	"github.com/talon-trading/talon/internal/safety"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Hunter — the orchestration loop
// ---------------------------------------------------------------------------

// Pricer supplies the current liquidation price for a held quantity.
// The execution engine implements this.
type Pricer interface {
	MarkPrice(ctx context.Context, mint solana.Pubkey, quantity decimal.Decimal) (decimal.Decimal, error)
}

// Config tunes the hunter loops.
type Config struct {
	// Candidate-processing worker count. Independent of the
	// position slot cap.
	Workers int

	// Maximum new entries admitted per scan cycle.
	MaxTradesPerCycle int

	// Exit evaluation interval.
	TickInterval time.Duration

	// Scan cycle length; the per-cycle entry budget resets on it.
	CycleInterval time.Duration

	// Post-entry liquidity guard interval.
	GuardInterval time.Duration

	// A live position whose pool liquidity drops below this fraction
	// of its entry-time liquidity is treated as a rug pull.
	CollapseRatio decimal.Decimal
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.MaxTradesPerCycle == 0 {
		c.MaxTradesPerCycle = 2
	}
	if c.TickInterval == 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.CycleInterval == 0 {
		c.CycleInterval = 30 * time.Second
	}
	if c.GuardInterval == 0 {
		c.GuardInterval = 60 * time.Second
	}
	if c.CollapseRatio.IsZero() {
		c.CollapseRatio = decimal.NewFromFloat(0.2)
	}
}

// Deps are the collaborators the hunter drives.
type Deps struct {
	Discovery *market.Discovery
	Gateway   *market.Gateway
	Scorer    *safety.Scorer
	Blacklist *blacklist.Manager
	Pricer    Pricer

	// Market source for the post-entry liquidity guard.
	Market market.MarketSource

	// Entry admission gate. Nil means never paused.
	Paused func() bool

	// Loss-limit gate. Nil disables risk gating.
	Risk *risk.Guard

	// Decision log. Nil disables journaling.
	Journal *audit.Journal

	Metrics *observability.Registry
}

// Hunter consumes discovered tokens through the observe/score/gate
// pipeline, admits entries into the position manager, and drives the
// exit and liquidity-guard tickers. It owns the Manager so that exit
// events feed straight back into the blacklist.
type Hunter struct {
	config  Config
	deps    Deps
	manager *position.Manager

	// Entry budget for the current scan cycle.
	cycleTrades atomic.Int64

	// Entry-time liquidity per live mint, for the collapse guard.
	mu       sync.Mutex
	entryLiq map[solana.Pubkey]decimal.Decimal

	// Session stats.
	processed     atomic.Int64
	passed        atomic.Int64
	failed        atomic.Int64
	wins          atomic.Int64
	losses        atomic.Int64
	realizedMicro atomic.Int64 // realized PnL in micro-USDC
	rugExits      atomic.Int64

	// Metric handles.
	mDiscovered *observability.Counter
	mScored     *observability.Counter
	mOpened     *observability.Counter
	mEntryFail  *observability.Counter
	mExits      *observability.Counter
	mSignals    *observability.Counter
	mLive       *observability.Gauge
	mPnL        *observability.Gauge
	mBlSize     *observability.Gauge
	mObserveMs  *observability.Histogram
}

// New creates a hunter. managerCfg and trader are handed to the
// position manager it constructs, so exit events are wired back here.
func New(config Config, deps Deps, managerCfg position.ManagerConfig, trader position.Trader) *Hunter {
	config.applyDefaults()
	h := &Hunter{
		config:   config,
		deps:     deps,
		entryLiq: make(map[solana.Pubkey]decimal.Decimal),
	}
	h.manager = position.NewManager(managerCfg, trader, h.handleExit)

	if deps.Metrics != nil {
		r := deps.Metrics
		h.mDiscovered = r.NewCounter("talon_tokens_discovered_total", "Total candidate tokens discovered", nil)
		h.mScored = r.NewCounter("talon_tokens_scored_total", "Total tokens scored", nil)
		h.mOpened = r.NewCounter("talon_entries_opened_total", "Total positions opened", nil)
		h.mEntryFail = r.NewCounter("talon_entries_failed_total", "Total entries that failed before opening", nil)
		h.mExits = r.NewCounter("talon_exits_total", "Total position exits", nil)
		h.mSignals = r.NewCounter("talon_blacklist_signals_total", "Total danger signals recorded", nil)
		h.mLive = r.NewGauge("talon_positions_live", "Live (non-terminal) positions", nil)
		h.mPnL = r.NewGauge("talon_pnl_realized_usdc", "Cumulative realized PnL in USDC", nil)
		h.mBlSize = r.NewGauge("talon_blacklist_size", "Mints currently blacklisted", nil)
		h.mObserveMs = r.NewHistogram("talon_observe_latency_ms", "Observation latency in milliseconds", nil, observability.DefaultLatencyBuckets)
	}
	return h
}

// Manager exposes the position manager for the control plane and for
// shutdown snapshotting.
func (h *Hunter) Manager() *position.Manager {
	return h.manager
}

// Run drives all loops until ctx is cancelled, then drains and snapshots.
func (h *Hunter) Run(ctx context.Context) error {
	events := h.deps.Discovery.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < h.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				h.processCandidate(ctx, ev)
			}
		}()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		h.exitLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		h.guardLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		h.housekeepingLoop(ctx)
	}()

	log.Info().
		Int("workers", h.config.Workers).
		Dur("tick_interval", h.config.TickInterval).
		Msg("hunter: running")

	<-ctx.Done()
	wg.Wait()

	return h.shutdown()
}

// shutdown persists the blacklist and the non-terminal position set.
// In-flight submits have already drained: workers exited before this.
func (h *Hunter) shutdown() error {
	log.Info().Msg("hunter: shutting down, persisting state")
	var firstErr error
	if err := h.deps.Blacklist.Flush(); err != nil {
		log.Error().Err(err).Msg("hunter: blacklist flush failed")
		firstErr = err
	}
	if err := h.manager.SaveSnapshot(); err != nil {
		log.Error().Err(err).Msg("hunter: position snapshot failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// processCandidate runs one mint through observe, score, gate, entry.
func (h *Hunter) processCandidate(ctx context.Context, ev market.TokenEvent) {
	h.counterInc(h.mDiscovered)
	if h.deps.Paused != nil && h.deps.Paused() {
		return
	}
	if h.deps.Blacklist.IsBlacklisted(ev.Mint) {
		log.Debug().Str("mint", ev.Mint.Short()).Msg("hunter: blacklisted, skipping")
		return
	}

	start := time.Now()
	obs := h.deps.Gateway.Observe(ctx, ev.Mint)
	if h.mObserveMs != nil {
		h.mObserveMs.Observe(float64(time.Since(start).Milliseconds()))
	}

	score := h.deps.Scorer.Evaluate(obs)
	h.processed.Add(1)
	h.counterInc(h.mScored)

	if score.Verdict == safety.VerdictFail {
		h.failed.Add(1)
		h.recordSignal(ev.Mint, blacklist.SignalFailVerdict)
		log.Debug().
			Str("mint", ev.Mint.Short()).
			Float64("composite", score.Composite).
			Strs("reasons", score.Reasons).
			Msg("hunter: rejected by scorer")
		return
	}
	h.passed.Add(1)

	// Reserve the budget slot before entering so concurrent workers
	// cannot admit past the per-cycle cap between check and open.
	if h.cycleTrades.Add(1) > int64(h.config.MaxTradesPerCycle) {
		h.cycleTrades.Add(-1)
		log.Debug().Str("mint", ev.Mint.Short()).Msg("hunter: cycle entry budget exhausted")
		return
	}

	if h.deps.Risk != nil {
		if ok, reason := h.deps.Risk.AllowEntry(); !ok {
			h.cycleTrades.Add(-1)
			h.journal(audit.Entry{EventType: audit.EventRiskDenial, Mint: ev.Mint, Reason: reason})
			log.Warn().Str("mint", ev.Mint.Short()).Str("reason", reason).
				Msg("hunter: entry blocked by risk guard")
			return
		}
	}

	snap, err := h.manager.EvaluateEntry(ctx, ev.Mint)
	switch {
	case err == nil:
		h.counterInc(h.mOpened)
		h.setEntryLiquidity(ev.Mint, obs.LiquidityUSD)
		h.gaugeLive()
		h.journal(audit.Entry{
			EventType: audit.EventEntryOpened,
			Mint:      ev.Mint,
			Detail:    fmt.Sprintf("composite=%.3f source=%s price=%s", score.Composite, ev.Source, snap.EntryPrice),
		})
		log.Info().
			Str("mint", ev.Mint.Short()).
			Str("source", ev.Source).
			Float64("composite", score.Composite).
			Str("entry_price", snap.EntryPrice.String()).
			Msg("hunter: position opened")
	case errors.Is(err, position.ErrNoSlots),
		errors.Is(err, position.ErrPositionExists),
		errors.Is(err, position.ErrCoolingDown):
		h.cycleTrades.Add(-1)
		log.Debug().Err(err).Str("mint", ev.Mint.Short()).Msg("hunter: entry not admitted")
	default:
		h.cycleTrades.Add(-1)
		h.counterInc(h.mEntryFail)
		h.journal(audit.Entry{EventType: audit.EventEntryFailed, Mint: ev.Mint, Detail: err.Error()})
		log.Warn().Err(err).Str("mint", ev.Mint.Short()).Msg("hunter: entry failed")
	}
}

// exitLoop re-prices open positions and drives exit evaluation.
func (h *Hunter) exitLoop(ctx context.Context) {
	ticker := time.NewTicker(h.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tickExits(ctx)
		}
	}
}

func (h *Hunter) tickExits(ctx context.Context) {
	live := h.manager.Live()
	if len(live) == 0 {
		return
	}

	prices := make(map[solana.Pubkey]decimal.Decimal, len(live))
	for _, snap := range live {
		if snap.State != position.StateOpen {
			continue
		}
		price, err := h.deps.Pricer.MarkPrice(ctx, snap.Mint, snap.Quantity)
		if err != nil {
			log.Warn().Err(err).Str("mint", snap.Mint.Short()).
				Msg("hunter: mark price unavailable, holding")
			continue
		}
		prices[snap.Mint] = price
	}

	if len(prices) > 0 {
		h.manager.Tick(ctx, prices)
		h.gaugeLive()
	}
}

// guardLoop watches pool liquidity under live positions. A collapse is
// the strongest rug signal: evacuate and blacklist immediately.
func (h *Hunter) guardLoop(ctx context.Context) {
	if h.deps.Market == nil {
		return
	}
	ticker := time.NewTicker(h.config.GuardInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkLiquidity(ctx)
		}
	}
}

func (h *Hunter) checkLiquidity(ctx context.Context) {
	for _, snap := range h.manager.Live() {
		if snap.State != position.StateOpen {
			continue
		}
		entryLiq, ok := h.getEntryLiquidity(snap.Mint)
		if !ok || !entryLiq.IsPositive() {
			continue
		}

		ms, err := h.deps.Market.TokenMarket(ctx, snap.Mint)
		if err != nil {
			continue // degraded source is not a collapse
		}
		floor := entryLiq.Mul(h.config.CollapseRatio)
		if ms.LiquidityUSD.GreaterThanOrEqual(floor) {
			continue
		}

		log.Warn().
			Str("mint", snap.Mint.Short()).
			Str("entry_liquidity", entryLiq.String()).
			Str("current_liquidity", ms.LiquidityUSD.String()).
			Msg("hunter: liquidity collapse, evacuating")

		h.recordSignal(snap.Mint, blacklist.SignalLiquidityCollapse)
		h.rugExits.Add(1)
		if err := h.manager.ForceExit(ctx, snap.Mint, position.ExitRugPull); err != nil {
			log.Error().Err(err).Str("mint", snap.Mint.Short()).Msg("hunter: evacuation failed")
		}
		h.gaugeLive()
	}
}

// housekeepingLoop resets the cycle entry budget and prunes cooldowns.
func (h *Hunter) housekeepingLoop(ctx context.Context) {
	cycle := time.NewTicker(h.config.CycleInterval)
	prune := time.NewTicker(time.Minute)
	defer cycle.Stop()
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cycle.C:
			h.cycleTrades.Store(0)
		case <-prune.C:
			h.manager.PruneCooldowns()
		}
	}
}

// handleExit feeds closed positions back into stats and the blacklist.
func (h *Hunter) handleExit(ev position.ExitEvent) {
	h.counterInc(h.mExits)
	if ev.PnLUSDC.IsPositive() {
		h.wins.Add(1)
	} else {
		h.losses.Add(1)
	}
	h.realizedMicro.Add(ev.PnLUSDC.Mul(decimal.NewFromInt(1_000_000)).IntPart())
	if h.mPnL != nil {
		h.mPnL.Set(h.realizedUSDC().InexactFloat64())
	}

	if h.deps.Risk != nil {
		h.deps.Risk.RecordExit(ev.PnLUSDC)
	}
	h.journal(audit.Entry{
		EventType: audit.EventExit,
		Mint:      ev.Mint,
		Reason:    string(ev.Reason),
		PnLUSDC:   ev.PnLUSDC,
	})

	// Rug-pull signals are recorded by the guard before the force exit.
	if ev.Reason == position.ExitStopLoss {
		h.recordSignal(ev.Mint, blacklist.SignalStopLossExit)
	}
	h.clearEntryLiquidity(ev.Mint)
}

func (h *Hunter) journal(e audit.Entry) {
	if h.deps.Journal != nil {
		h.deps.Journal.Record(e)
	}
}

func (h *Hunter) recordSignal(mint solana.Pubkey, sig blacklist.Signal) {
	score, listed := h.deps.Blacklist.RecordSignal(mint, sig)
	h.journal(audit.Entry{
		EventType: audit.EventSignal,
		Mint:      mint,
		Reason:    string(sig),
		Detail:    fmt.Sprintf("score=%.1f listed=%t", score, listed),
	})
	h.counterInc(h.mSignals)
	if h.mBlSize != nil {
		h.mBlSize.Set(float64(h.deps.Blacklist.Len()))
	}
}

func (h *Hunter) setEntryLiquidity(mint solana.Pubkey, m market.Metric) {
	if !m.Known {
		return
	}
	h.mu.Lock()
	h.entryLiq[mint] = m.Value
	h.mu.Unlock()
}

func (h *Hunter) getEntryLiquidity(mint solana.Pubkey) (decimal.Decimal, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.entryLiq[mint]
	return v, ok
}

func (h *Hunter) clearEntryLiquidity(mint solana.Pubkey) {
	h.mu.Lock()
	delete(h.entryLiq, mint)
	h.mu.Unlock()
}

func (h *Hunter) counterInc(c *observability.Counter) {
	if c != nil {
		c.Inc()
	}
}

func (h *Hunter) gaugeLive() {
	if h.mLive != nil {
		h.mLive.Set(float64(h.manager.SlotsInUse()))
	}
}

func (h *Hunter) realizedUSDC() decimal.Decimal {
	return decimal.NewFromInt(h.realizedMicro.Load()).Div(decimal.NewFromInt(1_000_000))
}

// SessionStats is the aggregate trading summary for the session.
type SessionStats struct {
	Processed    int64           `json:"processed"`
	Passed       int64           `json:"passed"`
	Failed       int64           `json:"failed"`
	Wins         int64           `json:"wins"`
	Losses       int64           `json:"losses"`
	RugExits     int64           `json:"rug_exits"`
	WinRatePct   float64         `json:"win_rate_pct"`
	RealizedUSDC decimal.Decimal `json:"realized_usdc"`
	SlotsInUse   int             `json:"slots_in_use"`
	Blacklisted  int             `json:"blacklisted"`
}

// Stats returns the session summary.
func (h *Hunter) Stats() SessionStats {
	s := SessionStats{
		Processed:    h.processed.Load(),
		Passed:       h.passed.Load(),
		Failed:       h.failed.Load(),
		Wins:         h.wins.Load(),
		Losses:       h.losses.Load(),
		RugExits:     h.rugExits.Load(),
		RealizedUSDC: h.realizedUSDC(),
		SlotsInUse:   h.manager.SlotsInUse(),
		Blacklisted:  h.deps.Blacklist.Len(),
	}
	if total := s.Wins + s.Losses; total > 0 {
		s.WinRatePct = float64(s.Wins) / float64(total) * 100
	}
	return s
}
