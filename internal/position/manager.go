package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Position Manager — slot-capped lifecycle owner for all live positions
// ---------------------------------------------------------------------------

// Trader executes buys and sells. The execution engine implements this.
type Trader interface {
	Buy(ctx context.Context, mint solana.Pubkey, amountUSDC decimal.Decimal) (solana.SwapResult, error)
	Sell(ctx context.Context, mint solana.Pubkey, quantity decimal.Decimal) (solana.SwapResult, error)
}

// retryable matches failures that are worth another attempt.
type retryable interface {
	Retryable() bool
}

// Entry rejection reasons.
var (
	ErrNoSlots        = errors.New("position: no slots available")
	ErrPositionExists = errors.New("position: mint already has a live position")
	ErrCoolingDown    = errors.New("position: mint in trade cooldown")
)

// ManagerConfig configures the position manager.
type ManagerConfig struct {
	MaxPositions     int
	TradeAmountUSDC  decimal.Decimal
	ProfitTargetPct  decimal.Decimal // exit when unrealized P/L reaches this
	StopLossPct      decimal.Decimal // exit when unrealized P/L falls to minus this
	MaxEntryAttempts int
	Cooldown         time.Duration
	SnapshotPath     string
}

func (c *ManagerConfig) applyDefaults() {
	if c.MaxPositions == 0 {
		c.MaxPositions = 10
	}
	if c.TradeAmountUSDC.IsZero() {
		c.TradeAmountUSDC = decimal.NewFromInt(1)
	}
	if c.ProfitTargetPct.IsZero() {
		c.ProfitTargetPct = decimal.NewFromFloat(3.0)
	}
	if c.StopLossPct.IsZero() {
		c.StopLossPct = decimal.NewFromFloat(15.0)
	}
	if c.MaxEntryAttempts == 0 {
		c.MaxEntryAttempts = 3
	}
	if c.Cooldown == 0 {
		c.Cooldown = 15 * time.Minute
	}
}

// ExitEvent reports a completed exit to the orchestrator, which feeds
// stop-loss exits back into the blacklist.
type ExitEvent struct {
	Mint    solana.Pubkey
	Reason  ExitReason
	PnLPct  decimal.Decimal
	PnLUSDC decimal.Decimal
}

// Manager owns the live position set. Entry admission reserves a slot
// under one lock so the cap holds under concurrency; per-mint locks
// serialize lifecycle work on a single mint.
type Manager struct {
	config ManagerConfig
	trader Trader
	onExit func(ExitEvent)

	mu        sync.Mutex
	positions map[solana.Pubkey]*Position // live (non-terminal) only
	slots     int
	cooldown  map[solana.Pubkey]time.Time
	mintLocks map[solana.Pubkey]*sync.Mutex
	history   []Snapshot // terminal positions, newest last

	// Stats.
	opened      atomic.Int64
	entryFails  atomic.Int64
	profitExits atomic.Int64
	stopExits   atomic.Int64
}

// NewManager creates a position manager. onExit may be nil.
func NewManager(config ManagerConfig, trader Trader, onExit func(ExitEvent)) *Manager {
	config.applyDefaults()
	m := &Manager{
		config:    config,
		trader:    trader,
		onExit:    onExit,
		positions: make(map[solana.Pubkey]*Position),
		cooldown:  make(map[solana.Pubkey]time.Time),
		mintLocks: make(map[solana.Pubkey]*sync.Mutex),
	}
	if config.SnapshotPath != "" {
		m.loadSnapshot()
	}
	return m
}

// mintLock returns the serialization lock for one mint.
func (m *Manager) mintLock(mint solana.Pubkey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.mintLocks[mint]
	if !ok {
		lk = &sync.Mutex{}
		m.mintLocks[mint] = lk
	}
	return lk
}

// EvaluateEntry admits a scored candidate. It reserves a slot, submits
// the buy, and settles the position to OPEN or FAILED. The safety and
// blacklist gates run upstream; this enforces the slot cap, the one
// live position per mint rule, and the trade cooldown.
func (m *Manager) EvaluateEntry(ctx context.Context, mint solana.Pubkey) (Snapshot, error) {
	lk := m.mintLock(mint)
	lk.Lock()
	defer lk.Unlock()

	// Admission: all checks and the slot reservation under one lock.
	m.mu.Lock()
	if _, exists := m.positions[mint]; exists {
		m.mu.Unlock()
		return Snapshot{}, ErrPositionExists
	}
	if until, ok := m.cooldown[mint]; ok && time.Now().Before(until) {
		m.mu.Unlock()
		return Snapshot{}, ErrCoolingDown
	}
	if m.slots >= m.config.MaxPositions {
		m.mu.Unlock()
		return Snapshot{}, ErrNoSlots
	}
	m.slots++
	pos := NewPosition(mint, m.config.TradeAmountUSDC)
	m.positions[mint] = pos
	m.mu.Unlock()

	log.Info().
		Str("mint", mint.Short()).
		Str("amount_usdc", m.config.TradeAmountUSDC.String()).
		Msg("position: entry admitted, submitting buy")

	// Buy with a bounded attempt budget. Only failures that declare
	// themselves retryable consume more than one attempt.
	var lastErr error
	for attempt := 1; attempt <= m.config.MaxEntryAttempts; attempt++ {
		pos.mu.Lock()
		pos.Attempts = attempt
		pos.mu.Unlock()

		res, err := m.trader.Buy(ctx, mint, m.config.TradeAmountUSDC)
		if err == nil {
			if terr := pos.Transition(EventEntryFilled, &EntryFill{
				Quantity:  res.AmountOut,
				FillPrice: res.FillPrice,
				Signature: res.Signature,
			}); terr != nil {
				lastErr = terr
				break
			}
			m.opened.Add(1)
			m.setCooldown(mint)
			return pos.View(), nil
		}

		lastErr = err
		var r retryable
		if !errors.As(err, &r) || !r.Retryable() {
			break
		}
		log.Warn().Err(err).Str("mint", mint.Short()).
			Int("attempt", attempt).Msg("position: buy failed, retrying")
	}

	// Budget exhausted or terminal failure: release the slot.
	if terr := pos.Transition(EventEntryFailed, nil); terr != nil {
		log.Error().Err(terr).Str("mint", mint.Short()).Msg("position: fail transition rejected")
	}
	m.entryFails.Add(1)
	m.retire(pos)
	m.setCooldown(mint)
	return pos.View(), fmt.Errorf("position: entry failed for %s: %w", mint.Short(), lastErr)
}

// Tick marks every open position against fresh prices and triggers at
// most one exit per position. The profit target is checked strictly
// before the stop loss, so a tick that satisfies both takes profit.
func (m *Manager) Tick(ctx context.Context, prices map[solana.Pubkey]decimal.Decimal) {
	for _, mint := range m.openMints() {
		price, ok := prices[mint]
		if !ok {
			continue
		}
		m.tickOne(ctx, mint, price)
	}
}

func (m *Manager) tickOne(ctx context.Context, mint solana.Pubkey, price decimal.Decimal) {
	lk := m.mintLock(mint)
	lk.Lock()
	defer lk.Unlock()

	m.mu.Lock()
	pos, ok := m.positions[mint]
	m.mu.Unlock()
	if !ok || pos.CurrentState() != StateOpen {
		return
	}

	pct := pos.MarkPrice(price)

	var reason ExitReason
	switch {
	case pct.GreaterThanOrEqual(m.config.ProfitTargetPct):
		reason = ExitProfitTarget
	case pct.LessThanOrEqual(m.config.StopLossPct.Neg()):
		reason = ExitStopLoss
	default:
		return
	}

	if err := pos.Transition(EventExitTrigger, reason); err != nil {
		log.Error().Err(err).Str("mint", mint.Short()).Msg("position: exit trigger rejected")
		return
	}
	m.executeExit(ctx, pos, reason)
}

// ForceExit sells an open position immediately regardless of price.
// Used for shutdown unwinds and rug-pull evacuations.
func (m *Manager) ForceExit(ctx context.Context, mint solana.Pubkey, reason ExitReason) error {
	lk := m.mintLock(mint)
	lk.Lock()
	defer lk.Unlock()

	m.mu.Lock()
	pos, ok := m.positions[mint]
	m.mu.Unlock()
	if !ok || pos.CurrentState() != StateOpen {
		return fmt.Errorf("position: no open position for %s", mint.Short())
	}

	if err := pos.Transition(EventExitTrigger, reason); err != nil {
		return err
	}
	m.executeExit(ctx, pos, reason)
	return nil
}

// executeExit sells the position's holdings. Caller holds the mint lock.
func (m *Manager) executeExit(ctx context.Context, pos *Position, reason ExitReason) {
	pos.mu.Lock()
	mint, qty := pos.Mint, pos.Quantity
	pos.mu.Unlock()

	res, err := m.trader.Sell(ctx, mint, qty)
	if err != nil {
		log.Warn().Err(err).Str("mint", mint.Short()).
			Str("reason", string(reason)).
			Msg("position: sell failed, will retry on next tick")
		if terr := pos.Transition(EventExitFailed, nil); terr != nil {
			log.Error().Err(terr).Str("mint", mint.Short()).Msg("position: exit-failed transition rejected")
		}
		return
	}

	if err := pos.Transition(EventExitFilled, &ExitFill{
		FillPrice: res.FillPrice,
		Signature: res.Signature,
	}); err != nil {
		log.Error().Err(err).Str("mint", mint.Short()).Msg("position: exit fill rejected")
		return
	}

	switch reason {
	case ExitProfitTarget:
		m.profitExits.Add(1)
	case ExitStopLoss:
		m.stopExits.Add(1)
	}

	view := pos.View()
	m.retire(pos)
	m.setCooldown(mint)

	log.Info().
		Str("mint", mint.Short()).
		Str("reason", string(reason)).
		Str("pnl_usdc", view.PnLUSDC.String()).
		Str("pnl_pct", view.UnrealizedPct.StringFixed(2)).
		Msg("position: closed")

	if m.onExit != nil {
		m.onExit(ExitEvent{
			Mint:    mint,
			Reason:  reason,
			PnLPct:  view.UnrealizedPct,
			PnLUSDC: view.PnLUSDC,
		})
	}
}

// retire removes a terminal position from the live set and frees its slot.
func (m *Manager) retire(pos *Position) {
	view := pos.View()
	m.mu.Lock()
	if _, ok := m.positions[view.Mint]; ok {
		delete(m.positions, view.Mint)
		m.slots--
	}
	m.history = append(m.history, view)
	m.mu.Unlock()
}

func (m *Manager) setCooldown(mint solana.Pubkey) {
	m.mu.Lock()
	m.cooldown[mint] = time.Now().Add(m.config.Cooldown)
	m.mu.Unlock()
}

// PruneCooldowns drops expired cooldown entries. Called on an interval
// by the orchestrator.
func (m *Manager) PruneCooldowns() {
	now := time.Now()
	m.mu.Lock()
	for mint, until := range m.cooldown {
		if now.After(until) {
			delete(m.cooldown, mint)
		}
	}
	m.mu.Unlock()
}

func (m *Manager) openMints() []solana.Pubkey {
	m.mu.Lock()
	defer m.mu.Unlock()
	mints := make([]solana.Pubkey, 0, len(m.positions))
	for mint := range m.positions {
		mints = append(mints, mint)
	}
	return mints
}

// Live returns views of all non-terminal positions.
func (m *Manager) Live() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos.View())
	}
	return out
}

// History returns views of terminal positions, oldest first.
func (m *Manager) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// SlotsInUse returns the current reservation count.
func (m *Manager) SlotsInUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots
}

// ManagerStats summarizes lifecycle counters.
type ManagerStats struct {
	Opened      int64 `json:"opened"`
	EntryFails  int64 `json:"entry_fails"`
	ProfitExits int64 `json:"profit_exits"`
	StopExits   int64 `json:"stop_exits"`
	Live        int   `json:"live"`
}

func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Opened:      m.opened.Load(),
		EntryFails:  m.entryFails.Load(),
		ProfitExits: m.profitExits.Load(),
		StopExits:   m.stopExits.Load(),
		Live:        m.SlotsInUse(),
	}
}

// ---------------------------------------------------------------------------
// Snapshot persistence — non-terminal positions survive restarts
// ---------------------------------------------------------------------------

// SaveSnapshot persists all live positions. Temp file then rename so a
// crash never truncates the snapshot.
func (m *Manager) SaveSnapshot() error {
	if m.config.SnapshotPath == "" {
		return nil
	}

	live := m.Live()
	data, err := json.MarshalIndent(live, "", "  ")
	if err != nil {
		return fmt.Errorf("position: encode snapshot: %w", err)
	}

	dir := filepath.Dir(m.config.SnapshotPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("position: create snapshot dir: %w", err)
		}
	}

	tmpPath := m.config.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("position: write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.config.SnapshotPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("position: rename snapshot: %w", err)
	}

	log.Info().Int("positions", len(live)).Str("path", m.config.SnapshotPath).
		Msg("position: snapshot saved")
	return nil
}

func (m *Manager) loadSnapshot() {
	data, err := os.ReadFile(m.config.SnapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.config.SnapshotPath).
				Msg("position: snapshot read failed, starting empty")
		}
		return
	}

	var snaps []Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		log.Warn().Err(err).Str("path", m.config.SnapshotPath).
			Msg("position: corrupt snapshot, starting empty")
		return
	}

	m.mu.Lock()
	for _, s := range snaps {
		switch s.State {
		case StateClosed, StateFailed:
			m.history = append(m.history, s)
			continue
		case StatePending:
			// Buy outcome was lost with the process; treat as failed
			// rather than guessing at on-chain state.
			s.State = StateFailed
			m.history = append(m.history, s)
			continue
		case StateClosing:
			// Re-arm the exit: the next tick will retrigger it.
			s.State = StateOpen
		}
		if m.slots >= m.config.MaxPositions {
			log.Warn().Str("mint", s.Mint.Short()).
				Msg("position: snapshot overflows slot cap, dropping")
			continue
		}
		m.positions[s.Mint] = restore(s)
		m.slots++
	}
	loaded := len(m.positions)
	m.mu.Unlock()

	log.Info().Int("positions", loaded).Str("path", m.config.SnapshotPath).
		Msg("position: snapshot loaded")
}
