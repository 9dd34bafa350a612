package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
// Fakes
// ---------------------------------------------------------------------------

type fakeMarketSource struct {
	mu    sync.Mutex
	snaps map[solana.Pubkey]market.MarketSnapshot
	err   error
}

func (f *fakeMarketSource) TokenMarket(_ context.Context, mint solana.Pubkey) (market.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return market.MarketSnapshot{}, f.err
	}
	snap, ok := f.snaps[mint]
	if !ok {
		return market.MarketSnapshot{}, errors.New("no pairs")
	}
	return snap, nil
}

func (f *fakeMarketSource) set(mint solana.Pubkey, liq, vol, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[mint] = market.MarketSnapshot{
		LiquidityUSD: decimal.NewFromFloat(liq),
		Volume24hUSD: decimal.NewFromFloat(vol),
		PriceUSD:     decimal.NewFromFloat(price),
	}
}

type fakeSecuritySource struct{}

func (fakeSecuritySource) TokenSecurity(_ context.Context, _ solana.Pubkey) (market.SecurityReport, error) {
	return market.SecurityReport{Known: true, LPLocked: true}, nil
}

type fakeTrader struct {
	mu        sync.Mutex
	buys      int
	sells     int
	buyPrice  decimal.Decimal
	sellPrice decimal.Decimal // zero means sell at buyPrice
}

func (f *fakeTrader) Buy(_ context.Context, mint solana.Pubkey, amountUSDC decimal.Decimal) (solana.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys++
	return solana.SwapResult{
		Signature: "sig-buy",
		AmountOut: amountUSDC.Div(f.buyPrice),
		FillPrice: f.buyPrice,
	}, nil
}

func (f *fakeTrader) Sell(_ context.Context, _ solana.Pubkey, quantity decimal.Decimal) (solana.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells++
	price := f.sellPrice
	if price.IsZero() {
		price = f.buyPrice
	}
	return solana.SwapResult{
		Signature: "sig-sell",
		AmountOut: quantity.Mul(price),
		FillPrice: price,
	}, nil
}

func (f *fakeTrader) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buys, f.sells
}

type fakePricer struct {
	mu     sync.Mutex
	prices map[solana.Pubkey]decimal.Decimal
}

func (f *fakePricer) MarkPrice(_ context.Context, mint solana.Pubkey, _ decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[mint]
	if !ok {
		return decimal.Zero, errors.New("no route")
	}
	return price, nil
}

func mintN(n int) solana.Pubkey {
	return solana.Pubkey(fmt.Sprintf("Mint%060d", n))
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	hunter *Hunter
	src    *fakeMarketSource
	trader *fakeTrader
	pricer *fakePricer
	bl     *blacklist.Manager
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	dir := t.TempDir()

	src := &fakeMarketSource{snaps: make(map[solana.Pubkey]market.MarketSnapshot)}
	trader := &fakeTrader{buyPrice: decimal.NewFromFloat(0.001)}
	pricer := &fakePricer{prices: make(map[solana.Pubkey]decimal.Decimal)}

	bl := blacklist.NewManager(blacklist.Config{
		FilePath: filepath.Join(dir, "blacklist.json"),
	})

	gw := market.NewGateway(market.GatewayConfig{SourceTimeout: time.Second}, src, fakeSecuritySource{})
	disc := market.NewDiscovery(market.DiscoveryConfig{ScanInterval: 20 * time.Millisecond}, nil)

	h := New(cfg, Deps{
		Discovery: disc,
		Gateway:   gw,
		Scorer:    safety.NewScorer(safety.DefaultConfig()),
		Blacklist: bl,
		Pricer:    pricer,
		Market:    src,
		Metrics:   observability.TalonMetrics(),
	}, position.ManagerConfig{
		MaxPositions:    5,
		TradeAmountUSDC: decimal.NewFromInt(1),
		SnapshotPath:    filepath.Join(dir, "positions.json"),
	}, trader)

	return &harness{hunter: h, src: src, trader: trader, pricer: pricer, bl: bl}
}

func event(mint solana.Pubkey) market.TokenEvent {
	return market.TokenEvent{Mint: mint, Source: "test", DetectedAt: time.Now()}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHunter_HealthyCandidateOpensPosition(t *testing.T) {
	h := newHarness(t, Config{})
	mint := mintN(1)
	h.src.set(mint, 10_000, 1_000, 0.001)

	h.hunter.processCandidate(context.Background(), event(mint))

	buys, _ := h.trader.counts()
	assert.Equal(t, 1, buys)
	require.Len(t, h.hunter.Manager().Live(), 1)
	assert.Equal(t, position.StateOpen, h.hunter.Manager().Live()[0].State)

	stats := h.hunter.Stats()
	assert.Equal(t, int64(1), stats.Passed)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, 1, stats.SlotsInUse)
}

func TestHunter_FailVerdictFeedsBlacklist(t *testing.T) {
	h := newHarness(t, Config{})
	mint := mintN(2)
	// No market data registered: all fields degrade to Unknown,
	// which scores a hard fail.

	h.hunter.processCandidate(context.Background(), event(mint))

	buys, _ := h.trader.counts()
	assert.Equal(t, 0, buys)
	assert.Equal(t, int64(1), h.hunter.Stats().Failed)
	assert.InDelta(t, 4.0, h.bl.Score(mint), 1e-9)
	assert.False(t, h.bl.IsBlacklisted(mint))
}

func TestHunter_BlacklistedMintSkipped(t *testing.T) {
	h := newHarness(t, Config{})
	mint := mintN(3)
	h.src.set(mint, 10_000, 1_000, 0.001)
	h.bl.RecordSignal(mint, blacklist.SignalLiquidityCollapse) // 20.0, listed

	h.hunter.processCandidate(context.Background(), event(mint))

	buys, _ := h.trader.counts()
	assert.Equal(t, 0, buys)
	assert.Equal(t, int64(0), h.hunter.Stats().Processed)
}

func TestHunter_CycleBudgetLimitsEntries(t *testing.T) {
	h := newHarness(t, Config{MaxTradesPerCycle: 1})
	for i := 10; i < 13; i++ {
		mint := mintN(i)
		h.src.set(mint, 10_000, 1_000, 0.001)
		h.hunter.processCandidate(context.Background(), event(mint))
	}

	buys, _ := h.trader.counts()
	assert.Equal(t, 1, buys)
	assert.Len(t, h.hunter.Manager().Live(), 1)
	// All three still passed scoring; the budget only gates entries.
	assert.Equal(t, int64(3), h.hunter.Stats().Passed)

	h.hunter.cycleTrades.Store(0) // new cycle
	mint := mintN(13)
	h.src.set(mint, 10_000, 1_000, 0.001)
	h.hunter.processCandidate(context.Background(), event(mint))
	assert.Len(t, h.hunter.Manager().Live(), 2)
}

func TestHunter_CycleBudgetHoldsUnderConcurrency(t *testing.T) {
	h := newHarness(t, Config{MaxTradesPerCycle: 2})

	const candidates = 8
	mints := make([]solana.Pubkey, candidates)
	for i := range mints {
		mints[i] = mintN(20 + i)
		h.src.set(mints[i], 10_000, 1_000, 0.001)
	}

	var wg sync.WaitGroup
	wg.Add(candidates)
	for _, mint := range mints {
		go func(m solana.Pubkey) {
			defer wg.Done()
			h.hunter.processCandidate(context.Background(), event(m))
		}(mint)
	}
	wg.Wait()

	buys, _ := h.trader.counts()
	assert.Equal(t, 2, buys)
	assert.Len(t, h.hunter.Manager().Live(), 2)
	assert.Equal(t, int64(2), h.hunter.cycleTrades.Load())
}

func TestHunter_PausedSkipsEntries(t *testing.T) {
	paused := true
	h := newHarness(t, Config{})
	h.hunter.deps.Paused = func() bool { return paused }

	mint := mintN(4)
	h.src.set(mint, 10_000, 1_000, 0.001)

	h.hunter.processCandidate(context.Background(), event(mint))
	assert.Empty(t, h.hunter.Manager().Live())

	paused = false
	h.hunter.processCandidate(context.Background(), event(mint))
	assert.Len(t, h.hunter.Manager().Live(), 1)
}

func TestHunter_TickExitsAtProfitTarget(t *testing.T) {
	h := newHarness(t, Config{})
	mint := mintN(5)
	h.src.set(mint, 10_000, 1_000, 0.001)
	h.hunter.processCandidate(context.Background(), event(mint))
	require.Len(t, h.hunter.Manager().Live(), 1)

	// Default profit target is 3%; mark well above it.
	h.pricer.prices[mint] = decimal.NewFromFloat(0.00104)
	h.trader.mu.Lock()
	h.trader.sellPrice = decimal.NewFromFloat(0.00104)
	h.trader.mu.Unlock()
	h.hunter.tickExits(context.Background())

	_, sells := h.trader.counts()
	assert.Equal(t, 1, sells)
	assert.Empty(t, h.hunter.Manager().Live())

	stats := h.hunter.Stats()
	assert.Equal(t, int64(1), stats.Wins)
	assert.True(t, stats.RealizedUSDC.IsPositive())
}

func TestHunter_StopLossExitFeedsBlacklist(t *testing.T) {
	h := newHarness(t, Config{})
	mint := mintN(6)
	h.src.set(mint, 10_000, 1_000, 0.001)
	h.hunter.processCandidate(context.Background(), event(mint))
	require.Len(t, h.hunter.Manager().Live(), 1)

	// Default stop loss is 15%; mark far below entry.
	h.pricer.prices[mint] = decimal.NewFromFloat(0.0005)
	h.trader.mu.Lock()
	h.trader.sellPrice = decimal.NewFromFloat(0.0005)
	h.trader.mu.Unlock()
	h.hunter.tickExits(context.Background())

	assert.Empty(t, h.hunter.Manager().Live())
	assert.InDelta(t, 8.0, h.bl.Score(mint), 1e-9)
	assert.Equal(t, int64(1), h.hunter.Stats().Losses)
}

func TestHunter_LiquidityCollapseEvacuates(t *testing.T) {
	h := newHarness(t, Config{})
	mint := mintN(7)
	h.src.set(mint, 10_000, 1_000, 0.001)
	h.hunter.processCandidate(context.Background(), event(mint))
	require.Len(t, h.hunter.Manager().Live(), 1)

	// Pool drains to 2% of entry liquidity.
	h.src.set(mint, 200, 1_000, 0.001)
	h.hunter.checkLiquidity(context.Background())

	_, sells := h.trader.counts()
	assert.Equal(t, 1, sells)
	assert.Empty(t, h.hunter.Manager().Live())
	assert.True(t, h.bl.IsBlacklisted(mint), "collapse signal alone should blacklist")

	hist := h.hunter.Manager().History()
	require.NotEmpty(t, hist)
	assert.Equal(t, position.ExitRugPull, hist[len(hist)-1].ExitReason)
}

func TestHunter_LiquidityGuardHoldsOnDegradedSource(t *testing.T) {
	h := newHarness(t, Config{})
	mint := mintN(8)
	h.src.set(mint, 10_000, 1_000, 0.001)
	h.hunter.processCandidate(context.Background(), event(mint))
	require.Len(t, h.hunter.Manager().Live(), 1)

	h.src.mu.Lock()
	h.src.err = errors.New("rate limited")
	h.src.mu.Unlock()

	h.hunter.checkLiquidity(context.Background())

	_, sells := h.trader.counts()
	assert.Equal(t, 0, sells, "a degraded source is not a collapse")
	assert.Len(t, h.hunter.Manager().Live(), 1)
}

func TestHunter_RiskGuardBlocksEntries(t *testing.T) {
	h := newHarness(t, Config{})
	guard := risk.NewGuard(risk.Config{MaxDailyLossUSD: 1})
	guard.RecordExit(decimal.NewFromFloat(-2)) // over the limit
	h.hunter.deps.Risk = guard

	mint := mintN(20)
	h.src.set(mint, 10_000, 1_000, 0.001)
	h.hunter.processCandidate(context.Background(), event(mint))

	buys, _ := h.trader.counts()
	assert.Equal(t, 0, buys)
	assert.Empty(t, h.hunter.Manager().Live())
	assert.Equal(t, int64(1), guard.Stats().Denied)
}

func TestHunter_JournalRecordsLifecycle(t *testing.T) {
	h := newHarness(t, Config{})
	journal, err := audit.NewJournal(filepath.Join(t.TempDir(), "journal.jsonl"), 16)
	require.NoError(t, err)
	defer journal.Close()
	h.hunter.deps.Journal = journal

	mint := mintN(21)
	h.src.set(mint, 10_000, 1_000, 0.001)
	h.hunter.processCandidate(context.Background(), event(mint))

	h.pricer.prices[mint] = decimal.NewFromFloat(0.0005)
	h.trader.mu.Lock()
	h.trader.sellPrice = decimal.NewFromFloat(0.0005)
	h.trader.mu.Unlock()
	h.hunter.tickExits(context.Background())

	entries := journal.Recent()
	require.Len(t, entries, 3, "entry, exit, stop-loss signal")
	assert.Equal(t, audit.EventEntryOpened, entries[0].EventType)
	assert.Equal(t, audit.EventExit, entries[1].EventType)
	assert.Equal(t, audit.EventSignal, entries[2].EventType)
	assert.Equal(t, string(blacklist.SignalStopLossExit), entries[2].Reason)
}

func TestHunter_RunPipeline(t *testing.T) {
	h := newHarness(t, Config{
		Workers:       2,
		TickInterval:  20 * time.Millisecond,
		CycleInterval: 50 * time.Millisecond,
		GuardInterval: time.Hour,
	})
	mint := mintN(9)
	h.src.set(mint, 10_000, 1_000, 0.001)

	// Poll source feeds discovery once Run starts.
	h.hunter.deps.Discovery = market.NewDiscovery(
		market.DiscoveryConfig{ScanInterval: 20 * time.Millisecond},
		nil,
		market.NewPollSource("test", func(ctx context.Context) ([]solana.Pubkey, error) {
			return []solana.Pubkey{mint}, nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.hunter.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(h.hunter.Manager().Live()) == 1
	}, 2*time.Second, 10*time.Millisecond, "discovered token should become a live position")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hunter did not shut down")
	}
}
