package market

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Discovery — merged candidate stream from all token sources
// ---------------------------------------------------------------------------

// PollSource lists candidate mints on demand. DexScreener boosted/profile
// lists and the Raydium pool poller implement this.
type PollSource interface {
	Name() string
	Poll(ctx context.Context) ([]solana.Pubkey, error)
}

// pollFunc adapts a listing func into a PollSource.
type pollFunc struct {
	name string
	fn   func(ctx context.Context) ([]solana.Pubkey, error)
}

func (p pollFunc) Name() string                                      { return p.name }
func (p pollFunc) Poll(ctx context.Context) ([]solana.Pubkey, error) { return p.fn(ctx) }

// NewPollSource wraps a listing function as a named PollSource.
func NewPollSource(name string, fn func(ctx context.Context) ([]solana.Pubkey, error)) PollSource {
	return pollFunc{name: name, fn: fn}
}

// DiscoveryConfig configures the merged discovery stream.
type DiscoveryConfig struct {
	ScanInterval time.Duration
	SeenTTL      time.Duration // how long a mint stays deduplicated
}

func (c *DiscoveryConfig) applyDefaults() {
	if c.ScanInterval == 0 {
		c.ScanInterval = 30 * time.Second
	}
	if c.SeenTTL == 0 {
		c.SeenTTL = time.Hour
	}
}

// Discovery merges the PumpPortal stream with polled sources into a single
// deduplicated candidate channel.
type Discovery struct {
	config  DiscoveryConfig
	feed    *PumpFeed
	sources []PollSource

	mu   sync.Mutex
	seen map[solana.Pubkey]time.Time

	out    chan TokenEvent
	closed atomic.Bool

	// Stats.
	discovered atomic.Int64
	duplicates atomic.Int64
}

// NewDiscovery creates a discovery stream. feed may be nil when the
// websocket source is disabled.
func NewDiscovery(config DiscoveryConfig, feed *PumpFeed, sources ...PollSource) *Discovery {
	config.applyDefaults()
	return &Discovery{
		config:  config,
		feed:    feed,
		sources: sources,
		seen:    make(map[solana.Pubkey]time.Time),
		out:     make(chan TokenEvent, 256),
	}
}

// Start launches the stream and poll loops. The returned channel is closed
// after ctx is cancelled and all producers have stopped.
func (d *Discovery) Start(ctx context.Context) <-chan TokenEvent {
	var wg sync.WaitGroup

	if d.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range d.feed.Start(ctx) {
				d.emit(ctx, ev)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.pollLoop(ctx)
	}()

	go func() {
		wg.Wait()
		d.closed.Store(true)
		close(d.out)
	}()

	return d.out
}

func (d *Discovery) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.config.ScanInterval)
	defer ticker.Stop()

	d.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollAll(ctx)
			d.pruneSeen()
		}
	}
}

func (d *Discovery) pollAll(ctx context.Context) {
	for _, src := range d.sources {
		mints, err := src.Poll(ctx)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("discovery: poll failed")
			continue
		}
		for _, mint := range mints {
			d.emit(ctx, TokenEvent{
				Mint:       mint,
				Source:     src.Name(),
				DetectedAt: time.Now(),
			})
		}
	}
}

func (d *Discovery) emit(ctx context.Context, ev TokenEvent) {
	d.mu.Lock()
	if _, dup := d.seen[ev.Mint]; dup {
		d.mu.Unlock()
		d.duplicates.Add(1)
		return
	}
	d.seen[ev.Mint] = time.Now()
	d.mu.Unlock()

	d.discovered.Add(1)
	select {
	case d.out <- ev:
	case <-ctx.Done():
	default:
		log.Warn().Str("mint", ev.Mint.Short()).Msg("discovery: candidate channel full, dropping")
	}
}

// pruneSeen drops dedup entries older than the TTL so a mint can resurface
// after its cooldown.
func (d *Discovery) pruneSeen() {
	cutoff := time.Now().Add(-d.config.SeenTTL)
	d.mu.Lock()
	for mint, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, mint)
		}
	}
	d.mu.Unlock()
}

// DiscoveryStats reports stream counters.
type DiscoveryStats struct {
	Discovered int64 `json:"discovered"`
	Duplicates int64 `json:"duplicates"`
}

func (d *Discovery) Stats() DiscoveryStats {
	return DiscoveryStats{
		Discovered: d.discovered.Load(),
		Duplicates: d.duplicates.Load(),
	}
}
