package observability

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType identifies the kind of metric.
type MetricType string

const (
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
)

// MetricEntry is a point-in-time snapshot of one metric.
type MetricEntry struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Help      string            `json:"help"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"ts"`
}

// -----------------------------------------------------------------------
// Counter
// -----------------------------------------------------------------------

// Counter only goes up. The value is held as an atomic int64 scaled by
// 1000, which keeps increments lock-free while preserving three decimal
// places for fractional Add deltas.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	milli  atomic.Int64
}

func (c *Counter) Inc() {
	c.milli.Add(1000)
}

// Add increments by delta; negative deltas are ignored.
func (c *Counter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.milli.Add(int64(math.Round(delta * 1000)))
}

func (c *Counter) Value() float64 {
	return float64(c.milli.Load()) / 1000.0
}

func (c *Counter) Entry() MetricEntry {
	return MetricEntry{
		Name:      c.name,
		Type:      MetricCounter,
		Help:      c.help,
		Value:     c.Value(),
		Labels:    copyLabels(c.labels),
		Timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------
// Gauge
// -----------------------------------------------------------------------

// Gauge goes up and down. The float64 value is stored as its IEEE bits
// in an atomic word, so Set and Value never take a lock and the
// arithmetic operations degrade to short CAS loops.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	bits   atomic.Uint64
}

func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

func (g *Gauge) Inc() { g.Add(1) }

func (g *Gauge) Dec() { g.Add(-1) }

// Add adds delta to the gauge; delta may be negative.
func (g *Gauge) Add(delta float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (g *Gauge) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

func (g *Gauge) Entry() MetricEntry {
	return MetricEntry{
		Name:      g.name,
		Type:      MetricGauge,
		Help:      g.help,
		Value:     g.Value(),
		Labels:    copyLabels(g.labels),
		Timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------
// Histogram
// -----------------------------------------------------------------------

// Histogram tracks a value distribution over fixed buckets. Bucket
// bounds are inclusive upper bounds, and counts are stored cumulatively
// the way the Prometheus exposition format expects them.
type Histogram struct {
	name   string
	help   string
	labels map[string]string

	mu      sync.Mutex
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Quantile estimates the q-th percentile (0..1) by linear interpolation
// inside the bucket where the target rank lands. Values past the last
// bound clamp to it.
func (h *Histogram) Quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 || q < 0 || q > 1 {
		return 0
	}

	target := q * float64(h.count)
	lower, below := 0.0, 0.0
	for i, bound := range h.buckets {
		cum := float64(h.counts[i])
		if cum >= target {
			span := cum - below
			if span == 0 {
				return bound
			}
			return lower + (target-below)/span*(bound-lower)
		}
		lower, below = bound, cum
	}

	if n := len(h.buckets); n > 0 {
		return h.buckets[n-1]
	}
	return 0
}

// Entry snapshots the histogram; Value carries the observation count.
func (h *Histogram) Entry() MetricEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return MetricEntry{
		Name:      h.name,
		Type:      MetricHistogram,
		Help:      h.help,
		Value:     float64(h.count),
		Labels:    copyLabels(h.labels),
		Timestamp: time.Now(),
	}
}

// BucketCounts returns copies of the bounds and cumulative counts plus
// sum and total count, for the exporter.
func (h *Histogram) BucketCounts() (buckets []float64, counts []int64, sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets = append([]float64(nil), h.buckets...)
	counts = append([]int64(nil), h.counts...)
	return buckets, counts, h.sum, h.count
}

// -----------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------

// Registry holds all metrics. Registration is idempotent per name, and
// all methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// NewCounter registers a counter, returning the existing one when the
// name is already taken.
func (r *Registry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help, labels: copyLabels(labels)}
	r.counters[name] = c
	return c
}

// NewGauge registers a gauge, returning the existing one when the name
// is already taken.
func (r *Registry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: copyLabels(labels)}
	r.gauges[name] = g
	return g
}

// NewHistogram registers a histogram with the given bucket upper
// bounds (sorted internally), returning the existing one when the name
// is already taken.
func (r *Registry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h := &Histogram{
		name:    name,
		help:    help,
		labels:  copyLabels(labels),
		buckets: bounds,
		counts:  make([]int64, len(bounds)),
	}
	r.histograms[name] = h
	return h
}

// GetCounter returns a registered counter or nil.
func (r *Registry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetGauge returns a registered gauge or nil.
func (r *Registry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// GetHistogram returns a registered histogram or nil.
func (r *Registry) GetHistogram(name string) *Histogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.histograms[name]
}

// AllMetrics snapshots every registered metric, counters then gauges
// then histograms, each group sorted by name.
func (r *Registry) AllMetrics() []MetricEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]MetricEntry, 0, len(r.counters)+len(r.gauges)+len(r.histograms))
	for _, name := range sortedKeys(r.counters) {
		entries = append(entries, r.counters[name].Entry())
	}
	for _, name := range sortedKeys(r.gauges) {
		entries = append(entries, r.gauges[name].Entry())
	}
	for _, name := range sortedKeys(r.histograms) {
		entries = append(entries, r.histograms[name].Entry())
	}
	return entries
}

// DefaultLatencyBuckets are millisecond bounds for latency histograms.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// TalonMetrics builds the registry with every metric the trading loop
// records.
func TalonMetrics() *Registry {
	r := NewRegistry()

	r.NewCounter("talon_tokens_discovered_total",
		"Total candidate tokens discovered",
		nil)
	r.NewCounter("talon_tokens_scored_total",
		"Total tokens scored",
		nil)
	r.NewCounter("talon_entries_opened_total",
		"Total positions opened",
		nil)
	r.NewCounter("talon_entries_failed_total",
		"Total entries that failed before opening",
		nil)
	r.NewCounter("talon_exits_total",
		"Total position exits",
		nil)
	r.NewCounter("talon_blacklist_signals_total",
		"Total danger signals recorded",
		nil)
	r.NewCounter("talon_swap_failures_total",
		"Total swap failures by kind",
		nil)

	r.NewGauge("talon_positions_live",
		"Live (non-terminal) positions",
		nil)
	r.NewGauge("talon_pnl_realized_usdc",
		"Cumulative realized PnL in USDC",
		nil)
	r.NewGauge("talon_blacklist_size",
		"Mints currently blacklisted",
		nil)

	r.NewHistogram("talon_swap_latency_ms",
		"Swap submit-to-confirm latency in milliseconds",
		nil,
		DefaultLatencyBuckets)
	r.NewHistogram("talon_observe_latency_ms",
		"Gateway observation latency in milliseconds",
		nil,
		DefaultLatencyBuckets)

	return r
}

func copyLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
