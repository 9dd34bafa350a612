package blacklist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Token Blacklist — cumulative danger scoring with JSON persistence
// ---------------------------------------------------------------------------

// Signal is a category of dangerous behavior observed for a mint. Each
// signal carries a configured weight; a mint is blacklisted once its
// accumulated weight reaches the threshold.
type Signal string

const (
	SignalFailVerdict       Signal = "fail_verdict"
	SignalStopLossExit      Signal = "stop_loss_exit"
	SignalLiquidityCollapse Signal = "liquidity_collapse"
)

// Weights maps each danger signal to its score increment.
type Weights struct {
	FailVerdict       float64 `yaml:"fail_verdict"`       // default 4.0
	StopLossExit      float64 `yaml:"stop_loss_exit"`     // default 8.0
	LiquidityCollapse float64 `yaml:"liquidity_collapse"` // default 20.0
}

// DefaultWeights returns the standard signal weights.
func DefaultWeights() Weights {
	return Weights{
		FailVerdict:       4.0,
		StopLossExit:      8.0,
		LiquidityCollapse: 20.0,
	}
}

func (w Weights) of(sig Signal) float64 {
	switch sig {
	case SignalFailVerdict:
		return w.FailVerdict
	case SignalStopLossExit:
		return w.StopLossExit
	case SignalLiquidityCollapse:
		return w.LiquidityCollapse
	default:
		return 0
	}
}

// Config configures the blacklist manager.
type Config struct {
	Threshold float64 `yaml:"threshold"` // default 20.0
	FilePath  string  `yaml:"file_path"` // default token_blacklist.json
	Weights   Weights `yaml:"weights"`
}

// DefaultConfig returns the standard blacklist settings.
func DefaultConfig() Config {
	return Config{
		Threshold: 20.0,
		FilePath:  "token_blacklist.json",
		Weights:   DefaultWeights(),
	}
}

func (c *Config) applyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 20.0
	}
	if c.FilePath == "" {
		c.FilePath = "token_blacklist.json"
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
}

// entry is one mint's danger record.
type entry struct {
	Score         float64   `json:"score"`
	Signals       int       `json:"signals"`
	LastSignal    Signal    `json:"last_signal"`
	FirstSignalAt time.Time `json:"first_signal_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Manager tracks per-mint danger scores and persists them across restarts.
// Safe for concurrent use.
type Manager struct {
	config Config

	mu      sync.RWMutex
	entries map[solana.Pubkey]entry
	dirty   bool
}

// NewManager creates a blacklist manager and loads any persisted state.
// A missing file is a clean start; a corrupt file is logged and discarded.
func NewManager(config Config) *Manager {
	config.applyDefaults()
	m := &Manager{
		config:  config,
		entries: make(map[solana.Pubkey]entry),
	}
	m.load()
	return m
}

// RecordSignal accumulates a danger signal for a mint and returns the new
// score and whether the mint is now blacklisted.
func (m *Manager) RecordSignal(mint solana.Pubkey, sig Signal) (float64, bool) {
	weight := m.config.Weights.of(sig)

	m.mu.Lock()
	e := m.entries[mint]
	if e.Signals == 0 {
		e.FirstSignalAt = time.Now().UTC()
	}
	e.Score += weight
	e.Signals++
	e.LastSignal = sig
	e.UpdatedAt = time.Now().UTC()
	m.entries[mint] = e
	m.dirty = true
	score := e.Score
	m.mu.Unlock()

	listed := score >= m.config.Threshold
	ev := log.Info()
	if listed {
		ev = log.Warn()
	}
	ev.Str("mint", mint.Short()).
		Str("signal", string(sig)).
		Float64("score", score).
		Bool("blacklisted", listed).
		Msg("blacklist: danger signal recorded")

	return score, listed
}

// IsBlacklisted reports whether a mint's accumulated score has reached the
// threshold.
func (m *Manager) IsBlacklisted(mint solana.Pubkey) bool {
	m.mu.RLock()
	e, ok := m.entries[mint]
	m.mu.RUnlock()
	return ok && e.Score >= m.config.Threshold
}

// Score returns a mint's accumulated danger score.
func (m *Manager) Score(mint solana.Pubkey) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[mint].Score
}

// Len returns the number of tracked mints.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Blacklisted returns all mints at or above the threshold.
func (m *Manager) Blacklisted() []solana.Pubkey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []solana.Pubkey
	for mint, e := range m.entries {
		if e.Score >= m.config.Threshold {
			out = append(out, mint)
		}
	}
	return out
}

// Flush persists the current state if it changed since the last write.
func (m *Manager) Flush() error {
	m.mu.RLock()
	if !m.dirty {
		m.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(m.entries, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("blacklist: encode: %w", err)
	}

	dir := filepath.Dir(m.config.FilePath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("blacklist: create dir: %w", err)
		}
	}

	// Temp file then rename so a crash never truncates the list.
	tmpPath := m.config.FilePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("blacklist: write temp: %w", err)
	}
	if err := os.Rename(tmpPath, m.config.FilePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("blacklist: rename: %w", err)
	}

	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()

	log.Debug().Int("entries", m.Len()).Str("path", m.config.FilePath).
		Msg("blacklist: state persisted")
	return nil
}

func (m *Manager) load() {
	data, err := os.ReadFile(m.config.FilePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.config.FilePath).
				Msg("blacklist: read failed, starting empty")
		}
		return
	}

	var entries map[solana.Pubkey]entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Str("path", m.config.FilePath).
			Msg("blacklist: corrupt state file, starting empty")
		return
	}

	m.entries = entries
	log.Info().Int("entries", len(entries)).Str("path", m.config.FilePath).
		Msg("blacklist: state loaded")
}
