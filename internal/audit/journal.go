package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Trade journal — append-only decision log
// ---------------------------------------------------------------------------

// Entry event types.
const (
	EventEntryOpened = "entry_opened"
	EventEntryFailed = "entry_failed"
	EventExit        = "exit"
	EventSignal      = "danger_signal"
	EventRiskDenial  = "risk_denial"
)

// Entry is one journaled decision. Every trade action gets recorded,
// creating a replayable log for post-session review.
type Entry struct {
	Timestamp time.Time       `json:"ts"`
	EventType string          `json:"event_type"`
	Mint      solana.Pubkey   `json:"mint"`
	Reason    string          `json:"reason,omitempty"`
	PnLUSDC   decimal.Decimal `json:"pnl_usdc,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// Journal appends entries to a JSONL file and keeps a bounded in-memory
// tail for the control plane. A nil *Journal is a no-op recorder.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	recent []Entry
	maxBuf int
}

// NewJournal opens (or creates) the journal file in append mode.
// maxBuf bounds the in-memory tail; 0 keeps no tail.
func NewJournal(path string, maxBuf int) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if maxBuf < 0 {
		maxBuf = 0
	}
	return &Journal{file: f, maxBuf: maxBuf}, nil
}

// Record appends one entry. Write failures are logged, never fatal:
// the journal must not take trading down with it.
func (j *Journal) Record(e Entry) {
	if j == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("audit: encode entry")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(append(line, '\n')); err != nil {
		log.Error().Err(err).Msg("audit: append entry")
	}
	if j.maxBuf > 0 {
		j.recent = append(j.recent, e)
		if len(j.recent) > j.maxBuf {
			j.recent = j.recent[len(j.recent)-j.maxBuf:]
		}
	}
}

// Recent returns a copy of the in-memory tail, oldest first.
func (j *Journal) Recent() []Entry {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.recent))
	copy(out, j.recent)
	return out
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
