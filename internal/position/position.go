package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/talon-trading/talon/internal/solana"
)

// State represents the current lifecycle state of a position.
type State string

const (
	StatePending State = "PENDING"
	StateOpen    State = "OPEN"
	StateClosing State = "CLOSING"
	StateClosed  State = "CLOSED"
	StateFailed  State = "FAILED"
)

// Event represents an event that triggers a state transition.
type Event string

const (
	EventEntryFilled Event = "ENTRY_FILLED"
	EventEntryFailed Event = "ENTRY_FAILED"
	EventExitTrigger Event = "EXIT_TRIGGER"
	EventExitFilled  Event = "EXIT_FILLED"
	EventExitFailed  Event = "EXIT_FAILED"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitProfitTarget ExitReason = "PROFIT_TARGET"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitRugPull      ExitReason = "RUG_PULL"
	ExitShutdown     ExitReason = "SHUTDOWN"
)

// Position tracks one token holding through a deterministic state machine.
// All monetary values use shopspring/decimal. Safe for concurrent access
// via its embedded mutex.
type Position struct {
	mu sync.Mutex

	ID   string        `json:"id"`
	Mint solana.Pubkey `json:"mint"`

	State State `json:"state"`

	// Entry.
	AmountUSDC decimal.Decimal  `json:"amount_usdc"`
	Quantity   decimal.Decimal  `json:"quantity"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	EntrySig   solana.Signature `json:"entry_sig,omitempty"`
	Attempts   int              `json:"attempts"`

	// Mark-to-market.
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPct decimal.Decimal `json:"unrealized_pct"`

	// Exit.
	ExitReason ExitReason       `json:"exit_reason,omitempty"`
	ExitPrice  decimal.Decimal  `json:"exit_price"`
	ExitSig    solana.Signature `json:"exit_sig,omitempty"`
	PnLUSDC    decimal.Decimal  `json:"pnl_usdc"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	OpenedAt  time.Time `json:"opened_at,omitempty"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// transition defines an allowed state machine edge.
type transition struct {
	from  State
	event Event
}

// transitions is the authoritative transition table. Every valid
// (currentState, event) pair maps to exactly one target state.
var transitions = map[transition]State{
	{StatePending, EventEntryFilled}: StateOpen,
	{StatePending, EventEntryFailed}: StateFailed,
	{StateOpen, EventExitTrigger}:    StateClosing,
	{StateClosing, EventExitFilled}:  StateClosed,
	// Sell failed: back to OPEN so the next tick can retry the exit.
	{StateClosing, EventExitFailed}: StateOpen,
}

// NewPosition creates a Position in the PENDING state for a buy of
// amountUSDC of the given mint.
func NewPosition(mint solana.Pubkey, amountUSDC decimal.Decimal) *Position {
	now := time.Now().UTC()
	return &Position{
		ID:         uuid.NewString(),
		Mint:       mint,
		State:      StatePending,
		AmountUSDC: amountUSDC,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// EntryFill carries the realized buy execution.
type EntryFill struct {
	Quantity  decimal.Decimal
	FillPrice decimal.Decimal
	Signature solana.Signature
}

// ExitFill carries the realized sell execution.
type ExitFill struct {
	FillPrice decimal.Decimal
	Signature solana.Signature
}

// Transition advances the position through the state machine.
//
// data is interpreted based on the event type:
//   - EventEntryFilled: *EntryFill
//   - EventExitTrigger: ExitReason
//   - EventExitFilled:  *ExitFill
//   - others:           nil
//
// Returns an error on invalid transitions or missing data; terminal
// states accept no events at all.
func (p *Position) Transition(event Event, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prevState := p.State
	key := transition{from: p.State, event: event}

	nextState, ok := transitions[key]
	if !ok {
		return fmt.Errorf("invalid transition: state=%s event=%s", p.State, event)
	}

	now := time.Now().UTC()

	switch event {
	case EventEntryFilled:
		fill, ok := data.(*EntryFill)
		if !ok || fill == nil {
			return fmt.Errorf("event %s requires *EntryFill data, got %T", event, data)
		}
		if !fill.Quantity.IsPositive() || !fill.FillPrice.IsPositive() {
			return fmt.Errorf("entry fill must have positive qty and price")
		}
		p.Quantity = fill.Quantity
		p.EntryPrice = fill.FillPrice
		p.CurrentPrice = fill.FillPrice
		p.EntrySig = fill.Signature
		p.OpenedAt = now

	case EventExitTrigger:
		reason, ok := data.(ExitReason)
		if !ok || reason == "" {
			return fmt.Errorf("event %s requires ExitReason data, got %T", event, data)
		}
		p.ExitReason = reason

	case EventExitFilled:
		fill, ok := data.(*ExitFill)
		if !ok || fill == nil {
			return fmt.Errorf("event %s requires *ExitFill data, got %T", event, data)
		}
		p.ExitPrice = fill.FillPrice
		p.ExitSig = fill.Signature
		p.PnLUSDC = fill.FillPrice.Sub(p.EntryPrice).Mul(p.Quantity)

	case EventExitFailed:
		// Keep ExitReason so stats can see what was attempted, the
		// next trigger overwrites it.
	}

	p.State = nextState
	p.UpdatedAt = now

	if p.isTerminalLocked() {
		p.ClosedAt = now
	}

	log.Info().
		Str("position_id", p.ID).
		Str("mint", p.Mint.Short()).
		Str("prev_state", string(prevState)).
		Str("event", string(event)).
		Str("new_state", string(p.State)).
		Msg("position: state transition")

	return nil
}

// MarkPrice updates the mark-to-market fields from a fresh price. Only
// meaningful while the position holds tokens; a no-op otherwise.
func (p *Position) MarkPrice(price decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.EntryPrice.IsZero() || !price.IsPositive() {
		return p.UnrealizedPct
	}
	p.CurrentPrice = price
	p.UnrealizedPct = price.Sub(p.EntryPrice).
		Div(p.EntryPrice).
		Mul(decimal.NewFromInt(100))
	p.UpdatedAt = time.Now().UTC()
	return p.UnrealizedPct
}

// CurrentState returns the state. Thread-safe.
func (p *Position) CurrentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State
}

// IsTerminal returns true for CLOSED and FAILED. Thread-safe.
func (p *Position) IsTerminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isTerminalLocked()
}

func (p *Position) isTerminalLocked() bool {
	switch p.State {
	case StateClosed, StateFailed:
		return true
	default:
		return false
	}
}

// Snapshot is the serializable view of a position.
type Snapshot struct {
	ID            string           `json:"id"`
	Mint          solana.Pubkey    `json:"mint"`
	State         State            `json:"state"`
	AmountUSDC    decimal.Decimal  `json:"amount_usdc"`
	Quantity      decimal.Decimal  `json:"quantity"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	EntrySig      solana.Signature `json:"entry_sig,omitempty"`
	Attempts      int              `json:"attempts"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	UnrealizedPct decimal.Decimal  `json:"unrealized_pct"`
	ExitReason    ExitReason       `json:"exit_reason,omitempty"`
	ExitPrice     decimal.Decimal  `json:"exit_price"`
	ExitSig       solana.Signature `json:"exit_sig,omitempty"`
	PnLUSDC       decimal.Decimal  `json:"pnl_usdc"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	OpenedAt      time.Time        `json:"opened_at,omitempty"`
	ClosedAt      time.Time        `json:"closed_at,omitempty"`
}

// View returns a copy safe to serialize without holding the lock.
func (p *Position) View() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		ID:            p.ID,
		Mint:          p.Mint,
		State:         p.State,
		AmountUSDC:    p.AmountUSDC,
		Quantity:      p.Quantity,
		EntryPrice:    p.EntryPrice,
		EntrySig:      p.EntrySig,
		Attempts:      p.Attempts,
		CurrentPrice:  p.CurrentPrice,
		UnrealizedPct: p.UnrealizedPct,
		ExitReason:    p.ExitReason,
		ExitPrice:     p.ExitPrice,
		ExitSig:       p.ExitSig,
		PnLUSDC:       p.PnLUSDC,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		OpenedAt:      p.OpenedAt,
		ClosedAt:      p.ClosedAt,
	}
}

// restore rebuilds a position from a snapshot loaded off disk.
func restore(s Snapshot) *Position {
	return &Position{
		ID:            s.ID,
		Mint:          s.Mint,
		State:         s.State,
		AmountUSDC:    s.AmountUSDC,
		Quantity:      s.Quantity,
		EntryPrice:    s.EntryPrice,
		EntrySig:      s.EntrySig,
		Attempts:      s.Attempts,
		CurrentPrice:  s.CurrentPrice,
		UnrealizedPct: s.UnrealizedPct,
		ExitReason:    s.ExitReason,
		ExitPrice:     s.ExitPrice,
		ExitSig:       s.ExitSig,
		PnLUSDC:       s.PnLUSDC,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		OpenedAt:      s.OpenedAt,
		ClosedAt:      s.ClosedAt,
	}
}
