package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talon-trading/talon/internal/solana"
)

const testMint = solana.Pubkey("So11111111111111111111111111111111111111112")

func entryFill(qty, price float64) *EntryFill {
	return &EntryFill{
		Quantity:  decimal.NewFromFloat(qty),
		FillPrice: decimal.NewFromFloat(price),
		Signature: "entry-sig",
	}
}

func TestPosition_HappyPathLifecycle(t *testing.T) {
	p := NewPosition(testMint, decimal.NewFromInt(1))
	require.Equal(t, StatePending, p.CurrentState())
	assert.NotEmpty(t, p.ID)

	require.NoError(t, p.Transition(EventEntryFilled, entryFill(1000, 0.001)))
	assert.Equal(t, StateOpen, p.CurrentState())
	assert.False(t, p.View().OpenedAt.IsZero())

	require.NoError(t, p.Transition(EventExitTrigger, ExitProfitTarget))
	assert.Equal(t, StateClosing, p.CurrentState())

	require.NoError(t, p.Transition(EventExitFilled, &ExitFill{
		FillPrice: decimal.NewFromFloat(0.002),
		Signature: "exit-sig",
	}))
	assert.Equal(t, StateClosed, p.CurrentState())
	assert.True(t, p.IsTerminal())

	view := p.View()
	// (0.002 - 0.001) * 1000 = 1 USDC profit.
	assert.True(t, view.PnLUSDC.Equal(decimal.NewFromInt(1)), "pnl=%s", view.PnLUSDC)
	assert.Equal(t, ExitProfitTarget, view.ExitReason)
	assert.False(t, view.ClosedAt.IsZero())
}

func TestPosition_EntryFailure(t *testing.T) {
	p := NewPosition(testMint, decimal.NewFromInt(1))
	require.NoError(t, p.Transition(EventEntryFailed, nil))
	assert.Equal(t, StateFailed, p.CurrentState())
	assert.True(t, p.IsTerminal())
}

func TestPosition_ExitFailureReturnsToOpen(t *testing.T) {
	p := NewPosition(testMint, decimal.NewFromInt(1))
	require.NoError(t, p.Transition(EventEntryFilled, entryFill(1000, 0.001)))
	require.NoError(t, p.Transition(EventExitTrigger, ExitStopLoss))
	require.NoError(t, p.Transition(EventExitFailed, nil))
	assert.Equal(t, StateOpen, p.CurrentState())

	// Exit can be retriggered.
	require.NoError(t, p.Transition(EventExitTrigger, ExitStopLoss))
	assert.Equal(t, StateClosing, p.CurrentState())
}

func TestPosition_InvalidTransitionsRejected(t *testing.T) {
	cases := []struct {
		name  string
		setup func(p *Position)
		event Event
		data  interface{}
	}{
		{"exit trigger while pending", func(p *Position) {}, EventExitTrigger, ExitStopLoss},
		{"fill while open", func(p *Position) {
			p.Transition(EventEntryFilled, entryFill(1, 1))
		}, EventEntryFilled, entryFill(1, 1)},
		{"exit fill without trigger", func(p *Position) {
			p.Transition(EventEntryFilled, entryFill(1, 1))
		}, EventExitFilled, &ExitFill{FillPrice: decimal.NewFromInt(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPosition(testMint, decimal.NewFromInt(1))
			tc.setup(p)
			before := p.CurrentState()
			err := p.Transition(tc.event, tc.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid transition")
			assert.Equal(t, before, p.CurrentState(), "state must not change on rejection")
		})
	}
}

func TestPosition_TerminalStatesAcceptNoEvents(t *testing.T) {
	p := NewPosition(testMint, decimal.NewFromInt(1))
	require.NoError(t, p.Transition(EventEntryFailed, nil))

	for _, ev := range []Event{EventEntryFilled, EventEntryFailed, EventExitTrigger, EventExitFilled, EventExitFailed} {
		assert.Error(t, p.Transition(ev, nil), "event %s", ev)
	}
	assert.Equal(t, StateFailed, p.CurrentState())
}

func TestPosition_TransitionRequiresData(t *testing.T) {
	p := NewPosition(testMint, decimal.NewFromInt(1))
	assert.Error(t, p.Transition(EventEntryFilled, nil))
	assert.Error(t, p.Transition(EventEntryFilled, "wrong type"))
	assert.Equal(t, StatePending, p.CurrentState())
}

func TestPosition_MarkPrice(t *testing.T) {
	p := NewPosition(testMint, decimal.NewFromInt(1))
	require.NoError(t, p.Transition(EventEntryFilled, entryFill(1000, 100)))

	pct := p.MarkPrice(decimal.NewFromFloat(103.5))
	assert.True(t, pct.Equal(decimal.NewFromFloat(3.5)), "pct=%s", pct)

	pct = p.MarkPrice(decimal.NewFromFloat(84.9))
	assert.True(t, pct.Equal(decimal.NewFromFloat(-15.1)), "pct=%s", pct)
}
