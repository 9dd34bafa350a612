package execution

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Execution Engine — quote, bound-check, submit, confirm
// ---------------------------------------------------------------------------

// usdcBase converts between human USDC and its 6-decimal base units.
var usdcBase = decimal.NewFromInt(1_000_000)

// swapAPI is the quote/swap surface the engine drives. JupiterClient is
// the production implementation.
type swapAPI interface {
	GetQuote(ctx context.Context, inputMint, outputMint solana.Pubkey, amountIn decimal.Decimal, slippageBps int) (*Quote, error)
	BuildSwapTx(ctx context.Context, quote *Quote) (*SwapTx, error)
}

// EngineConfig configures the execution engine.
type EngineConfig struct {
	SlippageBps       int           `yaml:"slippage_bps"`        // default 50
	EnableRealTrading bool          `yaml:"enable_real_trading"` // false = simulated fills
	MaxRetries        int           `yaml:"max_retries"`         // default 3, transient failures only
	RetryBackoff      time.Duration `yaml:"retry_backoff"`       // default 500ms, doubles per attempt
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`     // default 60s
	ConfirmPoll       time.Duration `yaml:"confirm_poll"`        // default 2s
}

func (c *EngineConfig) applyDefaults() {
	if c.SlippageBps == 0 {
		c.SlippageBps = 50
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = 60 * time.Second
	}
	if c.ConfirmPoll == 0 {
		c.ConfirmPoll = 2 * time.Second
	}
}

// Engine turns buy/sell intents into confirmed swaps. Quotes whose price
// impact breaches the slippage bound are rejected before anything is
// submitted; transient failures are retried with exponential backoff up
// to the configured budget. With real trading disabled every order fills
// at the quoted price without touching the chain.
type Engine struct {
	config EngineConfig
	api    swapAPI
	sender solana.TxSender

	// Stats.
	fills          atomic.Int64
	simulated      atomic.Int64
	slippageBlocks atomic.Int64
	failures       atomic.Int64
}

// NewEngine creates an execution engine.
func NewEngine(config EngineConfig, api swapAPI, sender solana.TxSender) *Engine {
	config.applyDefaults()
	return &Engine{config: config, api: api, sender: sender}
}

// Buy swaps amountUSDC of USDC into the given mint. The result's
// AmountOut and FillPrice are in the token's base units.
func (e *Engine) Buy(ctx context.Context, mint solana.Pubkey, amountUSDC decimal.Decimal) (solana.SwapResult, error) {
	baseIn := amountUSDC.Mul(usdcBase)
	res, err := e.swap(ctx, solana.USDCMint, mint, baseIn)
	if err != nil {
		return solana.SwapResult{}, err
	}

	// Price in USDC per token base unit.
	if res.AmountOut.IsPositive() {
		res.FillPrice = amountUSDC.Div(res.AmountOut)
	}
	res.AmountIn = amountUSDC
	return res, nil
}

// Sell swaps quantity token base units back into USDC. AmountOut and
// FillPrice are in human USDC.
func (e *Engine) Sell(ctx context.Context, mint solana.Pubkey, quantity decimal.Decimal) (solana.SwapResult, error) {
	res, err := e.swap(ctx, mint, solana.USDCMint, quantity)
	if err != nil {
		return solana.SwapResult{}, err
	}

	usdcOut := res.AmountOut.Div(usdcBase)
	res.AmountOut = usdcOut
	if quantity.IsPositive() {
		res.FillPrice = usdcOut.Div(quantity)
	}
	res.AmountIn = quantity
	return res, nil
}

// MarkPrice values a holding by quoting its liquidation: the USDC a sell
// of quantity base units would realize, per unit. Using the sell
// direction keeps mark prices in the same units as entry fill prices.
func (e *Engine) MarkPrice(ctx context.Context, mint solana.Pubkey, quantity decimal.Decimal) (decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("execution: quantity must be positive")
	}
	quote, err := e.api.GetQuote(ctx, mint, solana.USDCMint, quantity, e.config.SlippageBps)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := quote.OutAmountDecimal()
	if err != nil {
		return decimal.Zero, newFailure(KindQuoteUnavailable, "quote", err)
	}
	return out.Div(usdcBase).Div(quantity), nil
}

// swap runs the quote/check/submit/confirm pipeline. Retries cover the
// quote phase only: once a transaction is signed and sent, resubmitting
// on an ambiguous outcome could double-fill.
func (e *Engine) swap(ctx context.Context, inputMint, outputMint solana.Pubkey, amountIn decimal.Decimal) (solana.SwapResult, error) {
	var quote *Quote
	var err error

	backoff := e.config.RetryBackoff
	for attempt := 1; ; attempt++ {
		quote, err = e.api.GetQuote(ctx, inputMint, outputMint, amountIn, e.config.SlippageBps)
		if err == nil {
			break
		}

		var f *Failure
		if !errors.As(err, &f) || !f.Retryable() || attempt >= e.config.MaxRetries {
			e.failures.Add(1)
			return solana.SwapResult{}, err
		}

		log.Warn().Err(err).Int("attempt", attempt).
			Str("out", outputMint.Short()).
			Msg("execution: transient quote failure, backing off")
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return solana.SwapResult{}, newFailure(KindTimeout, "quote", ctx.Err())
		}
	}

	// Slippage gate: reject before anything reaches the chain.
	impactBps := quote.PriceImpact().Mul(decimal.NewFromInt(10_000))
	if impactBps.GreaterThan(decimal.NewFromInt(int64(e.config.SlippageBps))) {
		e.slippageBlocks.Add(1)
		return solana.SwapResult{}, newFailure(KindSlippageExceeded, "quote",
			fmt.Errorf("price impact %s bps exceeds bound %d bps", impactBps.StringFixed(1), e.config.SlippageBps))
	}

	out, err := quote.OutAmountDecimal()
	if err != nil {
		e.failures.Add(1)
		return solana.SwapResult{}, newFailure(KindQuoteUnavailable, "quote", err)
	}

	result := solana.SwapResult{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		AmountIn:    amountIn,
		AmountOut:   out,
		SlippageBps: float64(e.config.SlippageBps),
		FilledAt:    time.Now().UTC(),
	}

	if !e.config.EnableRealTrading {
		result.Signature = solana.Signature(fmt.Sprintf("sim-%d", time.Now().UnixNano()))
		result.Confirmed = true
		e.simulated.Add(1)
		log.Info().
			Str("in", inputMint.Short()).
			Str("out", outputMint.Short()).
			Str("amount_out", out.String()).
			Msg("execution: simulated fill")
		return result, nil
	}

	tx, err := e.api.BuildSwapTx(ctx, quote)
	if err != nil {
		e.failures.Add(1)
		return solana.SwapResult{}, err
	}

	sig, err := e.sender.SignAndSend(ctx, tx.SwapTransaction)
	if err != nil {
		e.failures.Add(1)
		return solana.SwapResult{}, newFailure(KindOnChainRejected, "send", err)
	}
	result.Signature = sig

	if err := e.awaitConfirmation(ctx, sig); err != nil {
		e.failures.Add(1)
		return solana.SwapResult{}, err
	}
	result.Confirmed = true
	e.fills.Add(1)

	log.Info().
		Str("sig", string(sig)).
		Str("in", inputMint.Short()).
		Str("out", outputMint.Short()).
		Str("amount_out", out.String()).
		Msg("execution: swap confirmed")

	return result, nil
}

// awaitConfirmation polls the sender until the transaction confirms or
// the deadline passes.
func (e *Engine) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.config.ConfirmPoll)
	defer ticker.Stop()

	for {
		status, err := e.sender.Status(ctx, sig)
		if err == nil {
			switch status {
			case solana.TxConfirmed, solana.TxFinalized:
				return nil
			case solana.TxFailed:
				return newFailure(KindOnChainRejected, "confirm", fmt.Errorf("transaction %s failed", sig))
			}
		}

		select {
		case <-ctx.Done():
			return newFailure(KindTimeout, "confirm", fmt.Errorf("no confirmation for %s within %s", sig, e.config.ConfirmTimeout))
		case <-ticker.C:
		}
	}
}

// EngineStats reports execution counters.
type EngineStats struct {
	Fills          int64 `json:"fills"`
	Simulated      int64 `json:"simulated"`
	SlippageBlocks int64 `json:"slippage_blocks"`
	Failures       int64 `json:"failures"`
}

func (e *Engine) EngineStats() EngineStats {
	return EngineStats{
		Fills:          e.fills.Load(),
		Simulated:      e.simulated.Load(),
		SlippageBlocks: e.slippageBlocks.Load(),
		Failures:       e.failures.Load(),
	}
}
