package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Jupiter V6 API Client — quote, swap build, price
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

// JupiterConfig configures the Jupiter client.
type JupiterConfig struct {
	QuoteURL     string `yaml:"quote_url"`
	SwapURL      string `yaml:"swap_url"`
	PriceURL     string `yaml:"price_url"`
	WalletPubkey string `yaml:"wallet_pubkey"`
}

func (c *JupiterConfig) applyDefaults() {
	if c.QuoteURL == "" {
		c.QuoteURL = "https://quote-api.jup.ag/v6/quote"
	}
	if c.SwapURL == "" {
		c.SwapURL = "https://quote-api.jup.ag/v6/swap"
	}
	if c.PriceURL == "" {
		c.PriceURL = "https://price.jup.ag/v6/price"
	}
}

// JupiterClient is the Jupiter V6 API client. Failures come back typed so
// the engine can separate transient conditions from dead ends.
type JupiterClient struct {
	config     JupiterConfig
	httpClient *http.Client

	quoteCount atomic.Int64
	swapCount  atomic.Int64
	errorCount atomic.Int64

	// Circuit breaker: consecutive failures trip it open for a cooldown.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool
}

// NewJupiterClient creates a Jupiter API client.
func NewJupiterClient(config JupiterConfig) *JupiterClient {
	config.applyDefaults()
	return &JupiterClient{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Quote is the subset of the Jupiter /quote response the engine consumes.
// Raw holds the untouched body because /swap wants the quote echoed back.
type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`

	Raw json.RawMessage `json:"-"`
}

// OutAmountDecimal parses the quoted output amount (base units).
func (q *Quote) OutAmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(q.OutAmount)
}

// PriceImpact parses the quoted price impact as a fraction (0.01 = 1%).
func (q *Quote) PriceImpact() decimal.Decimal {
	v, err := decimal.NewFromString(q.PriceImpactPct)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// GetQuote fetches the best route for a swap. amountIn is in the input
// mint's base units.
func (c *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint solana.Pubkey, amountIn decimal.Decimal, slippageBps int) (*Quote, error) {
	if c.circuitOpen.Load() {
		return nil, newFailure(KindQuoteUnavailable, "quote", errors.New("circuit breaker open"))
	}

	queryURL, err := url.Parse(c.config.QuoteURL)
	if err != nil {
		return nil, newFailure(KindQuoteUnavailable, "quote", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", string(inputMint))
	q.Set("outputMint", string(outputMint))
	q.Set("amount", amountIn.Truncate(0).String())
	q.Set("slippageBps", fmt.Sprintf("%d", slippageBps))
	q.Set("onlyDirectRoutes", "false")
	queryURL.RawQuery = q.Encode()

	body, err := c.do(ctx, http.MethodGet, queryURL.String(), nil, "quote")
	if err != nil {
		return nil, err
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, newFailure(KindQuoteUnavailable, "quote", fmt.Errorf("parse: %w", err))
	}
	if quote.OutAmount == "" {
		return nil, newFailure(KindQuoteUnavailable, "quote", errors.New("no route in response"))
	}
	quote.Raw = json.RawMessage(body)

	c.resetErrors()
	c.quoteCount.Add(1)

	log.Debug().
		Str("in", solana.Pubkey(quote.InputMint).Short()).
		Str("out", solana.Pubkey(quote.OutputMint).Short()).
		Str("in_amount", quote.InAmount).
		Str("out_amount", quote.OutAmount).
		Str("price_impact", quote.PriceImpactPct).
		Msg("jupiter: quote received")

	return &quote, nil
}

// swapRequest is the Jupiter /swap request body.
type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSOL        bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts       bool            `json:"useSharedAccounts"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

// SwapTx is the built transaction from Jupiter /swap.
type SwapTx struct {
	SwapTransaction      string `json:"swapTransaction"` // base64 encoded
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwapTx exchanges a quote for a signed-ready transaction.
func (c *JupiterClient) BuildSwapTx(ctx context.Context, quote *Quote) (*SwapTx, error) {
	if c.circuitOpen.Load() {
		return nil, newFailure(KindQuoteUnavailable, "swap", errors.New("circuit breaker open"))
	}

	reqBody, err := json.Marshal(swapRequest{
		QuoteResponse:           quote.Raw,
		UserPublicKey:           c.config.WalletPubkey,
		WrapAndUnwrapSOL:        true,
		UseSharedAccounts:       true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return nil, newFailure(KindQuoteUnavailable, "swap", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.config.SwapURL, reqBody, "swap")
	if err != nil {
		return nil, err
	}

	var tx SwapTx
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, newFailure(KindQuoteUnavailable, "swap", fmt.Errorf("parse: %w", err))
	}
	if tx.SwapTransaction == "" {
		return nil, newFailure(KindQuoteUnavailable, "swap", errors.New("empty transaction"))
	}

	c.resetErrors()
	c.swapCount.Add(1)
	return &tx, nil
}

// GetPrice fetches the current USDC price for a mint from the price API.
func (c *JupiterClient) GetPrice(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	queryURL, err := url.Parse(c.config.PriceURL)
	if err != nil {
		return decimal.Zero, newFailure(KindQuoteUnavailable, "price", err)
	}
	q := queryURL.Query()
	q.Set("ids", string(mint))
	q.Set("vsToken", string(solana.USDCMint))
	queryURL.RawQuery = q.Encode()

	body, err := c.do(ctx, http.MethodGet, queryURL.String(), nil, "price")
	if err != nil {
		return decimal.Zero, err
	}

	var priceResp struct {
		Data map[string]struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return decimal.Zero, newFailure(KindQuoteUnavailable, "price", fmt.Errorf("parse: %w", err))
	}

	data, ok := priceResp.Data[string(mint)]
	if !ok || data.Price <= 0 {
		return decimal.Zero, newFailure(KindQuoteUnavailable, "price", fmt.Errorf("no price for %s", mint.Short()))
	}
	return decimal.NewFromFloat(data.Price), nil
}

// do runs one HTTP exchange and maps the outcome onto the failure
// taxonomy. Retrying is the engine's job, not the transport's.
func (c *JupiterClient) do(ctx context.Context, method, reqURL string, reqBody []byte, op string) ([]byte, error) {
	var reader io.Reader
	if reqBody != nil {
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, newFailure(KindQuoteUnavailable, op, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		c.recordError()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newFailure(KindTimeout, op, err)
		}
		return nil, newFailure(KindTransientNetwork, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.errorCount.Add(1)
		c.recordError()
		return nil, newFailure(KindTransientNetwork, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.errorCount.Add(1)
		c.recordError()
		return nil, newFailure(KindTransientNetwork, op, fmt.Errorf("HTTP %d", resp.StatusCode))
	default:
		c.errorCount.Add(1)
		c.recordError()
		return nil, newFailure(KindQuoteUnavailable, op, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
	}
}

// recordError counts consecutive failures and trips the breaker open for
// a cooldown once they pile up.
func (c *JupiterClient) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= 5 {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("jupiter: circuit breaker open")
			go func() {
				time.Sleep(30 * time.Second)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("jupiter: circuit breaker reset")
			}()
		}
	}
}

func (c *JupiterClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// ClientStats reports API counters.
type ClientStats struct {
	QuoteCount  int64 `json:"quote_count"`
	SwapCount   int64 `json:"swap_count"`
	ErrorCount  int64 `json:"error_count"`
	CircuitOpen bool  `json:"circuit_open"`
}

func (c *JupiterClient) Stats() ClientStats {
	return ClientStats{
		QuoteCount:  c.quoteCount.Load(),
		SwapCount:   c.swapCount.Load(),
		ErrorCount:  c.errorCount.Load(),
		CircuitOpen: c.circuitOpen.Load(),
	}
}
