package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// DexScreener API Client — market snapshots + token discovery
// https://docs.dexscreener.com/api/reference
// ---------------------------------------------------------------------------

// DexScreenerClient talks to the official DexScreener API. It serves two
// roles: MarketSource for per-mint snapshots, and a discovery feed of
// boosted/profiled Solana tokens.
type DexScreenerClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rateLimiter
}

// NewDexScreenerClient creates a DexScreener client.
func NewDexScreenerClient(baseURL string) *DexScreenerClient {
	return &DexScreenerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter: newRateLimiter(map[string]time.Duration{
			"search":   200 * time.Millisecond, // 300 req/min
			"boosts":   time.Second,            // 60 req/min
			"profiles": time.Second,            // 60 req/min
		}),
	}
}

// dsPair is the subset of the DexScreener pair schema we read.
type dsPair struct {
	ChainID   string `json:"chainId"`
	BaseToken struct {
		Address string `json:"address"`
	} `json:"baseToken"`
	QuoteToken struct {
		Address string `json:"address"`
	} `json:"quoteToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PairCreatedAt int64 `json:"pairCreatedAt"` // unix millis
}

// TokenMarket implements MarketSource. It fetches all pairs for a mint and
// reads liquidity/volume/price from the deepest pair.
func (c *DexScreenerClient) TokenMarket(ctx context.Context, mint solana.Pubkey) (MarketSnapshot, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, mint)

	var resp struct {
		Pairs []dsPair `json:"pairs"`
	}
	if err := c.getJSON(ctx, "search", url, &resp); err != nil {
		return MarketSnapshot{}, err
	}
	if len(resp.Pairs) == 0 {
		return MarketSnapshot{}, fmt.Errorf("dexscreener: no pairs for %s", mint.Short())
	}

	// Deepest pair is the authoritative market.
	best := resp.Pairs[0]
	for _, p := range resp.Pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}

	price := decimal.Zero
	if best.PriceUSD != "" {
		if v, err := strconv.ParseFloat(best.PriceUSD, 64); err == nil {
			price = decimal.NewFromFloat(v)
		}
	}

	return MarketSnapshot{
		LiquidityUSD: decimal.NewFromFloat(best.Liquidity.USD),
		Volume24hUSD: decimal.NewFromFloat(best.Volume.H24),
		PriceUSD:     price,
	}, nil
}

// dsToken is a boosted/profiled token entry.
type dsToken struct {
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
}

// BoostedTokens returns the latest boosted Solana mints.
func (c *DexScreenerClient) BoostedTokens(ctx context.Context) ([]solana.Pubkey, error) {
	return c.tokenList(ctx, "boosts", c.baseURL+"/token-boosts/latest/v1")
}

// ProfiledTokens returns the latest token-profile Solana mints.
func (c *DexScreenerClient) ProfiledTokens(ctx context.Context) ([]solana.Pubkey, error) {
	return c.tokenList(ctx, "profiles", c.baseURL+"/token-profiles/latest/v1")
}

func (c *DexScreenerClient) tokenList(ctx context.Context, family, url string) ([]solana.Pubkey, error) {
	var entries []dsToken
	if err := c.getJSON(ctx, family, url, &entries); err != nil {
		return nil, err
	}

	var mints []solana.Pubkey
	for _, e := range entries {
		if e.ChainID != "solana" {
			continue
		}
		mint := solana.Pubkey(e.TokenAddress)
		if err := solana.ValidateMint(mint); err != nil {
			log.Debug().Str("addr", e.TokenAddress).Msg("dexscreener: skipping malformed mint")
			continue
		}
		mints = append(mints, mint)
	}
	return mints, nil
}

func (c *DexScreenerClient) getJSON(ctx context.Context, family, url string, out interface{}) error {
	if err := c.limiter.wait(ctx, family); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("dexscreener: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dexscreener: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("dexscreener: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dexscreener: HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("dexscreener: parse response: %w", err)
	}
	return nil
}
