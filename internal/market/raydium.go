package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Raydium Pool Poller — recently created AMM pools via the v3 API
// ---------------------------------------------------------------------------

// RaydiumClient polls the Raydium API for recently created pools.
type RaydiumClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRaydiumClient(baseURL string) *RaydiumClient {
	return &RaydiumClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// radPool is the subset of the Raydium pool schema we read.
type radPool struct {
	MintA struct {
		Address string `json:"address"`
	} `json:"mintA"`
	MintB struct {
		Address string `json:"address"`
	} `json:"mintB"`
	OpenTime string `json:"openTime"`
}

// RecentPools returns the non-quote mints of the most recently opened pools.
func (c *RaydiumClient) RecentPools(ctx context.Context) ([]solana.Pubkey, error) {
	url := fmt.Sprintf("%s/pools/info/list?poolType=all&poolSortField=default&sortType=desc&pageSize=50&page=1", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("raydium: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("raydium: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("raydium: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("raydium: HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Data struct {
			Data []radPool `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("raydium: parse response: %w", err)
	}

	quotes := map[string]bool{
		string(solana.SOLMint):  true,
		string(solana.USDCMint): true,
		string(solana.USDTMint): true,
	}

	var mints []solana.Pubkey
	for _, p := range parsed.Data.Data {
		// The tradable token is whichever side is not a quote asset.
		for _, addr := range []string{p.MintA.Address, p.MintB.Address} {
			if quotes[addr] {
				continue
			}
			mint := solana.Pubkey(addr)
			if solana.ValidateMint(mint) != nil {
				continue
			}
			mints = append(mints, mint)
		}
	}
	return mints, nil
}
