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
// RugCheck Security Source — mint authority / freeze / holder concentration
// ---------------------------------------------------------------------------

// RugCheckClient queries the RugCheck token report API for on-chain safety
// attributes. Implements SecuritySource.
type RugCheckClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRugCheckClient(baseURL string) *RugCheckClient {
	return &RugCheckClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// rugCheckReport is the subset of the RugCheck report we read.
type rugCheckReport struct {
	Token struct {
		MintAuthority   *string `json:"mintAuthority"`
		FreezeAuthority *string `json:"freezeAuthority"`
	} `json:"token"`
	TopHolders []struct {
		Pct float64 `json:"pct"`
	} `json:"topHolders"`
	Markets []struct {
		LP struct {
			LPLockedPct float64 `json:"lpLockedPct"`
		} `json:"lp"`
	} `json:"markets"`
}

// TokenSecurity implements SecuritySource.
func (c *RugCheckClient) TokenSecurity(ctx context.Context, mint solana.Pubkey) (SecurityReport, error) {
	url := fmt.Sprintf("%s/v1/tokens/%s/report", c.baseURL, mint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return SecurityReport{}, fmt.Errorf("rugcheck: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SecurityReport{}, fmt.Errorf("rugcheck: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SecurityReport{}, fmt.Errorf("rugcheck: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return SecurityReport{}, fmt.Errorf("rugcheck: HTTP %d", resp.StatusCode)
	}

	var report rugCheckReport
	if err := json.Unmarshal(body, &report); err != nil {
		return SecurityReport{}, fmt.Errorf("rugcheck: parse report: %w", err)
	}

	topPct := 0.0
	for _, h := range report.TopHolders {
		topPct += h.Pct
	}

	lpLocked := false
	for _, m := range report.Markets {
		if m.LP.LPLockedPct >= 50.0 {
			lpLocked = true
			break
		}
	}

	return SecurityReport{
		Known:        true,
		Mintable:     report.Token.MintAuthority != nil,
		Freezable:    report.Token.FreezeAuthority != nil,
		TopHolderPct: topPct,
		LPLocked:     lpLocked,
	}, nil
}
