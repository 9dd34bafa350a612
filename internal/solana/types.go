package solana

import (
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Well-known mints.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint Pubkey = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// ValidateMint checks that a mint address is a well-formed Solana pubkey:
// base58, decoding to exactly 32 bytes.
func ValidateMint(mint Pubkey) error {
	raw, err := base58.Decode(string(mint))
	if err != nil {
		return fmt.Errorf("mint %q is not base58: %w", mint, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("mint %q decodes to %d bytes, want 32", mint, len(raw))
	}
	return nil
}

// Short returns a truncated form of a pubkey for logging.
func (p Pubkey) Short() string {
	if len(p) <= 8 {
		return string(p)
	}
	return string(p[:8])
}

// ---------------------------------------------------------------------------
// Swap types
// ---------------------------------------------------------------------------

// SwapParams are the parameters for a token swap.
type SwapParams struct {
	InputMint   Pubkey          `json:"input_mint"`
	OutputMint  Pubkey          `json:"output_mint"`
	AmountIn    decimal.Decimal `json:"amount_in"` // smallest units of the input mint
	SlippageBps int             `json:"slippage_bps"`
}

// SwapResult is the result of an executed swap.
type SwapResult struct {
	Signature   Signature       `json:"signature"`
	InputMint   Pubkey          `json:"input_mint"`
	OutputMint  Pubkey          `json:"output_mint"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	AmountOut   decimal.Decimal `json:"amount_out"`
	FillPrice   decimal.Decimal `json:"fill_price"` // input units per output unit
	SlippageBps float64         `json:"actual_slippage_bps"`
	Confirmed   bool            `json:"confirmed"`
	FilledAt    time.Time       `json:"filled_at"`
}

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus string

const (
	TxProcessed TxStatus = "processed"
	TxConfirmed TxStatus = "confirmed"
	TxFinalized TxStatus = "finalized"
	TxFailed    TxStatus = "failed"
)
