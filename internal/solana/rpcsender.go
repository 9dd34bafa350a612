package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Live RPC sender — signs locally, submits over Solana JSON-RPC
// ---------------------------------------------------------------------------

// RPCSenderConfig configures the live transaction sender.
type RPCSenderConfig struct {
	Endpoint string
	// Base58-encoded 64-byte ed25519 keypair (secret key format used by
	// solana-keygen).
	PrivateKey string
	Timeout    time.Duration
}

// RPCTxSender signs transactions with a local keypair and submits them
// through a Solana JSON-RPC endpoint.
type RPCTxSender struct {
	config RPCSenderConfig
	key    ed25519.PrivateKey
	http   *http.Client
}

// NewRPCTxSender creates a live sender. The private key is validated up
// front so a malformed key fails at startup, not on the first trade.
func NewRPCTxSender(config RPCSenderConfig) (*RPCTxSender, error) {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	raw, err := base58.Decode(config.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("solana: private key is not base58: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("solana: private key decodes to %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	return &RPCTxSender{
		config: config,
		key:    ed25519.PrivateKey(raw),
		http:   &http.Client{Timeout: config.Timeout},
	}, nil
}

// SignAndSend signs the unsigned transaction and submits it.
func (s *RPCTxSender) SignAndSend(ctx context.Context, txBase64 string) (Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("solana: decode transaction: %w", err)
	}

	signed, sig, err := signTransaction(raw, s.key)
	if err != nil {
		return "", err
	}

	var result string
	err = s.call(ctx, "sendTransaction", []any{
		base64.StdEncoding.EncodeToString(signed),
		map[string]any{"encoding": "base64", "skipPreflight": false},
	}, &result)
	if err != nil {
		return "", err
	}

	// The RPC echoes the signature it derived; trust ours if it is silent.
	if result != "" {
		sig = Signature(result)
	}
	log.Debug().Str("signature", string(sig)).Msg("solana: transaction submitted")
	return sig, nil
}

// Status reports the confirmation state of a submitted transaction.
func (s *RPCTxSender) Status(ctx context.Context, sig Signature) (TxStatus, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	err := s.call(ctx, "getSignatureStatuses", []any{
		[]string{string(sig)},
		map[string]any{"searchTransactionHistory": false},
	}, &result)
	if err != nil {
		return TxProcessed, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return TxProcessed, nil
	}

	st := result.Value[0]
	if st.Err != nil && string(st.Err) != "null" {
		return TxFailed, nil
	}
	switch st.ConfirmationStatus {
	case "finalized":
		return TxFinalized, nil
	case "confirmed":
		return TxConfirmed, nil
	default:
		return TxProcessed, nil
	}
}

// signTransaction places an ed25519 signature over the message of a
// serialized legacy transaction. The fee payer signs in slot 0; swap
// transactions built for a single wallet have exactly one signer.
func signTransaction(raw []byte, key ed25519.PrivateKey) ([]byte, Signature, error) {
	sigCount, offset, err := decodeCompactU16(raw)
	if err != nil {
		return nil, "", fmt.Errorf("solana: parse signature count: %w", err)
	}
	if sigCount < 1 {
		return nil, "", fmt.Errorf("solana: transaction declares no signers")
	}
	msgStart := offset + sigCount*ed25519.SignatureSize
	if msgStart >= len(raw) {
		return nil, "", fmt.Errorf("solana: transaction truncated before message")
	}

	sig := ed25519.Sign(key, raw[msgStart:])
	signed := make([]byte, len(raw))
	copy(signed, raw)
	copy(signed[offset:], sig)

	return signed, Signature(base58.Encode(sig)), nil
}

// decodeCompactU16 reads Solana's compact-u16 length prefix.
func decodeCompactU16(raw []byte) (int, int, error) {
	value, shift := 0, 0
	for i := 0; i < 3; i++ {
		if i >= len(raw) {
			return 0, 0, fmt.Errorf("input too short")
		}
		b := raw[i]
		value |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("malformed compact-u16")
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *RPCTxSender) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("solana: encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("solana: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("solana: %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("solana: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solana: %s returned HTTP %d", method, resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("solana: parse %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("solana: %s failed: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if out != nil && envelope.Result != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("solana: decode %s result: %w", method, err)
		}
	}
	return nil
}
