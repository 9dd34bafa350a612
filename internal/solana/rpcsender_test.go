package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeypair(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return priv, base58.Encode(priv)
}

// unsignedTx builds a serialized legacy transaction with one empty
// signature slot in front of the given message bytes.
func unsignedTx(message []byte) []byte {
	raw := make([]byte, 1+ed25519.SignatureSize+len(message))
	raw[0] = 1
	copy(raw[1+ed25519.SignatureSize:], message)
	return raw
}

func TestSignTransaction(t *testing.T) {
	priv, _ := testKeypair(t)
	message := []byte("swap message payload")
	raw := unsignedTx(message)

	signed, sig, err := signTransaction(raw, priv)
	require.NoError(t, err)
	require.Len(t, signed, len(raw))

	sigBytes := signed[1 : 1+ed25519.SignatureSize]
	assert.True(t, ed25519.Verify(priv.Public().(ed25519.PublicKey), message, sigBytes))

	decoded, err := base58.Decode(string(sig))
	require.NoError(t, err)
	assert.Equal(t, sigBytes, decoded)

	// The input must not be mutated.
	assert.Equal(t, unsignedTx(message), raw)
}

func TestSignTransaction_Malformed(t *testing.T) {
	priv, _ := testKeypair(t)

	_, _, err := signTransaction([]byte{0}, priv)
	assert.Error(t, err, "zero signers")

	_, _, err = signTransaction([]byte{1, 2, 3}, priv)
	assert.Error(t, err, "truncated before message")
}

func TestDecodeCompactU16(t *testing.T) {
	cases := []struct {
		raw   []byte
		value int
		size  int
	}{
		{[]byte{0x01}, 1, 1},
		{[]byte{0x7f}, 127, 1},
		{[]byte{0x80, 0x01}, 128, 2},
		{[]byte{0xff, 0x01}, 255, 2},
	}
	for _, tc := range cases {
		value, size, err := decodeCompactU16(tc.raw)
		require.NoError(t, err)
		assert.Equal(t, tc.value, value)
		assert.Equal(t, tc.size, size)
	}

	_, _, err := decodeCompactU16(nil)
	assert.Error(t, err)
}

func TestNewRPCTxSender_RejectsBadKey(t *testing.T) {
	_, err := NewRPCTxSender(RPCSenderConfig{Endpoint: "http://localhost", PrivateKey: "not-base58!!"})
	assert.Error(t, err)

	_, err = NewRPCTxSender(RPCSenderConfig{Endpoint: "http://localhost", PrivateKey: base58.Encode([]byte{1, 2, 3})})
	assert.Error(t, err, "wrong key length")
}

func TestRPCTxSender_SignAndSend(t *testing.T) {
	_, keyB58 := testKeypair(t)

	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotMethod = req.Method

		// First param is the signed transaction; it must round-trip
		// through base64.
		txParam, ok := req.Params[0].(string)
		require.True(t, ok)
		_, err := base64.StdEncoding.DecodeString(txParam)
		require.NoError(t, err)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1, "result": "rpc-echoed-sig",
		})
	}))
	defer srv.Close()

	sender, err := NewRPCTxSender(RPCSenderConfig{Endpoint: srv.URL, PrivateKey: keyB58})
	require.NoError(t, err)

	tx := base64.StdEncoding.EncodeToString(unsignedTx([]byte("message")))
	sig, err := sender.SignAndSend(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "sendTransaction", gotMethod)
	assert.Equal(t, Signature("rpc-echoed-sig"), sig)
}

func TestRPCTxSender_Status(t *testing.T) {
	_, keyB58 := testKeypair(t)

	status := `{"confirmationStatus":"confirmed","err":null}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[` + status + `]}}`))
	}))
	defer srv.Close()

	sender, err := NewRPCTxSender(RPCSenderConfig{Endpoint: srv.URL, PrivateKey: keyB58})
	require.NoError(t, err)

	got, err := sender.Status(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, TxConfirmed, got)

	status = `{"confirmationStatus":"finalized","err":null}`
	got, err = sender.Status(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, TxFinalized, got)

	status = `{"confirmationStatus":"processed","err":{"InstructionError":[0,"Custom"]}}`
	got, err = sender.Status(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, TxFailed, got)

	status = `null`
	got, err = sender.Status(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, TxProcessed, got, "unknown signature still pending")
}

func TestRPCTxSender_RPCError(t *testing.T) {
	_, keyB58 := testKeypair(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Blockhash not found"}}`))
	}))
	defer srv.Close()

	sender, err := NewRPCTxSender(RPCSenderConfig{Endpoint: srv.URL, PrivateKey: keyB58})
	require.NoError(t, err)

	tx := base64.StdEncoding.EncodeToString(unsignedTx([]byte("message")))
	_, err = sender.SignAndSend(context.Background(), tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Blockhash not found")
}
