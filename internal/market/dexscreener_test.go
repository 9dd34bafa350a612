package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDexScreenerTokenMarket_PicksDeepestPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pairs":[
			{"chainId":"solana","priceUsd":"0.001","liquidity":{"usd":800},"volume":{"h24":300}},
			{"chainId":"solana","priceUsd":"0.0012","liquidity":{"usd":4200},"volume":{"h24":950}}
		]}`))
	}))
	defer srv.Close()

	client := NewDexScreenerClient(srv.URL)
	snap, err := client.TokenMarket(context.Background(), testMint)
	require.NoError(t, err)

	assert.True(t, snap.LiquidityUSD.Equal(decimal.NewFromInt(4200)))
	assert.True(t, snap.Volume24hUSD.Equal(decimal.NewFromInt(950)))
	assert.True(t, snap.PriceUSD.Equal(decimal.NewFromFloat(0.0012)))
}

func TestDexScreenerTokenMarket_NoPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[]}`))
	}))
	defer srv.Close()

	client := NewDexScreenerClient(srv.URL)
	_, err := client.TokenMarket(context.Background(), testMint)
	assert.Error(t, err)
}

func TestDexScreenerTokenMarket_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewDexScreenerClient(srv.URL)
	_, err := client.TokenMarket(context.Background(), testMint)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDexScreenerBoostedTokens_FiltersChainsAndBadMints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"chainId":"solana","tokenAddress":"So11111111111111111111111111111111111111112"},
			{"chainId":"ethereum","tokenAddress":"0xdeadbeef"},
			{"chainId":"solana","tokenAddress":"not-a-mint"}
		]`))
	}))
	defer srv.Close()

	client := NewDexScreenerClient(srv.URL)
	mints, err := client.BoostedTokens(context.Background())
	require.NoError(t, err)

	require.Len(t, mints, 1)
	assert.Equal(t, testMint, mints[0])
}
