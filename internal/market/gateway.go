package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// Market Data Gateway — merges heterogeneous feeds into one observation
// ---------------------------------------------------------------------------

// MarketSnapshot is the liquidity/volume/price view of a mint from a
// market-data provider.
type MarketSnapshot struct {
	LiquidityUSD decimal.Decimal
	Volume24hUSD decimal.Decimal
	PriceUSD     decimal.Decimal
}

// MarketSource supplies liquidity, volume and price for a mint.
type MarketSource interface {
	TokenMarket(ctx context.Context, mint solana.Pubkey) (MarketSnapshot, error)
}

// SecuritySource supplies the security verdict for a mint.
type SecuritySource interface {
	TokenSecurity(ctx context.Context, mint solana.Pubkey) (SecurityReport, error)
}

// GatewayConfig configures the observation gateway.
type GatewayConfig struct {
	// Per-source timeout. A slow source degrades its fields to Unknown
	// instead of stalling the observation.
	SourceTimeout time.Duration
}

// Gateway produces TokenObservations by querying market and security
// sources in parallel. A source failure never aborts the observation;
// the affected fields are marked Unknown.
type Gateway struct {
	config   GatewayConfig
	market   MarketSource
	security SecuritySource
}

// NewGateway creates an observation gateway over the given sources.
func NewGateway(config GatewayConfig, market MarketSource, security SecuritySource) *Gateway {
	if config.SourceTimeout == 0 {
		config.SourceTimeout = 15 * time.Second
	}
	return &Gateway{config: config, market: market, security: security}
}

// Observe builds a TokenObservation for a mint. Always returns an
// observation; partial data is expressed through Unknown fields.
func (g *Gateway) Observe(ctx context.Context, mint solana.Pubkey) TokenObservation {
	obs := TokenObservation{
		Mint:       mint,
		ObservedAt: time.Now().UTC(),
	}

	var wg sync.WaitGroup
	var snap MarketSnapshot
	var snapErr error
	var sec SecurityReport
	var secErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		srcCtx, cancel := context.WithTimeout(ctx, g.config.SourceTimeout)
		defer cancel()
		snap, snapErr = g.market.TokenMarket(srcCtx, mint)
	}()
	go func() {
		defer wg.Done()
		srcCtx, cancel := context.WithTimeout(ctx, g.config.SourceTimeout)
		defer cancel()
		sec, secErr = g.security.TokenSecurity(srcCtx, mint)
	}()
	wg.Wait()

	if snapErr != nil {
		log.Warn().Err(snapErr).Str("mint", mint.Short()).
			Msg("gateway: market source degraded, fields unknown")
		obs.LiquidityUSD = UnknownMetric()
		obs.Volume24hUSD = UnknownMetric()
		obs.PriceUSD = UnknownMetric()
	} else {
		obs.LiquidityUSD = KnownMetric(snap.LiquidityUSD)
		obs.Volume24hUSD = KnownMetric(snap.Volume24hUSD)
		obs.PriceUSD = KnownMetric(snap.PriceUSD)
	}

	if secErr != nil {
		log.Warn().Err(secErr).Str("mint", mint.Short()).
			Msg("gateway: security source degraded, verdict unknown")
		obs.Security = SecurityReport{}
	} else {
		obs.Security = sec
	}

	log.Debug().
		Str("mint", mint.Short()).
		Bool("market_known", obs.LiquidityUSD.Known).
		Bool("security_known", obs.Security.Known).
		Msg("gateway: observation complete")

	return obs
}
