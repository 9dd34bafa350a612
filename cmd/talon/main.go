package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/talon-trading/talon/internal/audit"
	"github.com/talon-trading/talon/internal/blacklist"
	"github.com/talon-trading/talon/internal/config"
	"github.com/talon-trading/talon/internal/engine"
	"github.com/talon-trading/talon/internal/execution"
	"github.com/talon-trading/talon/internal/market"
	"github.com/talon-trading/talon/internal/observability"
	"github.com/talon-trading/talon/internal/position"
	"github.com/talon-trading/talon/internal/risk"
	"github.com/talon-trading/talon/internal/safety"
	"github.com/talon-trading/talon/internal/solana"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Force the stub transaction sender (no chain submission)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	realTrading := cfg.Trading.EnableRealTrading && !*stubMode
	log.Info().Msg("=============================================")
	log.Info().Msg("TALON Autonomous Token Trader - Starting")
	log.Info().Msg("DISCOVER -> SCORE -> GATE -> TRADE -> EXIT")
	log.Info().Msg("=============================================")
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("real_trading", realTrading).
		Bool("stub_mode", *stubMode).
		Float64("trade_amount_usdc", cfg.Trading.TradeAmountUSDC).
		Float64("profit_target_pct", cfg.Trading.ProfitTargetPct).
		Float64("stop_loss_pct", cfg.Trading.StopLossPct).
		Int("max_positions", cfg.Trading.MaxPositions).
		Int("slippage_bps", cfg.Trading.SlippageBps).
		Float64("safety_threshold", cfg.Safety.SafetyThreshold).
		Msg("Configuration loaded")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	// 4. Metrics and health.
	metrics := observability.TalonMetrics()
	health := observability.NewHealthMonitor(30 * time.Second)

	// 5. Blacklist.
	blacklistMgr := blacklist.NewManager(blacklist.Config{
		Threshold: cfg.Blacklist.Threshold,
		FilePath:  cfg.Blacklist.FilePath,
		Weights: blacklist.Weights{
			FailVerdict:       cfg.Blacklist.Weights.FailVerdict,
			StopLossExit:      cfg.Blacklist.Weights.StopLossExit,
			LiquidityCollapse: cfg.Blacklist.Weights.LiquidityCollapse,
		},
	})
	log.Info().Int("blacklisted", blacklistMgr.Len()).Msg("Blacklist loaded")

	// 6. Market data sources.
	dexScreener := market.NewDexScreenerClient(cfg.Discovery.DexScreenerURL)
	rugCheck := market.NewRugCheckClient(cfg.Discovery.SecurityAPIURL)
	raydium := market.NewRaydiumClient(cfg.Discovery.RaydiumURL)

	pumpFeed := market.NewPumpFeed(market.PumpFeedConfig{
		WSEndpoint: cfg.Discovery.PumpPortalWSURL,
	})

	discovery := market.NewDiscovery(
		market.DiscoveryConfig{
			ScanInterval: time.Duration(cfg.Discovery.ScanIntervalSec) * time.Second,
			SeenTTL:      time.Duration(cfg.Discovery.MaxTokenAgeHours * float64(time.Hour)),
		},
		pumpFeed,
		market.NewPollSource("dexscreener_boosts", dexScreener.BoostedTokens),
		market.NewPollSource("dexscreener_profiles", dexScreener.ProfiledTokens),
		market.NewPollSource("raydium_pools", raydium.RecentPools),
	)

	gateway := market.NewGateway(market.GatewayConfig{
		SourceTimeout: time.Duration(cfg.Discovery.SourceTimeoutSec) * time.Second,
	}, dexScreener, rugCheck)

	// 7. Safety scorer.
	scorer := safety.NewScorer(safety.Config{
		Threshold:       cfg.Safety.SafetyThreshold,
		MinLiquidityUSD: decimal.NewFromFloat(cfg.Safety.MinLiquidityUSD),
		MinVolume24hUSD: decimal.NewFromFloat(cfg.Safety.MinVolume24hUSD),
		Penalties:       safety.DefaultPenalties(),
	})

	// 8. Execution.
	jupiterClient := execution.NewJupiterClient(execution.JupiterConfig{
		QuoteURL:     cfg.Execution.JupiterQuoteURL,
		SwapURL:      cfg.Execution.JupiterSwapURL,
		PriceURL:     cfg.Execution.JupiterPriceURL,
		WalletPubkey: cfg.Solana.WalletPubkey,
	})

	var sender solana.TxSender
	if realTrading {
		rpcSender, err := solana.NewRPCTxSender(solana.RPCSenderConfig{
			Endpoint:   cfg.Solana.RPCEndpoint,
			PrivateKey: cfg.Solana.PrivateKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Live transaction sender init failed")
		}
		sender = rpcSender
		log.Info().Str("endpoint", cfg.Solana.RPCEndpoint).Msg("Transaction sender: LIVE")
	} else {
		sender = solana.NewStubTxSender()
		log.Info().Msg("Transaction sender: STUB (simulated fills)")
	}

	execEngine := execution.NewEngine(execution.EngineConfig{
		SlippageBps:       cfg.Trading.SlippageBps,
		EnableRealTrading: realTrading,
		MaxRetries:        cfg.Execution.MaxRetries,
		RetryBackoff:      time.Duration(cfg.Execution.RetryBackoffMs) * time.Millisecond,
		ConfirmTimeout:    time.Duration(cfg.Execution.ConfirmTimeoutS) * time.Second,
	}, jupiterClient, sender)

	// 9. Risk guard and trade journal.
	riskGuard := risk.NewGuard(risk.Config{
		MaxDailyLossUSD:      cfg.Risk.MaxDailyLossUSD,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		CooldownMinutes:      cfg.Risk.CooldownMinutes,
	})

	var journal *audit.Journal
	if cfg.Audit.JournalPath != "" {
		journal, err = audit.NewJournal(cfg.Audit.JournalPath, 256)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Audit.JournalPath).Msg("Trade journal init failed")
		}
		defer journal.Close()
	}

	// 10. Hunter (owns the position manager).
	var control *observability.Server
	hunter := engine.New(
		engine.Config{
			Workers:           cfg.Discovery.Workers,
			MaxTradesPerCycle: cfg.Trading.MaxTradesPerCycle,
			TickInterval:      time.Duration(cfg.Trading.TickIntervalSec) * time.Second,
			CycleInterval:     time.Duration(cfg.Discovery.ScanIntervalSec) * time.Second,
		},
		engine.Deps{
			Discovery: discovery,
			Gateway:   gateway,
			Scorer:    scorer,
			Blacklist: blacklistMgr,
			Pricer:    execEngine,
			Market:    dexScreener,
			Paused:    func() bool { return control != nil && control.Paused() },
			Risk:      riskGuard,
			Journal:   journal,
			Metrics:   metrics,
		},
		position.ManagerConfig{
			MaxPositions:    cfg.Trading.MaxPositions,
			TradeAmountUSDC: decimal.NewFromFloat(cfg.Trading.TradeAmountUSDC),
			ProfitTargetPct: decimal.NewFromFloat(cfg.Trading.ProfitTargetPct),
			StopLossPct:     decimal.NewFromFloat(cfg.Trading.StopLossPct),
			Cooldown:        time.Duration(cfg.Trading.CooldownMinutes) * time.Minute,
			SnapshotPath:    cfg.Trading.SnapshotPath,
		},
		execEngine,
	)

	// 11. Health checks.
	health.Register("pump_feed", func(ctx context.Context) observability.ComponentHealth {
		stats := pumpFeed.Stats()
		status := observability.StatusHealthy
		msg := ""
		if !stats.Connected {
			status = observability.StatusDegraded
			msg = "websocket disconnected, polling sources still active"
		}
		return observability.ComponentHealth{
			Status:  status,
			Message: msg,
			Details: map[string]any{
				"messages_recv": stats.MessagesRecv,
				"reconnects":    stats.Reconnects,
			},
		}
	})
	health.Register("jupiter", func(ctx context.Context) observability.ComponentHealth {
		stats := jupiterClient.Stats()
		status := observability.StatusHealthy
		msg := ""
		if stats.CircuitOpen {
			status = observability.StatusUnhealthy
			msg = "circuit breaker open"
		}
		return observability.ComponentHealth{
			Status:  status,
			Message: msg,
			Details: map[string]any{
				"quotes": stats.QuoteCount,
				"errors": stats.ErrorCount,
			},
		}
	})
	health.Register("positions", func(ctx context.Context) observability.ComponentHealth {
		return observability.ComponentHealth{
			Status: observability.StatusHealthy,
			Details: map[string]any{
				"slots_in_use": hunter.Manager().SlotsInUse(),
				"max":          cfg.Trading.MaxPositions,
			},
		}
	})

	// 12. Control plane.
	control = observability.NewServer(
		observability.ControlConfig{Port: cfg.Control.Port, Enabled: cfg.Control.Enabled},
		metrics,
		health,
		func() any { return hunter.Manager().Live() },
		func() any {
			return map[string]any{
				"session":   hunter.Stats(),
				"risk":      riskGuard.Stats(),
				"feed":      pumpFeed.Stats(),
				"discovery": discovery.Stats(),
				"execution": execEngine.EngineStats(),
				"jupiter":   jupiterClient.Stats(),
			}
		},
	)

	// 13. Shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 14. Run.
	var wg sync.WaitGroup

	health.Start(ctx)

	if cfg.Control.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := control.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Control plane stopped with error")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := blacklistMgr.Flush(); err != nil {
					log.Error().Err(err).Msg("Periodic blacklist flush failed")
				}
			}
		}
	}()

	log.Info().Msg("TALON Autonomous Token Trader - Running")

	runErr := hunter.Run(ctx)

	// 15. Drain.
	health.Stop()
	wg.Wait()

	stats := hunter.Stats()
	log.Info().
		Int64("processed", stats.Processed).
		Int64("passed", stats.Passed).
		Int64("wins", stats.Wins).
		Int64("losses", stats.Losses).
		Float64("win_rate_pct", stats.WinRatePct).
		Str("realized_usdc", stats.RealizedUSDC.String()).
		Int("blacklisted", stats.Blacklisted).
		Msg("TALON Autonomous Token Trader - Final Statistics")

	if runErr != nil {
		log.Error().Err(runErr).Msg("Shutdown finished with errors")
		os.Exit(1)
	}
	log.Info().Msg("TALON Autonomous Token Trader - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "talon").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "talon").
			Str("instance", general.InstanceID).Logger()
	}
}
