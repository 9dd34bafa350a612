package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for talon.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Solana    SolanaConfig    `yaml:"solana"`
	Trading   TradingConfig   `yaml:"trading"`
	Safety    SafetyConfig    `yaml:"safety"`
	Blacklist BlacklistConfig `yaml:"blacklist"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Execution ExecutionConfig `yaml:"execution"`
	Risk      RiskConfig      `yaml:"risk"`
	Audit     AuditConfig     `yaml:"audit"`
	Control   ControlConfig   `yaml:"control"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|console
}

type SolanaConfig struct {
	RPCEndpoint  string `yaml:"rpc_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
	WalletPubkey string `yaml:"wallet_pubkey"`
	PrivateKey   string `yaml:"private_key"` // base58, only needed for real trading
}

// TradingConfig carries the position lifecycle policy.
type TradingConfig struct {
	// Position size per trade, in USDC.
	TradeAmountUSDC float64 `yaml:"trade_amount_usdc"`

	// Sell when unrealized gain reaches this percentage.
	ProfitTargetPct float64 `yaml:"profit_target_pct"`

	// Sell when unrealized loss reaches this percentage.
	StopLossPct float64 `yaml:"stop_loss_pct"`

	// Maximum concurrent non-terminal positions.
	MaxPositions int `yaml:"max_positions"`

	// Slippage tolerance in basis points.
	SlippageBps int `yaml:"slippage_bps"`

	// Gate between live swaps and simulated fills.
	EnableRealTrading bool `yaml:"enable_real_trading"`

	// Maximum new entries per scan cycle.
	MaxTradesPerCycle int `yaml:"max_trades_per_cycle"`

	// How long a sold mint stays in cooldown before re-entry.
	CooldownMinutes int `yaml:"cooldown_minutes"`

	// Exit evaluation interval.
	TickIntervalSec int `yaml:"tick_interval_sec"`

	// Snapshot file for non-terminal positions across restarts.
	SnapshotPath string `yaml:"snapshot_path"`
}

// SafetyConfig carries the scoring thresholds.
type SafetyConfig struct {
	// Composite score in [0,1] a token must reach to be tradable.
	SafetyThreshold float64 `yaml:"safety_threshold"`

	// USD floors for the liquidity and volume sub-scores.
	MinLiquidityUSD float64 `yaml:"min_liquidity_usd"`
	MinVolume24hUSD float64 `yaml:"min_volume_24h_usd"`
}

// BlacklistConfig carries the danger-accumulator policy.
type BlacklistConfig struct {
	// Accumulated danger at or above which a mint is excluded.
	Threshold float64 `yaml:"threshold"`

	// Persistent store for the exclusion set.
	FilePath string `yaml:"file_path"`

	// Danger increments per signal kind. Tunable without code change.
	Weights DangerWeights `yaml:"weights"`
}

// DangerWeights are the per-signal danger increments.
type DangerWeights struct {
	FailVerdict       float64 `yaml:"fail_verdict"`
	StopLossExit      float64 `yaml:"stop_loss_exit"`
	LiquidityCollapse float64 `yaml:"liquidity_collapse"`
}

type DiscoveryConfig struct {
	DexScreenerURL   string  `yaml:"dexscreener_url"`
	PumpPortalWSURL  string  `yaml:"pumpportal_ws_url"`
	RaydiumURL       string  `yaml:"raydium_url"`
	SecurityAPIURL   string  `yaml:"security_api_url"`
	ScanIntervalSec  int     `yaml:"scan_interval_sec"`
	MaxTokenAgeHours float64 `yaml:"max_token_age_hours"`
	Workers          int     `yaml:"workers"`
	SourceTimeoutSec int     `yaml:"source_timeout_sec"`
}

type ExecutionConfig struct {
	JupiterQuoteURL string `yaml:"jupiter_quote_url"`
	JupiterSwapURL  string `yaml:"jupiter_swap_url"`
	JupiterPriceURL string `yaml:"jupiter_price_url"`
	MaxRetries      int    `yaml:"max_retries"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms"`
	ConfirmTimeoutS int    `yaml:"confirm_timeout_s"`
}

// RiskConfig carries the session loss limits.
type RiskConfig struct {
	// Entries halt for the rest of the UTC day at this realized loss.
	MaxDailyLossUSD float64 `yaml:"max_daily_loss_usd"`

	// Consecutive losing exits that trigger an entry cooldown.
	MaxConsecutiveLosses int `yaml:"max_consecutive_losses"`
	CooldownMinutes      int `yaml:"cooldown_minutes"`
}

type AuditConfig struct {
	// Append-only JSONL decision log. Empty disables journaling.
	JournalPath string `yaml:"journal_path"`
}

type ControlConfig struct {
	Port    int  `yaml:"port"`
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses a YAML configuration file. Environment variables
// in the file are expanded before parsing, so secrets stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "talon-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Solana.RPCEndpoint == "" {
		cfg.Solana.RPCEndpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Trading.TradeAmountUSDC == 0 {
		cfg.Trading.TradeAmountUSDC = 1.0
	}
	if cfg.Trading.ProfitTargetPct == 0 {
		cfg.Trading.ProfitTargetPct = 3.0
	}
	if cfg.Trading.StopLossPct == 0 {
		cfg.Trading.StopLossPct = 15.0
	}
	if cfg.Trading.MaxPositions == 0 {
		cfg.Trading.MaxPositions = 10
	}
	if cfg.Trading.SlippageBps == 0 {
		cfg.Trading.SlippageBps = 50
	}
	if cfg.Trading.MaxTradesPerCycle == 0 {
		cfg.Trading.MaxTradesPerCycle = 2
	}
	if cfg.Trading.CooldownMinutes == 0 {
		cfg.Trading.CooldownMinutes = 15
	}
	if cfg.Trading.TickIntervalSec == 0 {
		cfg.Trading.TickIntervalSec = 10
	}
	if cfg.Trading.SnapshotPath == "" {
		cfg.Trading.SnapshotPath = "data/positions.json"
	}
	if cfg.Safety.SafetyThreshold == 0 {
		cfg.Safety.SafetyThreshold = 0.55
	}
	if cfg.Safety.MinLiquidityUSD == 0 {
		cfg.Safety.MinLiquidityUSD = 2500
	}
	if cfg.Safety.MinVolume24hUSD == 0 {
		cfg.Safety.MinVolume24hUSD = 500
	}
	if cfg.Blacklist.Threshold == 0 {
		cfg.Blacklist.Threshold = 20.0
	}
	if cfg.Blacklist.FilePath == "" {
		cfg.Blacklist.FilePath = "data/token_blacklist.json"
	}
	if cfg.Blacklist.Weights == (DangerWeights{}) {
		cfg.Blacklist.Weights = DangerWeights{
			FailVerdict:       4.0,
			StopLossExit:      8.0,
			LiquidityCollapse: 20.0,
		}
	}
	if cfg.Discovery.DexScreenerURL == "" {
		cfg.Discovery.DexScreenerURL = "https://api.dexscreener.com"
	}
	if cfg.Discovery.PumpPortalWSURL == "" {
		cfg.Discovery.PumpPortalWSURL = "wss://pumpportal.fun/api/data"
	}
	if cfg.Discovery.RaydiumURL == "" {
		cfg.Discovery.RaydiumURL = "https://api-v3.raydium.io"
	}
	if cfg.Discovery.SecurityAPIURL == "" {
		cfg.Discovery.SecurityAPIURL = "https://api.rugcheck.xyz"
	}
	if cfg.Discovery.ScanIntervalSec == 0 {
		cfg.Discovery.ScanIntervalSec = 30
	}
	if cfg.Discovery.MaxTokenAgeHours == 0 {
		cfg.Discovery.MaxTokenAgeHours = 24
	}
	if cfg.Discovery.Workers == 0 {
		cfg.Discovery.Workers = 4
	}
	if cfg.Discovery.SourceTimeoutSec == 0 {
		cfg.Discovery.SourceTimeoutSec = 15
	}
	if cfg.Execution.JupiterQuoteURL == "" {
		cfg.Execution.JupiterQuoteURL = "https://quote-api.jup.ag/v6/quote"
	}
	if cfg.Execution.JupiterSwapURL == "" {
		cfg.Execution.JupiterSwapURL = "https://quote-api.jup.ag/v6/swap"
	}
	if cfg.Execution.JupiterPriceURL == "" {
		cfg.Execution.JupiterPriceURL = "https://price.jup.ag/v6/price"
	}
	if cfg.Execution.MaxRetries == 0 {
		cfg.Execution.MaxRetries = 3
	}
	if cfg.Execution.RetryBackoffMs == 0 {
		cfg.Execution.RetryBackoffMs = 500
	}
	if cfg.Execution.ConfirmTimeoutS == 0 {
		cfg.Execution.ConfirmTimeoutS = 60
	}
	if cfg.Risk.MaxDailyLossUSD == 0 {
		cfg.Risk.MaxDailyLossUSD = 25.0
	}
	if cfg.Risk.MaxConsecutiveLosses == 0 {
		cfg.Risk.MaxConsecutiveLosses = 5
	}
	if cfg.Risk.CooldownMinutes == 0 {
		cfg.Risk.CooldownMinutes = 30
	}
	if cfg.Audit.JournalPath == "" {
		cfg.Audit.JournalPath = "data/journal.jsonl"
	}
	if cfg.Control.Port == 0 {
		cfg.Control.Port = 8787
	}
}

// Validate checks the loaded configuration. An invalid threshold is fatal:
// the process must refuse to start rather than trade under it.
func (c *Config) Validate() error {
	t := c.Trading
	if t.TradeAmountUSDC <= 0 {
		return fmt.Errorf("trading.trade_amount_usdc must be positive, got %v", t.TradeAmountUSDC)
	}
	if t.ProfitTargetPct <= 0 {
		return fmt.Errorf("trading.profit_target_pct must be positive, got %v", t.ProfitTargetPct)
	}
	if t.StopLossPct <= 0 || t.StopLossPct >= 100 {
		return fmt.Errorf("trading.stop_loss_pct must be in (0,100), got %v", t.StopLossPct)
	}
	if t.MaxPositions < 1 {
		return fmt.Errorf("trading.max_positions must be >= 1, got %d", t.MaxPositions)
	}
	if t.SlippageBps <= 0 || t.SlippageBps > 10_000 {
		return fmt.Errorf("trading.slippage_bps must be in (0,10000], got %d", t.SlippageBps)
	}

	s := c.Safety
	if s.SafetyThreshold < 0 || s.SafetyThreshold > 1 {
		return fmt.Errorf("safety.safety_threshold must be in [0,1], got %v", s.SafetyThreshold)
	}
	if s.MinLiquidityUSD <= 0 {
		return fmt.Errorf("safety.min_liquidity_usd must be positive, got %v", s.MinLiquidityUSD)
	}
	if s.MinVolume24hUSD <= 0 {
		return fmt.Errorf("safety.min_volume_24h_usd must be positive, got %v", s.MinVolume24hUSD)
	}

	if c.Blacklist.Threshold <= 0 {
		return fmt.Errorf("blacklist.threshold must be positive, got %v", c.Blacklist.Threshold)
	}
	w := c.Blacklist.Weights
	if w.FailVerdict < 0 || w.StopLossExit < 0 || w.LiquidityCollapse < 0 {
		return fmt.Errorf("blacklist.weights must be non-negative")
	}

	if c.Risk.MaxDailyLossUSD <= 0 {
		return fmt.Errorf("risk.max_daily_loss_usd must be positive, got %v", c.Risk.MaxDailyLossUSD)
	}

	if t.EnableRealTrading {
		if c.Solana.PrivateKey == "" {
			return fmt.Errorf("solana.private_key is required when trading.enable_real_trading is set")
		}
		if c.Solana.WalletPubkey == "" {
			return fmt.Errorf("solana.wallet_pubkey is required when trading.enable_real_trading is set")
		}
	}

	return nil
}
