// Package config defines the top-level configuration for the depth trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEPTHBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Feed     FeedConfig     `toml:"feed"`
	Strategy StrategyConfig `toml:"strategy"`
	Risk     RiskConfig     `toml:"risk"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds exchange API endpoints and credentials.
type ExchangeConfig struct {
	BaseURL   string `toml:"base_url"`
	WsURL     string `toml:"ws_url"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// FeedConfig holds market-data feed lifecycle parameters.
type FeedConfig struct {
	Depth          int      `toml:"depth"`           // snapshot levels per side
	BackoffFloor   duration `toml:"backoff_floor"`   // first reconnect delay
	BackoffCeiling duration `toml:"backoff_ceiling"` // reconnect delay cap
	SteadyDwell    duration `toml:"steady_dwell"`    // streaming time that resets backoff
	MaxFailures    int      `toml:"max_failures"`    // consecutive failures before halt, 0 = never
	CandleInterval string   `toml:"candle_interval"` // exchange kline interval, e.g. "1m"
	CandlePoll     duration `toml:"candle_poll"`     // how often to poll for closed candles
	WarmupCandles  int      `toml:"warmup_candles"`  // historical candles fed to strategies at startup
}

// StrategyConfig holds trading strategy parameters.
type StrategyConfig struct {
	// Active is the list of strategy names to run concurrently. With a single
	// entry the engine runs in single-strategy mode.
	Active    []string `toml:"active"`
	Symbol    string   `toml:"symbol"`
	OrderSize float64  `toml:"order_size"` // base-asset quantity per intent

	Imbalance ImbalanceConfig `toml:"imbalance"`
	Grid      GridConfig      `toml:"grid"`
}

// ImbalanceConfig holds config for the order-flow imbalance strategy.
type ImbalanceConfig struct {
	Depth       int      `toml:"depth"`         // book levels per side to sum
	Threshold   float64  `toml:"threshold"`     // imbalance magnitude required to act
	EMAPeriod   int      `toml:"ema_period"`    // mid-price EMA period
	StopLossPct float64  `toml:"stop_loss_pct"` // stop distance as % of entry
	IntentTTL   duration `toml:"intent_ttl"`
}

// GridConfig holds config for the regime/grid strategy.
type GridConfig struct {
	Levels     int      `toml:"levels"`
	Spacing    float64  `toml:"spacing"` // replacement offset as a fraction
	FastPeriod int      `toml:"fast_period"`
	SlowPeriod int      `toml:"slow_period"`
	ATRPeriod  int      `toml:"atr_period"`
	KATR       float64  `toml:"k_atr"`     // regime threshold multiplier
	BandATRs   float64  `toml:"band_atrs"` // ladder half-width in ATRs
	IntentTTL  duration `toml:"intent_ttl"`
}

// RiskConfig holds pre-trade risk limits. Percentages are fractions of 100
// (e.g. 20 means 20%).
type RiskConfig struct {
	StartingBalance float64 `toml:"starting_balance"`  // quote units
	MaxPosition     float64 `toml:"max_position"`      // hard exposure cap, quote units
	MaxPositionPct  float64 `toml:"max_position_pct"`  // reject above this % of balance
	WarnPositionPct float64 `toml:"warn_position_pct"` // warn above this % of balance
	MaxDrawdownPct  float64 `toml:"max_drawdown_pct"`  // reject when potential loss exceeds this %
	DefaultLossPct  float64 `toml:"default_loss_pct"`  // assumed loss % without a stop
	RiskPerTrade    float64 `toml:"risk_per_trade"`    // balance fraction risked per trade
}

// MetricsConfig holds the Prometheus endpoint parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL: "https://api.binance.com",
			WsURL:   "wss://stream.binance.com:9443",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "depthbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Feed: FeedConfig{
			Depth:          10,
			BackoffFloor:   duration{500 * time.Millisecond},
			BackoffCeiling: duration{30 * time.Second},
			SteadyDwell:    duration{30 * time.Second},
			MaxFailures:    0,
			CandleInterval: "1m",
			CandlePoll:     duration{10 * time.Second},
			WarmupCandles:  50,
		},
		Strategy: StrategyConfig{
			Active:    []string{"imbalance"},
			Symbol:    "BTCUSDT",
			OrderSize: 0.001,
			Imbalance: ImbalanceConfig{
				Depth:       10,
				Threshold:   0.4,
				EMAPeriod:   20,
				StopLossPct: 1.0,
				IntentTTL:   duration{30 * time.Second},
			},
			Grid: GridConfig{
				Levels:     10,
				Spacing:    0.005,
				FastPeriod: 12,
				SlowPeriod: 26,
				ATRPeriod:  14,
				KATR:       0.6,
				BandATRs:   4.0,
				IntentTTL:  duration{5 * time.Minute},
			},
		},
		Risk: RiskConfig{
			StartingBalance: 10_000,
			MaxPosition:     1_000,
			MaxPositionPct:  20,
			WarnPositionPct: 10,
			MaxDrawdownPct:  5,
			DefaultLossPct:  100,
			RiskPerTrade:    0.01,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "position_closed", "risk_rejected", "feed_halted"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange — credentials are only needed when orders will be placed.
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Exchange.WsURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if strings.ToLower(c.Mode) == "trade" {
		if c.Exchange.ApiKey == "" || c.Exchange.ApiSecret == "" {
			errs = append(errs, "exchange: api_key and api_secret are required for trade mode")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Feed
	if c.Feed.Depth < 1 {
		errs = append(errs, "feed: depth must be >= 1")
	}
	if c.Feed.BackoffFloor.Duration <= 0 {
		errs = append(errs, "feed: backoff_floor must be > 0")
	}
	if c.Feed.BackoffCeiling.Duration < c.Feed.BackoffFloor.Duration {
		errs = append(errs, "feed: backoff_ceiling must be >= backoff_floor")
	}
	if c.Feed.MaxFailures < 0 {
		errs = append(errs, "feed: max_failures must be >= 0 (0 disables the halt)")
	}
	if c.Feed.CandleInterval == "" {
		errs = append(errs, "feed: candle_interval must not be empty")
	}

	// Strategy
	if c.Strategy.Symbol == "" {
		errs = append(errs, "strategy: symbol must not be empty")
	}
	if len(c.Strategy.Active) == 0 {
		errs = append(errs, "strategy: at least one active strategy is required")
	}
	if c.Strategy.OrderSize <= 0 {
		errs = append(errs, "strategy: order_size must be > 0")
	}
	if c.Strategy.Imbalance.Depth < 1 {
		errs = append(errs, "strategy.imbalance: depth must be >= 1")
	}
	if c.Strategy.Imbalance.Threshold <= 0 || c.Strategy.Imbalance.Threshold >= 1 {
		errs = append(errs, fmt.Sprintf("strategy.imbalance: threshold must be in (0, 1), got %g", c.Strategy.Imbalance.Threshold))
	}
	if c.Strategy.Imbalance.EMAPeriod < 2 {
		errs = append(errs, "strategy.imbalance: ema_period must be >= 2")
	}
	if c.Strategy.Grid.Levels < 2 {
		errs = append(errs, "strategy.grid: levels must be >= 2")
	}
	if c.Strategy.Grid.Spacing <= 0 {
		errs = append(errs, "strategy.grid: spacing must be > 0")
	}
	if c.Strategy.Grid.FastPeriod >= c.Strategy.Grid.SlowPeriod {
		errs = append(errs, "strategy.grid: fast_period must be < slow_period")
	}
	if c.Strategy.Grid.KATR <= 0 {
		errs = append(errs, "strategy.grid: k_atr must be > 0")
	}

	// Risk
	if c.Risk.StartingBalance <= 0 {
		errs = append(errs, "risk: starting_balance must be > 0")
	}
	if c.Risk.MaxPosition <= 0 {
		errs = append(errs, "risk: max_position must be > 0")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 100 {
		errs = append(errs, "risk: max_position_pct must be in (0, 100]")
	}
	if c.Risk.WarnPositionPct <= 0 || c.Risk.WarnPositionPct > c.Risk.MaxPositionPct {
		errs = append(errs, "risk: warn_position_pct must be in (0, max_position_pct]")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		errs = append(errs, "risk: max_drawdown_pct must be in (0, 100]")
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade >= 1 {
		errs = append(errs, "risk: risk_per_trade must be in (0, 1)")
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
