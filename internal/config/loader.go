package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEPTHBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEPTHBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "DEPTHBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WsURL, "DEPTHBOT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.ApiKey, "DEPTHBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "DEPTHBOT_EXCHANGE_API_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEPTHBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEPTHBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEPTHBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEPTHBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEPTHBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEPTHBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEPTHBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEPTHBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEPTHBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEPTHBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEPTHBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEPTHBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEPTHBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEPTHBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEPTHBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEPTHBOT_REDIS_TLS_ENABLED")

	// ── Feed ──
	setInt(&cfg.Feed.Depth, "DEPTHBOT_FEED_DEPTH")
	setDuration(&cfg.Feed.BackoffFloor, "DEPTHBOT_FEED_BACKOFF_FLOOR")
	setDuration(&cfg.Feed.BackoffCeiling, "DEPTHBOT_FEED_BACKOFF_CEILING")
	setDuration(&cfg.Feed.SteadyDwell, "DEPTHBOT_FEED_STEADY_DWELL")
	setInt(&cfg.Feed.MaxFailures, "DEPTHBOT_FEED_MAX_FAILURES")
	setStr(&cfg.Feed.CandleInterval, "DEPTHBOT_FEED_CANDLE_INTERVAL")
	setDuration(&cfg.Feed.CandlePoll, "DEPTHBOT_FEED_CANDLE_POLL")
	setInt(&cfg.Feed.WarmupCandles, "DEPTHBOT_FEED_WARMUP_CANDLES")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "DEPTHBOT_STRATEGY_ACTIVE")
	setStr(&cfg.Strategy.Symbol, "DEPTHBOT_STRATEGY_SYMBOL")
	setFloat64(&cfg.Strategy.OrderSize, "DEPTHBOT_STRATEGY_ORDER_SIZE")
	setInt(&cfg.Strategy.Imbalance.Depth, "DEPTHBOT_STRATEGY_IMBALANCE_DEPTH")
	setFloat64(&cfg.Strategy.Imbalance.Threshold, "DEPTHBOT_STRATEGY_IMBALANCE_THRESHOLD")
	setInt(&cfg.Strategy.Imbalance.EMAPeriod, "DEPTHBOT_STRATEGY_IMBALANCE_EMA_PERIOD")
	setFloat64(&cfg.Strategy.Imbalance.StopLossPct, "DEPTHBOT_STRATEGY_IMBALANCE_STOP_LOSS_PCT")
	setInt(&cfg.Strategy.Grid.Levels, "DEPTHBOT_STRATEGY_GRID_LEVELS")
	setFloat64(&cfg.Strategy.Grid.Spacing, "DEPTHBOT_STRATEGY_GRID_SPACING")
	setFloat64(&cfg.Strategy.Grid.KATR, "DEPTHBOT_STRATEGY_GRID_K_ATR")

	// ── Risk ──
	setFloat64(&cfg.Risk.StartingBalance, "DEPTHBOT_RISK_STARTING_BALANCE")
	setFloat64(&cfg.Risk.MaxPosition, "DEPTHBOT_RISK_MAX_POSITION")
	setFloat64(&cfg.Risk.MaxPositionPct, "DEPTHBOT_RISK_MAX_POSITION_PCT")
	setFloat64(&cfg.Risk.WarnPositionPct, "DEPTHBOT_RISK_WARN_POSITION_PCT")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "DEPTHBOT_RISK_MAX_DRAWDOWN_PCT")
	setFloat64(&cfg.Risk.DefaultLossPct, "DEPTHBOT_RISK_DEFAULT_LOSS_PCT")
	setFloat64(&cfg.Risk.RiskPerTrade, "DEPTHBOT_RISK_RISK_PER_TRADE")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "DEPTHBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "DEPTHBOT_METRICS_ADDR")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEPTHBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEPTHBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEPTHBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEPTHBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEPTHBOT_MODE")
	setStr(&cfg.LogLevel, "DEPTHBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
