package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Broker    Broker    `mapstructure:"broker"`
	Providers Providers `mapstructure:"providers"`
	Factors   Factors   `mapstructure:"factors"`
	Risk      Risk      `mapstructure:"risk"`
	Trading   Trading   `mapstructure:"trading"`
	Logger    Logger    `mapstructure:"logger"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
}

// Broker holds the configuration for the brokerage API.
type Broker struct {
	KeyID              string  `mapstructure:"key_id"`
	SecretKey          string  `mapstructure:"secret_key"`
	LiveTradingEnabled bool    `mapstructure:"live_trading_enabled"`
	LiveConfirmPhrase  string  `mapstructure:"live_confirm_phrase"`
	RateLimit          float64 `mapstructure:"rate_limit"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

// Provider holds the quota profile and credentials for one data provider.
type Provider struct {
	APIKey string `mapstructure:"api_key"`
	// RateLimit is calls per second for the pacing limiter.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
	// CooldownSeconds is applied when the provider is, or looks, throttled.
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	// MaxBatch caps how many symbols one scheduler pass may send to this
	// provider. Zero means no cap.
	MaxBatch int `mapstructure:"max_batch"`
	// SkipAboveRemaining skips the provider entirely while more than this
	// many symbols remain unresolved, to preserve a scarce quota. Zero
	// disables the check.
	SkipAboveRemaining int `mapstructure:"skip_above_remaining"`
	// DailyLimit is the provider's calls-per-day quota. Zero means none.
	DailyLimit int  `mapstructure:"daily_limit"`
	Enabled    bool `mapstructure:"enabled"`
}

// Providers lists the data providers in scheduler priority order:
// most generous quota first.
type Providers struct {
	Yahoo        Provider `mapstructure:"yahoo"`
	Finnhub      Provider `mapstructure:"finnhub"`
	Polygon      Provider `mapstructure:"polygon"`
	AlphaVantage Provider `mapstructure:"alpha_vantage"`
}

// Factor is the weight and enablement of one scoring factor.
type Factor struct {
	Weight  float64 `mapstructure:"weight"`
	Enabled bool    `mapstructure:"enabled"`
}

// Factors holds per-factor scoring configuration keyed by factor name.
type Factors map[string]Factor

// Risk holds the risk-limit configuration.
type Risk struct {
	MaxSingleName float64 `mapstructure:"max_single_name"`
	GrossMax      float64 `mapstructure:"gross_max"`
	NetMax        float64 `mapstructure:"net_max"`
	HaltThreshold float64 `mapstructure:"halt_threshold"`
	StopLossPct   float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct float64 `mapstructure:"take_profit_pct"`
	MaxPositions  int     `mapstructure:"max_positions"`
}

// Trading holds the configuration for the pipeline itself.
type Trading struct {
	Mode         string   `mapstructure:"mode"` // paper or live
	AutoExecute  bool     `mapstructure:"auto_execute"`
	DryRun       bool     `mapstructure:"dry_run"`
	TickInterval int      `mapstructure:"tick_interval"` // minutes between runs
	LookbackDays int      `mapstructure:"lookback_days"`
	MaxWatchlist int      `mapstructure:"max_watchlist"`
	Universe     []string `mapstructure:"universe"` // static fallback symbols
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Redis holds the connection settings for the shared kill-switch store.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	// A missing config file is fine: defaults plus environment variables
	// are a complete configuration.
	if err = viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	return
}

func setDefaults() {
	viper.SetDefault("broker.rate_limit", 3) // requests per second
	viper.SetDefault("broker.rate_limit_burst", 5)

	// Priority order reflects each provider's free-tier quota.
	viper.SetDefault("providers.yahoo.enabled", true)
	viper.SetDefault("providers.yahoo.rate_limit", 2)
	viper.SetDefault("providers.yahoo.burst", 1)
	viper.SetDefault("providers.yahoo.cooldown_seconds", 60)

	viper.SetDefault("providers.finnhub.enabled", true)
	viper.SetDefault("providers.finnhub.rate_limit", 10) // 30/s cap, stay under
	viper.SetDefault("providers.finnhub.burst", 1)
	viper.SetDefault("providers.finnhub.cooldown_seconds", 60)

	viper.SetDefault("providers.polygon.enabled", true)
	viper.SetDefault("providers.polygon.rate_limit", 0.0833) // 5/minute
	viper.SetDefault("providers.polygon.burst", 1)
	viper.SetDefault("providers.polygon.cooldown_seconds", 120)
	viper.SetDefault("providers.polygon.max_batch", 10)

	viper.SetDefault("providers.alpha_vantage.enabled", true)
	viper.SetDefault("providers.alpha_vantage.rate_limit", 0.5)
	viper.SetDefault("providers.alpha_vantage.burst", 1)
	viper.SetDefault("providers.alpha_vantage.cooldown_seconds", 300)
	viper.SetDefault("providers.alpha_vantage.max_batch", 3)
	viper.SetDefault("providers.alpha_vantage.skip_above_remaining", 10)
	viper.SetDefault("providers.alpha_vantage.daily_limit", 25)

	viper.SetDefault("factors", map[string]map[string]any{
		"momentum":       {"weight": 0.25, "enabled": true},
		"rsi":            {"weight": 0.15, "enabled": true},
		"macd_histogram": {"weight": 0.20, "enabled": true},
		"volume_surge":   {"weight": 0.15, "enabled": true},
	})

	viper.SetDefault("risk.max_single_name", 0.02)
	viper.SetDefault("risk.gross_max", 0.60)
	viper.SetDefault("risk.net_max", 0.40)
	viper.SetDefault("risk.halt_threshold", 0.02)
	viper.SetDefault("risk.stop_loss_pct", 0.05)
	viper.SetDefault("risk.take_profit_pct", 0.15)
	viper.SetDefault("risk.max_positions", 20)

	viper.SetDefault("trading.mode", "paper")
	viper.SetDefault("trading.auto_execute", true)
	viper.SetDefault("trading.dry_run", false)
	viper.SetDefault("trading.tick_interval", 1440)
	viper.SetDefault("trading.lookback_days", 365)
	viper.SetDefault("trading.max_watchlist", 200)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	viper.SetDefault("database.dsn", "trader.db")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)
}
