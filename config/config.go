package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Log         LogConfig         `mapstructure:"log"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	History     HistoryConfig     `mapstructure:"history"`
	PriceCache  PriceCacheConfig  `mapstructure:"price_cache"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

type ExchangeConfig struct {
	SpotBaseURL    string        `mapstructure:"spot_base_url"`
	FuturesBaseURL string        `mapstructure:"futures_base_url"`
	StreamURL      string        `mapstructure:"stream_url"`
	Timeout        time.Duration `mapstructure:"timeout"`     // timeout for signed REST calls
	RecvWindow     time.Duration `mapstructure:"recv_window"` // signed request validity window
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig tunes the shared backoff protocol. The shared keys are global
// per deployment: the exchange throttles per source IP, so one instance's
// violation must slow down every instance behind the same egress.
type RateLimitConfig struct {
	KeyPrefix   string        `mapstructure:"key_prefix"`
	RetryBudget int           `mapstructure:"retry_budget"` // consecutive 429s tolerated before giving up
	BanCooldown time.Duration `mapstructure:"ban_cooldown"` // how long a 418 blocks all requests
	CounterTTL  time.Duration `mapstructure:"counter_ttl"`  // sliding expiry on the failure counter
}

// HistoryConfig holds the trade-history sync thresholds. The window and
// retention values mirror the exchange's history retention policy and may
// need to follow upstream changes.
type HistoryConfig struct {
	KeyPrefix string        `mapstructure:"key_prefix"`
	Window    time.Duration `mapstructure:"window"`    // max span of one history request
	Retention time.Duration `mapstructure:"retention"` // upstream lookback limit
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type PriceCacheConfig struct {
	FallbackInterval time.Duration `mapstructure:"fallback_interval"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	SessionLifetime  time.Duration `mapstructure:"session_lifetime"` // max stream connection age before forced rebuild
}

// CredentialsConfig selects where API keys come from: "ssm" reads decrypted
// parameters from AWS Parameter Store, "static" uses the inline map (dev only).
type CredentialsConfig struct {
	Source    string                  `mapstructure:"source"`
	SSMPrefix string                  `mapstructure:"ssm_prefix"`
	Static    map[string]StaticAPIKey `mapstructure:"static"`
}

type StaticAPIKey struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	setDefaults(v)

	// Support environment variables with dot notation (e.g., EXCHANGE_STREAM_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.spot_base_url", "https://api.binance.com")
	v.SetDefault("exchange.futures_base_url", "https://fapi.binance.com")
	v.SetDefault("exchange.stream_url", "wss://stream.binance.com:9443/ws/!ticker@arr")
	v.SetDefault("exchange.timeout", "15s")
	v.SetDefault("exchange.recv_window", "5s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rate_limit.key_prefix", "ratelimit")
	v.SetDefault("rate_limit.retry_budget", 5)
	v.SetDefault("rate_limit.ban_cooldown", "1h")
	v.SetDefault("rate_limit.counter_ttl", "1m")

	v.SetDefault("history.key_prefix", "tradecache")
	v.SetDefault("history.window", "168h")     // 7 days per request
	v.SetDefault("history.retention", "2160h") // 90 days upstream lookback
	v.SetDefault("history.cache_ttl", "720h")  // 30 days

	v.SetDefault("price_cache.fallback_interval", "10m")
	v.SetDefault("price_cache.reconnect_delay", "5s")
	v.SetDefault("price_cache.max_reconnects", 10)
	v.SetDefault("price_cache.session_lifetime", "24h")

	v.SetDefault("credentials.source", "static")
}
