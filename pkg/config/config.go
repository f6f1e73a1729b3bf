package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the streamcore services
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

type AppConfig struct {
	Env string `mapstructure:"env"` // e.g., "local", "prod"
}

// FeedConfig describes the upstream data-provider websocket and the
// reconnect policy applied when it drops.
type FeedConfig struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

type GatewayConfig struct {
	Port         string   `mapstructure:"port"`
	ValidTickers []string `mapstructure:"valid_tickers"`
}

// RedisConfig configures the optional live-price mirror. An empty Addr
// disables the mirror entirely.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	KeyTTL   time.Duration `mapstructure:"key_ttl"`
}

// KafkaConfig configures the optional tick journal. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the system environment first so viper sees the vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.env", "local")

	v.SetDefault("feed.url", "ws://localhost:9100/feed")
	v.SetDefault("feed.handshake_timeout", 10*time.Second)
	v.SetDefault("feed.backoff_base", 500*time.Millisecond)
	v.SetDefault("feed.backoff_max", 30*time.Second)
	v.SetDefault("feed.ping_interval", 20*time.Second)

	v.SetDefault("gateway.port", ":8080")
	v.SetDefault("gateway.valid_tickers", []string{"AAPL", "MSFT", "GOOG", "TSLA", "AMZN", "NVDA"})

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_ttl", time.Hour)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "price_ticks")

	// Map dot-notation keys to underscore env vars (feed.url -> FEED_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper needs explicit binds to map flat env vars into nested structs
	bindEnv(v, "app.env")
	bindEnv(v, "feed.url", "feed.handshake_timeout", "feed.backoff_base", "feed.backoff_max", "feed.ping_interval")
	bindEnv(v, "gateway.port", "gateway.valid_tickers")
	bindEnv(v, "redis.addr", "redis.password", "redis.db", "redis.key_ttl")
	bindEnv(v, "kafka.brokers", "kafka.topic")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if cfg.Feed.URL == "" {
		return nil, fmt.Errorf("feed url cannot be empty")
	}
	if cfg.Feed.BackoffBase <= 0 || cfg.Feed.BackoffMax < cfg.Feed.BackoffBase {
		return nil, fmt.Errorf("invalid feed backoff window: base=%s max=%s", cfg.Feed.BackoffBase, cfg.Feed.BackoffMax)
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
