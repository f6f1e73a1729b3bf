package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Feed.URL != "ws://localhost:9100/feed" {
		t.Errorf("Unexpected default feed url: %s", cfg.Feed.URL)
	}
	if cfg.Feed.BackoffBase != 500*time.Millisecond {
		t.Errorf("Unexpected backoff base: %s", cfg.Feed.BackoffBase)
	}
	if cfg.Feed.BackoffMax != 30*time.Second {
		t.Errorf("Unexpected backoff max: %s", cfg.Feed.BackoffMax)
	}
	if cfg.Gateway.Port != ":8080" {
		t.Errorf("Unexpected gateway port: %s", cfg.Gateway.Port)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis mirror should be disabled by default, got addr %q", cfg.Redis.Addr)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("Kafka journal should be disabled by default, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("FEED_URL", "wss://feed.example.com/stream")
	t.Setenv("GATEWAY_PORT", ":9999")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Feed.URL != "wss://feed.example.com/stream" {
		t.Errorf("Env override not applied: %s", cfg.Feed.URL)
	}
	if cfg.Gateway.Port != ":9999" {
		t.Errorf("Env override not applied: %s", cfg.Gateway.Port)
	}
}
