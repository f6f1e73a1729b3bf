package pricecache_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stockpulse/streamcore/cmd/streamd/internal/pricecache"
	"github.com/stockpulse/streamcore/pkg/models"
)

func tick(sym string, price string, ts int64) models.PriceTick {
	return models.PriceTick{
		Ticker:    sym,
		Price:     decimal.RequireFromString(price),
		Timestamp: ts,
	}
}

func TestCache_FirstTickIsChanged(t *testing.T) {
	c := pricecache.New()

	if res := c.Apply(tick("AAPL", "150.00", 1)); res != pricecache.Changed {
		t.Errorf("Expected Changed, got %s", res)
	}
	got, ok := c.Get("AAPL")
	if !ok || !got.Price.Equal(decimal.RequireFromString("150.00")) {
		t.Errorf("Cache miss or wrong price: %v %v", ok, got.Price)
	}
}

func TestCache_OlderTimestampRejected(t *testing.T) {
	c := pricecache.New()
	c.Apply(tick("AAPL", "101.00", 5))

	if res := c.Apply(tick("AAPL", "100.50", 4)); res != pricecache.Stale {
		t.Errorf("Expected Stale, got %s", res)
	}

	// Cache must retain 101.00
	got, _ := c.Get("AAPL")
	if !got.Price.Equal(decimal.RequireFromString("101.00")) {
		t.Errorf("Expected retained price 101.00, got %s", got.Price)
	}
	if got.Timestamp != 5 {
		t.Errorf("Expected retained timestamp 5, got %d", got.Timestamp)
	}
}

func TestCache_EqualTimestampRejected(t *testing.T) {
	c := pricecache.New()
	c.Apply(tick("MSFT", "300", 10))

	if res := c.Apply(tick("MSFT", "301", 10)); res != pricecache.Stale {
		t.Errorf("Duplicate timestamp should be Stale, got %s", res)
	}
}

func TestCache_SamePriceStoresTimestampButUnchanged(t *testing.T) {
	c := pricecache.New()
	c.Apply(tick("TSLA", "220.50", 1))

	if res := c.Apply(tick("TSLA", "220.50", 2)); res != pricecache.Unchanged {
		t.Errorf("Expected Unchanged, got %s", res)
	}

	// Timestamp freshness must still advance
	got, _ := c.Get("TSLA")
	if got.Timestamp != 2 {
		t.Errorf("Expected timestamp 2, got %d", got.Timestamp)
	}
}

func TestCache_TickerNormalization(t *testing.T) {
	c := pricecache.New()
	c.Apply(tick("aapl", "150", 1))

	if _, ok := c.Get("AAPL"); !ok {
		t.Error("Lowercase apply should be readable via uppercase key")
	}
	if res := c.Apply(tick("AAPL", "151", 1)); res != pricecache.Stale {
		t.Errorf("Same symbol in different case must share the timestamp guard, got %s", res)
	}
	if c.Len() != 1 {
		t.Errorf("Expected single entry, got %d", c.Len())
	}
}
