package pricecache

import (
	"github.com/stockpulse/streamcore/pkg/models"
)

// ApplyResult classifies the outcome of applying one tick.
type ApplyResult int

const (
	// Changed: the tick was stored and the numeric price differs from the
	// previous cached value. Only these trigger downstream recompute.
	Changed ApplyResult = iota
	// Unchanged: the tick was stored for timestamp freshness, but the price
	// is numerically identical to the cached one.
	Unchanged
	// Stale: the tick's timestamp is not strictly newer than the cached
	// entry. The cache is untouched.
	Stale
)

func (r ApplyResult) String() string {
	switch r {
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	}
	return "stale"
}

// Cache holds the latest known price per ticker with a monotonic-timestamp
// guard. It is owned by the dispatcher loop and is not safe for concurrent
// use on its own.
type Cache struct {
	entries map[string]models.PriceTick
}

func New() *Cache {
	return &Cache{entries: make(map[string]models.PriceTick)}
}

// Apply stores the tick unless an entry with an equal or newer timestamp
// already exists. Out-of-order and duplicate ticks come back Stale.
func (c *Cache) Apply(tick models.PriceTick) ApplyResult {
	ticker := models.NormalizeTicker(tick.Ticker)

	prev, ok := c.entries[ticker]
	if ok && prev.Timestamp >= tick.Timestamp {
		return Stale
	}

	tick.Ticker = ticker
	c.entries[ticker] = tick

	if ok && prev.Price.Equal(tick.Price) {
		return Unchanged
	}
	return Changed
}

// Get returns the last accepted tick for the ticker, if any.
func (c *Cache) Get(ticker string) (models.PriceTick, bool) {
	tick, ok := c.entries[models.NormalizeTicker(ticker)]
	return tick, ok
}

// Len reports how many tickers currently have a cached price.
func (c *Cache) Len() int {
	return len(c.entries)
}
