package simulator

import (
	"strings"
	"sync"
)

// Book tracks one feed client's subscription set and generates its
// random-walk ticks. Prices drift around the configured base, and the
// per-ticker timestamp is strictly monotonic even when the clock stalls.
type Book struct {
	rand  Rand
	clock Clock

	mu         sync.Mutex
	basePrices map[string]float64
	prices     map[string]float64
	subscribed []string
	lastTS     map[string]int64
}

func NewBook(basePrices map[string]float64, rnd Rand, clock Clock) *Book {
	base := make(map[string]float64, len(basePrices))
	for sym, p := range basePrices {
		base[normalize(sym)] = p
	}
	return &Book{
		rand:       rnd,
		clock:      clock,
		basePrices: base,
		prices:     make(map[string]float64),
		lastTS:     make(map[string]int64),
	}
}

// Subscribe starts streaming the known tickers among those requested.
func (b *Book) Subscribe(tickers []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, raw := range tickers {
		sym := normalize(raw)
		base, known := b.basePrices[sym]
		if !known || b.has(sym) {
			continue
		}
		b.subscribed = append(b.subscribed, sym)
		if _, ok := b.prices[sym]; !ok {
			b.prices[sym] = base
		}
	}
}

// Unsubscribe stops streaming the tickers. Unknown tickers are ignored.
func (b *Book) Unsubscribe(tickers []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, raw := range tickers {
		sym := normalize(raw)
		for i, s := range b.subscribed {
			if s == sym {
				b.subscribed = append(b.subscribed[:i], b.subscribed[i+1:]...)
				break
			}
		}
	}
}

// Next walks one randomly chosen subscribed ticker and returns its tick.
// ok is false when nothing is subscribed.
func (b *Book) Next() (TickMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribed) == 0 {
		return TickMessage{}, false
	}

	sym := b.subscribed[b.rand.Intn(len(b.subscribed))]

	// Bounded random walk: +-0.5% per step, floored at 10% of base
	step := (b.rand.Float64() - 0.5) * 0.01
	price := b.prices[sym] * (1 + step)
	if floor := b.basePrices[sym] * 0.1; price < floor {
		price = floor
	}
	b.prices[sym] = price

	ts := b.clock.Now().UnixMicro()
	if ts <= b.lastTS[sym] {
		ts = b.lastTS[sym] + 1
	}
	b.lastTS[sym] = ts

	return TickMessage{Ticker: sym, Price: price, Timestamp: ts}, true
}

// SubscribedCount reports the number of live tickers for this client.
func (b *Book) SubscribedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribed)
}

func (b *Book) has(sym string) bool {
	for _, s := range b.subscribed {
		if s == sym {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
