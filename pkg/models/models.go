package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeTicker canonicalizes a ticker symbol. All lookups and refcounts
// key on the normalized form, so "aapl " and "AAPL" are the same symbol.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// PriceTick is a single price update for one ticker.
// Timestamp is unix micro; for a given ticker only ticks with a strictly
// newer timestamp are applied to the cache.
type PriceTick struct {
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// Position is a purchase lot supplied by the portfolio backend. The same
// ticker can appear in multiple positions (different lots).
type Position struct {
	Ticker   string          `json:"ticker"`
	Quantity decimal.Decimal `json:"quantity"`
	BuyPrice decimal.Decimal `json:"buy_price"`
	Sector   string          `json:"sector,omitempty"`
}

// Cost is the total purchase cost of the lot.
func (p Position) Cost() decimal.Decimal {
	return p.BuyPrice.Mul(p.Quantity)
}

// PortfolioSnapshot is an immutable aggregate over all positions. A new
// snapshot is allocated on every recompute and never mutated in place, so
// consumers can compare snapshots by pointer to detect change.
type PortfolioSnapshot struct {
	TotalValue             decimal.Decimal `json:"total_value"`
	TotalProfitLoss        decimal.Decimal `json:"total_profit_loss"`
	TotalProfitLossPercent decimal.Decimal `json:"total_profit_loss_percent"`
	LastUpdatedAt          time.Time       `json:"last_updated_at"`
}

// ConnectivityState describes the upstream feed connection. It is exposed
// for presentation only and never gates correctness of the cached data.
type ConnectivityState int

const (
	StateConnecting ConnectivityState = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s ConnectivityState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// DeltaDirection is the ternary portfolio-value movement signal.
type DeltaDirection int

const (
	DeltaUnchanged DeltaDirection = iota
	DeltaIncreased
	DeltaDecreased
)

func (d DeltaDirection) String() string {
	switch d {
	case DeltaIncreased:
		return "increased"
	case DeltaDecreased:
		return "decreased"
	}
	return "unchanged"
}

// DeltaDisplayTTL is the suggested display lifetime for a delta flash.
// Purely cosmetic; the engine emits the direction, presentation owns the timer.
const DeltaDisplayTTL = 600 * time.Millisecond
