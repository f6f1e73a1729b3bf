package aggregate

import (
	"hash/fnv"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpulse/streamcore/pkg/models"
)

var hundred = decimal.NewFromInt(100)

// Valuation is a position plus its derived cache fields. Only the engine
// writes the derived fields; UI code reads them.
type Valuation struct {
	Position models.Position

	// Live is false until the ticker receives its first accepted tick;
	// until then the lot is valued at its buy price.
	Live              bool
	CurrentPrice      decimal.Decimal
	Value             decimal.Decimal
	ProfitLoss        decimal.Decimal
	ProfitLossPercent decimal.Decimal
}

// Engine maintains a running portfolio snapshot and recomputes it
// incrementally: per affected position when its ticker's price changes,
// never globally per tick.
//
// Owned by the dispatcher loop; no internal locking.
type Engine struct {
	logger *zap.Logger

	valuations []*Valuation
	byTicker   map[string][]*Valuation

	snapshot *models.PortfolioSnapshot

	// Sector totals are rebuilt only when the position set changes, keyed
	// by a fingerprint of the sorted ticker list; price ticks adjust the
	// affected sector total incrementally.
	sectors     map[string]decimal.Decimal
	fingerprint uint64
	now         func() time.Time
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		logger:   logger,
		byTicker: make(map[string][]*Valuation),
		sectors:  make(map[string]decimal.Decimal),
		now:      time.Now,
	}
}

// SetClock overrides the snapshot timestamp source for deterministic tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetPositions replaces the tracked position set, re-prices every lot from
// the supplied price lookup and rebuilds the sector breakdown. Returns the
// new snapshot.
func (e *Engine) SetPositions(positions []models.Position, lookup func(ticker string) (models.PriceTick, bool)) *models.PortfolioSnapshot {
	e.valuations = make([]*Valuation, 0, len(positions))
	e.byTicker = make(map[string][]*Valuation, len(positions))

	for _, p := range positions {
		p.Ticker = models.NormalizeTicker(p.Ticker)
		if p.Quantity.Sign() <= 0 || p.BuyPrice.Sign() <= 0 {
			e.logger.Warn("Ignoring invalid position",
				zap.String("ticker", p.Ticker),
				zap.String("quantity", p.Quantity.String()),
				zap.String("buy_price", p.BuyPrice.String()))
			continue
		}

		v := &Valuation{Position: p}
		if tick, ok := lookup(p.Ticker); ok {
			reprice(v, tick.Price)
		} else {
			// Never-ticked lots hold their last externally supplied price,
			// which at load time is the buy price: value = cost, P&L = 0.
			reprice(v, p.BuyPrice)
			v.Live = false
		}
		e.valuations = append(e.valuations, v)
		e.byTicker[p.Ticker] = append(e.byTicker[p.Ticker], v)
	}

	e.fingerprint = fingerprintTickers(e.byTicker)
	e.rebuildSectors()
	e.resum()
	return e.snapshot
}

// ApplyPrice re-prices every lot of the ticker and, if any lot changed,
// re-sums the snapshot. Returns the new snapshot (nil when nothing
// changed) and the delta direction of TotalValue.
func (e *Engine) ApplyPrice(ticker string, price decimal.Decimal) (*models.PortfolioSnapshot, models.DeltaDirection) {
	lots := e.byTicker[models.NormalizeTicker(ticker)]
	if len(lots) == 0 {
		return nil, models.DeltaUnchanged
	}

	changed := false
	for _, v := range lots {
		if v.Live && v.CurrentPrice.Equal(price) {
			continue
		}
		oldValue := v.Value
		reprice(v, price)
		e.adjustSector(v.Position.Sector, v.Value.Sub(oldValue))
		changed = true
	}
	if !changed {
		return nil, models.DeltaUnchanged
	}

	prev := e.snapshot
	e.resum()

	dir := models.DeltaUnchanged
	if prev != nil {
		switch e.snapshot.TotalValue.Cmp(prev.TotalValue) {
		case 1:
			dir = models.DeltaIncreased
		case -1:
			dir = models.DeltaDecreased
		}
	}
	return e.snapshot, dir
}

// Snapshot returns the current aggregate; nil before the first SetPositions.
func (e *Engine) Snapshot() *models.PortfolioSnapshot {
	return e.snapshot
}

// Valuations returns the per-lot derived state in position order.
func (e *Engine) Valuations() []Valuation {
	out := make([]Valuation, len(e.valuations))
	for i, v := range e.valuations {
		out[i] = *v
	}
	return out
}

// Tickers returns the distinct tickers the tracked positions need, sorted.
func (e *Engine) Tickers() []string {
	out := make([]string, 0, len(e.byTicker))
	for t := range e.byTicker {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SectorBreakdown returns current value per sector. Lots without a sector
// are grouped under "unclassified".
func (e *Engine) SectorBreakdown() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(e.sectors))
	for k, v := range e.sectors {
		out[k] = v
	}
	return out
}

// Fingerprint identifies the current ticker set; it changes only when
// positions are added or removed, never on price ticks.
func (e *Engine) Fingerprint() uint64 { return e.fingerprint }

func reprice(v *Valuation, price decimal.Decimal) {
	v.Live = true
	v.CurrentPrice = price
	v.Value = price.Mul(v.Position.Quantity)
	v.ProfitLoss = v.Value.Sub(v.Position.Cost())
	v.ProfitLossPercent = price.Sub(v.Position.BuyPrice).
		Div(v.Position.BuyPrice).
		Mul(hundred)
}

func (e *Engine) resum() {
	totalValue := decimal.Zero
	totalPL := decimal.Zero
	totalCost := decimal.Zero

	for _, v := range e.valuations {
		totalValue = totalValue.Add(v.Value)
		totalPL = totalPL.Add(v.ProfitLoss)
		totalCost = totalCost.Add(v.Position.Cost())
	}

	totalPLPercent := decimal.Zero
	if totalCost.Sign() > 0 {
		totalPLPercent = totalPL.Div(totalCost).Mul(hundred)
	}

	e.snapshot = &models.PortfolioSnapshot{
		TotalValue:             totalValue,
		TotalProfitLoss:        totalPL,
		TotalProfitLossPercent: totalPLPercent,
		LastUpdatedAt:          e.now(),
	}
}

func (e *Engine) rebuildSectors() {
	e.sectors = make(map[string]decimal.Decimal)
	for _, v := range e.valuations {
		e.adjustSector(v.Position.Sector, v.Value)
	}
}

func (e *Engine) adjustSector(sector string, delta decimal.Decimal) {
	if sector == "" {
		sector = "unclassified"
	}
	e.sectors[sector] = e.sectors[sector].Add(delta)
}

func fingerprintTickers(byTicker map[string][]*Valuation) uint64 {
	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	h := fnv.New64a()
	for _, t := range tickers {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
