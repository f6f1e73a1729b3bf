package core

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/stockpulse/streamcore/cmd/streamd/internal/aggregate"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/dispatch"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/pricecache"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/registry"
	"github.com/stockpulse/streamcore/pkg/models"
)

// portfolioConsumerID is the registry consumer that holds interest in the
// tracked positions' tickers, so the aggregation stays live independently
// of which views are open.
const portfolioConsumerID = "__portfolio__"

// Feed is the upstream control surface the service drives with registry
// diffs. Implemented by feed.Manager.
type Feed interface {
	Subscribe(tickers []string)
	Unsubscribe(tickers []string)
}

// Service is the process-scoped core instance handed to consumers. All
// state mutations are marshaled onto a single event loop; callbacks fire on
// that loop and must not block.
type Service struct {
	loop   *dispatch.Loop
	reg    *registry.Registry
	cache  *pricecache.Cache
	engine *aggregate.Engine
	logger *zap.Logger

	feed  Feed
	sinks []dispatch.Sink
	// Sink I/O runs off-loop so a slow Redis or Kafka never stalls ticks
	sinkCh chan models.PriceTick

	connState models.ConnectivityState

	nextSubID int
	priceSubs map[int]func(models.PriceTick)
	snapSubs  map[int]func(*models.PortfolioSnapshot)
	deltaSubs map[int]func(models.DeltaDirection)
	connSubs  map[int]func(models.ConnectivityState)

	wg sync.WaitGroup
}

func NewService(logger *zap.Logger, sinks []dispatch.Sink) *Service {
	return &Service{
		loop:      dispatch.NewLoop(logger),
		reg:       registry.New(),
		cache:     pricecache.New(),
		engine:    aggregate.NewEngine(logger),
		logger:    logger,
		sinks:     sinks,
		sinkCh:    make(chan models.PriceTick, 256),
		connState: models.StateConnecting,
		priceSubs: make(map[int]func(models.PriceTick)),
		snapSubs:  make(map[int]func(*models.PortfolioSnapshot)),
		deltaSubs: make(map[int]func(models.DeltaDirection)),
		connSubs:  make(map[int]func(models.ConnectivityState)),
	}
}

// AttachFeed wires the upstream control surface. Must be called before
// consumers start subscribing.
func (s *Service) AttachFeed(f Feed) { s.feed = f }

// Engine exposes the aggregation engine for read-only inspection in tests
// and diagnostics handlers. Access it via the loop only.
func (s *Service) Engine() *aggregate.Engine { return s.engine }

// Run drives the event loop and the sink worker until ctx dies. Blocking.
func (s *Service) Run(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-s.sinkCh:
				for _, sink := range s.sinks {
					if err := sink.Accept(ctx, tick); err != nil && ctx.Err() == nil {
						s.logger.Warn("Tick sink error", zap.String("ticker", tick.Ticker), zap.Error(err))
					}
				}
			}
		}
	}()

	s.loop.Run(ctx)
	s.wg.Wait()
}

// SetInterest replaces the consumer's full interest set (the idempotent
// primitive; see registry). Upstream traffic carries only the diff.
func (s *Service) SetInterest(consumerID string, tickers []string) {
	s.loop.Do(func() { s.applyInterest(consumerID, tickers) })
}

// Subscribe adds tickers to the consumer's interest set.
func (s *Service) Subscribe(consumerID string, tickers []string) {
	s.loop.Do(func() {
		next := s.reg.Interest(consumerID)
		have := make(map[string]bool, len(next))
		for _, t := range next {
			have[t] = true
		}
		for _, t := range tickers {
			if n := models.NormalizeTicker(t); n != "" && !have[n] {
				next = append(next, n)
				have[n] = true
			}
		}
		s.applyInterest(consumerID, next)
	})
}

// Unsubscribe removes tickers from the consumer's interest set. Tickers the
// consumer never held are ignored.
func (s *Service) Unsubscribe(consumerID string, tickers []string) {
	s.loop.Do(func() {
		drop := make(map[string]bool, len(tickers))
		for _, t := range tickers {
			drop[models.NormalizeTicker(t)] = true
		}
		var next []string
		for _, t := range s.reg.Interest(consumerID) {
			if !drop[t] {
				next = append(next, t)
			}
		}
		s.applyInterest(consumerID, next)
	})
}

// DropConsumer clears all interest held by the consumer (teardown path).
func (s *Service) DropConsumer(consumerID string) {
	s.loop.Do(func() { s.applyInterest(consumerID, nil) })
}

func (s *Service) applyInterest(consumerID string, tickers []string) {
	added, removed := s.reg.SetInterest(consumerID, tickers)
	if s.feed == nil {
		return
	}
	if len(added) > 0 {
		s.feed.Subscribe(added)
	}
	if len(removed) > 0 {
		s.feed.Unsubscribe(removed)
	}
}

// SetPositions replaces the tracked portfolio. The positions' tickers are
// claimed under an internal consumer so their prices stream even when no
// view is watching them.
func (s *Service) SetPositions(positions []models.Position) {
	s.loop.Do(func() {
		snap := s.engine.SetPositions(positions, s.cache.Get)
		s.applyInterest(portfolioConsumerID, s.engine.Tickers())
		for _, fn := range s.snapSubs {
			fn(snap)
		}
	})
}

// GetPrice returns the last accepted tick for the ticker.
func (s *Service) GetPrice(ticker string) (models.PriceTick, bool) {
	var (
		tick models.PriceTick
		ok   bool
	)
	s.loop.DoWait(func() { tick, ok = s.cache.Get(ticker) })
	return tick, ok
}

// Snapshot returns the current portfolio aggregate; nil before positions load.
func (s *Service) Snapshot() *models.PortfolioSnapshot {
	var snap *models.PortfolioSnapshot
	s.loop.DoWait(func() { snap = s.engine.Snapshot() })
	return snap
}

// Connectivity returns the upstream feed state as last reported.
func (s *Service) Connectivity() models.ConnectivityState {
	var state models.ConnectivityState
	s.loop.DoWait(func() { state = s.connState })
	return state
}

// Refcount reports the registry's claim count for a ticker.
func (s *Service) Refcount(ticker string) int {
	var n int
	s.loop.DoWait(func() { n = s.reg.Refcount(ticker) })
	return n
}

// ActiveSet returns the tickers that must be live upstream. Handed to the
// connection manager as its resubscribe-all source.
func (s *Service) ActiveSet() []string {
	var set []string
	s.loop.DoWait(func() { set = s.reg.ActiveSet() })
	return set
}

// HandleFeedPayload ingests one raw frame from the upstream feed. Malformed
// frames are dropped and logged; they never reach consumers.
func (s *Service) HandleFeedPayload(payload []byte) {
	var tick models.PriceTick
	if err := json.Unmarshal(payload, &tick); err != nil {
		s.logger.Warn("Dropping malformed tick", zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	if models.NormalizeTicker(tick.Ticker) == "" || tick.Price.Sign() <= 0 {
		s.logger.Warn("Dropping invalid tick",
			zap.String("ticker", tick.Ticker),
			zap.String("price", tick.Price.String()))
		return
	}

	// Ticks take the sheddable path: under overload the next accepted tick
	// supersedes a dropped one. Interest mutations never shed (see Loop.Do).
	s.loop.TryDo(func() { s.applyTick(tick) })
}

func (s *Service) applyTick(tick models.PriceTick) {
	switch s.cache.Apply(tick) {
	case pricecache.Stale:
		// Expected under out-of-order delivery; not an error
		return
	case pricecache.Unchanged:
		// Stored for timestamp freshness, but no downstream recompute:
		// this is what keeps no-op ticks from causing snapshot churn.
		return
	}

	stored, _ := s.cache.Get(tick.Ticker)

	for _, fn := range s.priceSubs {
		fn(stored)
	}

	snap, dir := s.engine.ApplyPrice(stored.Ticker, stored.Price)
	if snap != nil {
		for _, fn := range s.snapSubs {
			fn(snap)
		}
		for _, fn := range s.deltaSubs {
			fn(dir)
		}
	}

	if len(s.sinks) > 0 {
		select {
		case s.sinkCh <- stored:
		default:
			s.logger.Warn("Sink queue saturated, dropping mirror write", zap.String("ticker", stored.Ticker))
		}
	}
}

// HandleFeedState records connectivity transitions from the connection
// manager and fans them out to observers.
func (s *Service) HandleFeedState(state models.ConnectivityState) {
	s.loop.Do(func() {
		s.connState = state
		for _, fn := range s.connSubs {
			fn(state)
		}
	})
}

// OnPrice registers a callback for every accepted, changed tick. The
// returned handle removes the registration.
func (s *Service) OnPrice(fn func(models.PriceTick)) (unsubscribe func()) {
	var id int
	s.loop.DoWait(func() {
		id = s.nextSubID
		s.nextSubID++
		s.priceSubs[id] = fn
	})
	return func() { s.loop.Do(func() { delete(s.priceSubs, id) }) }
}

// OnSnapshot registers a callback for every new portfolio snapshot.
func (s *Service) OnSnapshot(fn func(*models.PortfolioSnapshot)) (unsubscribe func()) {
	var id int
	s.loop.DoWait(func() {
		id = s.nextSubID
		s.nextSubID++
		s.snapSubs[id] = fn
	})
	return func() { s.loop.Do(func() { delete(s.snapSubs, id) }) }
}

// OnDelta registers a callback for portfolio-value delta signals.
func (s *Service) OnDelta(fn func(models.DeltaDirection)) (unsubscribe func()) {
	var id int
	s.loop.DoWait(func() {
		id = s.nextSubID
		s.nextSubID++
		s.deltaSubs[id] = fn
	})
	return func() { s.loop.Do(func() { delete(s.deltaSubs, id) }) }
}

// OnConnectivity registers a callback for feed state transitions.
func (s *Service) OnConnectivity(fn func(models.ConnectivityState)) (unsubscribe func()) {
	var id int
	s.loop.DoWait(func() {
		id = s.nextSubID
		s.nextSubID++
		s.connSubs[id] = fn
	})
	return func() { s.loop.Do(func() { delete(s.connSubs, id) }) }
}
