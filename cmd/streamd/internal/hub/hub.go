package hub

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stockpulse/streamcore/cmd/streamd/internal/protocol"
	"github.com/stockpulse/streamcore/pkg/models"
)

// ClientInterface is one connected websocket view.
type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	Close()
}

// Core is the slice of the price-distribution service the hub drives. Each
// websocket client maps to one core consumer ID.
type Core interface {
	SetInterest(consumerID string, tickers []string)
	DropConsumer(consumerID string)
	GetPrice(ticker string) (models.PriceTick, bool)
	Connectivity() models.ConnectivityState
	OnPrice(fn func(models.PriceTick)) func()
	OnSnapshot(fn func(*models.PortfolioSnapshot)) func()
	OnDelta(fn func(models.DeltaDirection)) func()
	OnConnectivity(fn func(models.ConnectivityState)) func()
}

// Hub fans core events out to websocket clients and translates their
// commands into interest declarations. It holds the symbol->clients index;
// refcounting and upstream traffic live in the core.
type Hub struct {
	core   Core
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool

	detach []func()
}

func NewHub(core Core, logger *zap.Logger) *Hub {
	h := &Hub{
		core:        core,
		logger:      logger,
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
	}

	h.detach = append(h.detach,
		core.OnPrice(h.broadcastPrice),
		core.OnSnapshot(h.broadcastSnapshot),
		core.OnDelta(h.broadcastDelta),
		core.OnConnectivity(h.broadcastConnectivity),
	)
	return h
}

// Detach removes the hub's core registrations. Called on shutdown.
func (h *Hub) Detach() {
	for _, off := range h.detach {
		off()
	}
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req, validTickers)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionSetInterest:
		h.handleSetInterest(client, req, validTickers)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	h.mu.Lock()

	var accepted []string
	for _, raw := range req.Payload.Symbols {
		sym := models.NormalizeTicker(raw)
		if !validTickers[sym] {
			continue
		}
		if h.clientSubs[client] != nil && h.clientSubs[client][sym] {
			// Already held; redeclaring is not an error, just not news
			continue
		}
		accepted = append(accepted, sym)
	}

	if len(accepted) == 0 {
		h.mu.Unlock()
		h.sendError(client, req.ID, "No valid/new symbols provided")
		return
	}

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}
	for _, sym := range accepted {
		h.clientSubs[client][sym] = true
		if h.subscribers[sym] == nil {
			h.subscribers[sym] = make(map[ClientInterface]bool)
		}
		h.subscribers[sym][client] = true
	}
	interest := h.interestOf(client)
	h.mu.Unlock()

	// The core diffs the full set; only 0->1 tickers go upstream
	h.core.SetInterest(client.ID(), interest)
	h.sendAck(client, req.ID, fmt.Sprintf("Subscribed to %v", accepted))
	h.sendCachedPrices(client, accepted)
}

func (h *Hub) handleSetInterest(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	var desired []string
	for _, raw := range req.Payload.Symbols {
		if sym := models.NormalizeTicker(raw); validTickers[sym] {
			desired = append(desired, sym)
		}
	}

	h.mu.Lock()
	for sym := range h.clientSubs[client] {
		delete(h.subscribers[sym], client)
	}
	next := make(map[string]bool, len(desired))
	for _, sym := range desired {
		next[sym] = true
		if h.subscribers[sym] == nil {
			h.subscribers[sym] = make(map[ClientInterface]bool)
		}
		h.subscribers[sym][client] = true
	}
	h.clientSubs[client] = next
	h.mu.Unlock()

	h.core.SetInterest(client.ID(), desired)
	h.sendAck(client, req.ID, fmt.Sprintf("Interest set to %v", desired))
	h.sendCachedPrices(client, desired)
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, raw := range req.Payload.Symbols {
			sym := models.NormalizeTicker(raw)
			if subs[sym] {
				delete(subs, sym)
				delete(h.subscribers[sym], client)
				removed = append(removed, sym)
			}
		}
	}
	interest := h.interestOf(client)
	h.mu.Unlock()

	if len(removed) == 0 {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
		return
	}
	h.core.SetInterest(client.ID(), interest)
	h.sendAck(client, req.ID, fmt.Sprintf("Unsubscribed from %v", removed))
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	for sym := range h.clientSubs[client] {
		delete(h.subscribers[sym], client)
	}
	// Keep the client registered with an empty set
	h.clientSubs[client] = make(map[string]bool)
	h.mu.Unlock()

	h.core.SetInterest(client.ID(), nil)
	h.sendAck(client, req.ID, "Unsubscribed from all symbols")
}

// Register adds a client with an empty interest set so it receives
// portfolio and connectivity broadcasts before its first subscribe.
func (h *Hub) Register(client ClientInterface) {
	h.mu.Lock()
	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}
	h.mu.Unlock()
}

// Unregister removes a disconnected client and releases its interest.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			delete(h.subscribers[sym], client)
		}
		delete(h.clientSubs, client)
	}
	h.mu.Unlock()

	h.core.DropConsumer(client.ID())
	client.Close()
	h.logger.Debug("Client unregistered", zap.String("client", client.ID()))
}

func (h *Hub) broadcastPrice(tick models.PriceTick) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.subscribers[tick.Ticker]
	if !ok {
		return
	}
	msg := protocol.WSResponse{Type: protocol.TypePrice, Data: tick}
	for client := range clients {
		client.SendJSON(msg)
	}
}

func (h *Hub) broadcastSnapshot(snap *models.PortfolioSnapshot) {
	h.broadcastAll(protocol.WSResponse{Type: protocol.TypeSnapshot, Data: snap})
}

func (h *Hub) broadcastDelta(dir models.DeltaDirection) {
	h.broadcastAll(protocol.WSResponse{
		Type: protocol.TypeDelta,
		Data: protocol.DeltaPayload{
			Direction: dir.String(),
			TTLMillis: models.DeltaDisplayTTL.Milliseconds(),
		},
	})
}

func (h *Hub) broadcastConnectivity(state models.ConnectivityState) {
	h.broadcastAll(protocol.WSResponse{
		Type: protocol.TypeConnectivity,
		Data: protocol.ConnectivityPayload{State: state.String()},
	})
}

func (h *Hub) broadcastAll(msg protocol.WSResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clientSubs {
		client.SendJSON(msg)
	}
}

// sendCachedPrices pushes the last known tick for each symbol so a fresh
// subscriber paints immediately instead of waiting for the next trade.
func (h *Hub) sendCachedPrices(client ClientInterface, symbols []string) {
	for _, sym := range symbols {
		if tick, ok := h.core.GetPrice(sym); ok {
			client.SendJSON(protocol.WSResponse{Type: protocol.TypePrice, Data: tick})
		}
	}
}

func (h *Hub) interestOf(client ClientInterface) []string {
	out := make([]string, 0, len(h.clientSubs[client]))
	for sym := range h.clientSubs[client] {
		out = append(out, sym)
	}
	return out
}

func (h *Hub) sendAck(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: "success", Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Message: msg})
}
