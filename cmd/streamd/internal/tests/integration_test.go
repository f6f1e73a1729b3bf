package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gobwas/ws"
	"github.com/gorilla/websocket" // test CLIENT; the server side is gobwas
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpulse/streamcore/internal/simulator"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/core"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/dispatch"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/feed"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/gateway"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/hub"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/protocol"
	"github.com/stockpulse/streamcore/pkg/config"
	"github.com/stockpulse/streamcore/pkg/models"
)

type stack struct {
	svc     *core.Service
	manager *feed.Manager
	gateway *httptest.Server
}

// startStack boots the whole pipeline: simulated provider feed, core
// service with an optional Redis mirror, and the consumer gateway.
func startStack(t *testing.T, sinks []dispatch.Sink) *stack {
	t.Helper()
	logger := zap.NewNop()

	sim := simulator.NewServer(logger, map[string]float64{"AAPL": 185, "MSFT": 410}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	feedSrv := httptest.NewServer(http.HandlerFunc(sim.Handler(ctx)))
	t.Cleanup(feedSrv.Close)

	svc := core.NewService(logger, sinks)

	feedCfg := config.FeedConfig{
		URL:              "ws" + strings.TrimPrefix(feedSrv.URL, "http") + "/feed",
		HandshakeTimeout: 2 * time.Second,
		BackoffBase:      10 * time.Millisecond,
		BackoffMax:       100 * time.Millisecond,
	}
	manager := feed.NewManager(feedCfg, &feed.WSDialer{HandshakeTimeout: feedCfg.HandshakeTimeout}, logger,
		svc.ActiveSet, svc.HandleFeedPayload, svc.HandleFeedState)
	svc.AttachFeed(manager)

	go svc.Run(ctx)
	go manager.Run(ctx)
	t.Cleanup(manager.Shutdown)

	wsHub := hub.NewHub(svc, logger)
	t.Cleanup(wsHub.Detach)

	validTickers := map[string]bool{"AAPL": true, "MSFT": true}
	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := gateway.NewClient(conn, wsHub, logger, validTickers)
		client.Start()
	}))
	t.Cleanup(gwSrv.Close)

	return &stack{svc: svc, manager: manager, gateway: gwSrv}
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to gateway: %v", err)
	}
	return conn
}

func readUntilType(t *testing.T, conn *websocket.Conn, msgType string) protocol.WSResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed waiting for %q: %v", msgType, err)
		}
		var resp protocol.WSResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			t.Fatalf("Invalid server frame: %s", payload)
		}
		if resp.Type == msgType {
			return resp
		}
	}
}

func TestEndToEnd_SubscribeAndStream(t *testing.T) {
	st := startStack(t, nil)

	conn := connectWS(t, st.gateway.URL)
	defer conn.Close()

	sub := `{"action":"subscribe","payload":{"symbols":["AAPL"]},"id":"t1"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ack := readUntilType(t, conn, protocol.TypeAck)
	if ack.Status != "success" {
		t.Fatalf("Expected subscription ack, got %+v", ack)
	}

	price := readUntilType(t, conn, protocol.TypePrice)
	raw, _ := json.Marshal(price.Data)
	var tick models.PriceTick
	if err := json.Unmarshal(raw, &tick); err != nil {
		t.Fatalf("Bad price payload: %s", raw)
	}
	if tick.Ticker != "AAPL" {
		t.Errorf("Expected AAPL tick, got %s", tick.Ticker)
	}
	if tick.Price.Sign() <= 0 {
		t.Errorf("Expected positive price, got %s", tick.Price)
	}
}

func TestEndToEnd_RefcountAcrossClients(t *testing.T) {
	st := startStack(t, nil)

	a := connectWS(t, st.gateway.URL)
	defer a.Close()
	b := connectWS(t, st.gateway.URL)
	defer b.Close()

	a.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","payload":{"symbols":["AAPL","MSFT"]},"id":"a1"}`))
	readUntilType(t, a, protocol.TypeAck)
	b.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","payload":{"symbols":["MSFT"]},"id":"b1"}`))
	readUntilType(t, b, protocol.TypeAck)

	b.WriteMessage(websocket.TextMessage, []byte(`{"action":"unsubscribe","payload":{"symbols":["MSFT"]},"id":"b2"}`))
	readUntilType(t, b, protocol.TypeAck)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st.svc.Refcount("MSFT") == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st.svc.Refcount("MSFT") != 1 {
		t.Errorf("MSFT must survive with refcount 1, got %d", st.svc.Refcount("MSFT"))
	}
	set := st.svc.ActiveSet()
	if len(set) != 2 {
		t.Errorf("Upstream must still carry both tickers, got %v", set)
	}
}

func TestEndToEnd_RedisMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mirror := dispatch.NewRedisMirror(rdb, time.Minute)

	st := startStack(t, []dispatch.Sink{mirror})

	conn := connectWS(t, st.gateway.URL)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","payload":{"symbols":["AAPL"]},"id":"m1"}`))
	readUntilType(t, conn, protocol.TypeAck)
	readUntilType(t, conn, protocol.TypePrice)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mr.Exists("price:AAPL") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Mirror key price:AAPL never appeared in Redis")
}

func TestEndToEnd_PortfolioSnapshotOverGateway(t *testing.T) {
	st := startStack(t, nil)

	conn := connectWS(t, st.gateway.URL)
	defer conn.Close()

	// Register interest so the connection is live before positions land
	conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","payload":{"symbols":["MSFT"]},"id":"p0"}`))
	readUntilType(t, conn, protocol.TypeAck)

	st.svc.SetPositions([]models.Position{{
		Ticker:   "MSFT",
		Quantity: decimal.NewFromInt(10),
		BuyPrice: decimal.NewFromInt(400),
	}})

	snap := readUntilType(t, conn, protocol.TypeSnapshot)
	raw, _ := json.Marshal(snap.Data)
	var got models.PortfolioSnapshot
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Bad snapshot payload: %s", raw)
	}
	if got.TotalValue.Sign() <= 0 {
		t.Errorf("Expected positive total value, got %s", got.TotalValue)
	}

	// Live ticks reprice the position and emit delta flashes
	delta := readUntilType(t, conn, protocol.TypeDelta)
	raw, _ = json.Marshal(delta.Data)
	var dp protocol.DeltaPayload
	if err := json.Unmarshal(raw, &dp); err != nil {
		t.Fatalf("Bad delta payload: %s", raw)
	}
	if dp.Direction != "increased" && dp.Direction != "decreased" {
		t.Errorf("Expected a directional delta, got %q", dp.Direction)
	}
	if dp.TTLMillis != models.DeltaDisplayTTL.Milliseconds() {
		t.Errorf("Unexpected delta TTL: %d", dp.TTLMillis)
	}
}
