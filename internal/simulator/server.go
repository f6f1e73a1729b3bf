package simulator

import (
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

// Server is the simulated data-provider feed. Each websocket client gets
// its own Book: a subscription set and a random-walk price stream over it.
type Server struct {
	logger     *zap.Logger
	basePrices map[string]float64
	interval   time.Duration
	clock      Clock
	newRand    func() Rand
}

func NewServer(logger *zap.Logger, basePrices map[string]float64, interval time.Duration) *Server {
	return &Server{
		logger:     logger,
		basePrices: basePrices,
		interval:   interval,
		clock:      RealClock{},
		newRand: func() Rand {
			return RealRand{rand.New(rand.NewSource(time.Now().UnixNano()))}
		},
	}
}

// Handler upgrades HTTP requests and runs a feed session per connection.
func (s *Server) Handler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go s.runSession(ctx, conn)
	}
}

func (s *Server) runSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	book := NewBook(s.basePrices, s.newRand(), s.clock)
	s.logger.Info("Feed client connected", zap.String("remote", conn.RemoteAddr().String()))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Control reader: subscribe/unsubscribe commands from the client
	go func() {
		defer cancel()
		for {
			payload, err := wsutil.ReadClientText(conn)
			if err != nil {
				return
			}
			var msg ControlMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				s.logger.Warn("Ignoring malformed control frame", zap.Error(err))
				continue
			}
			switch msg.Action {
			case "subscribe":
				book.Subscribe(msg.Tickers)
			case "unsubscribe":
				book.Unsubscribe(msg.Tickers)
			default:
				s.logger.Warn("Unknown control action", zap.String("action", msg.Action))
			}
		}
	}()

	// Tick writer
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-sessionCtx.Done():
			s.logger.Info("Feed client disconnected", zap.String("remote", conn.RemoteAddr().String()))
			return
		case <-ticker.C:
			tick, ok := book.Next()
			if !ok {
				continue
			}
			payload, _ := json.Marshal(tick)
			if err := wsutil.WriteServerText(conn, payload); err != nil {
				return
			}
		}
	}
}
