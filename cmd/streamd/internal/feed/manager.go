package feed

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stockpulse/streamcore/pkg/config"
	"github.com/stockpulse/streamcore/pkg/models"
)

// controlWriteWait bounds every control write so a wedged socket surfaces
// as a connection drop instead of a stalled writer.
const controlWriteWait = 5 * time.Second

// Manager owns the single upstream feed connection: dialing, drop
// detection, exponential-backoff reconnects, and replaying the full active
// subscription set whenever the connection (re)opens.
//
// All other components talk to the transport only through Subscribe,
// Unsubscribe and the tick callback; nobody else touches the socket.
// Control writes run on a dedicated writer goroutine so a slow socket
// never blocks the caller (the core's event loop).
type Manager struct {
	cfg       config.FeedConfig
	dialer    Dialer
	logger    *zap.Logger
	activeSet func() []string
	onTick    func(payload []byte)
	onState   func(models.ConnectivityState)

	mu    sync.Mutex
	state models.ConnectivityState
	conn  Conn

	control chan ControlMessage

	closeOnce sync.Once
	closed    chan struct{}
}

// NewManager wires the connection manager.
// activeSet is consulted on every (re)connect and must return the registry's
// current non-zero-refcount tickers. onTick receives every raw inbound frame.
func NewManager(
	cfg config.FeedConfig,
	dialer Dialer,
	logger *zap.Logger,
	activeSet func() []string,
	onTick func(payload []byte),
	onState func(models.ConnectivityState),
) *Manager {
	return &Manager{
		cfg:       cfg,
		dialer:    dialer,
		logger:    logger,
		activeSet: activeSet,
		onTick:    onTick,
		onState:   onState,
		state:     models.StateConnecting,
		control:   make(chan ControlMessage, 64),
		closed:    make(chan struct{}),
	}
}

// State returns the current connectivity state.
func (m *Manager) State() models.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe asks the provider to start streaming the tickers. While the
// connection is down the intent is already recorded in the registry (the
// caller mutates the registry before calling here), so the resubscribe-all
// replay on the next open covers it; no intent queue survives a reconnect.
func (m *Manager) Subscribe(tickers []string) {
	m.send(ActionSubscribe, tickers)
}

// Unsubscribe asks the provider to stop streaming the tickers. Intents that
// arrive while down are honored implicitly on reconnect: the replay
// subscribes only the registry's active set, which has already absorbed them.
func (m *Manager) Unsubscribe(tickers []string) {
	m.send(ActionUnsubscribe, tickers)
}

// send never touches the socket itself: it hands the message to the
// per-connection writer goroutine, so the caller returns immediately even
// when the socket is wedged.
func (m *Manager) send(action string, tickers []string) {
	if len(tickers) == 0 {
		return
	}

	m.mu.Lock()
	open := m.state == models.StateOpen && m.conn != nil
	m.mu.Unlock()
	if !open {
		return
	}

	select {
	case m.control <- ControlMessage{Action: action, Tickers: tickers}:
	default:
		// The queue only backs up when the socket is already wedged; the
		// reconnect replay will square the subscription set.
		m.logger.Warn("Feed control queue full, dropping write", zap.String("action", action))
	}
}

// Run drives the connect/read/reconnect loop until ctx is canceled or
// Shutdown is called. Blocking; run it on its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	delay := m.cfg.BackoffBase

	for {
		if m.shuttingDown(ctx) {
			m.transition(models.StateClosed)
			return
		}

		conn, err := m.dialer.DialContext(ctx, m.cfg.URL)
		if err != nil {
			m.logger.Warn("Feed dial failed",
				zap.String("url", m.cfg.URL),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			m.transition(models.StateReconnecting)
			if m.wait(ctx, withJitter(delay)) {
				m.transition(models.StateClosed)
				return
			}
			delay = nextBackoff(delay, m.cfg.BackoffMax)
			continue
		}
		delay = m.cfg.BackoffBase

		m.mu.Lock()
		if m.state == models.StateClosed {
			m.mu.Unlock()
			conn.Close()
			return
		}
		// Control messages aimed at the previous connection are stale; the
		// replay below supersedes them. Drained before the state flips to
		// Open, while send still rejects, so no fresh intent can be lost.
		m.drainControl()
		m.conn = conn
		m.state = models.StateOpen
		m.mu.Unlock()
		m.notify(models.StateOpen)

		// The registry's active set has absorbed every subscribe and
		// unsubscribe accepted during the outage, so the replay is exact.
		replay := m.activeSet()
		if len(replay) > 0 {
			conn.SetWriteDeadline(time.Now().Add(controlWriteWait))
			if err := conn.WriteJSON(ControlMessage{Action: ActionSubscribe, Tickers: replay}); err != nil {
				m.logger.Warn("Feed resubscribe replay failed", zap.Error(err))
			} else {
				m.logger.Info("Feed open, subscriptions replayed", zap.Int("tickers", len(replay)))
			}
		} else {
			m.logger.Info("Feed open, no active subscriptions")
		}

		stopWriter := m.startWriter(ctx, conn)
		stopPing := m.startPingLoop(ctx, conn)
		readErr := m.readLoop(ctx, conn)
		stopPing()
		stopWriter()

		m.mu.Lock()
		m.conn = nil
		terminal := m.state == models.StateClosed
		if !terminal {
			m.state = models.StateReconnecting
		}
		m.mu.Unlock()
		conn.Close()

		if terminal || m.shuttingDown(ctx) {
			m.transition(models.StateClosed)
			return
		}

		m.notify(models.StateReconnecting)
		m.logger.Warn("Feed dropped, reconnecting",
			zap.Duration("retry_in", delay),
			zap.Error(readErr))

		if m.wait(ctx, withJitter(delay)) {
			m.transition(models.StateClosed)
			return
		}
		delay = nextBackoff(delay, m.cfg.BackoffMax)
	}
}

// Shutdown moves the manager to the terminal Closed state and tears down
// the connection. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.state = models.StateClosed
		conn := m.conn
		m.conn = nil
		m.mu.Unlock()

		close(m.closed)
		if conn != nil {
			conn.Close()
		}
		m.notify(models.StateClosed)
	})
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.onTick(payload)
	}
}

// startWriter serves the control queue for one connection. Every write
// carries a deadline; a failed write closes the conn so the read loop
// observes the drop and the reconnect replay restores the set.
func (m *Manager) startWriter(ctx context.Context, conn Conn) func() {
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg := <-m.control:
				conn.SetWriteDeadline(time.Now().Add(controlWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					m.logger.Warn("Feed control write failed", zap.String("action", msg.Action), zap.Error(err))
					conn.Close()
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (m *Manager) drainControl() {
	for {
		select {
		case <-m.control:
		default:
			return
		}
	}
}

func (m *Manager) startPingLoop(ctx context.Context, conn Conn) func() {
	if m.cfg.PingInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	ticker := time.NewTicker(m.cfg.PingInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					m.logger.Warn("Feed ping failed", zap.Error(err))
					conn.Close()
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// wait sleeps for the backoff delay; returns true if shutdown interrupted it.
func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-m.closed:
		return true
	case <-timer.C:
		return false
	}
}

func (m *Manager) shuttingDown(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *Manager) transition(s models.ConnectivityState) {
	m.mu.Lock()
	if m.state == models.StateClosed && s != models.StateClosed {
		m.mu.Unlock()
		return
	}
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.notify(s)
	}
}

func (m *Manager) notify(s models.ConnectivityState) {
	if m.onState != nil {
		m.onState(s)
	}
}
