package gateway

import (
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/stockpulse/streamcore/cmd/streamd/internal/hub"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/protocol"
)

const maxFrameSize = 64 * 1024

// ClientAdapter bridges one raw websocket connection to the hub: a read
// pump decoding commands, a write pump with ping keepalive and a bounded
// send buffer that drops under backpressure.
type ClientAdapter struct {
	conn         net.Conn
	hub          *hub.Hub
	send         chan []byte
	logger       *zap.Logger
	validTickers map[string]bool

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger, validTickers map[string]bool) *ClientAdapter {
	return &ClientAdapter{
		conn:         conn,
		hub:          h,
		send:         make(chan []byte, 256),
		logger:       logger,
		validTickers: validTickers,
		writeWait:    5 * time.Second,
		pongWait:     60 * time.Second,
		pingPeriod:   50 * time.Second,
	}
}

func (c *ClientAdapter) Start() {
	c.hub.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.conn.RemoteAddr().String() }

// Close only closes the channel; the write pump owns the socket teardown.
func (c *ClientAdapter) Close() { close(c.send) }

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		// Slow consumer: drop rather than stall the broadcaster
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			return
		}
		if header.Length > maxFrameSize {
			c.logger.Warn("Frame too large", zap.Int64("size", header.Length))
			return
		}
		if !header.Fin {
			c.logger.Warn("Fragmented client frames not supported")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong, ws.OpPing:
			// Writes are owned by the write pump; a ping from the client
			// just proves liveness, so refresh the deadline and move on
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		case ws.OpText:
			var req protocol.WSRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, Message: "Invalid JSON"})
				continue
			}
			c.hub.HandleCommand(c, req, c.validTickers)
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
