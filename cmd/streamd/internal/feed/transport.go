package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// ControlMessage is the outbound subscribe/unsubscribe frame the
// data-provider feed accepts.
type ControlMessage struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Tickers []string `json:"tickers"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Conn abstracts the upstream websocket connection
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer abstracts connection establishment for deterministic testing
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// WSDialer adapts gorilla's websocket.Dialer to our interface
type WSDialer struct {
	HandshakeTimeout time.Duration
}

func (d *WSDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
