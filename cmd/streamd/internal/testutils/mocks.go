package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"github.com/stockpulse/streamcore/cmd/streamd/internal/feed"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/protocol"
)

// MockClient simulates a connected websocket client for hub tests.
type MockClient struct {
	IDVal    string
	Mu       sync.Mutex
	Messages []protocol.WSResponse
	Closed   bool
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) LastMsg() protocol.WSResponse {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return protocol.WSResponse{}
	}
	return m.Messages[len(m.Messages)-1]
}

func (m *MockClient) LastMsgType() string {
	return m.LastMsg().Type
}

func (m *MockClient) CountType(msgType string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	n := 0
	for _, msg := range m.Messages {
		if msg.Type == msgType {
			n++
		}
	}
	return n
}

// MockConn is a scripted upstream connection. Reads are fed through a
// channel; writes are recorded for assertions. GateWrites simulates a
// wedged socket whose peer stopped reading.
type MockConn struct {
	Inbound   chan []byte
	writeGate chan struct{}

	Mu       sync.Mutex
	Writes   []feed.ControlMessage
	Pings    int
	IsClosed bool
}

func NewMockConn() *MockConn {
	return &MockConn{Inbound: make(chan []byte, 64)}
}

// GateWrites makes WriteJSON block until ReleaseWrites. Call before the
// connection is handed to the manager.
func (c *MockConn) GateWrites() { c.writeGate = make(chan struct{}) }

func (c *MockConn) ReleaseWrites() { close(c.writeGate) }

func (c *MockConn) ReadMessage() (int, []byte, error) {
	payload, ok := <-c.Inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, payload, nil
}

func (c *MockConn) WriteJSON(v interface{}) error {
	if c.writeGate != nil {
		<-c.writeGate
	}
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.IsClosed {
		return errors.New("write on closed conn")
	}
	// Round-trip through JSON so we record exactly what went on the wire
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg feed.ControlMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return err
	}
	c.Writes = append(c.Writes, msg)
	return nil
}

func (c *MockConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.Pings++
	return nil
}

func (c *MockConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *MockConn) Close() error {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if !c.IsClosed {
		c.IsClosed = true
		close(c.Inbound)
	}
	return nil
}

// Drop simulates the provider killing the connection.
func (c *MockConn) Drop() { c.Close() }

// ControlWrites returns a copy of the recorded control messages.
func (c *MockConn) ControlWrites() []feed.ControlMessage {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	out := make([]feed.ControlMessage, len(c.Writes))
	copy(out, c.Writes)
	return out
}

// MockDialer hands out scripted connections in order. When the script is
// exhausted, Dial blocks until the context dies (simulates a dead provider).
type MockDialer struct {
	Mu    sync.Mutex
	Conns []*MockConn
	Dials int
	// Fail makes the next n dials return an error
	Fail int
}

func (d *MockDialer) DialContext(ctx context.Context, url string) (feed.Conn, error) {
	d.Mu.Lock()
	d.Dials++
	if d.Fail > 0 {
		d.Fail--
		d.Mu.Unlock()
		return nil, errors.New("dial refused")
	}
	if len(d.Conns) == 0 {
		d.Mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	conn := d.Conns[0]
	d.Conns = d.Conns[1:]
	d.Mu.Unlock()
	return conn, nil
}

// MockFeed records subscribe/unsubscribe traffic for core/hub tests.
type MockFeed struct {
	Mu           sync.Mutex
	Subscribed   [][]string
	Unsubscribed [][]string
}

func (f *MockFeed) Subscribe(tickers []string) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Subscribed = append(f.Subscribed, tickers)
}

func (f *MockFeed) Unsubscribe(tickers []string) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Unsubscribed = append(f.Unsubscribed, tickers)
}

// MockKafkaWriter captures journaled messages.
type MockKafkaWriter struct {
	Mu         sync.Mutex
	Messages   []kafka.Message
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }
