package simulator

import (
	"math/rand"
	"time"
)

// TickMessage is the wire format streamd consumes: one price update.
type TickMessage struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix micro, monotonic per ticker
}

// ControlMessage is what feed clients send to manage their stream.
type ControlMessage struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Tickers []string `json:"tickers"`
}

// for deterministic testing
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

type RealRand struct{ *rand.Rand }

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }
