package dispatch

import (
	"context"

	"github.com/stockpulse/streamcore/pkg/models"
)

// Sink receives every accepted, changed tick for out-of-process observers
// (Redis mirror, Kafka journal). Sinks are write-only: the core never reads
// its own state back from them, so a failing sink degrades observability,
// not correctness.
type Sink interface {
	Accept(ctx context.Context, tick models.PriceTick) error
	Close() error
}
