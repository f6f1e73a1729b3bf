package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/stockpulse/streamcore/pkg/models"
)

// KafkaWriter abstracts the journal's output stream
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Sink = (*KafkaJournal)(nil)

// KafkaJournal appends accepted changed ticks to a topic for downstream
// analytics. Keyed by ticker so per-symbol ordering survives partitioning.
type KafkaJournal struct {
	writer KafkaWriter
}

func NewKafkaJournal(writer KafkaWriter) *KafkaJournal {
	return &KafkaJournal{writer: writer}
}

func (j *KafkaJournal) Accept(ctx context.Context, tick models.PriceTick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}
	return j.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tick.Ticker),
		Value: payload,
	})
}

func (j *KafkaJournal) Close() error {
	return j.writer.Close()
}
