package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes committed events, keyed by aggregate id so each
// aggregate's events stay in one partition.
type Producer struct {
	writer Writer
}

var _ store.Publisher = (*Producer)(nil)

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return NewProducerFromWriter(writer)
}

func NewProducerFromWriter(w Writer) *Producer {
	return &Producer{writer: w}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if e, ok := event.(store.Event); ok {
		msg.Headers = []kafka.Header{
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "aggregate_type", Value: []byte(e.AggregateType)},
		}
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return apperr.Infrastructure("kafka publish", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
