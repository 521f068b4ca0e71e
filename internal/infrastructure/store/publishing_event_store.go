package store

import (
	"context"

	"go.uber.org/zap"
)

// PublishingEventStore publishes every committed event after a successful
// Append. The log is the source of truth: a publish failure is logged and
// does not fail the append, since the events are already durable.
type PublishingEventStore struct {
	EventStoreInterface
	publisher Publisher
	logger    *zap.Logger
}

func NewPublishingEventStore(inner EventStoreInterface, publisher Publisher, logger *zap.Logger) *PublishingEventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishingEventStore{
		EventStoreInterface: inner,
		publisher:           publisher,
		logger:              logger.With(zap.String("component", "event-publisher")),
	}
}

func (s *PublishingEventStore) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, pending []PendingEvent, meta Metadata) ([]Event, error) {
	events, err := s.EventStoreInterface.Append(ctx, aggregateID, aggregateType, expectedVersion, pending, meta)
	if err != nil {
		return nil, err
	}
	if s.publisher == nil {
		return events, nil
	}
	for _, event := range events {
		if err := s.publisher.Publish(ctx, event.AggregateID, event); err != nil {
			s.logger.Error("failed to publish event",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.String("aggregate_id", event.AggregateID),
				zap.Int("version", event.Version),
				zap.Error(err),
			)
		}
	}
	return events, nil
}
