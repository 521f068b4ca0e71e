package store

import "context"

// AnyVersion disables the expected-version check on Append. Reserved for
// idempotent or monotonic writers that never depend on prior state.
const AnyVersion = -1

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	// Append atomically appends events to one aggregate stream. expectedVersion
	// must equal the stream's current version (0 for a new stream) unless it
	// is AnyVersion. A mismatch fails the whole batch with a *ConcurrencyError.
	Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []PendingEvent, meta Metadata) ([]Event, error)

	// GetEvents returns the events of one aggregate with version > afterVersion,
	// in ascending version order.
	GetEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error)

	// GetAllEvents returns up to limit events across all aggregates with
	// sequence > afterSequence, in global order. limit <= 0 means no limit.
	GetAllEvents(ctx context.Context, afterSequence int64, limit int) ([]Event, error)

	SnapshotStore
}

// SnapshotStore persists aggregate snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	// GetSnapshot returns the highest-version snapshot, or nil if none exists.
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
}

// Publisher delivers committed events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, key string, event any) error

func (f PublisherFunc) Publish(ctx context.Context, key string, event any) error {
	return f(ctx, key, event)
}
