package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	Sequence      int64           `json:"sequence,omitempty"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version,omitempty"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

// Metadata carries causation, correlation and caller identity.
type Metadata struct {
	CorrelationID  string `json:"correlation_id,omitempty"`
	CausationID    string `json:"causation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PendingEvent is an event that has been decided but not yet persisted.
type PendingEvent struct {
	EventType     string
	SchemaVersion int
	Data          any
}

// buildEvents stamps pending events with ids, versions and the batch metadata.
func buildEvents(aggregateID, aggregateType string, currentVersion int, pending []PendingEvent, meta Metadata, now time.Time) ([]Event, error) {
	events := make([]Event, 0, len(pending))
	for i, p := range pending {
		data, err := json.Marshal(p.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", p.EventType, err)
		}
		schema := p.SchemaVersion
		if schema == 0 {
			schema = 1
		}
		events = append(events, Event{
			ID:            uuid.New().String(),
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			EventType:     p.EventType,
			SchemaVersion: schema,
			Data:          data,
			Metadata:      meta,
			Timestamp:     now,
			Version:       currentVersion + i + 1,
		})
	}
	return events, nil
}

// EventStore is an in-memory event store. It is safe for concurrent use.
type EventStore struct {
	mu        sync.RWMutex
	events    map[string][]Event // aggregateID -> events
	all       []Event
	snapshots map[string][]Snapshot
	sequence  int64
}

func NewEventStore() *EventStore {
	return &EventStore{
		events:    make(map[string][]Event),
		snapshots: make(map[string][]Snapshot),
	}
}

// Append stores a batch of events after checking the expected version
func (es *EventStore) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, pending []PendingEvent, meta Metadata) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateAppend(aggregateID, pending); err != nil {
		return nil, err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	current := len(es.events[aggregateID])
	if err := checkExpectedVersion(aggregateID, expectedVersion, current); err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	events, err := buildEvents(aggregateID, aggregateType, current, pending, meta, time.Now())
	if err != nil {
		return nil, err
	}
	for i := range events {
		es.sequence++
		events[i].Sequence = es.sequence
	}

	es.events[aggregateID] = append(es.events[aggregateID], events...)
	es.all = append(es.all, events...)

	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

// GetEvents returns the events of an aggregate after the given version
func (es *EventStore) GetEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	es.mu.RLock()
	defer es.mu.RUnlock()

	stream := es.events[aggregateID]
	if afterVersion < 0 {
		afterVersion = 0
	}
	if afterVersion >= len(stream) {
		return nil, nil
	}
	out := make([]Event, len(stream)-afterVersion)
	copy(out, stream[afterVersion:])
	return out, nil
}

// GetAllEvents returns events across all aggregates in append order
func (es *EventStore) GetAllEvents(ctx context.Context, afterSequence int64, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	es.mu.RLock()
	defer es.mu.RUnlock()

	start := sort.Search(len(es.all), func(i int) bool { return es.all[i].Sequence > afterSequence })
	end := len(es.all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]Event, end-start)
	copy(out, es.all[start:end])
	return out, nil
}

// SaveSnapshot keeps every snapshot; GetSnapshot serves the highest version.
func (es *EventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot == nil || snapshot.AggregateID == "" {
		return ErrEmptyAggregateID
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	es.snapshots[snapshot.AggregateID] = append(es.snapshots[snapshot.AggregateID], *snapshot)
	return nil
}

func (es *EventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	es.mu.RLock()
	defer es.mu.RUnlock()

	var latest *Snapshot
	for i := range es.snapshots[aggregateID] {
		s := es.snapshots[aggregateID][i]
		if latest == nil || s.Version > latest.Version {
			latest = &s
		}
	}
	return latest, nil
}
