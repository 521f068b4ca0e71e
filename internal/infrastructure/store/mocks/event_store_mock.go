package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"github.com/google/uuid"
)

// MockEventStore is a mock implementation of EventStoreInterface for testing
type MockEventStore struct {
	mu        sync.RWMutex
	events    map[string][]store.Event
	snapshots map[string]store.Snapshot
	sequence  int64

	// For tracking calls in tests
	AppendCalls       []AppendCall
	SaveSnapshotCalls []store.Snapshot

	// AppendErr is returned by every Append while set.
	AppendErr error
	// AppendErrs is consumed one entry per Append before AppendErr applies.
	AppendErrs []error
	// BeforeAppend runs before the version check, e.g. to inject a racing write.
	BeforeAppend func(aggregateID string)

	GetEventsErr    error
	SaveSnapshotErr error
}

// AppendCall records parameters passed to Append
type AppendCall struct {
	AggregateID     string
	AggregateType   string
	ExpectedVersion int
	Events          []store.PendingEvent
	Metadata        store.Metadata
}

// EventTypes returns the event types of the recorded batch.
func (c AppendCall) EventTypes() []string {
	types := make([]string, len(c.Events))
	for i, e := range c.Events {
		types[i] = e.EventType
	}
	return types
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		events:      make(map[string][]store.Event),
		snapshots:   make(map[string]store.Snapshot),
		AppendCalls: make([]AppendCall, 0),
	}
}

var _ store.EventStoreInterface = (*MockEventStore)(nil)

// Append stores events in memory with the same version semantics as the real stores
func (m *MockEventStore) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, pending []store.PendingEvent, meta store.Metadata) ([]store.Event, error) {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, AppendCall{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		ExpectedVersion: expectedVersion,
		Events:          pending,
		Metadata:        meta,
	})
	var injected error
	if len(m.AppendErrs) > 0 {
		injected = m.AppendErrs[0]
		m.AppendErrs = m.AppendErrs[1:]
	} else if m.AppendErr != nil {
		injected = m.AppendErr
	}
	before := m.BeforeAppend
	m.mu.Unlock()

	if injected != nil {
		return nil, injected
	}
	if before != nil {
		before(aggregateID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := len(m.events[aggregateID])
	if expectedVersion != store.AnyVersion && expectedVersion != current {
		return nil, &store.ConcurrencyError{AggregateID: aggregateID, ExpectedVersion: expectedVersion, ActualVersion: current}
	}

	out := make([]store.Event, 0, len(pending))
	for _, p := range pending {
		event, err := m.newEvent(aggregateID, aggregateType, p.EventType, p.SchemaVersion, p.Data)
		if err != nil {
			return nil, err
		}
		event.Metadata = meta
		m.events[aggregateID] = append(m.events[aggregateID], event)
		out = append(out, event)
	}
	return out, nil
}

// GetEvents returns events for an aggregate after the given version
func (m *MockEventStore) GetEvents(ctx context.Context, aggregateID string, afterVersion int) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}

	var out []store.Event
	for _, e := range m.events[aggregateID] {
		if e.Version > afterVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetAllEvents returns all events ordered by sequence
func (m *MockEventStore) GetAllEvents(ctx context.Context, afterSequence int64, limit int) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]store.Event, m.sequence)
	for _, events := range m.events {
		for _, e := range events {
			all[e.Sequence-1] = e
		}
	}
	var out []store.Event
	for _, e := range all {
		if e.Sequence > afterSequence {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockEventStore) SaveSnapshot(ctx context.Context, snapshot *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveSnapshotCalls = append(m.SaveSnapshotCalls, *snapshot)
	if m.SaveSnapshotErr != nil {
		return m.SaveSnapshotErr
	}
	if existing, ok := m.snapshots[snapshot.AggregateID]; !ok || snapshot.Version > existing.Version {
		m.snapshots[snapshot.AggregateID] = *snapshot
	}
	return nil
}

func (m *MockEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Reset clears all events and recorded calls
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string][]store.Event)
	m.snapshots = make(map[string]store.Snapshot)
	m.sequence = 0
	m.AppendCalls = make([]AppendCall, 0)
	m.SaveSnapshotCalls = nil
	m.AppendErr = nil
	m.AppendErrs = nil
	m.BeforeAppend = nil
	m.GetEventsErr = nil
	m.SaveSnapshotErr = nil
}

// Events returns the stored stream of an aggregate
func (m *MockEventStore) Events(aggregateID string) []store.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.Event, len(m.events[aggregateID]))
	copy(out, m.events[aggregateID])
	return out
}

// AddEvent adds a single event for testing without recording an Append call
func (m *MockEventStore) AddEvent(aggregateID, aggregateType, eventType string, data any) error {
	return m.AddVersionedEvent(aggregateID, aggregateType, eventType, 1, data)
}

// AddVersionedEvent adds an event with an explicit payload schema version
func (m *MockEventStore) AddVersionedEvent(aggregateID, aggregateType, eventType string, schemaVersion int, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, err := m.newEvent(aggregateID, aggregateType, eventType, schemaVersion, data)
	if err != nil {
		return err
	}
	m.events[aggregateID] = append(m.events[aggregateID], event)
	return nil
}

// SetSnapshot stores a snapshot directly for testing
func (m *MockEventStore) SetSnapshot(snapshot store.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.AggregateID] = snapshot
}

func (m *MockEventStore) newEvent(aggregateID, aggregateType, eventType string, schemaVersion int, data any) (store.Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return store.Event{}, err
	}
	if schemaVersion == 0 {
		schemaVersion = 1
	}
	m.sequence++
	return store.Event{
		ID:            uuid.New().String(),
		Sequence:      m.sequence,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		SchemaVersion: schemaVersion,
		Data:          jsonData,
		Timestamp:     time.Now(),
		Version:       len(m.events[aggregateID]) + 1,
	}, nil
}
