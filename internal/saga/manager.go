package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/example/ec-event-sourcing/internal/command"
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/domain/inventory"
	"github.com/example/ec-event-sourcing/internal/domain/order"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxSaveAttempts bounds reload-and-retry when a saga save conflicts.
const maxSaveAttempts = 3

// Dispatcher is the part of command.Dispatcher the manager needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd aggregate.Command, meta store.Metadata) (*command.Outcome, error)
	DispatchCompensation(ctx context.Context, cmd aggregate.Command, meta store.Metadata) *command.Outcome
}

// StartRequest carries what a customer submits at checkout.
type StartRequest struct {
	UserID          string
	Items           []order.OrderItem
	ShippingAddress order.Address
	PaymentMethod   string
}

// Manager runs sagas: it persists each transition before dispatching the
// commands it produced. Events are expected to arrive asynchronously; a
// publisher that calls Handle from inside Dispatch would deadlock on the
// per-saga lock.
type Manager struct {
	store      Store
	dispatcher Dispatcher
	logger     *zap.Logger
	locks      *keyedMutex
}

type ManagerOption func(*Manager)

func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(s Store, d Dispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      s,
		dispatcher: d,
		logger:     zap.NewNop(),
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "saga"))
	return m
}

// Start places the order, creates its saga and dispatches the reservations.
// A rejected order creates no saga.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Saga, error) {
	sagaID := uuid.New().String()
	orderID := uuid.New().String()
	meta := store.Metadata{CorrelationID: sagaID, CausationID: sagaID, UserID: req.UserID}

	unlock := m.locks.lock(sagaID)
	defer unlock()

	_, err := m.dispatcher.Dispatch(ctx, order.PlaceOrder{
		OrderID:         orderID,
		UserID:          req.UserID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	}, meta)
	if err != nil {
		return Saga{}, err
	}

	s := New(sagaID, Details{
		OrderID:         orderID,
		UserID:          req.UserID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	next, cmds := s.Begin()
	if err := m.store.Save(ctx, &next); err != nil {
		m.logger.Error("failed to save new saga", zap.String("saga_id", sagaID), zap.String("order_id", orderID), zap.Error(err))
		return Saga{}, err
	}

	m.logger.Info("saga started",
		zap.String("saga_id", sagaID),
		zap.String("order_id", orderID),
		zap.Int("items", len(next.Items)),
	)
	return m.dispatch(ctx, next, cmds, meta)
}

// Get returns the current state of a saga.
func (m *Manager) Get(ctx context.Context, id string) (Saga, error) {
	return m.store.Get(ctx, id)
}

// HandleEvent decodes a published event and handles it. It matches the
// kafka.MessageHandler signature. Undecodable messages are logged and dropped.
func (m *Manager) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		m.logger.Warn("dropping undecodable event", zap.ByteString("key", key), zap.Error(err))
		return nil
	}
	return m.Handle(ctx, event)
}

// Handle feeds one event to the saga it belongs to. Events that belong to no
// saga are ignored.
func (m *Manager) Handle(ctx context.Context, event store.Event) error {
	sagaID, err := m.resolve(ctx, event)
	if err != nil || sagaID == "" {
		return err
	}

	unlock := m.locks.lock(sagaID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		s, err := m.store.Get(ctx, sagaID)
		if errors.Is(err, ErrSagaNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		next, cmds, applied := s.handle(event)
		if !applied {
			return nil
		}
		err = m.store.Save(ctx, &next)
		if errors.Is(err, ErrSagaConflict) && attempt < maxSaveAttempts {
			continue
		}
		if err != nil {
			return err
		}

		m.logger.Debug("saga advanced",
			zap.String("saga_id", next.ID),
			zap.String("event_type", event.EventType),
			zap.String("state", string(next.State)),
			zap.String("step", string(next.Step)),
		)
		meta := store.Metadata{CorrelationID: next.ID, CausationID: event.ID, UserID: next.UserID}
		_, err = m.dispatch(ctx, next, cmds, meta)
		return err
	}
}

func (m *Manager) resolve(ctx context.Context, event store.Event) (string, error) {
	if id := event.Metadata.CorrelationID; id != "" {
		_, err := m.store.Get(ctx, id)
		switch {
		case err == nil:
			return id, nil
		case !errors.Is(err, ErrSagaNotFound):
			return "", err
		}
	}
	if event.AggregateType != order.AggregateType {
		return "", nil
	}
	s, err := m.store.FindByOrderID(ctx, event.AggregateID)
	if errors.Is(err, ErrSagaNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// dispatch sends the commands of a persisted transition. A forward command
// that cannot be dispatched fails the saga; a compensation that cannot be
// dispatched is recorded and the remaining compensations still run.
func (m *Manager) dispatch(ctx context.Context, s Saga, cmds []aggregate.Command, meta store.Metadata) (Saga, error) {
	if len(cmds) == 0 {
		return s, nil
	}
	if s.State != StateInProgress {
		return m.compensate(ctx, s, cmds, meta)
	}

	for i, cmd := range cmds {
		if _, err := m.dispatcher.Dispatch(ctx, cmd, meta); err != nil {
			m.logger.Warn("forward command failed",
				zap.String("saga_id", s.ID),
				zap.String("command", cmd.CommandType()),
				zap.String("aggregate_id", cmd.AggregateID()),
				zap.Error(err),
			)
			failed, compensations := s.Fail(fmt.Sprintf("%s failed: %v", cmd.CommandType(), err), unsentReservations(cmds[i:])...)
			if err := m.store.Save(ctx, &failed); err != nil {
				return s, err
			}
			return m.compensate(ctx, failed, compensations, meta)
		}
	}
	return s, nil
}

// unsentReservations returns the products of the reservations in cmds, which
// never reached the event store.
func unsentReservations(cmds []aggregate.Command) []string {
	var products []string
	for _, cmd := range cmds {
		if reserve, ok := cmd.(inventory.ReserveInventory); ok {
			products = append(products, reserve.ProductID)
		}
	}
	return products
}

func (m *Manager) compensate(ctx context.Context, s Saga, cmds []aggregate.Command, meta store.Metadata) (Saga, error) {
	m.logger.Info("compensating saga",
		zap.String("saga_id", s.ID),
		zap.String("reason", s.FailureReason),
		zap.Int("commands", len(cmds)),
	)

	type failure struct {
		cmd aggregate.Command
		err error
	}
	var failures []failure
	for _, cmd := range cmds {
		if outcome := m.dispatcher.DispatchCompensation(ctx, cmd, meta); outcome.Failed() {
			failures = append(failures, failure{cmd: cmd, err: outcome.Err})
		}
	}
	if len(failures) == 0 {
		return s, nil
	}

	record := func(current Saga) Saga {
		for _, f := range failures {
			current = current.CompensationFailed(f.cmd, f.err)
		}
		return current
	}
	next := record(s)
	if err := m.saveLatest(ctx, &next, record); err != nil {
		return s, err
	}
	return next, nil
}

// saveLatest saves s, reapplying change to a reloaded copy on conflict.
func (m *Manager) saveLatest(ctx context.Context, s *Saga, change func(Saga) Saga) error {
	err := m.store.Save(ctx, s)
	for attempt := 1; errors.Is(err, ErrSagaConflict) && attempt < maxSaveAttempts; attempt++ {
		current, getErr := m.store.Get(ctx, s.ID)
		if getErr != nil {
			return getErr
		}
		*s = change(current)
		err = m.store.Save(ctx, s)
	}
	return err
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
