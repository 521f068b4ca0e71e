package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/domain/inventory"
	"github.com/example/ec-event-sourcing/internal/domain/order"
	"github.com/example/ec-event-sourcing/internal/domain/product"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *mocks.MockEventStore) {
	t.Helper()
	eventStore := mocks.NewMockEventStore()
	opts = append([]Option{WithRetry(3, time.Millisecond)}, opts...)
	d, err := NewDefault(eventStore, nil, opts...)
	require.NoError(t, err)
	return d, eventStore
}

var testAddress = order.Address{Line1: "1-2-3 Shibuya", City: "Tokyo", PostalCode: "150-0002", Country: "JP"}

func placeOrderCommand() order.PlaceOrder {
	return order.PlaceOrder{
		UserID:          "user-1",
		Items:           []order.OrderItem{{ProductID: "prod-1", Quantity: 1, Price: 10000}},
		ShippingAddress: testAddress,
		PaymentMethod:   "credit_card",
	}
}

type unknownCommand struct{}

func (unknownCommand) CommandType() string { return "Teleport" }
func (unknownCommand) AggregateID() string { return "x" }

// ============================================
// Routing Tests
// ============================================

func TestDispatcher_Dispatch_CreateAssignsID(t *testing.T) {
	d, eventStore := newTestDispatcher(t)
	meta := store.Metadata{CorrelationID: "corr-1", UserID: "user-1"}

	outcome, err := d.Dispatch(context.Background(), placeOrderCommand(), meta)

	require.NoError(t, err)
	assert.NotEmpty(t, outcome.AggregateID)
	assert.Equal(t, order.CmdPlaceOrder, outcome.CommandType)
	assert.Equal(t, order.AggregateType, outcome.AggregateType)
	assert.Equal(t, 1, outcome.Version)
	require.Len(t, outcome.Events, 1)
	assert.Equal(t, order.EventOrderPlaced, outcome.Events[0].EventType)
	assert.False(t, outcome.Failed())

	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, outcome.AggregateID, eventStore.AppendCalls[0].AggregateID)
	assert.Equal(t, meta, eventStore.AppendCalls[0].Metadata)
}

func TestDispatcher_Dispatch_RoutesEveryDomain(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	created, err := d.Dispatch(ctx, product.CreateProduct{Name: "Widget", Price: 500}, store.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, product.AggregateType, created.AggregateType)

	stocked, err := d.Dispatch(ctx, inventory.AddStock{ProductID: created.AggregateID, Quantity: 5}, store.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, inventory.AggregateType, stocked.AggregateType)
	assert.Equal(t, created.AggregateID, stocked.AggregateID)

	assert.Len(t, d.CommandTypes(), len(product.Routes())+len(inventory.Routes())+len(order.Routes())+3)
}

func TestDispatcher_Dispatch_UnknownCommand(t *testing.T) {
	d, eventStore := newTestDispatcher(t)

	outcome, err := d.Dispatch(context.Background(), unknownCommand{}, store.Metadata{})

	assert.ErrorIs(t, err, apperr.ErrUnknownCommand)
	assert.Equal(t, apperr.CodeUnknownCommand, apperr.Code(err))
	assert.Nil(t, outcome)
	assert.Empty(t, eventStore.AppendCalls)
}

func TestDispatcher_Dispatch_NilCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), nil, store.Metadata{})

	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDispatcher_Register_Duplicate(t *testing.T) {
	d, eventStore := newTestDispatcher(t)

	err := d.Register(order.NewRepository(eventStore), order.Routes()...)

	assert.ErrorIs(t, err, ErrDuplicateRoute)
}

// ============================================
// Error Taxonomy Tests
// ============================================

func TestDispatcher_Dispatch_ValidationNotRetried(t *testing.T) {
	d, eventStore := newTestDispatcher(t)
	cmd := placeOrderCommand()
	cmd.Items = nil

	_, err := d.Dispatch(context.Background(), cmd, store.Metadata{})

	assert.ErrorIs(t, err, order.ErrEmptyOrder)
	assert.Equal(t, apperr.CodeValidation, apperr.Code(err))
	assert.Empty(t, eventStore.AppendCalls)
}

func TestDispatcher_Dispatch_NotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), order.ProcessPayment{OrderID: "missing", Amount: 100}, store.Metadata{})

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.Equal(t, apperr.CodeNotFound, apperr.Code(err))
}

func TestDispatcher_Dispatch_InfrastructureRetried(t *testing.T) {
	d, eventStore := newTestDispatcher(t)
	eventStore.AppendErrs = []error{apperr.Infrastructure("insert event", errors.New("connection reset"))}

	outcome, err := d.Dispatch(context.Background(), placeOrderCommand(), store.Metadata{})

	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Version)
	assert.Len(t, eventStore.AppendCalls, 2)
}

func TestDispatcher_Dispatch_InfrastructureExhausted(t *testing.T) {
	d, eventStore := newTestDispatcher(t)
	eventStore.AppendErr = apperr.Infrastructure("insert event", errors.New("connection refused"))

	_, err := d.Dispatch(context.Background(), placeOrderCommand(), store.Metadata{})

	assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)
	assert.Equal(t, apperr.CodeUnavailable, apperr.Code(err))
	assert.Len(t, eventStore.AppendCalls, 3)
}

func TestDispatcher_Dispatch_ConflictRetriedByRepositoryOnly(t *testing.T) {
	d, eventStore := newTestDispatcher(t)
	eventStore.AppendErr = &store.ConcurrencyError{AggregateID: "order-1", ExpectedVersion: 0, ActualVersion: 1}
	cmd := placeOrderCommand()
	cmd.OrderID = "order-1"

	_, err := d.Dispatch(context.Background(), cmd, store.Metadata{})

	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
	assert.NotErrorIs(t, err, apperr.ErrServiceUnavailable)
	assert.Len(t, eventStore.AppendCalls, aggregate.DefaultMaxAttempts)
}

// gappedStore hides the first event of every stream it reads.
type gappedStore struct {
	*mocks.MockEventStore
	reads int
}

func (s *gappedStore) GetEvents(ctx context.Context, aggregateID string, afterVersion int) ([]store.Event, error) {
	s.reads++
	events, err := s.MockEventStore.GetEvents(ctx, aggregateID, afterVersion)
	if err != nil || len(events) == 0 {
		return events, err
	}
	return events[1:], nil
}

func TestDispatcher_Dispatch_CorruptStreamNotRetried(t *testing.T) {
	gapped := &gappedStore{MockEventStore: mocks.NewMockEventStore()}
	require.NoError(t, gapped.AddVersionedEvent("order-1", order.AggregateType, order.EventOrderPlaced, 2, order.OrderPlaced{
		OrderID: "order-1", UserID: "user-1", Total: 10000, ShippingAddress: testAddress,
		Items: []order.OrderItem{{ProductID: "prod-1", Quantity: 1, Price: 10000}},
	}))
	require.NoError(t, gapped.AddEvent("order-1", order.AggregateType, order.EventPaymentProcessed, order.PaymentProcessed{OrderID: "order-1", Amount: 10000}))
	d, err := NewDefault(gapped, nil, WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), order.ConfirmOrder{OrderID: "order-1"}, store.Metadata{})

	assert.ErrorIs(t, err, aggregate.ErrVersionGap)
	assert.NotErrorIs(t, err, apperr.ErrServiceUnavailable)
	assert.Equal(t, apperr.CodeCorrupt, apperr.Code(err))
	assert.Equal(t, 1, gapped.reads)
	assert.Empty(t, gapped.AppendCalls)
}

func TestDispatcher_Dispatch_ProductAndInventoryKeepSeparateStreams(t *testing.T) {
	d, eventStore := newTestDispatcher(t)
	ctx := context.Background()
	created, err := d.Dispatch(ctx, product.CreateProduct{Name: "Mug", Price: 1200, CategoryID: "cat-1"}, store.Metadata{})
	require.NoError(t, err)
	id := created.AggregateID
	for i := 0; i < 12; i++ {
		_, err := d.Dispatch(ctx, product.UpdateProduct{ProductID: id, Name: fmt.Sprintf("Mug %d", i), Price: 1200 + i}, store.Metadata{})
		require.NoError(t, err)
	}

	_, err = d.Dispatch(ctx, inventory.AddStock{ProductID: id, Quantity: 4}, store.Metadata{})
	require.NoError(t, err)
	reserved, err := d.Dispatch(ctx, inventory.ReserveInventory{ProductID: id, OrderID: "order-1", Quantity: 3}, store.Metadata{})
	require.NoError(t, err)

	assert.Equal(t, 2, reserved.Version)
	assert.Len(t, eventStore.Events(id), 13)
	assert.Len(t, eventStore.Events(inventory.StreamID(id)), 2)
	for _, e := range eventStore.Events(id) {
		assert.Equal(t, product.AggregateType, e.AggregateType)
	}
}

// ============================================
// Compensation Dispatch Tests
// ============================================

func TestDispatcher_DispatchCompensation_FailureIsReported(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d, _ := newTestDispatcher(t, WithLogger(zap.New(core)))

	outcome := d.DispatchCompensation(context.Background(), order.CancelOrder{OrderID: "missing", Reason: "x"}, store.Metadata{CorrelationID: "saga-1"})

	require.NotNil(t, outcome)
	assert.True(t, outcome.Failed())
	assert.ErrorIs(t, outcome.Err, order.ErrOrderNotFound)
	assert.Equal(t, order.CmdCancelOrder, outcome.CommandType)
	assert.Equal(t, "missing", outcome.AggregateID)
	assert.Equal(t, order.AggregateType, outcome.AggregateType)

	entries := logs.FilterMessage("compensation failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "saga-1", entries[0].ContextMap()["correlation_id"])
}

func TestDispatcher_DispatchCompensation_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	outcome := d.DispatchCompensation(context.Background(), unknownCommand{}, store.Metadata{})

	assert.ErrorIs(t, outcome.Err, apperr.ErrUnknownCommand)
	assert.Empty(t, outcome.AggregateType)
}

func TestDispatcher_DispatchCompensation_Success(t *testing.T) {
	d, _ := newTestDispatcher(t)

	outcome := d.DispatchCompensation(context.Background(), inventory.ReleaseInventory{ProductID: "prod-1", OrderID: "order-1"}, store.Metadata{})

	assert.False(t, outcome.Failed())
	require.Len(t, outcome.Events, 1)
	assert.Equal(t, inventory.EventInventoryReleased, outcome.Events[0].EventType)
}

// ============================================
// Envelope Tests
// ============================================

func TestDispatcher_DispatchEnvelope(t *testing.T) {
	d, eventStore := newTestDispatcher(t)
	payload, err := json.Marshal(placeOrderCommand())
	require.NoError(t, err)

	outcome, err := d.DispatchEnvelope(context.Background(), Envelope{
		Type:        order.CmdPlaceOrder,
		AggregateID: "order-42",
		Payload:     payload,
		Metadata:    store.Metadata{CorrelationID: "corr-9"},
	})

	require.NoError(t, err)
	assert.Equal(t, "order-42", outcome.AggregateID)
	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, "corr-9", eventStore.AppendCalls[0].Metadata.CorrelationID)
}

func TestDispatcher_DispatchEnvelope_FromJSON(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := `{"type":"AddStock","aggregate_id":"prod-7","payload":{"quantity":3},"metadata":{"user_id":"admin"}}`

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	outcome, err := d.DispatchEnvelope(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, "prod-7", outcome.AggregateID)
	assert.Equal(t, inventory.AggregateType, outcome.AggregateType)
}

func TestDispatcher_Decode_Errors(t *testing.T) {
	d, _ := newTestDispatcher(t)

	tests := []struct {
		name    string
		env     Envelope
		wantErr error
	}{
		{"unknown type", Envelope{Type: "Teleport"}, apperr.ErrUnknownCommand},
		{"malformed payload", Envelope{Type: order.CmdPlaceOrder, Payload: json.RawMessage(`{"items": 3}`)}, apperr.ErrValidation},
		{"mismatched id", Envelope{Type: order.CmdCancelOrder, AggregateID: "order-1", Payload: json.RawMessage(`{"order_id":"order-2"}`)}, apperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(tt.env)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDispatcher_Decode_KeepsMatchingID(t *testing.T) {
	d, _ := newTestDispatcher(t)

	cmd, err := d.Decode(Envelope{Type: order.CmdCancelOrder, AggregateID: "order-1", Payload: json.RawMessage(`{"order_id":"order-1","reason":"r"}`)})

	require.NoError(t, err)
	assert.Equal(t, order.CancelOrder{OrderID: "order-1", Reason: "r"}, cmd)
}

func TestDispatcher_Decode_NoIDForExistingAggregate(t *testing.T) {
	d, _ := newTestDispatcher(t)

	cmd, err := d.Decode(Envelope{Type: order.CmdCancelOrder, Payload: json.RawMessage(`{"reason":"r"}`)})

	require.NoError(t, err)
	assert.Empty(t, cmd.AggregateID())
}
