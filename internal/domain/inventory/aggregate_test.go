package inventory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inventoryHarness struct {
	repo   *aggregate.Repository[*Inventory]
	events *mocks.MockEventStore
}

func newInventoryHarness() *inventoryHarness {
	eventStore := mocks.NewMockEventStore()
	return &inventoryHarness{repo: NewRepository(eventStore), events: eventStore}
}

// send runs cmd with the policy its route declares
func (h *inventoryHarness) send(cmd aggregate.Command) (aggregate.Result, error) {
	for _, r := range Routes() {
		if r.CommandType == cmd.CommandType() {
			return h.repo.Handle(context.Background(), cmd, r.Policy, store.Metadata{})
		}
	}
	return aggregate.Result{}, aggregate.ErrUnsupportedType
}

func (h *inventoryHarness) mustSend(t *testing.T, cmd aggregate.Command) aggregate.Result {
	t.Helper()
	result, err := h.send(cmd)
	require.NoError(t, err, cmd.CommandType())
	return result
}

func (h *inventoryHarness) get(t *testing.T, productID string) *Inventory {
	t.Helper()
	inv, found, err := h.repo.Load(context.Background(), productID)
	require.NoError(t, err)
	require.True(t, found, "inventory %s has no events", productID)
	return inv
}

func (h *inventoryHarness) seed(t *testing.T, productID string, eventType string, data any) {
	t.Helper()
	require.NoError(t, h.events.AddEvent(StreamID(productID), AggregateType, eventType, data))
}

// ============================================
// Inventory Struct Tests
// ============================================

func TestInventory_AvailableStock(t *testing.T) {
	tests := []struct {
		name          string
		totalStock    int
		reservedStock int
		expectedAvail int
	}{
		{"no reservations", 100, 0, 100},
		{"some reserved", 100, 30, 70},
		{"all reserved", 50, 50, 0},
		{"zero stock", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := Inventory{
				ProductID:     "prod-1",
				TotalStock:    tt.totalStock,
				ReservedStock: tt.reservedStock,
			}

			assert.Equal(t, tt.expectedAvail, inv.AvailableStock())
		})
	}
}

// ============================================
// Add Stock Tests
// ============================================

func TestAddStock_ValidQuantity(t *testing.T) {
	h := newInventoryHarness()

	result := h.mustSend(t, AddStock{ProductID: "prod-123", Quantity: 100})

	assert.Equal(t, "prod-123", result.AggregateID)
	require.Len(t, h.events.AppendCalls, 1)
	assert.Equal(t, []string{EventStockAdded}, h.events.AppendCalls[0].EventTypes())
	assert.Equal(t, "inventory-prod-123", h.events.AppendCalls[0].AggregateID)
	assert.Equal(t, 100, h.get(t, "prod-123").TotalStock)
}

func TestInventory_InvalidQuantity(t *testing.T) {
	cmds := map[string]func(q int) aggregate.Command{
		"add":     func(q int) aggregate.Command { return AddStock{ProductID: "prod-123", Quantity: q} },
		"reserve": func(q int) aggregate.Command { return ReserveInventory{ProductID: "prod-123", OrderID: "order-1", Quantity: q} },
		"deduct":  func(q int) aggregate.Command { return DeductStock{ProductID: "prod-123", OrderID: "order-1", Quantity: q} },
	}

	for name, build := range cmds {
		for _, q := range []int{0, -5} {
			t.Run(name, func(t *testing.T) {
				h := newInventoryHarness()
				h.seed(t, "prod-123", EventStockAdded, StockAdded{ProductID: "prod-123", Quantity: 10})

				_, err := h.send(build(q))

				assert.ErrorIs(t, err, ErrInvalidQuantity)
				assert.Empty(t, h.events.AppendCalls)
			})
		}
	}
}

// ============================================
// Reservation Tests
// ============================================

func TestReserveInventory_ValidQuantity(t *testing.T) {
	h := newInventoryHarness()
	h.mustSend(t, AddStock{ProductID: "prod-123", Quantity: 100})

	result := h.mustSend(t, ReserveInventory{ProductID: "prod-123", OrderID: "order-456", Quantity: 10})

	require.Len(t, result.Events, 1)
	assert.Equal(t, EventInventoryReserved, result.Events[0].EventType)
	data := h.events.AppendCalls[1].Events[0].Data.(InventoryReserved)
	assert.Equal(t, "order-456", data.OrderID)
	assert.Equal(t, 10, data.Quantity)

	inv := h.get(t, "prod-123")
	assert.Equal(t, 90, inv.AvailableStock())
	assert.Equal(t, 10, inv.ReservedFor("order-456"))
}

func TestReserveInventory_InsufficientStockIsRecorded(t *testing.T) {
	h := newInventoryHarness()
	h.mustSend(t, AddStock{ProductID: "prod-123", Quantity: 5})

	result := h.mustSend(t, ReserveInventory{ProductID: "prod-123", OrderID: "order-456", Quantity: 10})

	require.Len(t, h.events.AppendCalls, 2)
	assert.Equal(t, []string{EventInventoryReservationFailed}, h.events.AppendCalls[1].EventTypes())
	data := h.events.AppendCalls[1].Events[0].Data.(InventoryReservationFailed)
	assert.Equal(t, 10, data.Requested)
	assert.Equal(t, 5, data.Available)
	assert.Equal(t, ErrInsufficientStock.Error(), data.Reason)
	assert.Equal(t, 2, result.Version)

	assert.Equal(t, 5, h.get(t, "prod-123").AvailableStock())
}

func TestReserveInventory_NeverStockedProductFails(t *testing.T) {
	h := newInventoryHarness()

	h.mustSend(t, ReserveInventory{ProductID: "prod-unknown", OrderID: "order-1", Quantity: 1})

	assert.Equal(t, []string{EventInventoryReservationFailed}, h.events.AppendCalls[0].EventTypes())
}

func TestReserveInventory_SameOrderTwiceIsNoop(t *testing.T) {
	h := newInventoryHarness()
	h.mustSend(t, AddStock{ProductID: "prod-123", Quantity: 100})
	h.mustSend(t, ReserveInventory{ProductID: "prod-123", OrderID: "order-1", Quantity: 10})

	result := h.mustSend(t, ReserveInventory{ProductID: "prod-123", OrderID: "order-1", Quantity: 10})

	assert.Empty(t, result.Events)
	assert.Len(t, h.events.AppendCalls, 2)
	assert.Equal(t, 10, h.get(t, "prod-123").ReservedStock)
}

func TestReleaseInventory_ReturnsReservation(t *testing.T) {
	h := newInventoryHarness()
	h.mustSend(t, AddStock{ProductID: "prod-123", Quantity: 100})
	h.mustSend(t, ReserveInventory{ProductID: "prod-123", OrderID: "order-1", Quantity: 10})
	h.mustSend(t, ReserveInventory{ProductID: "prod-123", OrderID: "order-2", Quantity: 20})

	h.mustSend(t, ReleaseInventory{ProductID: "prod-123", OrderID: "order-1"})

	inv := h.get(t, "prod-123")
	assert.Equal(t, 0, inv.ReservedFor("order-1"))
	assert.Equal(t, 20, inv.ReservedFor("order-2"))
	assert.Equal(t, 80, inv.AvailableStock())
	assert.Equal(t, 10, h.events.AppendCalls[3].Events[0].Data.(InventoryReleased).Quantity)
}

func TestReleaseInventory_WithoutReservationStillAcknowledges(t *testing.T) {
	h := newInventoryHarness()
	h.mustSend(t, AddStock{ProductID: "prod-123", Quantity: 100})

	h.mustSend(t, ReleaseInventory{ProductID: "prod-123", OrderID: "order-1"})

	require.Len(t, h.events.AppendCalls, 2)
	data := h.events.AppendCalls[1].Events[0].Data.(InventoryReleased)
	assert.Equal(t, 0, data.Quantity)
	assert.Equal(t, 100, h.get(t, "prod-123").AvailableStock())
}

func TestReleaseInventory_EmptyOrderID(t *testing.T) {
	h := newInventoryHarness()

	_, err := h.send(ReleaseInventory{ProductID: "prod-123", Quantity: 1})

	assert.ErrorIs(t, err, ErrEmptyOrderID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeductStock_NotFound(t *testing.T) {
	h := newInventoryHarness()

	_, err := h.send(DeductStock{ProductID: "prod-123", OrderID: "order-1", Quantity: 1})

	assert.ErrorIs(t, err, ErrInventoryNotFound)
}

func TestInventoryOperations_Sequence(t *testing.T) {
	h := newInventoryHarness()
	productID := "prod-123"
	orderID := "order-456"

	// 1. Add initial stock
	h.mustSend(t, AddStock{ProductID: productID, Quantity: 100})
	// 2. Reserve some stock
	h.mustSend(t, ReserveInventory{ProductID: productID, OrderID: orderID, Quantity: 20})
	// 3. Release some reserved stock
	h.mustSend(t, ReleaseInventory{ProductID: productID, OrderID: orderID, Quantity: 5})
	// 4. Deduct the rest of the reservation from stock
	h.mustSend(t, DeductStock{ProductID: productID, OrderID: orderID, Quantity: 15})

	// Verify all events were recorded
	require.Len(t, h.events.AppendCalls, 4)
	assert.Equal(t, []string{EventStockAdded}, h.events.AppendCalls[0].EventTypes())
	assert.Equal(t, []string{EventInventoryReserved}, h.events.AppendCalls[1].EventTypes())
	assert.Equal(t, []string{EventInventoryReleased}, h.events.AppendCalls[2].EventTypes())
	assert.Equal(t, []string{EventStockDeducted}, h.events.AppendCalls[3].EventTypes())

	inv := h.get(t, productID)
	assert.Equal(t, 85, inv.TotalStock)
	assert.Equal(t, 0, inv.ReservedStock)
	assert.Empty(t, inv.Reservations)
	assert.Equal(t, 4, inv.Version)
}

func TestDeductStock_Unreserved(t *testing.T) {
	h := newInventoryHarness()
	h.mustSend(t, AddStock{ProductID: "prod-123", Quantity: 10})
	h.mustSend(t, ReserveInventory{ProductID: "prod-123", OrderID: "order-1", Quantity: 8})

	_, err := h.send(DeductStock{ProductID: "prod-123", OrderID: "order-2", Quantity: 5})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	h.mustSend(t, DeductStock{ProductID: "prod-123", OrderID: "order-2", Quantity: 2})
}

// ============================================
// Snapshot Tests
// ============================================

func TestInventoryRepository_SnapshotCreatedAtThreshold(t *testing.T) {
	h := newInventoryHarness()
	productID := "prod-snapshot"

	// Add stock 9 times
	for i := 1; i <= 9; i++ {
		h.mustSend(t, AddStock{ProductID: productID, Quantity: 10})
	}
	assert.Empty(t, h.events.SaveSnapshotCalls)

	// The 10th event should trigger a snapshot
	h.mustSend(t, AddStock{ProductID: productID, Quantity: 10})

	require.Len(t, h.events.SaveSnapshotCalls, 1)
	snapshot := h.events.SaveSnapshotCalls[0]
	assert.Equal(t, StreamID(productID), snapshot.AggregateID)
	assert.Equal(t, AggregateType, snapshot.AggregateType)
	assert.Equal(t, 10, snapshot.Version)

	var savedState Inventory
	require.NoError(t, json.Unmarshal(snapshot.State, &savedState))
	assert.Equal(t, productID, savedState.ProductID)
	assert.Equal(t, 100, savedState.TotalStock)
	assert.Equal(t, 0, savedState.ReservedStock)
}

func TestInventoryRepository_LoadFromSnapshotWithSubsequentEvents(t *testing.T) {
	h := newInventoryHarness()
	productID := "prod-snapshot-with-events"
	for i := 0; i < 5; i++ {
		h.seed(t, productID, EventStockAdded, StockAdded{ProductID: productID, Quantity: 20})
	}
	h.seed(t, productID, EventInventoryReserved, InventoryReserved{ProductID: productID, OrderID: "order-1", Quantity: 30})

	// snapshot at version 5 claims more stock than the events to show it is used
	stateJSON, err := json.Marshal(Inventory{ProductID: productID, TotalStock: 500, Version: 5})
	require.NoError(t, err)
	h.events.SetSnapshot(store.Snapshot{AggregateID: StreamID(productID), AggregateType: AggregateType, Version: 5, State: stateJSON})

	inv := h.get(t, productID)
	assert.Equal(t, 500, inv.TotalStock)
	assert.Equal(t, 30, inv.ReservedFor("order-1"))
	assert.Equal(t, 6, inv.Version)

	h.mustSend(t, ReserveInventory{ProductID: productID, OrderID: "order-2", Quantity: 200})
	assert.Equal(t, 6, h.events.AppendCalls[0].ExpectedVersion)
}

func TestInventoryRepository_IgnoresStreamOfSameIDProduct(t *testing.T) {
	h := newInventoryHarness()
	// a product stream under the bare id, snapshotted past the threshold
	for i := 0; i < 10; i++ {
		require.NoError(t, h.events.AddEvent("prod-1", "Product", "ProductUpdated", map[string]any{"product_id": "prod-1"}))
	}
	h.events.SetSnapshot(store.Snapshot{AggregateID: "prod-1", AggregateType: "Product", Version: 10, State: json.RawMessage(`{"id":"prod-1","version":10}`)})
	h.mustSend(t, AddStock{ProductID: "prod-1", Quantity: 5})

	result := h.mustSend(t, ReserveInventory{ProductID: "prod-1", OrderID: "order-1", Quantity: 1})

	require.Len(t, result.Events, 1)
	assert.Equal(t, EventInventoryReserved, result.Events[0].EventType)
	inv := h.get(t, "prod-1")
	assert.Equal(t, 5, inv.TotalStock)
	assert.Equal(t, 2, inv.Version)
	assert.Len(t, h.events.Events("prod-1"), 10)
}
