package product

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

type productHarness struct {
	repo   *aggregate.Repository[*Product]
	events *mocks.MockEventStore
}

func newProductHarness() *productHarness {
	eventStore := mocks.NewMockEventStore()
	return &productHarness{repo: NewRepository(eventStore), events: eventStore}
}

// send runs cmd with the policy its route declares
func (h *productHarness) send(cmd aggregate.Command) error {
	for _, r := range Routes() {
		if r.CommandType == cmd.CommandType() {
			_, err := h.repo.Handle(context.Background(), cmd, r.Policy, store.Metadata{})
			return err
		}
	}
	return aggregate.ErrUnsupportedType
}

func (h *productHarness) get(t *testing.T, productID string) *Product {
	t.Helper()
	p, found, err := h.repo.Load(context.Background(), productID)
	require.NoError(t, err)
	require.True(t, found, "product %s has no events", productID)
	return p
}

func (h *productHarness) seedProduct(t *testing.T, productID string) {
	t.Helper()
	require.NoError(t, h.events.AddEvent(productID, AggregateType, EventProductCreated, ProductCreated{
		ProductID: productID,
		Listing:   Listing{Name: "Test Product", Price: 1000},
	}))
}

// ============================================
// Create Product Tests
// ============================================

func TestCreateProduct_Valid(t *testing.T) {
	h := newProductHarness()

	err := h.send(CreateProduct{ProductID: "product-1", Name: "Test Product", Description: "A great product", Price: 1000, CategoryID: "cat-1"})

	require.NoError(t, err)
	product := h.get(t, "product-1")
	assert.Equal(t, "product-1", product.ID)
	assert.Equal(t, "Test Product", product.Name)
	assert.Equal(t, "A great product", product.Description)
	assert.Equal(t, 1000, product.Price)
	assert.Equal(t, "cat-1", product.CategoryID)
	assert.False(t, product.IsDeleted)
	assert.Equal(t, 1, product.Version)

	// Verify event was stored
	require.Len(t, h.events.AppendCalls, 1)
	assert.Equal(t, []string{EventProductCreated}, h.events.AppendCalls[0].EventTypes())
	assert.Equal(t, AggregateType, h.events.AppendCalls[0].AggregateType)
	assert.Equal(t, 0, h.events.AppendCalls[0].ExpectedVersion)
}

func TestCreateProduct_EmptyDescription(t *testing.T) {
	h := newProductHarness()

	require.NoError(t, h.send(CreateProduct{ProductID: "product-1", Name: "Test Product", Price: 1000}))

	product := h.get(t, "product-1")
	assert.Equal(t, "", product.Description)
	assert.Empty(t, product.CategoryID)
}

func TestCreateProduct_Validation(t *testing.T) {
	tests := []struct {
		name        string
		productName string
		price       int
		wantErr     error
	}{
		{"empty name", "", 1000, ErrInvalidName},
		{"blank name", "   ", 1000, ErrInvalidName},
		{"zero price", "Test Product", 0, ErrInvalidPrice},
		{"negative price", "Test Product", -100, ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newProductHarness()

			err := h.send(CreateProduct{ProductID: "product-1", Name: tt.productName, Description: "Description", Price: tt.price})

			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Empty(t, h.events.AppendCalls)
		})
	}
}

// ============================================
// Update Product Tests
// ============================================

func TestUpdateProduct_Success(t *testing.T) {
	h := newProductHarness()
	h.seedProduct(t, "product-123")

	err := h.send(UpdateProduct{ProductID: "product-123", Name: "Updated Name", Description: "Updated description", Price: 2000})

	require.NoError(t, err)
	require.Len(t, h.events.AppendCalls, 1)
	assert.Equal(t, 1, h.events.AppendCalls[0].ExpectedVersion)
	data := h.events.AppendCalls[0].Events[0].Data.(ProductUpdated)
	assert.Equal(t, "product-123", data.ProductID)
	assert.Equal(t, 2000, data.Price)

	product := h.get(t, "product-123")
	assert.Equal(t, "Updated Name", product.Name)
	assert.Equal(t, 2, product.Version)
}

func TestUpdateProduct_NotFound(t *testing.T) {
	h := newProductHarness()

	err := h.send(UpdateProduct{ProductID: "non-existent", Name: "Name", Description: "Description", Price: 1000})

	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateProduct_InvalidPrice(t *testing.T) {
	h := newProductHarness()
	h.seedProduct(t, "product-123")

	err := h.send(UpdateProduct{ProductID: "product-123", Name: "Name", Description: "Description"})

	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Empty(t, h.events.AppendCalls)
}

// ============================================
// Category Assignment Tests
// ============================================

func TestAssignCategory(t *testing.T) {
	h := newProductHarness()
	h.seedProduct(t, "product-123")

	require.NoError(t, h.send(AssignCategory{ProductID: "product-123", CategoryID: "cat-9"}))

	assert.Equal(t, "cat-9", h.get(t, "product-123").CategoryID)

	// assigning the same category again is a no-op
	require.NoError(t, h.send(AssignCategory{ProductID: "product-123", CategoryID: "cat-9"}))
	assert.Len(t, h.events.AppendCalls, 1)
}

func TestAssignCategory_RecordsPreviousCategory(t *testing.T) {
	h := newProductHarness()
	h.seedProduct(t, "product-123")

	require.NoError(t, h.send(AssignCategory{ProductID: "product-123", CategoryID: "cat-1"}))
	require.NoError(t, h.send(AssignCategory{ProductID: "product-123", CategoryID: "cat-2"}))

	first := h.events.AppendCalls[0].Events[0].Data.(ProductCategoryAssigned)
	moved := h.events.AppendCalls[1].Events[0].Data.(ProductCategoryAssigned)
	assert.Empty(t, first.PreviousCategoryID)
	assert.Equal(t, "cat-1", moved.PreviousCategoryID)
	assert.Equal(t, "cat-2", h.get(t, "product-123").CategoryID)
}

func TestAssignCategory_EmptyID(t *testing.T) {
	h := newProductHarness()
	h.seedProduct(t, "product-123")

	err := h.send(AssignCategory{ProductID: "product-123"})

	assert.ErrorIs(t, err, ErrEmptyCategoryID)
}

func TestRemoveCategory(t *testing.T) {
	h := newProductHarness()
	h.seedProduct(t, "product-123")

	assert.ErrorIs(t, h.send(RemoveCategory{ProductID: "product-123"}), ErrNoCategory)

	require.NoError(t, h.send(AssignCategory{ProductID: "product-123", CategoryID: "cat-9"}))
	require.NoError(t, h.send(RemoveCategory{ProductID: "product-123"}))

	data := h.events.AppendCalls[1].Events[0].Data.(ProductCategoryRemoved)
	assert.Equal(t, "cat-9", data.CategoryID)
	assert.Empty(t, h.get(t, "product-123").CategoryID)
}

// ============================================
// Delete Product Tests
// ============================================

func TestDeleteProduct_Success(t *testing.T) {
	h := newProductHarness()
	h.seedProduct(t, "product-123")

	require.NoError(t, h.send(DeleteProduct{ProductID: "product-123"}))

	assert.Equal(t, []string{EventProductDeleted}, h.events.AppendCalls[0].EventTypes())
	product := h.get(t, "product-123")
	assert.True(t, product.IsDeleted)
	assert.True(t, product.IsTerminal())
}

func TestDeleteProduct_NotFound(t *testing.T) {
	h := newProductHarness()

	err := h.send(DeleteProduct{ProductID: "non-existent"})

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestDeletedProductRejectsCommands(t *testing.T) {
	h := newProductHarness()
	h.seedProduct(t, "product-123")
	require.NoError(t, h.send(DeleteProduct{ProductID: "product-123"}))

	assert.ErrorIs(t, h.send(UpdateProduct{ProductID: "product-123", Name: "Name", Price: 100}), aggregate.ErrTerminal)
	assert.ErrorIs(t, h.send(DeleteProduct{ProductID: "product-123"}), aggregate.ErrTerminal)
	assert.Len(t, h.events.AppendCalls, 1)
}

// ============================================
// Aggregate Tests
// ============================================

func TestProduct_ApplyEvent_IgnoresUnknownEvents(t *testing.T) {
	p := &Product{ID: "p-1", Listing: Listing{Name: "Pen", Price: 100}}
	before := *p

	p.ApplyEvent(store.Event{EventType: "ProductImageUpdated", Data: []byte(`{"image_url":"x"}`)})

	assert.Equal(t, before, *p)
}

func TestProductRepository_Load_ReadsFlatListingPayload(t *testing.T) {
	h := newProductHarness()
	require.NoError(t, h.events.AddEvent("p-1", AggregateType, EventProductCreated,
		json.RawMessage(`{"product_id":"p-1","name":"Pen","description":"Blue ink","price":120,"category_id":"cat-3"}`)))

	p := h.get(t, "p-1")

	assert.Equal(t, Listing{Name: "Pen", Description: "Blue ink", Price: 120}, p.Listing)
	assert.Equal(t, "cat-3", p.CategoryID)
}

func TestRoutes(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range Routes() {
		seen[r.CommandType] = true
		cmd, err := r.Decode([]byte(`{"product_id":"p-1"}`))
		require.NoError(t, err)
		assert.Equal(t, r.CommandType, cmd.CommandType())
		assert.Equal(t, "p-1", cmd.AggregateID())
	}
	assert.Len(t, seen, 5)
}
