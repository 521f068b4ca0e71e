package inventory

import (
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

// StreamPrefix keeps inventory streams apart from the product streams that
// share their id.
const StreamPrefix = "inventory-"

// StreamID returns the event stream holding the inventory of a product.
func StreamID(productID string) string { return StreamPrefix + productID }

func NewRepository(es store.EventStoreInterface, opts ...aggregate.RepositoryOption) *aggregate.Repository[*Inventory] {
	opts = append([]aggregate.RepositoryOption{
		aggregate.WithNotFoundError(ErrInventoryNotFound),
		aggregate.WithStreamPrefix(StreamPrefix),
	}, opts...)
	return aggregate.NewRepository(es, AggregateType, New, opts...)
}
