package order

import (
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

// NewRepository builds the order repository with the OrderPlaced upcasters registered
func NewRepository(es store.EventStoreInterface, opts ...aggregate.RepositoryOption) *aggregate.Repository[*Order] {
	opts = append([]aggregate.RepositoryOption{
		aggregate.WithNotFoundError(ErrOrderNotFound),
		aggregate.WithUpcasters(Upcasters()),
	}, opts...)
	return aggregate.NewRepository(es, AggregateType, New, opts...)
}
