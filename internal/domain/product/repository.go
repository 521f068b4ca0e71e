package product

import (
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

func NewRepository(es store.EventStoreInterface, opts ...aggregate.RepositoryOption) *aggregate.Repository[*Product] {
	opts = append([]aggregate.RepositoryOption{aggregate.WithNotFoundError(ErrProductNotFound)}, opts...)
	return aggregate.NewRepository(es, AggregateType, New, opts...)
}
