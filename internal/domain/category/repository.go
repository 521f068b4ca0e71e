package category

import (
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

// NewRepository builds the category repository
func NewRepository(es store.EventStoreInterface, opts ...aggregate.RepositoryOption) *aggregate.Repository[*Category] {
	opts = append([]aggregate.RepositoryOption{aggregate.WithNotFoundError(ErrCategoryNotFound)}, opts...)
	return aggregate.NewRepository(es, AggregateType, New, opts...)
}
