package command

import (
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/domain/category"
	"github.com/example/ec-event-sourcing/internal/domain/inventory"
	"github.com/example/ec-event-sourcing/internal/domain/order"
	"github.com/example/ec-event-sourcing/internal/domain/product"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

// RegisterDomains registers the category, product, inventory and order
// repositories. opts apply to every repository.
func RegisterDomains(d *Dispatcher, es store.EventStoreInterface, opts ...aggregate.RepositoryOption) error {
	domains := []struct {
		handler aggregate.Handler
		routes  []aggregate.Route
	}{
		{category.NewRepository(es, opts...), category.Routes()},
		{product.NewRepository(es, opts...), product.Routes()},
		{inventory.NewRepository(es, opts...), inventory.Routes()},
		{order.NewRepository(es, opts...), order.Routes()},
	}
	for _, domain := range domains {
		if err := d.Register(domain.handler, domain.routes...); err != nil {
			return err
		}
	}
	return nil
}

// NewDefault builds a dispatcher for every domain backed by es.
func NewDefault(es store.EventStoreInterface, repoOpts []aggregate.RepositoryOption, opts ...Option) (*Dispatcher, error) {
	d := NewDispatcher(opts...)
	if err := RegisterDomains(d, es, repoOpts...); err != nil {
		return nil, err
	}
	return d, nil
}
