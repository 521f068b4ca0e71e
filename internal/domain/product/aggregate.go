package product

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

const AggregateType = "Product"

var (
	ErrProductNotFound = fmt.Errorf("%w: product not found", apperr.ErrNotFound)
	ErrInvalidPrice    = fmt.Errorf("%w: price must be positive", apperr.ErrValidation)
	ErrInvalidName     = fmt.Errorf("%w: name is required", apperr.ErrValidation)
	ErrNoCategory      = fmt.Errorf("%w: product has no category", apperr.ErrValidation)
	ErrEmptyCategoryID = fmt.Errorf("%w: category id is required", apperr.ErrValidation)
)

type Product struct {
	ID string `json:"id"`
	Listing
	CategoryID string    `json:"category_id,omitempty"`
	IsDeleted  bool      `json:"is_deleted,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Version    int       `json:"version"`
}

func New() *Product { return &Product{} }

func (p *Product) GetID() string { return p.ID }
func (p *Product) GetVersion() int { return p.Version }
func (p *Product) SetVersion(v int) { p.Version = v }
func (p *Product) Exists() bool { return p.ID != "" }
func (p *Product) IsTerminal() bool { return p.IsDeleted }

// ApplyEvent folds one event into the product state
func (p *Product) ApplyEvent(event store.Event) {
	switch event.EventType {
	case EventProductCreated:
		var data ProductCreated
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		p.ID = data.ProductID
		p.Listing = data.Listing
		p.CategoryID = data.CategoryID
		p.CreatedAt = data.CreatedAt
		p.UpdatedAt = data.CreatedAt
	case EventProductUpdated:
		var data ProductUpdated
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		p.Listing = data.Listing
		p.UpdatedAt = data.UpdatedAt
	case EventProductCategoryAssigned:
		var data ProductCategoryAssigned
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		p.CategoryID = data.CategoryID
		p.UpdatedAt = data.AssignedAt
	case EventProductCategoryRemoved:
		var data ProductCategoryRemoved
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		p.CategoryID = ""
		p.UpdatedAt = data.RemovedAt
	case EventProductDeleted:
		var data ProductDeleted
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		p.IsDeleted = true
		p.UpdatedAt = data.DeletedAt
	}
}

// Execute decides the events for a command without changing state
func (p *Product) Execute(cmd aggregate.Command) ([]aggregate.Change, error) {
	now := time.Now()
	switch cmd := cmd.(type) {
	case CreateProduct:
		listing := Listing{Name: cmd.Name, Description: cmd.Description, Price: cmd.Price}
		if err := listing.validate(); err != nil {
			return nil, err
		}
		return []aggregate.Change{aggregate.NewChange(EventProductCreated, ProductCreated{
			ProductID:  cmd.ProductID,
			Listing:    listing,
			CategoryID: cmd.CategoryID,
			CreatedAt:  now,
		})}, nil

	case UpdateProduct:
		listing := Listing{Name: cmd.Name, Description: cmd.Description, Price: cmd.Price}
		if err := listing.validate(); err != nil {
			return nil, err
		}
		return []aggregate.Change{aggregate.NewChange(EventProductUpdated, ProductUpdated{
			ProductID: p.ID,
			Listing:   listing,
			UpdatedAt: now,
		})}, nil

	case AssignCategory:
		if cmd.CategoryID == "" {
			return nil, ErrEmptyCategoryID
		}
		if cmd.CategoryID == p.CategoryID {
			return nil, nil
		}
		return []aggregate.Change{aggregate.NewChange(EventProductCategoryAssigned, ProductCategoryAssigned{
			ProductID:          p.ID,
			CategoryID:         cmd.CategoryID,
			PreviousCategoryID: p.CategoryID,
			AssignedAt:         now,
		})}, nil

	case RemoveCategory:
		if p.CategoryID == "" {
			return nil, ErrNoCategory
		}
		return []aggregate.Change{aggregate.NewChange(EventProductCategoryRemoved, ProductCategoryRemoved{
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			RemovedAt:  now,
		})}, nil

	case DeleteProduct:
		return []aggregate.Change{aggregate.NewChange(EventProductDeleted, ProductDeleted{
			ProductID: p.ID,
			DeletedAt: now,
		})}, nil
	}
	return nil, fmt.Errorf("%w: %s", aggregate.ErrUnsupportedType, cmd.CommandType())
}

func (l Listing) validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return ErrInvalidName
	}
	if l.Price <= 0 {
		return ErrInvalidPrice
	}
	return nil
}
