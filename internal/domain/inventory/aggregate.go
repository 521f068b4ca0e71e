package inventory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

const AggregateType = "Inventory"

var (
	ErrInventoryNotFound = fmt.Errorf("%w: inventory not found", apperr.ErrNotFound)
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", apperr.ErrValidation)
	ErrInvalidQuantity   = fmt.Errorf("%w: quantity must be positive", apperr.ErrValidation)
	ErrEmptyOrderID      = fmt.Errorf("%w: order id is required", apperr.ErrValidation)
)

// Inventory tracks stock for one product, keyed by product id.
type Inventory struct {
	ProductID     string         `json:"product_id"`
	TotalStock    int            `json:"total_stock"`
	ReservedStock int            `json:"reserved_stock"`
	Reservations  map[string]int `json:"reservations,omitempty"` // orderID -> quantity
	Version       int            `json:"version"`
}

func New() *Inventory { return &Inventory{} }

func (i *Inventory) AvailableStock() int {
	return i.TotalStock - i.ReservedStock
}

// ReservedFor returns the quantity currently held for an order
func (i *Inventory) ReservedFor(orderID string) int {
	return i.Reservations[orderID]
}

func (i *Inventory) GetID() string { return i.ProductID }
func (i *Inventory) GetVersion() int { return i.Version }
func (i *Inventory) SetVersion(v int) { i.Version = v }
func (i *Inventory) Exists() bool { return i.ProductID != "" }
func (i *Inventory) IsTerminal() bool { return false }

// ApplyEvent applies a single event to the inventory state
func (i *Inventory) ApplyEvent(event store.Event) {
	switch event.EventType {
	case EventStockAdded:
		var data StockAdded
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		i.ProductID = data.ProductID
		i.TotalStock += data.Quantity
	case EventInventoryReserved:
		var data InventoryReserved
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		i.ProductID = data.ProductID
		if i.Reservations == nil {
			i.Reservations = make(map[string]int)
		}
		i.Reservations[data.OrderID] += data.Quantity
		i.ReservedStock += data.Quantity
	case EventInventoryReleased:
		var data InventoryReleased
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		i.release(data.OrderID, data.Quantity)
	case EventStockDeducted:
		var data StockDeducted
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		held := min(data.Quantity, i.Reservations[data.OrderID])
		i.release(data.OrderID, held)
		i.TotalStock -= data.Quantity
		if i.TotalStock < 0 {
			i.TotalStock = 0
		}
	}
}

func (i *Inventory) release(orderID string, quantity int) {
	if quantity <= 0 {
		return
	}
	left := i.Reservations[orderID] - quantity
	if left > 0 {
		i.Reservations[orderID] = left
	} else {
		delete(i.Reservations, orderID)
	}
	i.ReservedStock -= quantity
	if i.ReservedStock < 0 {
		i.ReservedStock = 0
	}
}

// Execute decides the events for a command without changing state
func (i *Inventory) Execute(cmd aggregate.Command) ([]aggregate.Change, error) {
	now := time.Now()
	switch cmd := cmd.(type) {
	case AddStock:
		if cmd.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		return []aggregate.Change{aggregate.NewChange(EventStockAdded, StockAdded{
			ProductID: cmd.ProductID,
			Quantity:  cmd.Quantity,
			AddedAt:   now,
		})}, nil

	case ReserveInventory:
		if cmd.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if cmd.OrderID == "" {
			return nil, ErrEmptyOrderID
		}
		if i.ReservedFor(cmd.OrderID) > 0 {
			// already holding stock for this order
			return nil, nil
		}
		if available := i.AvailableStock(); available < cmd.Quantity {
			return []aggregate.Change{aggregate.NewChange(EventInventoryReservationFailed, InventoryReservationFailed{
				ProductID: cmd.ProductID,
				OrderID:   cmd.OrderID,
				Requested: cmd.Quantity,
				Available: available,
				Reason:    ErrInsufficientStock.Error(),
				FailedAt:  now,
			})}, nil
		}
		return []aggregate.Change{aggregate.NewChange(EventInventoryReserved, InventoryReserved{
			ProductID:  cmd.ProductID,
			OrderID:    cmd.OrderID,
			Quantity:   cmd.Quantity,
			ReservedAt: now,
		})}, nil

	case ReleaseInventory:
		if cmd.OrderID == "" {
			return nil, ErrEmptyOrderID
		}
		held := i.ReservedFor(cmd.OrderID)
		quantity := held
		if cmd.Quantity > 0 && cmd.Quantity < held {
			quantity = cmd.Quantity
		}
		return []aggregate.Change{aggregate.NewChange(EventInventoryReleased, InventoryReleased{
			ProductID:  cmd.ProductID,
			OrderID:    cmd.OrderID,
			Quantity:   quantity,
			ReleasedAt: now,
		})}, nil

	case DeductStock:
		if cmd.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		held := min(cmd.Quantity, i.ReservedFor(cmd.OrderID))
		if i.AvailableStock()+held < cmd.Quantity {
			return nil, ErrInsufficientStock
		}
		return []aggregate.Change{aggregate.NewChange(EventStockDeducted, StockDeducted{
			ProductID:  cmd.ProductID,
			OrderID:    cmd.OrderID,
			Quantity:   cmd.Quantity,
			DeductedAt: now,
		})}, nil
	}
	return nil, fmt.Errorf("%w: %s", aggregate.ErrUnsupportedType, cmd.CommandType())
}
