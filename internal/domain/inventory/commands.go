package inventory

import "github.com/example/ec-event-sourcing/internal/domain/aggregate"

const (
	CmdAddStock         = "AddStock"
	CmdReserveInventory = "ReserveInventory"
	CmdReleaseInventory = "ReleaseInventory"
	CmdDeductStock      = "DeductStock"
)

type AddStock struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ReserveInventory struct {
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Quantity  int    `json:"quantity"`
}

// ReleaseInventory returns an order's reservation to stock. A zero Quantity
// releases everything held for the order.
type ReleaseInventory struct {
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

type DeductStock struct {
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Quantity  int    `json:"quantity"`
}

func (c AddStock) CommandType() string { return CmdAddStock }
func (c AddStock) AggregateID() string { return c.ProductID }
func (c AddStock) WithAggregateID(id string) aggregate.Command {
	c.ProductID = id
	return c
}

func (c ReserveInventory) CommandType() string { return CmdReserveInventory }
func (c ReserveInventory) AggregateID() string { return c.ProductID }
func (c ReserveInventory) WithAggregateID(id string) aggregate.Command {
	c.ProductID = id
	return c
}

func (c ReleaseInventory) CommandType() string { return CmdReleaseInventory }
func (c ReleaseInventory) AggregateID() string { return c.ProductID }
func (c ReleaseInventory) WithAggregateID(id string) aggregate.Command {
	c.ProductID = id
	return c
}

func (c DeductStock) CommandType() string { return CmdDeductStock }
func (c DeductStock) AggregateID() string { return c.ProductID }
func (c DeductStock) WithAggregateID(id string) aggregate.Command {
	c.ProductID = id
	return c
}

// Routes lists the inventory commands for the dispatcher. Reservations
// against a product that was never stocked fail as a business outcome.
func Routes() []aggregate.Route {
	return []aggregate.Route{
		{CommandType: CmdAddStock, Policy: aggregate.PolicyAny, Decode: aggregate.Decoder[AddStock]()},
		{CommandType: CmdReserveInventory, Policy: aggregate.PolicyAny, Decode: aggregate.Decoder[ReserveInventory]()},
		{CommandType: CmdReleaseInventory, Policy: aggregate.PolicyAny, Decode: aggregate.Decoder[ReleaseInventory]()},
		{CommandType: CmdDeductStock, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[DeductStock]()},
	}
}
