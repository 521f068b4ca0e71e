package product

import "github.com/example/ec-event-sourcing/internal/domain/aggregate"

const (
	CmdCreateProduct  = "CreateProduct"
	CmdUpdateProduct  = "UpdateProduct"
	CmdAssignCategory = "AssignCategory"
	CmdRemoveCategory = "RemoveCategory"
	CmdDeleteProduct  = "DeleteProduct"
)

type CreateProduct struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int    `json:"price"`
	CategoryID  string `json:"category_id,omitempty"`
}

type UpdateProduct struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int    `json:"price"`
}

type AssignCategory struct {
	ProductID  string `json:"product_id"`
	CategoryID string `json:"category_id"`
}

type RemoveCategory struct {
	ProductID string `json:"product_id"`
}

type DeleteProduct struct {
	ProductID string `json:"product_id"`
}

func (c CreateProduct) CommandType() string { return CmdCreateProduct }
func (c CreateProduct) AggregateID() string { return c.ProductID }
func (c CreateProduct) WithAggregateID(id string) aggregate.Command {
	c.ProductID = id
	return c
}

func (c UpdateProduct) CommandType() string { return CmdUpdateProduct }
func (c UpdateProduct) AggregateID() string { return c.ProductID }
func (c UpdateProduct) WithAggregateID(id string) aggregate.Command {
	c.ProductID = id
	return c
}

func (c AssignCategory) CommandType() string { return CmdAssignCategory }
func (c AssignCategory) AggregateID() string { return c.ProductID }
func (c AssignCategory) WithAggregateID(id string) aggregate.Command {
	c.ProductID = id
	return c
}

func (c RemoveCategory) CommandType() string { return CmdRemoveCategory }
func (c RemoveCategory) AggregateID() string { return c.ProductID }
func (c RemoveCategory) WithAggregateID(id string) aggregate.Command {
	c.ProductID = id
	return c
}

func (c DeleteProduct) CommandType() string { return CmdDeleteProduct }
func (c DeleteProduct) AggregateID() string { return c.ProductID }
func (c DeleteProduct) WithAggregateID(id string) aggregate.Command {
	c.ProductID = id
	return c
}

// Routes lists the product commands for the dispatcher
func Routes() []aggregate.Route {
	return []aggregate.Route{
		{CommandType: CmdCreateProduct, Policy: aggregate.PolicyMustNotExist, Decode: aggregate.Decoder[CreateProduct]()},
		{CommandType: CmdUpdateProduct, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[UpdateProduct]()},
		{CommandType: CmdAssignCategory, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[AssignCategory]()},
		{CommandType: CmdRemoveCategory, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[RemoveCategory]()},
		{CommandType: CmdDeleteProduct, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[DeleteProduct]()},
	}
}
