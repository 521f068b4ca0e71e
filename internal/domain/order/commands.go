package order

import "github.com/example/ec-event-sourcing/internal/domain/aggregate"

const (
	CmdPlaceOrder      = "PlaceOrder"
	CmdProcessPayment  = "ProcessPayment"
	CmdRefundPayment   = "RefundPayment"
	CmdArrangeShipping = "ArrangeShipping"
	CmdCancelShipping  = "CancelShipping"
	CmdConfirmOrder    = "ConfirmOrder"
	CmdCancelOrder     = "CancelOrder"
)

type PlaceOrder struct {
	OrderID         string      `json:"order_id"`
	UserID          string      `json:"user_id"`
	Items           []OrderItem `json:"items"`
	ShippingAddress Address     `json:"shipping_address"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
}

// ProcessPayment charges the order. An empty PaymentMethod falls back to
// the method given at placement.
type ProcessPayment struct {
	OrderID       string `json:"order_id"`
	Amount        int    `json:"amount"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

type RefundPayment struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// ArrangeShipping ships to Address, or to the placement address when empty.
type ArrangeShipping struct {
	OrderID string  `json:"order_id"`
	Address Address `json:"address,omitempty"`
}

type CancelShipping struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type ConfirmOrder struct {
	OrderID string `json:"order_id"`
}

type CancelOrder struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (c PlaceOrder) CommandType() string { return CmdPlaceOrder }
func (c PlaceOrder) AggregateID() string { return c.OrderID }
func (c PlaceOrder) WithAggregateID(id string) aggregate.Command {
	c.OrderID = id
	return c
}

func (c ProcessPayment) CommandType() string { return CmdProcessPayment }
func (c ProcessPayment) AggregateID() string { return c.OrderID }
func (c ProcessPayment) WithAggregateID(id string) aggregate.Command {
	c.OrderID = id
	return c
}

func (c RefundPayment) CommandType() string { return CmdRefundPayment }
func (c RefundPayment) AggregateID() string { return c.OrderID }
func (c RefundPayment) WithAggregateID(id string) aggregate.Command {
	c.OrderID = id
	return c
}

func (c ArrangeShipping) CommandType() string { return CmdArrangeShipping }
func (c ArrangeShipping) AggregateID() string { return c.OrderID }
func (c ArrangeShipping) WithAggregateID(id string) aggregate.Command {
	c.OrderID = id
	return c
}

func (c CancelShipping) CommandType() string { return CmdCancelShipping }
func (c CancelShipping) AggregateID() string { return c.OrderID }
func (c CancelShipping) WithAggregateID(id string) aggregate.Command {
	c.OrderID = id
	return c
}

func (c ConfirmOrder) CommandType() string { return CmdConfirmOrder }
func (c ConfirmOrder) AggregateID() string { return c.OrderID }
func (c ConfirmOrder) WithAggregateID(id string) aggregate.Command {
	c.OrderID = id
	return c
}

func (c CancelOrder) CommandType() string { return CmdCancelOrder }
func (c CancelOrder) AggregateID() string { return c.OrderID }
func (c CancelOrder) WithAggregateID(id string) aggregate.Command {
	c.OrderID = id
	return c
}

func Routes() []aggregate.Route {
	return []aggregate.Route{
		{CommandType: CmdPlaceOrder, Policy: aggregate.PolicyMustNotExist, Decode: aggregate.Decoder[PlaceOrder]()},
		{CommandType: CmdProcessPayment, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[ProcessPayment]()},
		{CommandType: CmdRefundPayment, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[RefundPayment]()},
		{CommandType: CmdArrangeShipping, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[ArrangeShipping]()},
		{CommandType: CmdCancelShipping, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[CancelShipping]()},
		{CommandType: CmdConfirmOrder, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[ConfirmOrder]()},
		{CommandType: CmdCancelOrder, Policy: aggregate.PolicyMustExist, Decode: aggregate.Decoder[CancelOrder]()},
	}
}
