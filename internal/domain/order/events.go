package order

import "time"

const (
	EventOrderPlaced       = "OrderPlaced"
	EventPaymentProcessed  = "PaymentProcessed"
	EventPaymentFailed     = "PaymentFailed"
	EventPaymentRefunded   = "PaymentRefunded"
	EventShippingArranged  = "ShippingArranged"
	EventShippingFailed    = "ShippingFailed"
	EventShippingCancelled = "ShippingCancelled"
	EventOrderConfirmed    = "OrderConfirmed"
	EventOrderCancelled    = "OrderCancelled"
)

// OrderPlacedSchemaVersion is the current OrderPlaced payload version.
// Version 1 stored the shipping address as a single string.
const OrderPlacedSchemaVersion = 2

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int    `json:"price"`
}

type Address struct {
	Line1      string `json:"line1"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Complete reports whether the address can be shipped to
func (a Address) Complete() bool {
	return a.Line1 != "" && a.City != "" && a.PostalCode != "" && a.Country != ""
}

func (a Address) IsZero() bool { return a == Address{} }

type OrderPlaced struct {
	OrderID         string      `json:"order_id"`
	UserID          string      `json:"user_id"`
	Items           []OrderItem `json:"items"`
	Total           int         `json:"total"`
	ShippingAddress Address     `json:"shipping_address"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
	PlacedAt        time.Time   `json:"placed_at"`
}

type PaymentProcessed struct {
	OrderID     string    `json:"order_id"`
	PaymentID   string    `json:"payment_id"`
	Amount      int       `json:"amount"`
	Method      string    `json:"method"`
	ProcessedAt time.Time `json:"processed_at"`
}

type PaymentFailed struct {
	OrderID  string    `json:"order_id"`
	Amount   int       `json:"amount"`
	Method   string    `json:"method"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

type PaymentRefunded struct {
	OrderID    string    `json:"order_id"`
	PaymentID  string    `json:"payment_id"`
	Amount     int       `json:"amount"`
	Reason     string    `json:"reason,omitempty"`
	RefundedAt time.Time `json:"refunded_at"`
}

type ShippingArranged struct {
	OrderID        string    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	Address        Address   `json:"address"`
	ArrangedAt     time.Time `json:"arranged_at"`
}

type ShippingFailed struct {
	OrderID  string    `json:"order_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

type ShippingCancelled struct {
	OrderID        string    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	Reason         string    `json:"reason,omitempty"`
	CancelledAt    time.Time `json:"cancelled_at"`
}

type OrderConfirmed struct {
	OrderID     string    `json:"order_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}
