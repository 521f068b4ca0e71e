package inventory

import "time"

const (
	EventStockAdded                 = "StockAdded"
	EventInventoryReserved          = "InventoryReserved"
	EventInventoryReservationFailed = "InventoryReservationFailed"
	EventInventoryReleased          = "InventoryReleased"
	EventStockDeducted              = "StockDeducted"
)

type StockAdded struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

type InventoryReserved struct {
	ProductID  string    `json:"product_id"`
	OrderID    string    `json:"order_id"`
	Quantity   int       `json:"quantity"`
	ReservedAt time.Time `json:"reserved_at"`
}

// InventoryReservationFailed records a reservation refused for lack of stock.
// It changes no stock levels.
type InventoryReservationFailed struct {
	ProductID string    `json:"product_id"`
	OrderID   string    `json:"order_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// InventoryReleased acknowledges a release. Quantity is what was actually
// returned to stock and may be zero.
type InventoryReleased struct {
	ProductID  string    `json:"product_id"`
	OrderID    string    `json:"order_id"`
	Quantity   int       `json:"quantity"`
	ReleasedAt time.Time `json:"released_at"`
}

type StockDeducted struct {
	ProductID  string    `json:"product_id"`
	OrderID    string    `json:"order_id"`
	Quantity   int       `json:"quantity"`
	DeductedAt time.Time `json:"deducted_at"`
}
