package order

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"github.com/google/uuid"
)

const AggregateType = "Order"

type Status string

const (
	StatusPending          Status = "pending"
	StatusPaid             Status = "paid"
	StatusShippingArranged Status = "shipping_arranged"
	StatusConfirmed        Status = "confirmed"
	StatusRefunded         Status = "refunded"
	StatusCancelled        Status = "cancelled"
)

var (
	ErrOrderNotFound       = fmt.Errorf("%w: order not found", apperr.ErrNotFound)
	ErrEmptyOrder          = fmt.Errorf("%w: order must have at least one item", apperr.ErrValidation)
	ErrInvalidItem         = fmt.Errorf("%w: order item needs a product, a positive quantity and a positive price", apperr.ErrValidation)
	ErrMissingUser         = fmt.Errorf("%w: user id is required", apperr.ErrValidation)
	ErrInvalidStatus       = fmt.Errorf("%w: invalid order status transition", apperr.ErrValidation)
	ErrOrderAlreadyPaid    = fmt.Errorf("%w: order is already paid", apperr.ErrValidation)
	ErrOrderNotPaid        = fmt.Errorf("%w: order must be paid before shipping", apperr.ErrValidation)
	ErrShippingNotArranged = fmt.Errorf("%w: shipping has not been arranged", apperr.ErrValidation)
	ErrShippingArranged    = fmt.Errorf("%w: shipping must be cancelled first", apperr.ErrValidation)
	ErrOrderConfirmed      = fmt.Errorf("%w: order is already confirmed", apperr.ErrValidation)
	ErrOrderCancelled      = fmt.Errorf("%w: order is already cancelled", apperr.ErrValidation)
)

// SupportedPaymentMethods lists the payment methods ProcessPayment accepts
var SupportedPaymentMethods = []string{"credit_card", "debit_card", "paypal", "bank_transfer"}

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:          {StatusPaid, StatusCancelled},
	StatusPaid:             {StatusShippingArranged, StatusRefunded, StatusCancelled},
	StatusShippingArranged: {StatusConfirmed, StatusPaid, StatusCancelled},
	StatusRefunded:         {StatusCancelled},
	StatusConfirmed:        {}, // terminal state
	StatusCancelled:        {}, // terminal state
}

type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Items           []OrderItem `json:"items"`
	Total           int         `json:"total"`
	ShippingAddress Address     `json:"shipping_address"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
	PaymentID       string      `json:"payment_id,omitempty"`
	TrackingNumber  string      `json:"tracking_number,omitempty"`
	Status          Status      `json:"status"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	CancelReason    string      `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Version         int         `json:"version"` // Current event version
}

func New() *Order { return &Order{} }

// Aggregate interface implementation
func (o *Order) GetID() string { return o.ID }
func (o *Order) GetVersion() int { return o.Version }
func (o *Order) SetVersion(v int) { o.Version = v }
func (o *Order) Exists() bool { return o.ID != "" }
func (o *Order) IsTerminal() bool {
	return o.Status == StatusConfirmed || o.Status == StatusCancelled
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	return slices.Contains(validTransitions[o.Status], target)
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch {
	case o.Status == StatusCancelled:
		return ErrOrderCancelled
	case o.Status == StatusConfirmed:
		return ErrOrderConfirmed
	case target == StatusPaid && o.Status != StatusPending:
		return ErrOrderAlreadyPaid
	case target == StatusShippingArranged && o.Status == StatusPending:
		return ErrOrderNotPaid
	case target == StatusRefunded && o.Status == StatusShippingArranged:
		return ErrShippingArranged
	case target == StatusConfirmed:
		return ErrShippingNotArranged
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
	}
}

func (o *Order) requireTransition(target Status) error {
	if !o.CanTransitionTo(target) {
		return o.transitionError(target)
	}
	return nil
}

// ApplyEvent applies a single event to the order state (implements aggregate.Aggregate)
func (o *Order) ApplyEvent(event store.Event) {
	switch event.EventType {
	case EventOrderPlaced:
		var data OrderPlaced
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		o.ID = data.OrderID
		o.UserID = data.UserID
		o.Items = data.Items
		o.Total = data.Total
		o.ShippingAddress = data.ShippingAddress
		o.PaymentMethod = data.PaymentMethod
		o.Status = StatusPending
		o.CreatedAt = data.PlacedAt
		o.UpdatedAt = data.PlacedAt
	case EventPaymentProcessed:
		var data PaymentProcessed
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		o.Status = StatusPaid
		o.PaymentID = data.PaymentID
		o.PaymentMethod = data.Method
		o.FailureReason = ""
		o.UpdatedAt = data.ProcessedAt
	case EventPaymentFailed:
		var data PaymentFailed
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		o.FailureReason = data.Reason
		o.UpdatedAt = data.FailedAt
	case EventPaymentRefunded:
		var data PaymentRefunded
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		o.Status = StatusRefunded
		o.UpdatedAt = data.RefundedAt
	case EventShippingArranged:
		var data ShippingArranged
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		o.Status = StatusShippingArranged
		o.TrackingNumber = data.TrackingNumber
		o.ShippingAddress = data.Address
		o.UpdatedAt = data.ArrangedAt
	case EventShippingFailed:
		var data ShippingFailed
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		o.FailureReason = data.Reason
		o.UpdatedAt = data.FailedAt
	case EventShippingCancelled:
		var data ShippingCancelled
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		o.Status = StatusPaid
		o.TrackingNumber = ""
		o.UpdatedAt = data.CancelledAt
	case EventOrderConfirmed:
		var data OrderConfirmed
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		o.Status = StatusConfirmed
		o.UpdatedAt = data.ConfirmedAt
	case EventOrderCancelled:
		var data OrderCancelled
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		o.Status = StatusCancelled
		o.CancelReason = data.Reason
		o.UpdatedAt = data.CancelledAt
	}
}

// Execute decides the events for a command without changing state
func (o *Order) Execute(cmd aggregate.Command) ([]aggregate.Change, error) {
	now := time.Now()
	switch cmd := cmd.(type) {
	case PlaceOrder:
		total, err := validatePlacement(cmd)
		if err != nil {
			return nil, err
		}
		return []aggregate.Change{{
			EventType:     EventOrderPlaced,
			SchemaVersion: OrderPlacedSchemaVersion,
			Data: OrderPlaced{
				OrderID:         cmd.OrderID,
				UserID:          cmd.UserID,
				Items:           cmd.Items,
				Total:           total,
				ShippingAddress: cmd.ShippingAddress,
				PaymentMethod:   cmd.PaymentMethod,
				PlacedAt:        now,
			},
		}}, nil

	case ProcessPayment:
		// shipping_arranged -> paid is reserved for ShippingCancelled
		if o.Status != StatusPending {
			return nil, o.transitionError(StatusPaid)
		}
		method := cmd.PaymentMethod
		if method == "" {
			method = o.PaymentMethod
		}
		if reason := o.declineReason(cmd.Amount, method); reason != "" {
			return []aggregate.Change{aggregate.NewChange(EventPaymentFailed, PaymentFailed{
				OrderID:  o.ID,
				Amount:   cmd.Amount,
				Method:   method,
				Reason:   reason,
				FailedAt: now,
			})}, nil
		}
		return []aggregate.Change{aggregate.NewChange(EventPaymentProcessed, PaymentProcessed{
			OrderID:     o.ID,
			PaymentID:   uuid.New().String(),
			Amount:      cmd.Amount,
			Method:      method,
			ProcessedAt: now,
		})}, nil

	case RefundPayment:
		if err := o.requireTransition(StatusRefunded); err != nil {
			return nil, err
		}
		return []aggregate.Change{aggregate.NewChange(EventPaymentRefunded, PaymentRefunded{
			OrderID:    o.ID,
			PaymentID:  o.PaymentID,
			Amount:     o.Total,
			Reason:     cmd.Reason,
			RefundedAt: now,
		})}, nil

	case ArrangeShipping:
		if err := o.requireTransition(StatusShippingArranged); err != nil {
			return nil, err
		}
		address := cmd.Address
		if address.IsZero() {
			address = o.ShippingAddress
		}
		if !address.Complete() {
			return []aggregate.Change{aggregate.NewChange(EventShippingFailed, ShippingFailed{
				OrderID:  o.ID,
				Reason:   "shipping address is incomplete",
				FailedAt: now,
			})}, nil
		}
		return []aggregate.Change{aggregate.NewChange(EventShippingArranged, ShippingArranged{
			OrderID:        o.ID,
			TrackingNumber: newTrackingNumber(),
			Address:        address,
			ArrangedAt:     now,
		})}, nil

	case CancelShipping:
		if o.Status != StatusShippingArranged {
			return nil, ErrShippingNotArranged
		}
		return []aggregate.Change{aggregate.NewChange(EventShippingCancelled, ShippingCancelled{
			OrderID:        o.ID,
			TrackingNumber: o.TrackingNumber,
			Reason:         cmd.Reason,
			CancelledAt:    now,
		})}, nil

	case ConfirmOrder:
		if err := o.requireTransition(StatusConfirmed); err != nil {
			return nil, err
		}
		return []aggregate.Change{aggregate.NewChange(EventOrderConfirmed, OrderConfirmed{
			OrderID:     o.ID,
			ConfirmedAt: now,
		})}, nil

	case CancelOrder:
		if err := o.requireTransition(StatusCancelled); err != nil {
			return nil, err
		}
		return []aggregate.Change{aggregate.NewChange(EventOrderCancelled, OrderCancelled{
			OrderID:     o.ID,
			Reason:      cmd.Reason,
			CancelledAt: now,
		})}, nil
	}
	return nil, fmt.Errorf("%w: %s", aggregate.ErrUnsupportedType, cmd.CommandType())
}

// declineReason returns why a payment cannot be taken, or "" if it can
func (o *Order) declineReason(amount int, method string) string {
	switch {
	case amount != o.Total:
		return fmt.Sprintf("amount %d does not match order total %d", amount, o.Total)
	case !slices.Contains(SupportedPaymentMethods, method):
		return fmt.Sprintf("unsupported payment method %q", method)
	default:
		return ""
	}
}

func validatePlacement(cmd PlaceOrder) (int, error) {
	if cmd.UserID == "" {
		return 0, ErrMissingUser
	}
	if len(cmd.Items) == 0 {
		return 0, ErrEmptyOrder
	}
	var total int
	for _, item := range cmd.Items {
		if item.ProductID == "" || item.Quantity <= 0 || item.Price <= 0 {
			return 0, ErrInvalidItem
		}
		total += item.Price * item.Quantity
	}
	return total, nil
}

func newTrackingNumber() string {
	return "TRK-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
}
