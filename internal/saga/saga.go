// Package saga coordinates order fulfillment across the inventory and order
// aggregates.
//
// Saga.Begin, Saga.Handle and Saga.Fail are pure: they return the next saga
// value and the commands to dispatch. Manager runs them against a Store and
// a command dispatcher.
package saga

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/domain/inventory"
	"github.com/example/ec-event-sourcing/internal/domain/order"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

type State string

const (
	StateStarted      State = "started"
	StateInProgress   State = "in_progress"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCompensating State = "compensating"
	StateCompensated  State = "compensated"
)

// IsTerminal reports whether no further event can change the saga. A saga
// rests in failed only when a compensation could not be carried out.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCompensated || s == StateFailed
}

type Step string

const (
	StepReserveInventory Step = "reserve_inventory"
	StepProcessPayment   Step = "process_payment"
	StepArrangeShipping  Step = "arrange_shipping"
	StepConfirmOrder     Step = "confirm_order"
)

// Compensation is an undo command the saga waits to see acknowledged.
type Compensation struct {
	CommandType string `json:"command_type"`
	AggregateID string `json:"aggregate_id"`
	Acked       bool   `json:"acked"`
	Error       string `json:"error,omitempty"`
}

func (c Compensation) resolved() bool { return c.Acked || c.Error != "" }

// Details is the business payload a saga is started with.
type Details struct {
	OrderID         string
	UserID          string
	Items           []order.OrderItem
	ShippingAddress order.Address
	PaymentMethod   string
}

// Saga is the order fulfillment process state.
type Saga struct {
	ID              string            `json:"id"`
	OrderID         string            `json:"order_id"`
	UserID          string            `json:"user_id"`
	Items           []order.OrderItem `json:"items"`
	Total           int               `json:"total"`
	ShippingAddress order.Address     `json:"shipping_address"`
	PaymentMethod   string            `json:"payment_method,omitempty"`

	State           State          `json:"state"`
	Step            Step           `json:"step"`
	CompletedSteps  []Step         `json:"completed_steps"`
	Reserved        map[string]int `json:"reserved"`
	Rejected        []string       `json:"rejected,omitempty"`
	PaymentID       string         `json:"payment_id,omitempty"`
	TrackingNumber  string         `json:"tracking_number,omitempty"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	Compensations   []Compensation `json:"compensations,omitempty"`
	ProcessedEvents []string       `json:"processed_events"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a saga in the started state. Line items for the same product
// are merged so each product is reserved once.
func New(id string, d Details) Saga {
	total := 0
	for _, item := range d.Items {
		total += item.Price * item.Quantity
	}
	return Saga{
		ID:              id,
		OrderID:         d.OrderID,
		UserID:          d.UserID,
		Items:           MergeItems(d.Items),
		Total:           total,
		ShippingAddress: d.ShippingAddress,
		PaymentMethod:   d.PaymentMethod,
		State:           StateStarted,
		Step:            StepReserveInventory,
		Reserved:        map[string]int{},
	}
}

// MergeItems sums the quantities of line items that share a product,
// keeping first-seen order.
func MergeItems(items []order.OrderItem) []order.OrderItem {
	merged := make([]order.OrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

func (s Saga) IsTerminal() bool { return s.State.IsTerminal() }

// HasProcessed reports whether the event id was already applied.
func (s Saga) HasProcessed(eventID string) bool {
	return eventID != "" && slices.Contains(s.ProcessedEvents, eventID)
}

// Pending returns the compensations still awaiting an acknowledgement.
func (s Saga) Pending() []Compensation {
	var pending []Compensation
	for _, c := range s.Compensations {
		if !c.resolved() {
			pending = append(pending, c)
		}
	}
	return pending
}

// Begin moves a started saga into the reserve step and returns one
// ReserveInventory per line item.
func (s Saga) Begin() (Saga, []aggregate.Command) {
	if s.State != StateStarted {
		return s, nil
	}
	next := s.clone()
	next.State = StateInProgress
	next.Step = StepReserveInventory

	cmds := make([]aggregate.Command, 0, len(next.Items))
	for _, item := range next.Items {
		cmds = append(cmds, inventory.ReserveInventory{
			ProductID: item.ProductID,
			OrderID:   next.OrderID,
			Quantity:  item.Quantity,
		})
	}
	return next, cmds
}

// Handle applies one event. Events already processed, events for other
// orders, and events that do not fit the current state leave the saga
// unchanged and produce no commands.
func (s Saga) Handle(event store.Event) (Saga, []aggregate.Command) {
	next, cmds, _ := s.handle(event)
	return next, cmds
}

func (s Saga) handle(event store.Event) (Saga, []aggregate.Command, bool) {
	if s.IsTerminal() || s.HasProcessed(event.ID) {
		return s, nil, false
	}
	next := s.clone()
	cmds, applied := next.apply(event)
	if !applied {
		return s, nil, false
	}
	if event.ID != "" {
		next.ProcessedEvents = append(next.ProcessedEvents, event.ID)
	}
	return next, cmds, true
}

// Fail aborts a running saga, e.g. when a forward command could not be
// dispatched, and returns the compensating commands. notSent names the
// products whose reservation was never appended; they are not released.
func (s Saga) Fail(reason string, notSent ...string) (Saga, []aggregate.Command) {
	if s.State != StateStarted && s.State != StateInProgress {
		return s, nil
	}
	next := s.clone()
	return next, next.fail(reason, notSent...)
}

// CompensationFailed records that a compensating command was rejected. The
// saga stops waiting for its acknowledgement.
func (s Saga) CompensationFailed(cmd aggregate.Command, err error) Saga {
	if s.State != StateCompensating || cmd == nil || err == nil {
		return s
	}
	next := s.clone()
	for i, c := range next.Compensations {
		if !c.resolved() && c.CommandType == cmd.CommandType() && c.AggregateID == cmd.AggregateID() {
			next.Compensations[i].Error = err.Error()
			next.settle()
			return next
		}
	}
	return s
}

func (s *Saga) apply(event store.Event) ([]aggregate.Command, bool) {
	switch event.EventType {
	case inventory.EventInventoryReserved:
		var data inventory.InventoryReserved
		if !s.decode(event, &data) {
			return nil, false
		}
		return s.onReserved(data)

	case inventory.EventInventoryReservationFailed:
		var data inventory.InventoryReservationFailed
		if !s.decode(event, &data) || !s.running(StepReserveInventory) {
			return nil, false
		}
		s.Rejected = append(s.Rejected, data.ProductID)
		return s.fail(data.Reason), true

	case order.EventPaymentProcessed:
		var data order.PaymentProcessed
		if !s.decode(event, &data) || !s.running(StepProcessPayment) {
			return nil, false
		}
		s.PaymentID = data.PaymentID
		s.advance(StepArrangeShipping)
		return []aggregate.Command{order.ArrangeShipping{OrderID: s.OrderID, Address: s.ShippingAddress}}, true

	case order.EventPaymentFailed:
		var data order.PaymentFailed
		if !s.decode(event, &data) || !s.running(StepProcessPayment) {
			return nil, false
		}
		return s.fail(data.Reason), true

	case order.EventShippingArranged:
		var data order.ShippingArranged
		if !s.decode(event, &data) || !s.running(StepArrangeShipping) {
			return nil, false
		}
		s.TrackingNumber = data.TrackingNumber
		s.advance(StepConfirmOrder)
		return []aggregate.Command{order.ConfirmOrder{OrderID: s.OrderID}}, true

	case order.EventShippingFailed:
		var data order.ShippingFailed
		if !s.decode(event, &data) || !s.running(StepArrangeShipping) {
			return nil, false
		}
		return s.fail(data.Reason), true

	case order.EventOrderConfirmed:
		var data order.OrderConfirmed
		if !s.decode(event, &data) || !s.running(StepConfirmOrder) {
			return nil, false
		}
		s.CompletedSteps = append(s.CompletedSteps, StepConfirmOrder)
		s.State = StateCompleted
		return nil, true

	case inventory.EventInventoryReleased:
		var data inventory.InventoryReleased
		if !s.decode(event, &data) {
			return nil, false
		}
		return nil, s.ack(inventory.CmdReleaseInventory, data.ProductID)

	case order.EventPaymentRefunded:
		var data order.PaymentRefunded
		if !s.decode(event, &data) {
			return nil, false
		}
		return nil, s.ack(order.CmdRefundPayment, s.OrderID)

	case order.EventShippingCancelled:
		var data order.ShippingCancelled
		if !s.decode(event, &data) {
			return nil, false
		}
		return nil, s.ack(order.CmdCancelShipping, s.OrderID)
	}
	return nil, false
}

func (s *Saga) onReserved(data inventory.InventoryReserved) ([]aggregate.Command, bool) {
	if _, seen := s.Reserved[data.ProductID]; seen || !s.hasItem(data.ProductID) {
		return nil, false
	}

	switch {
	case s.running(StepReserveInventory):
		s.Reserved[data.ProductID] = data.Quantity
		if len(s.Reserved) < len(s.Items) {
			return nil, true
		}
		s.advance(StepProcessPayment)
		return []aggregate.Command{order.ProcessPayment{
			OrderID:       s.OrderID,
			Amount:        s.Total,
			PaymentMethod: s.PaymentMethod,
		}}, true

	case s.State == StateCompensating:
		// a reservation that landed after the saga failed
		s.Reserved[data.ProductID] = data.Quantity
		if s.compensates(inventory.CmdReleaseInventory, data.ProductID) {
			return nil, true
		}
		release := inventory.ReleaseInventory{ProductID: data.ProductID, OrderID: s.OrderID}
		s.track(release)
		return []aggregate.Command{release}, true
	}
	return nil, false
}

func (s *Saga) running(step Step) bool {
	return s.State == StateInProgress && s.Step == step
}

func (s *Saga) advance(to Step) {
	s.CompletedSteps = append(s.CompletedSteps, s.Step)
	s.Step = to
}

// fail computes the compensations for the completed steps in reverse order
// and always ends with CancelOrder.
func (s *Saga) fail(reason string, notSent ...string) []aggregate.Command {
	s.State = StateFailed
	s.FailureReason = reason

	var cmds []aggregate.Command
	for i := len(s.CompletedSteps) - 1; i >= 0; i-- {
		switch s.CompletedSteps[i] {
		case StepArrangeShipping:
			cmds = append(cmds, s.track(order.CancelShipping{OrderID: s.OrderID, Reason: reason}))
		case StepProcessPayment:
			cmds = append(cmds, s.track(order.RefundPayment{OrderID: s.OrderID, Reason: reason}))
		}
	}

	// Reservations are the first step, so their releases come last. While
	// the reserve step is still open any item sent and not refused may be held.
	reserving := s.Step == StepReserveInventory && !slices.Contains(s.CompletedSteps, StepReserveInventory)
	for _, item := range s.Items {
		_, held := s.Reserved[item.ProductID]
		inFlight := reserving && !slices.Contains(s.Rejected, item.ProductID) && !slices.Contains(notSent, item.ProductID)
		if held || inFlight {
			cmds = append(cmds, s.track(inventory.ReleaseInventory{ProductID: item.ProductID, OrderID: s.OrderID}))
		}
	}

	cmds = append(cmds, order.CancelOrder{OrderID: s.OrderID, Reason: reason})
	s.State = StateCompensating
	s.settle()
	return cmds
}

func (s *Saga) track(cmd aggregate.Command) aggregate.Command {
	s.Compensations = append(s.Compensations, Compensation{
		CommandType: cmd.CommandType(),
		AggregateID: cmd.AggregateID(),
	})
	return cmd
}

func (s *Saga) compensates(commandType, aggregateID string) bool {
	for _, c := range s.Compensations {
		if c.CommandType == commandType && c.AggregateID == aggregateID {
			return true
		}
	}
	return false
}

func (s *Saga) ack(commandType, aggregateID string) bool {
	if s.State != StateCompensating {
		return false
	}
	for i, c := range s.Compensations {
		if !c.resolved() && c.CommandType == commandType && c.AggregateID == aggregateID {
			s.Compensations[i].Acked = true
			s.settle()
			return true
		}
	}
	return false
}

// settle ends compensation once nothing is pending.
func (s *Saga) settle() {
	if s.State != StateCompensating || len(s.Pending()) > 0 {
		return
	}
	s.State = StateCompensated
	for _, c := range s.Compensations {
		if c.Error != "" {
			s.State = StateFailed
			return
		}
	}
}

func (s *Saga) hasItem(productID string) bool {
	for _, item := range s.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// decode unmarshals event data into v when the event belongs to this
// saga's order.
func (s *Saga) decode(event store.Event, v any) bool {
	var ref struct {
		OrderID string `json:"order_id"`
	}
	if json.Unmarshal(event.Data, &ref) != nil || ref.OrderID != s.OrderID {
		return false
	}
	return json.Unmarshal(event.Data, v) == nil
}

func (s Saga) clone() Saga {
	next := s
	next.Items = slices.Clone(s.Items)
	next.CompletedSteps = slices.Clone(s.CompletedSteps)
	next.Rejected = slices.Clone(s.Rejected)
	next.Compensations = slices.Clone(s.Compensations)
	next.ProcessedEvents = slices.Clone(s.ProcessedEvents)
	next.Reserved = make(map[string]int, len(s.Reserved))
	for k, v := range s.Reserved {
		next.Reserved[k] = v
	}
	return next
}
