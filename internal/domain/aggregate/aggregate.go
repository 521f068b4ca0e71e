package aggregate

import (
	"fmt"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

var (
	// ErrTerminal rejects commands against a deleted, cancelled or otherwise closed aggregate.
	ErrTerminal        = fmt.Errorf("%w: aggregate is closed", apperr.ErrValidation)
	ErrAlreadyExists   = fmt.Errorf("%w: aggregate already exists", apperr.ErrValidation)
	ErrEmptyID         = fmt.Errorf("%w: aggregate id is required", apperr.ErrValidation)
	ErrVersionGap      = fmt.Errorf("%w: event stream has a version gap", apperr.ErrCorruptStream)
	ErrUnsupportedType = fmt.Errorf("%w: command not handled by aggregate", apperr.ErrUnknownCommand)
)

// Command is an instruction addressed to exactly one aggregate.
type Command interface {
	CommandType() string
	AggregateID() string
}

// Change is an event decided by Execute that has not been persisted yet.
type Change struct {
	EventType     string
	SchemaVersion int
	Data          any
}

// Aggregate defines the interface for event-sourced aggregates.
//
// Execute must not mutate the receiver: it only decides which events would
// occur. ApplyEvent must accept any event, ignoring types it does not know.
type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	Exists() bool
	IsTerminal() bool
	ApplyEvent(store.Event)
	Execute(Command) ([]Change, error)
}

// Policy states whether a command may create or must address an existing aggregate.
type Policy int

const (
	PolicyMustExist Policy = iota
	PolicyMustNotExist
	PolicyAny
)

func (p Policy) String() string {
	switch p {
	case PolicyMustExist:
		return "must_exist"
	case PolicyMustNotExist:
		return "must_not_exist"
	case PolicyAny:
		return "any"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// NewChange is a shorthand for a schema-v1 change.
func NewChange(eventType string, data any) Change {
	return Change{EventType: eventType, SchemaVersion: 1, Data: data}
}

func toPending(changes []Change) []store.PendingEvent {
	pending := make([]store.PendingEvent, len(changes))
	for i, c := range changes {
		pending[i] = store.PendingEvent{EventType: c.EventType, SchemaVersion: c.SchemaVersion, Data: c.Data}
	}
	return pending
}
