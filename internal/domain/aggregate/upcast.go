package aggregate

import (
	"encoding/json"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

// UpcastFunc migrates a payload from one schema version to the next.
type UpcastFunc func(data json.RawMessage) (json.RawMessage, error)

type upcastKey struct {
	eventType string
	from      int
}

// Upcasters is a per-event-type migration chain applied during replay.
// A nil *Upcasters migrates nothing.
type Upcasters struct {
	chain map[upcastKey]UpcastFunc
}

func NewUpcasters() *Upcasters {
	return &Upcasters{chain: make(map[upcastKey]UpcastFunc)}
}

// Register adds the step that turns schema version from into from+1.
func (u *Upcasters) Register(eventType string, from int, fn UpcastFunc) *Upcasters {
	u.chain[upcastKey{eventType: eventType, from: from}] = fn
	return u
}

// Upcast applies every registered step starting at the event's stored
// schema version.
func (u *Upcasters) Upcast(event store.Event) (store.Event, error) {
	if u == nil {
		return event, nil
	}
	if event.SchemaVersion == 0 {
		event.SchemaVersion = 1
	}
	for {
		fn, ok := u.chain[upcastKey{eventType: event.EventType, from: event.SchemaVersion}]
		if !ok {
			return event, nil
		}
		data, err := fn(event.Data)
		if err != nil {
			return event, apperr.Infrastructure("upcast "+event.EventType, err)
		}
		event.Data = data
		event.SchemaVersion++
	}
}
