package aggregate

import (
	"encoding/json"
	"fmt"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

// Rebuild folds a snapshot (optional) and the events after it into a fresh
// aggregate. Events must continue the snapshot version without gaps.
func Rebuild[T Aggregate](newAggregate func() T, snapshot *store.Snapshot, events []store.Event, upcasters *Upcasters) (T, error) {
	agg := newAggregate()
	version := 0

	if snapshot != nil {
		if err := json.Unmarshal(snapshot.State, agg); err != nil {
			var zero T
			return zero, apperr.Infrastructure("unmarshal snapshot", err)
		}
		version = snapshot.Version
		agg.SetVersion(version)
	}

	for _, event := range events {
		if event.Version != version+1 {
			var zero T
			return zero, fmt.Errorf("%w: aggregate %s expected version %d, got %d",
				ErrVersionGap, event.AggregateID, version+1, event.Version)
		}
		upcasted, err := upcasters.Upcast(event)
		if err != nil {
			var zero T
			return zero, err
		}
		agg.ApplyEvent(upcasted)
		version = event.Version
		agg.SetVersion(version)
	}

	return agg, nil
}
