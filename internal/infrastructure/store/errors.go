package store

import (
	"errors"
	"fmt"

	"github.com/example/ec-event-sourcing/internal/apperr"
)

var (
	ErrEmptyAggregateID = fmt.Errorf("%w: aggregate id is required", apperr.ErrValidation)
	ErrInvalidEvent     = fmt.Errorf("%w: event type is required", apperr.ErrValidation)
)

// ConcurrencyError reports an expected-version mismatch on Append.
// Nothing from the rejected batch is persisted.
type ConcurrencyError struct {
	AggregateID     string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d, actual %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConcurrencyError) Unwrap() error { return apperr.ErrConcurrencyConflict }

// IsConcurrencyConflict reports whether err is an expected-version mismatch.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, apperr.ErrConcurrencyConflict)
}

func checkExpectedVersion(aggregateID string, expected, actual int) error {
	if expected == AnyVersion || expected == actual {
		return nil
	}
	return &ConcurrencyError{AggregateID: aggregateID, ExpectedVersion: expected, ActualVersion: actual}
}

func validateAppend(aggregateID string, events []PendingEvent) error {
	if aggregateID == "" {
		return ErrEmptyAggregateID
	}
	for _, e := range events {
		if e.EventType == "" {
			return ErrInvalidEvent
		}
	}
	return nil
}
