// Package apperr defines the error taxonomy shared by the event store, the
// aggregate runtime, the command dispatcher and the saga engine.
//
// Domain packages declare their own sentinel errors by wrapping one of the
// kinds below, so callers can match either the precise cause
// (errors.Is(err, order.ErrOrderNotFound)) or the category
// (errors.Is(err, apperr.ErrNotFound)).
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a command rejected by a business rule. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrencyConflict marks an expected-version mismatch on append.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrNotFound            = errors.New("not found")
	// ErrInfrastructure marks a storage or transport failure.
	ErrInfrastructure = errors.New("infrastructure failure")
	// ErrServiceUnavailable is surfaced once infrastructure retries are exhausted.
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrUnknownEvent       = errors.New("unknown event")
	// ErrCorruptStream marks a stored stream that cannot be replayed. Reading
	// it again returns the same history, so it is never retried.
	ErrCorruptStream = errors.New("corrupt event stream")
)

// InfraError wraps an I/O failure with the operation that produced it.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// Is reports InfraError as ErrInfrastructure.
func (e *InfraError) Is(target error) bool {
	return target == ErrInfrastructure
}

// Infrastructure wraps err as an InfraError. A nil err stays nil.
func Infrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	var infra *InfraError
	if errors.As(err, &infra) {
		return err
	}
	return &InfraError{Op: op, Err: err}
}

// Code values returned by Code.
const (
	CodeOK             = "OK"
	CodeValidation     = "VALIDATION"
	CodeConflict       = "CONFLICT"
	CodeNotFound       = "NOT_FOUND"
	CodeUnavailable    = "UNAVAILABLE"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeUnknownEvent   = "UNKNOWN_EVENT"
	CodeCorrupt        = "CORRUPT"
	CodeInternal       = "INTERNAL"
)

// Code maps err to a stable string code for presentation adapters.
func Code(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrConcurrencyConflict):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrInfrastructure):
		return CodeUnavailable
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand
	case errors.Is(err, ErrUnknownEvent):
		return CodeUnknownEvent
	case errors.Is(err, ErrCorruptStream):
		return CodeCorrupt
	default:
		return CodeInternal
	}
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInfrastructure) &&
		!errors.Is(err, ErrConcurrencyConflict) &&
		!errors.Is(err, ErrCorruptStream)
}
