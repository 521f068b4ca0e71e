package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultRetryAttempts        uint = 3
	DefaultRetryInitialInterval      = 100 * time.Millisecond
)

var ErrDuplicateRoute = errors.New("command type already registered")

// Outcome describes a dispatched command. Err is only set by
// DispatchCompensation, which never returns an error.
type Outcome struct {
	CommandType   string
	AggregateID   string
	AggregateType string
	Version       int
	Events        []store.Event
	Err           error
}

// Failed reports whether a compensation dispatch failed.
func (o *Outcome) Failed() bool { return o.Err != nil }

// Envelope is the wire form of a command.
type Envelope struct {
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Metadata    store.Metadata  `json:"metadata"`
}

type route struct {
	handler aggregate.Handler
	policy  aggregate.Policy
	decode  func(json.RawMessage) (aggregate.Command, error)
}

// Dispatcher routes commands to the repository that owns their aggregate type.
type Dispatcher struct {
	routes        map[string]route
	logger        *zap.Logger
	retryAttempts uint
	retryInterval time.Duration
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithRetry configures the backoff applied to infrastructure failures.
func WithRetry(attempts uint, initialInterval time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.retryAttempts = attempts
		}
		if initialInterval > 0 {
			d.retryInterval = initialInterval
		}
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes:        make(map[string]route),
		logger:        zap.NewNop(),
		retryAttempts: DefaultRetryAttempts,
		retryInterval: DefaultRetryInitialInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "dispatcher"))
	return d
}

// Register binds each route's command type to handler.
func (d *Dispatcher) Register(handler aggregate.Handler, routes ...aggregate.Route) error {
	for _, r := range routes {
		if _, exists := d.routes[r.CommandType]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateRoute, r.CommandType)
		}
		d.routes[r.CommandType] = route{handler: handler, policy: r.Policy, decode: r.Decode}
	}
	return nil
}

// CommandTypes returns the registered command types.
func (d *Dispatcher) CommandTypes() []string {
	types := make([]string, 0, len(d.routes))
	for t := range d.routes {
		types = append(types, t)
	}
	return types
}

// Dispatch runs cmd against its aggregate. Infrastructure failures are
// retried with exponential backoff and then reported as
// apperr.ErrServiceUnavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd aggregate.Command, meta store.Metadata) (*Outcome, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: command is nil", apperr.ErrValidation)
	}
	r, ok := d.routes[cmd.CommandType()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownCommand, cmd.CommandType())
	}
	cmd = assignID(cmd, r.policy)
	return d.dispatch(ctx, r, cmd, meta)
}

// DispatchCompensation dispatches a compensating command. A failure is
// logged and recorded on the outcome so the caller can continue with the
// remaining compensations.
func (d *Dispatcher) DispatchCompensation(ctx context.Context, cmd aggregate.Command, meta store.Metadata) *Outcome {
	outcome, err := d.Dispatch(ctx, cmd, meta)
	if err == nil {
		return outcome
	}

	outcome = &Outcome{Err: err}
	if cmd != nil {
		outcome.CommandType = cmd.CommandType()
		outcome.AggregateID = cmd.AggregateID()
		if r, ok := d.routes[cmd.CommandType()]; ok {
			outcome.AggregateType = r.handler.AggregateType()
		}
	}
	d.logger.Warn("compensation failed",
		zap.String("command", outcome.CommandType),
		zap.String("aggregate_id", outcome.AggregateID),
		zap.String("correlation_id", meta.CorrelationID),
		zap.String("code", apperr.Code(err)),
		zap.Error(err),
	)
	return outcome
}

// DispatchEnvelope decodes a wire command and dispatches it.
func (d *Dispatcher) DispatchEnvelope(ctx context.Context, env Envelope) (*Outcome, error) {
	cmd, err := d.Decode(env)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, d.routes[env.Type], cmd, env.Metadata)
}

// Decode turns an envelope into a typed command. The envelope aggregate id
// overrides an empty payload id and must match a non-empty one.
func (d *Dispatcher) Decode(env Envelope) (aggregate.Command, error) {
	r, ok := d.routes[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownCommand, env.Type)
	}
	cmd, err := r.decode(env.Payload)
	if err != nil {
		return nil, err
	}

	if env.AggregateID != "" {
		switch current := cmd.AggregateID(); {
		case current == env.AggregateID:
		case current != "":
			return nil, fmt.Errorf("%w: envelope aggregate id %q does not match payload id %q",
				apperr.ErrValidation, env.AggregateID, current)
		default:
			addressable, ok := cmd.(aggregate.Addressable)
			if !ok {
				return nil, fmt.Errorf("%w: %s cannot be addressed by id", apperr.ErrValidation, env.Type)
			}
			cmd = addressable.WithAggregateID(env.AggregateID)
		}
	}
	return assignID(cmd, r.policy), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, r route, cmd aggregate.Command, meta store.Metadata) (*Outcome, error) {
	logger := d.logger.With(
		zap.String("command", cmd.CommandType()),
		zap.String("aggregate_id", cmd.AggregateID()),
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryInterval

	operation := func() (aggregate.Result, error) {
		result, err := r.handler.Handle(ctx, cmd, r.policy, meta)
		if err != nil && !apperr.IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("retrying command after infrastructure failure", zap.Duration("backoff", next), zap.Error(err))
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.retryAttempts),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		if apperr.IsRetryable(err) {
			logger.Error("command failed after retries", zap.Error(err))
			return nil, fmt.Errorf("%w: %s: %w", apperr.ErrServiceUnavailable, cmd.CommandType(), err)
		}
		logger.Debug("command rejected", zap.String("code", apperr.Code(err)), zap.Error(err))
		return nil, err
	}

	logger.Debug("command handled", zap.Int("version", result.Version), zap.Int("events", len(result.Events)))
	return &Outcome{
		CommandType:   cmd.CommandType(),
		AggregateID:   result.AggregateID,
		AggregateType: r.handler.AggregateType(),
		Version:       result.Version,
		Events:        result.Events,
	}, nil
}

// assignID gives a create command without an id a fresh one.
func assignID(cmd aggregate.Command, policy aggregate.Policy) aggregate.Command {
	if policy != aggregate.PolicyMustNotExist || cmd.AggregateID() != "" {
		return cmd
	}
	if addressable, ok := cmd.(aggregate.Addressable); ok {
		return addressable.WithAggregateID(uuid.New().String())
	}
	return cmd
}
