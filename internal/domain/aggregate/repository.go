package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds the reload-and-retry loop on version conflicts.
const DefaultMaxAttempts = 3

// Result is the outcome of a successfully handled command.
type Result struct {
	AggregateID string
	Version     int
	Events      []store.Event
}

// Handler executes commands for one aggregate type.
type Handler interface {
	AggregateType() string
	Handle(ctx context.Context, cmd Command, policy Policy, meta store.Metadata) (Result, error)
}

type repoConfig struct {
	upcasters         *Upcasters
	snapshotThreshold int
	maxAttempts       int
	notFound          error
	streamPrefix      string
	logger            *zap.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*repoConfig)

func WithUpcasters(u *Upcasters) RepositoryOption {
	return func(c *repoConfig) { c.upcasters = u }
}

// WithSnapshotThreshold sets the snapshot interval. Zero disables snapshots.
func WithSnapshotThreshold(n int) RepositoryOption {
	return func(c *repoConfig) { c.snapshotThreshold = n }
}

func WithMaxAttempts(n int) RepositoryOption {
	return func(c *repoConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithNotFoundError sets the error returned when a command requires an
// aggregate that has no events.
func WithNotFoundError(err error) RepositoryOption {
	return func(c *repoConfig) { c.notFound = err }
}

// WithStreamPrefix namespaces the event streams of the repository. Aggregates
// that share their id with another type need one so the types never append
// to, or snapshot over, each other's stream.
func WithStreamPrefix(prefix string) RepositoryOption {
	return func(c *repoConfig) { c.streamPrefix = prefix }
}

func WithLogger(l *zap.Logger) RepositoryOption {
	return func(c *repoConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Repository loads aggregates from the event store and runs the
// load, execute, append cycle for commands.
type Repository[T Aggregate] struct {
	eventStore    store.EventStoreInterface
	aggregateType string
	newAggregate  func() T
	cfg           repoConfig
}

func NewRepository[T Aggregate](es store.EventStoreInterface, aggregateType string, newAggregate func() T, opts ...RepositoryOption) *Repository[T] {
	cfg := repoConfig{
		snapshotThreshold: store.SnapshotThreshold,
		maxAttempts:       DefaultMaxAttempts,
		notFound:          apperr.ErrNotFound,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.With(zap.String("aggregate_type", aggregateType))
	return &Repository[T]{
		eventStore:    es,
		aggregateType: aggregateType,
		newAggregate:  newAggregate,
		cfg:           cfg,
	}
}

func (r *Repository[T]) AggregateType() string { return r.aggregateType }

// StreamID returns the event stream that holds aggregate id.
func (r *Repository[T]) StreamID(id string) string { return r.cfg.streamPrefix + id }

// Load rebuilds an aggregate from its latest snapshot and the events after it.
// The boolean reports whether the aggregate has any history.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, bool, error) {
	var zero T
	stream := r.StreamID(id)

	snapshot, err := r.eventStore.GetSnapshot(ctx, stream)
	if err != nil {
		return zero, false, apperr.Infrastructure("get snapshot", err)
	}
	if snapshot != nil && snapshot.AggregateType != r.aggregateType {
		r.cfg.logger.Warn("ignoring snapshot of another aggregate type",
			zap.String("aggregate_id", id),
			zap.String("snapshot_type", snapshot.AggregateType),
			zap.Int("snapshot_version", snapshot.Version),
		)
		snapshot = nil
	}

	after := 0
	if snapshot != nil {
		after = snapshot.Version
	}
	events, err := r.eventStore.GetEvents(ctx, stream, after)
	if err != nil {
		return zero, false, apperr.Infrastructure("get events", err)
	}

	agg, err := Rebuild(r.newAggregate, snapshot, events, r.cfg.upcasters)
	if err != nil && snapshot != nil {
		// A snapshot is only a cache; fall back to a full replay.
		r.cfg.logger.Warn("discarding unusable snapshot",
			zap.String("aggregate_id", id),
			zap.Int("snapshot_version", snapshot.Version),
			zap.Error(err),
		)
		if events, err = r.eventStore.GetEvents(ctx, stream, 0); err != nil {
			return zero, false, apperr.Infrastructure("get events", err)
		}
		agg, err = Rebuild(r.newAggregate, nil, events, r.cfg.upcasters)
	}
	if err != nil {
		return zero, false, err
	}

	return agg, agg.GetVersion() > 0, nil
}

// Handle runs cmd against the current state and appends the resulting
// events with the pre-command version as the expected version. A version
// conflict reloads and re-executes, up to the configured attempt count.
func (r *Repository[T]) Handle(ctx context.Context, cmd Command, policy Policy, meta store.Metadata) (Result, error) {
	id := cmd.AggregateID()
	if id == "" {
		return Result{}, ErrEmptyID
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.maxAttempts; attempt++ {
		result, err := r.handleOnce(ctx, id, cmd, policy, meta)
		if err == nil {
			return result, nil
		}
		if !store.IsConcurrencyConflict(err) {
			return Result{}, err
		}
		lastErr = err
		r.cfg.logger.Debug("version conflict, retrying command",
			zap.String("aggregate_id", id),
			zap.String("command", cmd.CommandType()),
			zap.Int("attempt", attempt),
		)
	}
	return Result{}, fmt.Errorf("%s %s gave up after %d attempts: %w", cmd.CommandType(), id, r.cfg.maxAttempts, lastErr)
}

func (r *Repository[T]) handleOnce(ctx context.Context, id string, cmd Command, policy Policy, meta store.Metadata) (Result, error) {
	agg, found, err := r.Load(ctx, id)
	if err != nil {
		return Result{}, err
	}

	switch {
	case policy == PolicyMustExist && !found:
		return Result{}, fmt.Errorf("%w: %s", r.cfg.notFound, id)
	case policy == PolicyMustNotExist && found:
		return Result{}, fmt.Errorf("%w: %s %s", ErrAlreadyExists, r.aggregateType, id)
	case found && agg.IsTerminal():
		return Result{}, fmt.Errorf("%w: %s %s", ErrTerminal, r.aggregateType, id)
	}

	changes, err := agg.Execute(cmd)
	if err != nil {
		return Result{}, err
	}

	before := agg.GetVersion()
	if len(changes) == 0 {
		return Result{AggregateID: id, Version: before}, nil
	}

	events, err := r.eventStore.Append(ctx, r.StreamID(id), r.aggregateType, before, toPending(changes), meta)
	if err != nil {
		return Result{}, err
	}

	for _, e := range events {
		upcasted, err := r.cfg.upcasters.Upcast(e)
		if err != nil {
			return Result{}, err
		}
		agg.ApplyEvent(upcasted)
		agg.SetVersion(e.Version)
	}
	r.maybeSnapshot(ctx, id, agg, before)

	return Result{AggregateID: id, Version: agg.GetVersion(), Events: events}, nil
}

// maybeSnapshot saves a snapshot when the append crossed a threshold
// multiple. Failures are logged only.
func (r *Repository[T]) maybeSnapshot(ctx context.Context, id string, agg T, before int) {
	after := agg.GetVersion()
	if !store.ShouldSnapshot(before, after, r.cfg.snapshotThreshold) {
		return
	}

	state, err := json.Marshal(agg)
	if err != nil {
		r.cfg.logger.Warn("failed to marshal aggregate state", zap.String("aggregate_id", id), zap.Error(err))
		return
	}
	snapshot := &store.Snapshot{
		AggregateID:   r.StreamID(id),
		AggregateType: r.aggregateType,
		Version:       after,
		State:         state,
		CreatedAt:     time.Now(),
	}
	if err := r.eventStore.SaveSnapshot(ctx, snapshot); err != nil {
		r.cfg.logger.Warn("failed to save snapshot",
			zap.String("aggregate_id", id),
			zap.Int("version", after),
			zap.Error(err),
		)
	}
}
