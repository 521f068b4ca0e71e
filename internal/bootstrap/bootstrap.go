// Package bootstrap assembles the event store, dispatcher and saga runtime
// from configuration for the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/ec-event-sourcing/internal/command"
	"github.com/example/ec-event-sourcing/internal/config"
	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"github.com/example/ec-event-sourcing/internal/saga"
	"go.uber.org/zap"
)

// Stack is the wired write side of the service.
type Stack struct {
	Events     store.EventStoreInterface
	Dispatcher *command.Dispatcher
	Sagas      saga.Store
	Manager    *saga.Manager

	closers []func() error
}

// Close releases database handles in reverse order of creation.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Build opens the configured backends. Committed events go to publisher when
// it is non-nil.
func Build(ctx context.Context, cfg config.Config, publisher store.Publisher, logger *zap.Logger) (*Stack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stack{}

	events, err := s.openEventStore(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if publisher != nil {
		events = store.NewPublishingEventStore(events, publisher, logger)
	}
	s.Events = events

	s.Dispatcher, err = command.NewDefault(events,
		[]aggregate.RepositoryOption{
			aggregate.WithSnapshotThreshold(cfg.SnapshotThreshold),
			aggregate.WithMaxAttempts(cfg.MaxConflictRetries),
			aggregate.WithLogger(logger),
		},
		command.WithLogger(logger),
		command.WithRetry(cfg.InfraRetryAttempts, cfg.InfraRetryInitialInterval),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	if s.Sagas, err = s.openSagaStore(ctx, cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Manager = saga.NewManager(s.Sagas, s.Dispatcher, saga.WithLogger(logger))

	logger.Info("stack ready",
		zap.String("event_store", cfg.EventStoreBackend),
		zap.String("saga_store", cfg.SagaStoreBackend),
		zap.Strings("commands", s.Dispatcher.CommandTypes()),
	)
	return s, nil
}

// OpenEventStore opens only the configured event store, for tools that
// read the log.
func OpenEventStore(ctx context.Context, cfg config.Config) (store.EventStoreInterface, func() error, error) {
	s := &Stack{}
	events, err := s.openEventStore(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return events, s.Close, nil
}

func (s *Stack) openEventStore(ctx context.Context, cfg config.Config) (store.EventStoreInterface, error) {
	switch cfg.EventStoreBackend {
	case config.BackendMemory:
		return store.NewEventStore(), nil

	case config.BackendSQLite:
		es, err := store.OpenSQLiteEventStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, es.Close)
		return es, nil

	case config.BackendPostgres:
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect event store: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		es := store.NewPostgresEventStore(db)
		if err := es.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return es, nil

	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		return store.NewDynamoEventStore(client, cfg.DynamoEventsTable, cfg.DynamoSnapshotsTable), nil
	}
	return nil, fmt.Errorf("unknown event store backend %q", cfg.EventStoreBackend)
}

func (s *Stack) openSagaStore(ctx context.Context, cfg config.Config) (saga.Store, error) {
	switch cfg.SagaStoreBackend {
	case config.BackendMemory:
		return saga.NewMemoryStore(), nil

	case config.BackendPostgres:
		pool, err := saga.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect saga store: %w", err)
		}
		s.closers = append(s.closers, func() error {
			pool.Close()
			return nil
		})
		ss := saga.NewPostgresStore(pool)
		if err := ss.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return ss, nil
	}
	return nil, fmt.Errorf("unknown saga store backend %q", cfg.SagaStoreBackend)
}
