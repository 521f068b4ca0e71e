package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/lib/pq"
)

// PostgresSchema creates the event and snapshot tables if they are missing.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	sequence       BIGSERIAL PRIMARY KEY,
	id             UUID        NOT NULL UNIQUE,
	aggregate_id   TEXT        NOT NULL,
	aggregate_type TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	schema_version INT         NOT NULL DEFAULT 1,
	data           JSONB       NOT NULL,
	metadata       JSONB       NOT NULL DEFAULT '{}'::jsonb,
	version        INT         NOT NULL CHECK (version > 0),
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (aggregate_id, version)
);

CREATE TABLE IF NOT EXISTS snapshots (
	aggregate_id   TEXT        NOT NULL,
	aggregate_type TEXT        NOT NULL,
	version        INT         NOT NULL,
	state          JSONB       NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (aggregate_id, version)
);
`

const pgUniqueViolation = "23505"

const eventColumns = `sequence, id, aggregate_id, aggregate_type, event_type, schema_version, data, metadata, version, created_at`

// PostgresEventStore stores events in PostgreSQL
type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// EnsureSchema creates the tables used by the store.
func (es *PostgresEventStore) EnsureSchema(ctx context.Context) error {
	if _, err := es.db.ExecContext(ctx, PostgresSchema); err != nil {
		return apperr.Infrastructure("ensure event store schema", err)
	}
	return nil
}

// Append stores a batch of events in one transaction. Writers of the same
// aggregate are serialized by a transaction-scoped advisory lock; the unique
// (aggregate_id, version) constraint backs the version check.
func (es *PostgresEventStore) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, pending []PendingEvent, meta Metadata) ([]Event, error) {
	if err := validateAppend(aggregateID, pending); err != nil {
		return nil, err
	}

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Infrastructure("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, aggregateID); err != nil {
		return nil, apperr.Infrastructure("lock aggregate stream", err)
	}

	var current int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1",
		aggregateID,
	).Scan(&current)
	if err != nil {
		return nil, apperr.Infrastructure("read current version", err)
	}
	if err := checkExpectedVersion(aggregateID, expectedVersion, current); err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	events, err := buildEvents(aggregateID, aggregateType, current, pending, meta, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	for i := range events {
		e := &events[i]
		err := tx.QueryRowContext(ctx,
			`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, schema_version, data, metadata, version, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING sequence`,
			e.ID,
			e.AggregateID,
			e.AggregateType,
			e.EventType,
			e.SchemaVersion,
			[]byte(e.Data),
			metaJSON,
			e.Version,
			e.Timestamp,
		).Scan(&e.Sequence)
		if err != nil {
			if isPostgresUniqueViolation(err) {
				return nil, &ConcurrencyError{AggregateID: aggregateID, ExpectedVersion: expectedVersion, ActualVersion: e.Version}
			}
			return nil, apperr.Infrastructure("insert event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isPostgresUniqueViolation(err) {
			return nil, &ConcurrencyError{AggregateID: aggregateID, ExpectedVersion: expectedVersion, ActualVersion: current}
		}
		return nil, apperr.Infrastructure("commit append", err)
	}
	return events, nil
}

// GetEvents returns the events of an aggregate after the given version
func (es *PostgresEventStore) GetEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE aggregate_id = $1 AND version > $2
		 ORDER BY version ASC`,
		aggregateID, afterVersion,
	)
	if err != nil {
		return nil, apperr.Infrastructure("query aggregate events", err)
	}
	return scanEvents(rows)
}

// GetAllEvents returns events across all aggregates ordered by global sequence
func (es *PostgresEventStore) GetAllEvents(ctx context.Context, afterSequence int64, limit int) ([]Event, error) {
	query := `SELECT ` + eventColumns + `
		 FROM events
		 WHERE sequence > $1
		 ORDER BY sequence ASC`
	args := []any{afterSequence}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := es.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Infrastructure("query all events", err)
	}
	return scanEvents(rows)
}

func (es *PostgresEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil || snapshot.AggregateID == "" {
		return ErrEmptyAggregateID
	}
	_, err := es.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (aggregate_id, version) DO NOTHING`,
		snapshot.AggregateID,
		snapshot.AggregateType,
		snapshot.Version,
		[]byte(snapshot.State),
		snapshot.CreatedAt,
	)
	if err != nil {
		return apperr.Infrastructure("insert snapshot", err)
	}
	return nil
}

func (es *PostgresEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var s Snapshot
	var state []byte
	err := es.db.QueryRowContext(ctx,
		`SELECT aggregate_id, aggregate_type, version, state, created_at
		 FROM snapshots
		 WHERE aggregate_id = $1
		 ORDER BY version DESC
		 LIMIT 1`,
		aggregateID,
	).Scan(&s.AggregateID, &s.AggregateType, &s.Version, &state, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infrastructure("query snapshot", err)
	}
	s.State = json.RawMessage(state)
	return &s, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data, meta []byte
		if err := rows.Scan(&e.Sequence, &e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.SchemaVersion, &data, &meta, &e.Version, &e.Timestamp); err != nil {
			return nil, apperr.Infrastructure("scan event", err)
		}
		e.Data = json.RawMessage(data)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, apperr.Infrastructure("decode event metadata", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Infrastructure("iterate events", err)
	}
	return events, nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
