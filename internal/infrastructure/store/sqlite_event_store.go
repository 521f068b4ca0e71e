package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	sequence       INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT    NOT NULL UNIQUE,
	aggregate_id   TEXT    NOT NULL,
	aggregate_type TEXT    NOT NULL,
	event_type     TEXT    NOT NULL,
	schema_version INTEGER NOT NULL DEFAULT 1,
	data           BLOB    NOT NULL,
	metadata       BLOB    NOT NULL,
	version        INTEGER NOT NULL CHECK (version > 0),
	created_at     INTEGER NOT NULL,
	UNIQUE (aggregate_id, version)
);

CREATE TABLE IF NOT EXISTS snapshots (
	aggregate_id   TEXT    NOT NULL,
	aggregate_type TEXT    NOT NULL,
	version        INTEGER NOT NULL,
	state          BLOB    NOT NULL,
	created_at     INTEGER NOT NULL,
	PRIMARY KEY (aggregate_id, version)
);
`

// SQLiteEventStore is an embedded event store for development and tests.
type SQLiteEventStore struct {
	sqlDB *sql.DB
}

// OpenSQLiteEventStore opens (or creates) the database at path.
func OpenSQLiteEventStore(path string) (*SQLiteEventStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer connection keeps appends strictly serialized.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteEventStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteEventStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteEventStore) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, pending []PendingEvent, meta Metadata) ([]Event, error) {
	if err := validateAppend(aggregateID, pending); err != nil {
		return nil, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Infrastructure("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&current); err != nil {
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
		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, schema_version, data, metadata, version, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AggregateID, e.AggregateType, e.EventType, e.SchemaVersion,
			[]byte(e.Data), metaJSON, e.Version, e.Timestamp.UnixNano(),
		)
		if err != nil {
			if isSQLiteUniqueViolation(err) {
				return nil, &ConcurrencyError{AggregateID: aggregateID, ExpectedVersion: expectedVersion, ActualVersion: e.Version}
			}
			return nil, apperr.Infrastructure("insert event", err)
		}
		if e.Sequence, err = res.LastInsertId(); err != nil {
			return nil, apperr.Infrastructure("read event sequence", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Infrastructure("commit append", err)
	}
	return events, nil
}

func (s *SQLiteEventStore) GetEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE aggregate_id = ? AND version > ?
		 ORDER BY version ASC`,
		aggregateID, afterVersion,
	)
	if err != nil {
		return nil, apperr.Infrastructure("query aggregate events", err)
	}
	return scanSQLiteEvents(rows)
}

func (s *SQLiteEventStore) GetAllEvents(ctx context.Context, afterSequence int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE sequence > ?
		 ORDER BY sequence ASC
		 LIMIT ?`,
		afterSequence, limit,
	)
	if err != nil {
		return nil, apperr.Infrastructure("query all events", err)
	}
	return scanSQLiteEvents(rows)
}

func (s *SQLiteEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil || snapshot.AggregateID == "" {
		return ErrEmptyAggregateID
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		snapshot.AggregateID, snapshot.AggregateType, snapshot.Version,
		[]byte(snapshot.State), snapshot.CreatedAt.UnixNano(),
	)
	if err != nil {
		return apperr.Infrastructure("insert snapshot", err)
	}
	return nil
}

func (s *SQLiteEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var snap Snapshot
	var state []byte
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT aggregate_id, aggregate_type, version, state, created_at
		 FROM snapshots
		 WHERE aggregate_id = ?
		 ORDER BY version DESC
		 LIMIT 1`,
		aggregateID,
	).Scan(&snap.AggregateID, &snap.AggregateType, &snap.Version, &state, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infrastructure("query snapshot", err)
	}
	snap.State = json.RawMessage(state)
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	return &snap, nil
}

func scanSQLiteEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data, meta []byte
		var createdAt int64
		if err := rows.Scan(&e.Sequence, &e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.SchemaVersion, &data, &meta, &e.Version, &createdAt); err != nil {
			return nil, apperr.Infrastructure("scan event", err)
		}
		e.Data = json.RawMessage(data)
		e.Timestamp = time.Unix(0, createdAt).UTC()
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

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
