package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sagas (
		id         TEXT PRIMARY KEY,
		order_id   TEXT NOT NULL,
		state      TEXT NOT NULL,
		version    INTEGER NOT NULL,
		data       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sagas_order_id_idx ON sagas (order_id)`,
}

// PostgresStore keeps each saga as a JSONB document guarded by a version column.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// NewPool opens and pings a pgx connection pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the sagas table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return apperr.Infrastructure("ensure saga schema", err)
		}
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Saga, error) {
	row := p.db.QueryRow(ctx, `SELECT data FROM sagas WHERE id = $1`, id)
	return scanSaga(row, id)
}

func (p *PostgresStore) FindByOrderID(ctx context.Context, orderID string) (Saga, error) {
	row := p.db.QueryRow(ctx, `
		SELECT data FROM sagas
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID)
	return scanSaga(row, "order "+orderID)
}

func (p *PostgresStore) Save(ctx context.Context, s *Saga) error {
	if s.ID == "" {
		return fmt.Errorf("%w: saga id is required", apperr.ErrValidation)
	}

	next := *s
	now := time.Now().UTC()
	if next.Version == 0 {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	next.Version++

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal saga: %w", err)
	}

	var tag pgconn.CommandTag
	if s.Version == 0 {
		tag, err = p.db.Exec(ctx, `
			INSERT INTO sagas (id, order_id, state, version, data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, next.ID, next.OrderID, string(next.State), next.Version, data, next.CreatedAt, next.UpdatedAt)
	} else {
		tag, err = p.db.Exec(ctx, `
			UPDATE sagas
			SET order_id = $2, state = $3, version = $4, data = $5, updated_at = $6
			WHERE id = $1 AND version = $7
		`, next.ID, next.OrderID, string(next.State), next.Version, data, next.UpdatedAt, s.Version)
	}
	if err != nil {
		return apperr.Infrastructure("save saga", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s at version %d", ErrSagaConflict, s.ID, s.Version)
	}

	*s = next
	return nil
}

func scanSaga(row pgx.Row, ref string) (Saga, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Saga{}, fmt.Errorf("%w: %s", ErrSagaNotFound, ref)
		}
		return Saga{}, apperr.Infrastructure("query saga", err)
	}

	var s Saga
	if err := json.Unmarshal(data, &s); err != nil {
		return Saga{}, apperr.Infrastructure("decode saga", err)
	}
	if s.Reserved == nil {
		s.Reserved = map[string]int{}
	}
	return s, nil
}
