package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the store uses, satisfied by pgxmock
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS actor_run_mappings (
	actor_run_id  TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	client_id     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'dispatched',
	dataset_id    TEXT,
	dispatched_at TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_receipts (
	id           TEXT PRIMARY KEY,
	actor_run_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	received_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mappings_run_id ON actor_run_mappings(run_id);
CREATE INDEX IF NOT EXISTS idx_mappings_dispatched_at ON actor_run_mappings(dispatched_at);
CREATE INDEX IF NOT EXISTS idx_receipts_actor_run_id ON webhook_receipts(actor_run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveMapping(ctx context.Context, m ActorRunMapping) error {
	now := time.Now().UTC()
	if m.DispatchedAt.IsZero() {
		m.DispatchedAt = now
	}
	if m.Status == "" {
		m.Status = "dispatched"
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO actor_run_mappings (actor_run_id, run_id, client_id, status, dataset_id, dispatched_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (actor_run_id) DO UPDATE SET run_id = EXCLUDED.run_id, client_id = EXCLUDED.client_id, updated_at = EXCLUDED.updated_at`,
		m.ActorRunID, m.RunID, m.ClientID, m.Status, m.DatasetID, m.DispatchedAt, now,
	)
	return eris.Wrapf(err, "postgres: save mapping %s", m.ActorRunID)
}

func (s *PostgresStore) GetMapping(ctx context.Context, actorRunID string) (*ActorRunMapping, error) {
	var m ActorRunMapping
	var datasetID *string
	err := s.pool.QueryRow(ctx,
		`SELECT actor_run_id, run_id, client_id, status, dataset_id, dispatched_at, updated_at
		 FROM actor_run_mappings WHERE actor_run_id = $1`,
		actorRunID,
	).Scan(&m.ActorRunID, &m.RunID, &m.ClientID, &m.Status, &datasetID, &m.DispatchedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get mapping %s", actorRunID)
	}
	if datasetID != nil {
		m.DatasetID = *datasetID
	}
	return &m, nil
}

func (s *PostgresStore) UpdateMapping(ctx context.Context, actorRunID, status, datasetID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE actor_run_mappings SET status = $1, dataset_id = $2, updated_at = $3 WHERE actor_run_id = $4`,
		status, datasetID, time.Now().UTC(), actorRunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update mapping %s", actorRunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: no mapping %s", actorRunID)
	}
	return nil
}

func (s *PostgresStore) DeleteStaleMappings(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM actor_run_mappings WHERE dispatched_at < $1`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete stale mappings")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RecordReceipt(ctx context.Context, r WebhookReceipt) error {
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_receipts (id, actor_run_id, status, outcome, received_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.ActorRunID, r.Status, r.Outcome, r.ReceivedAt,
	)
	return eris.Wrapf(err, "postgres: record receipt %s", r.ID)
}

func (s *PostgresStore) ListReceipts(ctx context.Context, limit int) ([]WebhookReceipt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, actor_run_id, status, outcome, received_at FROM webhook_receipts ORDER BY received_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list receipts")
	}
	defer rows.Close()

	var out []WebhookReceipt
	for rows.Next() {
		var r WebhookReceipt
		if err := rows.Scan(&r.ID, &r.ActorRunID, &r.Status, &r.Outcome, &r.ReceivedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan receipt")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate receipts")
}
