package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS actor_run_mappings (
	actor_run_id  TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	client_id     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'dispatched',
	dataset_id    TEXT,
	dispatched_at DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_receipts (
	id           TEXT PRIMARY KEY,
	actor_run_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	received_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mappings_run_id ON actor_run_mappings(run_id);
CREATE INDEX IF NOT EXISTS idx_mappings_dispatched_at ON actor_run_mappings(dispatched_at);
CREATE INDEX IF NOT EXISTS idx_receipts_actor_run_id ON webhook_receipts(actor_run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveMapping(ctx context.Context, m ActorRunMapping) error {
	now := time.Now().UTC()
	if m.DispatchedAt.IsZero() {
		m.DispatchedAt = now
	}
	if m.Status == "" {
		m.Status = "dispatched"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actor_run_mappings (actor_run_id, run_id, client_id, status, dataset_id, dispatched_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(actor_run_id) DO UPDATE SET run_id = excluded.run_id, client_id = excluded.client_id, updated_at = excluded.updated_at`,
		m.ActorRunID, m.RunID, m.ClientID, m.Status, m.DatasetID, m.DispatchedAt, now,
	)
	return eris.Wrapf(err, "sqlite: save mapping %s", m.ActorRunID)
}

func (s *SQLiteStore) GetMapping(ctx context.Context, actorRunID string) (*ActorRunMapping, error) {
	var m ActorRunMapping
	var datasetID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT actor_run_id, run_id, client_id, status, dataset_id, dispatched_at, updated_at
		 FROM actor_run_mappings WHERE actor_run_id = ?`,
		actorRunID,
	).Scan(&m.ActorRunID, &m.RunID, &m.ClientID, &m.Status, &datasetID, &m.DispatchedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get mapping %s", actorRunID)
	}
	m.DatasetID = datasetID.String
	return &m, nil
}

func (s *SQLiteStore) UpdateMapping(ctx context.Context, actorRunID, status, datasetID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE actor_run_mappings SET status = ?, dataset_id = ?, updated_at = ? WHERE actor_run_id = ?`,
		status, datasetID, time.Now().UTC(), actorRunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update mapping %s", actorRunID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: no mapping %s", actorRunID)
	}
	return nil
}

func (s *SQLiteStore) DeleteStaleMappings(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM actor_run_mappings WHERE dispatched_at < ?`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete stale mappings")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) RecordReceipt(ctx context.Context, r WebhookReceipt) error {
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_receipts (id, actor_run_id, status, outcome, received_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.ActorRunID, r.Status, r.Outcome, r.ReceivedAt,
	)
	return eris.Wrapf(err, "sqlite: record receipt %s", r.ID)
}

func (s *SQLiteStore) ListReceipts(ctx context.Context, limit int) ([]WebhookReceipt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_run_id, status, outcome, received_at FROM webhook_receipts ORDER BY received_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list receipts")
	}
	defer rows.Close()

	var out []WebhookReceipt
	for rows.Next() {
		var r WebhookReceipt
		if err := rows.Scan(&r.ID, &r.ActorRunID, &r.Status, &r.Outcome, &r.ReceivedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan receipt")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate receipts")
}
