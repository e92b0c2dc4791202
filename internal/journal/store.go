package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the session_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id          BIGSERIAL PRIMARY KEY,
	instance_id TEXT        NOT NULL,
	session_id  UUID        NOT NULL,
	conn_id     TEXT        NOT NULL,
	kind        TEXT        NOT NULL,
	reconnect   BOOLEAN     NOT NULL DEFAULT FALSE,
	error       TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS session_events_session_idx ON session_events (session_id, occurred_at);
`

const insertEntry = `
	INSERT INTO session_events (instance_id, session_id, conn_id, kind, reconnect, error, occurred_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
`

// PGStore writes entries with pgx batches.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps a pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// EnsureSchema creates the table and index if missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create session_events: %w", err)
	}
	return nil
}

// Insert writes entries in one round trip.
func (s *PGStore) Insert(ctx context.Context, entries []Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertEntry, e.Instance, e.SessionID, e.ConnID, e.Kind, e.Reconnect, e.Error, e.At)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert session event: %w", err)
		}
	}
	return nil
}

// Ping checks the database.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
