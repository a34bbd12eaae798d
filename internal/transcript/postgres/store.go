// Package postgres implements [transcript.Store] on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinesia-ai/kinesia/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

// Store is a PostgreSQL-backed transcript store holding a single
// [pgxpool.Pool]. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies connectivity, and runs
// [Migrate] so the transcript table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate ensures the transcript schema exists. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE TABLE IF NOT EXISTS transcript_entries (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT        NOT NULL,
	speaker    TEXT        NOT NULL,
	text       TEXT        NOT NULL,
	at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transcript_entries_session_at
	ON transcript_entries (session_id, at);
`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create transcript schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, e transcript.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_entries (session_id, speaker, text, at) VALUES ($1, $2, $3, $4)`,
		e.SessionID, string(e.Speaker), e.Text, e.At,
	)
	if err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]transcript.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT session_id, speaker, text, at
FROM (
	SELECT session_id, speaker, text, at
	FROM transcript_entries
	WHERE session_id = $1
	ORDER BY at DESC
	LIMIT $2
) latest
ORDER BY at ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}
	defer rows.Close()

	var out []transcript.Entry
	for rows.Next() {
		var e transcript.Entry
		var speaker string
		if err := rows.Scan(&e.SessionID, &speaker, &e.Text, &e.At); err != nil {
			return nil, fmt.Errorf("transcript store: scan: %w", err)
		}
		e.Speaker = transcript.Speaker(speaker)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript store: rows: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping verifies database connectivity. Wired into the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("transcript store: ping: %w", err)
	}
	return nil
}
