package transcript

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL DEFAULT '',
    connection_id TEXT         NOT NULL DEFAULT '',
    text          TEXT         NOT NULL,
    received_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_received
    ON transcript_entries (session_id, received_at);
`

// Migrate creates the transcript_entries table and its index if they do not
// exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscriptEntries); err != nil {
		return fmt.Errorf("transcript: migrate: %w", err)
	}
	return nil
}

// PostgresSink stores entries in PostgreSQL. All methods are safe for
// concurrent use.
type PostgresSink struct {
	pool *pgxpool.Pool
}

var (
	_ Sink    = (*PostgresSink)(nil)
	_ Checker = (*PostgresSink)(nil)
)

// NewPostgresSink connects to dsn, verifies the connection and runs
// [Migrate].
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSink{pool: pool}, nil
}

// Append implements [Sink].
func (s *PostgresSink) Append(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO transcript_entries (session_id, connection_id, text, received_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, e.SessionID, e.ConnectionID, e.Text, e.Timestamp); err != nil {
		return fmt.Errorf("transcript: insert entry: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest entries for sessionID, oldest
// first.
func (s *PostgresSink) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	const q = `
		SELECT session_id, connection_id, text, received_at
		FROM (
		    SELECT id, session_id, connection_id, text, received_at
		    FROM   transcript_entries
		    WHERE  session_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) newest
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.ConnectionID, &e.Text, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("transcript: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: iterate entries: %w", err)
	}
	return out, nil
}

// Check implements [Checker] by pinging the database.
func (s *PostgresSink) Check(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("transcript: ping: %w", err)
	}
	return nil
}

// Close implements [Sink] and releases the connection pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
