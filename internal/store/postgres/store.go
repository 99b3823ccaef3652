// Package postgres stores completed dictation records in PostgreSQL.
//
// Each completion becomes one row of the voice_form_submissions table with
// its answers in a jsonb column. [Migrate] creates the table and is safe to
// run on every start.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dictation"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dispatch"
)

const ddlSubmissions = `
CREATE TABLE IF NOT EXISTS voice_form_submissions (
    id           BIGSERIAL   PRIMARY KEY,
    event        TEXT        NOT NULL,
    form_type    TEXT        NOT NULL,
    field_values JSONB       NOT NULL DEFAULT '{}'::jsonb,
    completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_voice_form_submissions_form_completed
    ON voice_form_submissions (form_type, completed_at DESC);
`

// Submission is a stored completion.
type Submission struct {
	ID int64
	dictation.Completion
}

// Store is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ dispatch.Recorder = (*Store)(nil)

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the submissions table and its index if they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSubmissions); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// RecordSubmission implements [dispatch.Recorder].
func (s *Store) RecordSubmission(ctx context.Context, c dictation.Completion) error {
	const q = `
		INSERT INTO voice_form_submissions (event, form_type, field_values, completed_at)
		VALUES ($1, $2, $3, $4)`

	values, err := encodeValues(c.Values)
	if err != nil {
		return fmt.Errorf("postgres store: record submission: %w", err)
	}
	completed := c.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	if _, err := s.pool.Exec(ctx, q, c.Event, c.FormType, values, completed.UTC()); err != nil {
		return fmt.Errorf("postgres store: record submission: %w", err)
	}
	return nil
}

// Recent returns up to limit submissions, newest first. An empty formType
// matches every form.
func (s *Store) Recent(ctx context.Context, formType string, limit int) ([]Submission, error) {
	const q = `
		SELECT id, event, form_type, field_values, completed_at
		FROM   voice_form_submissions
		WHERE  $1::text = '' OR form_type = $1
		ORDER  BY completed_at DESC, id DESC
		LIMIT  $2`

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, q, formType, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Submission, error) {
		var (
			sub Submission
			raw []byte
		)
		if err := row.Scan(&sub.ID, &sub.Event, &sub.FormType, &raw, &sub.CompletedAt); err != nil {
			return Submission{}, err
		}
		if err := json.Unmarshal(raw, &sub.Values); err != nil {
			return Submission{}, fmt.Errorf("decode values: %w", err)
		}
		return sub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	return out, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// encodeValues marshals answers for the jsonb column. Skipped optional
// fields stay present as JSON null.
func encodeValues(values map[string]any) ([]byte, error) {
	if values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(values)
}
