// Package postgres persists consultation Q&A history in PostgreSQL using pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/history"
)

var _ history.Store = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS qa_exchanges (
    id              BIGSERIAL   PRIMARY KEY,
    consultation_id TEXT        NOT NULL,
    question        TEXT        NOT NULL,
    answer          TEXT        NOT NULL,
    answer_audio    BYTEA,
    audio_type      TEXT        NOT NULL DEFAULT '',
    source          TEXT        NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_qa_exchanges_consultation
    ON qa_exchanges (consultation_id, id);
`

// Migrate creates the history table if it does not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("history postgres: migrate: %w", err)
	}
	return nil
}

// Store is an insert-only PostgreSQL [history.Store].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, ex history.Exchange) error {
	if ex.ConsultationID == "" {
		return history.ErrEmptyConsultation
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO qa_exchanges
		    (consultation_id, question, answer, answer_audio, audio_type, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var audioData []byte
	if !ex.AnswerAudio.Empty() {
		audioData = ex.AnswerAudio.Data
	}
	_, err := s.pool.Exec(ctx, q,
		ex.ConsultationID,
		ex.Question,
		ex.Answer,
		audioData,
		ex.AnswerAudio.ContentType,
		string(ex.Source),
		ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history postgres: append: %w", err)
	}
	return nil
}

// List implements [history.Store].
func (s *Store) List(ctx context.Context, consultationID string) ([]history.Exchange, error) {
	const q = `
		SELECT consultation_id, question, answer, answer_audio, audio_type, source, created_at
		FROM   qa_exchanges
		WHERE  consultation_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, consultationID)
	if err != nil {
		return nil, fmt.Errorf("history postgres: list: %w", err)
	}
	defer rows.Close()

	var out []history.Exchange
	for rows.Next() {
		var (
			ex     history.Exchange
			data   []byte
			ctype  string
			source string
		)
		if err := rows.Scan(&ex.ConsultationID, &ex.Question, &ex.Answer, &data, &ctype, &source, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("history postgres: scan: %w", err)
		}
		ex.AnswerAudio = audio.Clip{Data: data, ContentType: ctype}
		ex.Source = history.Source(source)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history postgres: iterate: %w", err)
	}
	return out, nil
}
