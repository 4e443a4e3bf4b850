package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so it can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

const (
	pgSchema = `
        CREATE TABLE IF NOT EXISTS sessions (
            id TEXT PRIMARY KEY,
            tag TEXT NOT NULL,
            variant TEXT NOT NULL,
            authenticated BOOLEAN NOT NULL,
            reason TEXT NOT NULL,
            budget INTEGER NOT NULL,
            applied INTEGER NOT NULL,
            already_applied INTEGER NOT NULL,
            unavailable INTEGER NOT NULL,
            posts INTEGER NOT NULL,
            error TEXT NOT NULL DEFAULT '',
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions (started_at DESC);
    `

	pgUpsertSession = `
        INSERT INTO sessions (id, tag, variant, authenticated, reason, budget, applied, already_applied, unavailable, posts, error, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (id) DO UPDATE SET
            reason = EXCLUDED.reason,
            applied = EXCLUDED.applied,
            already_applied = EXCLUDED.already_applied,
            unavailable = EXCLUDED.unavailable,
            posts = EXCLUDED.posts,
            error = EXCLUDED.error,
            finished_at = EXCLUDED.finished_at;
    `

	pgRecentSessions = `
        SELECT id, tag, variant, authenticated, reason, budget, applied, already_applied, unavailable, posts, error, started_at, finished_at
        FROM sessions
        ORDER BY started_at DESC
        LIMIT $1;
    `
)

// Store records sessions in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the sessions table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) RecordSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.pool.Exec(ctx, pgUpsertSession,
		rec.ID, rec.Tag, rec.Variant, rec.Authenticated, rec.Reason,
		rec.Budget, rec.Applied, rec.AlreadyApplied, rec.Unavailable, rec.Posts,
		rec.Error, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.ID, err)
	}
	s.log.Debug("Session recorded.", zap.String("session_id", rec.ID))
	return nil
}

func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.pool.Query(ctx, pgRecentSessions, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(
			&r.ID, &r.Tag, &r.Variant, &r.Authenticated, &r.Reason,
			&r.Budget, &r.Applied, &r.AlreadyApplied, &r.Unavailable, &r.Posts,
			&r.Error, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
