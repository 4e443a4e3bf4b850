package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// timeLayout sorts lexically in the same order as the instants it encodes.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		tag TEXT NOT NULL,
		variant TEXT NOT NULL,
		authenticated INTEGER NOT NULL,
		reason TEXT NOT NULL,
		budget INTEGER NOT NULL,
		applied INTEGER NOT NULL,
		already_applied INTEGER NOT NULL,
		unavailable INTEGER NOT NULL,
		posts INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	`

	sqliteUpsertSession = `
	INSERT INTO sessions (id, tag, variant, authenticated, reason, budget, applied, already_applied, unavailable, posts, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		reason = excluded.reason,
		applied = excluded.applied,
		already_applied = excluded.already_applied,
		unavailable = excluded.unavailable,
		posts = excluded.posts,
		error = excluded.error,
		finished_at = excluded.finished_at
	`

	sqliteRecentSessions = `
	SELECT id, tag, variant, authenticated, reason, budget, applied, already_applied, unavailable, posts, error, started_at, finished_at
	FROM sessions
	ORDER BY started_at DESC
	LIMIT ?
	`
)

// SQLiteStore records sessions in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLiteStore{db: db, log: logger.Named("store")}
	s.log.Info("SQLite session store initialized.", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) RecordSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsertSession,
		rec.ID, rec.Tag, rec.Variant, rec.Authenticated, rec.Reason,
		rec.Budget, rec.Applied, rec.AlreadyApplied, rec.Unavailable, rec.Posts,
		rec.Error, rec.StartedAt.UTC().Format(timeLayout), rec.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.ID, err)
	}
	s.log.Debug("Session recorded.", zap.String("session_id", rec.ID))
	return nil
}

func (s *SQLiteStore) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteRecentSessions, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r                 SessionRecord
			started, finished string
		)
		if err := rows.Scan(
			&r.ID, &r.Tag, &r.Variant, &r.Authenticated, &r.Reason,
			&r.Budget, &r.Applied, &r.AlreadyApplied, &r.Unavailable, &r.Posts,
			&r.Error, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("failed to scan session row %s: started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("failed to scan session row %s: finished_at: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
