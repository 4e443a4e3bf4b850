// Package store keeps a history of finished sessions.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence-cli/internal/config"
)

// SessionRecord is the persisted summary of one session.
type SessionRecord struct {
	ID             string    `json:"id"`
	Tag            string    `json:"tag"`
	Variant        string    `json:"variant"`
	Authenticated  bool      `json:"authenticated"`
	Reason         string    `json:"reason"`
	Budget         int       `json:"budget"`
	Applied        int       `json:"applied"`
	AlreadyApplied int       `json:"already_applied"`
	Unavailable    int       `json:"unavailable"`
	Posts          int       `json:"posts"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Recorder persists session records.
type Recorder interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
	// RecentSessions returns up to limit records, newest first.
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}

// Nop is used when no database is configured.
type Nop struct{}

func (Nop) RecordSession(context.Context, SessionRecord) error { return nil }

func (Nop) RecentSessions(context.Context, int) ([]SessionRecord, error) { return nil, nil }

func (Nop) Close() error { return nil }

// Open returns the recorder selected by cfg.Driver, with its schema in place.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "":
		return Nop{}, nil
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		return NewSQLite(ctx, cfg.URL, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
