// Package postgres implements all marketplace persistence on PostgreSQL.
// It mirrors the sqlite store: guarded UPDATE statements for per-entity
// balance mutations and short transactions for cross-entity moves.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/subsplit/subsplit/internal/account"
	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/marketplace"
	"github.com/subsplit/subsplit/internal/platform"
	"github.com/subsplit/subsplit/internal/pool"
	"github.com/subsplit/subsplit/internal/pricing"
	"github.com/subsplit/subsplit/internal/usage"
)

// Store implements every domain store interface backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ card.Store        = (*Store)(nil)
	_ pool.Store        = (*Store)(nil)
	_ usage.Store       = (*Store)(nil)
	_ account.Store     = (*Store)(nil)
	_ marketplace.Store = (*Store)(nil)
	_ platform.Store    = (*Store)(nil)
	_ pricing.History   = (*Store)(nil)
)

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sensible defaults for connection pooling.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// New connects to PostgreSQL with the given DSN and pool settings.
func New(dsn string, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the pool for health probing.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}
