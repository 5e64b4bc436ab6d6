// Package sqlite implements all marketplace persistence on a single SQLite
// database. Balance mutations are single guarded UPDATE statements (or short
// transactions for cross-entity moves), so two concurrent callers can never
// both pass a guard and both move the same credits.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/subsplit/subsplit/internal/account"
	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/marketplace"
	"github.com/subsplit/subsplit/internal/platform"
	"github.com/subsplit/subsplit/internal/pool"
	"github.com/subsplit/subsplit/internal/pricing"
	"github.com/subsplit/subsplit/internal/usage"
)

// Store implements every domain store interface backed by SQLite.
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

// New opens (or creates) the SQLite database at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	// _time_format makes bound time.Time values round-trip through
	// TIMESTAMP columns and sort lexicographically alongside
	// CURRENT_TIMESTAMP defaults.
	db, err := sql.Open("sqlite", path+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	// SQLite allows a single writer; one connection serializes writers in
	// the pool instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health probing.
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
