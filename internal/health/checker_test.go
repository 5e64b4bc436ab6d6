package health_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/subsplit/subsplit/internal/health"
	"github.com/subsplit/subsplit/internal/store/sqlite"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "subsplit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCheckHealthy(t *testing.T) {
	store := openStore(t)
	checker := health.New(health.Config{DB: store.DB(), Cache: stubPinger{}})

	report := checker.Check(context.Background())
	if report.Status != health.StatusHealthy {
		t.Fatalf("status = %s, want healthy: %+v", report.Status, report.Components)
	}
	if len(report.Components) != 2 {
		t.Fatalf("components = %d, want 2", len(report.Components))
	}
}

func TestCacheFailureOnlyDegrades(t *testing.T) {
	store := openStore(t)
	checker := health.New(health.Config{DB: store.DB(), Cache: stubPinger{err: errors.New("connection refused")}})

	report := checker.Check(context.Background())
	if report.Status != health.StatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
}

func TestDatabaseFailureIsFatal(t *testing.T) {
	store := openStore(t)
	db := store.DB()
	_ = store.Close()
	checker := health.New(health.Config{DB: db})

	report := checker.Check(context.Background())
	if report.Status != health.StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", report.Status)
	}
}

func TestLastWithoutCheckReportsHealthy(t *testing.T) {
	checker := health.New(health.Config{})
	if got := checker.Last().Status; got != health.StatusHealthy {
		t.Fatalf("status = %s, want healthy", got)
	}
}
