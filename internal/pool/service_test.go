package pool_test

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/account"
	"github.com/subsplit/subsplit/internal/pool"
	"github.com/subsplit/subsplit/internal/store/sqlite"
)

type fixture struct {
	store   *sqlite.Store
	svc     *pool.Service
	owner   uuid.UUID
	acct    uuid.UUID
	acct2   uuid.UUID
	member  uuid.UUID
	member2 uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "subsplit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc := pool.NewService(store)
	svc.SetLogger(log.New(io.Discard, "", 0))

	f := &fixture{store: store, svc: svc, owner: uuid.New(), acct: uuid.New(), acct2: uuid.New(), member: uuid.New(), member2: uuid.New()}
	ctx := context.Background()
	now := time.Now().UTC()
	for _, u := range []account.User{
		{ID: f.owner, Email: "owner@example.com", CreatedAt: now, UpdatedAt: now},
		{ID: f.member, Email: "member@example.com", CreatedAt: now, UpdatedAt: now},
		{ID: f.member2, Email: "member2@example.com", CreatedAt: now, UpdatedAt: now},
	} {
		if err := store.InsertUser(ctx, u); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	for i, id := range []uuid.UUID{f.acct, f.acct2} {
		if err := store.InsertPlatformAccount(ctx, account.PlatformAccount{
			ID: id, UserID: f.owner, Platform: "claude",
			Email: "owner@example.com", Status: account.AccountActive,
			AvailableCredits: 200, TotalCredits: 200, AllowPooling: true,
			CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		}); err != nil {
			t.Fatalf("insert account: %v", err)
		}
	}
	return f
}

func (f *fixture) createPool(t *testing.T, threshold, refill float64) pool.Pool {
	t.Helper()
	p, err := f.svc.Create(context.Background(), pool.CreateParams{
		OwnerID: f.owner, Platform: "claude", Name: "shared",
		MinContribution: 5, MaxContribution: 100,
		AutoRefillThreshold: threshold, AutoRefillAmount: refill,
		IsPublic: true,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return p
}

func TestCreateRejectsInvertedBounds(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), pool.CreateParams{
		OwnerID: f.owner, Platform: "claude", Name: "bad",
		MinContribution: 50, MaxContribution: 10,
	})
	if !errors.Is(err, pool.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestContributionRangeEnforced(t *testing.T) {
	f := newFixture(t)
	p := f.createPool(t, 10, 20)
	ctx := context.Background()

	if _, err := f.svc.Contribute(ctx, p.ID, f.acct, f.owner, 4, pool.ContributionManual); !errors.Is(err, pool.ErrAmountOutOfRange) {
		t.Fatalf("below min err = %v, want ErrAmountOutOfRange", err)
	}
	if _, err := f.svc.Contribute(ctx, p.ID, f.acct, f.owner, 101, pool.ContributionManual); !errors.Is(err, pool.ErrAmountOutOfRange) {
		t.Fatalf("above max err = %v, want ErrAmountOutOfRange", err)
	}
	if _, err := f.svc.Contribute(ctx, p.ID, f.acct, f.owner, 50, pool.ContributionManual); err != nil {
		t.Fatalf("valid contribution: %v", err)
	}

	got, err := f.store.GetPool(ctx, p.ID)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if got.TotalContributed != 50 || got.CurrentBalance != 50 || got.AvailableBalance != 50 {
		t.Fatalf("pool balances after contribution: %+v", got)
	}
}

func TestSessionReservationScenario(t *testing.T) {
	f := newFixture(t)
	p := f.createPool(t, 10, 20)
	ctx := context.Background()

	if _, err := f.svc.Contribute(ctx, p.ID, f.acct, f.owner, 50, pool.ContributionManual); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	// 50 available: a 30 reservation succeeds, a second 30 does not.
	if _, err := f.svc.CreateSession(ctx, p.ID, f.member, 30, 1); err != nil {
		t.Fatalf("first session: %v", err)
	}
	_, err := f.svc.CreateSession(ctx, p.ID, f.member2, 30, 1)
	if !errors.Is(err, pool.ErrInsufficientPoolBalance) {
		t.Fatalf("second session err = %v, want ErrInsufficientPoolBalance", err)
	}
}

func TestCompleteReleasesOnlyOnce(t *testing.T) {
	f := newFixture(t)
	p := f.createPool(t, 10, 20)
	ctx := context.Background()

	if _, err := f.svc.Contribute(ctx, p.ID, f.acct, f.owner, 50, pool.ContributionManual); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	sess, err := f.svc.CreateSession(ctx, p.ID, f.member, 20, 1)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := f.svc.UseSession(ctx, sess.ID, 7); err != nil {
		t.Fatalf("use: %v", err)
	}

	done, err := f.svc.CompleteSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != pool.SessionCompleted {
		t.Fatalf("status = %q", done.Status)
	}

	if _, err := f.svc.CompleteSession(ctx, sess.ID); !errors.Is(err, pool.ErrSessionNotActive) {
		t.Fatalf("second complete err = %v, want ErrSessionNotActive", err)
	}

	got, _ := f.store.GetPool(ctx, p.ID)
	if got.CurrentBalance != 43 || got.AvailableBalance != 43 {
		t.Fatalf("pool after single release: current=%.2f available=%.2f", got.CurrentBalance, got.AvailableBalance)
	}
}

func TestOverdraftGuard(t *testing.T) {
	f := newFixture(t)
	p := f.createPool(t, 10, 20)
	ctx := context.Background()

	if _, err := f.svc.Contribute(ctx, p.ID, f.acct, f.owner, 50, pool.ContributionManual); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	sess, err := f.svc.CreateSession(ctx, p.ID, f.member, 10, 1)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := f.svc.UseSession(ctx, sess.ID, 11); !errors.Is(err, pool.ErrAllocationExceeded) {
		t.Fatalf("overdraft err = %v, want ErrAllocationExceeded", err)
	}
	if _, err := f.svc.UseSession(ctx, sess.ID, -1); !errors.Is(err, pool.ErrInvalidAmount) {
		t.Fatalf("negative err = %v, want ErrInvalidAmount", err)
	}
}

func TestAutoRefillPullsFromDistinctAccounts(t *testing.T) {
	f := newFixture(t)
	p := f.createPool(t, 100, 10)
	ctx := context.Background()

	// Two accounts contribute, one of them twice; refill pulls once per
	// distinct account.
	for _, acct := range []uuid.UUID{f.acct, f.acct, f.acct2} {
		if _, err := f.svc.Contribute(ctx, p.ID, acct, f.owner, 10, pool.ContributionManual); err != nil {
			t.Fatalf("contribute: %v", err)
		}
	}

	res, err := f.svc.AutoRefill(ctx, p.ID)
	if err != nil {
		t.Fatalf("auto refill: %v", err)
	}
	if !res.Needed {
		t.Fatal("refill should be needed below threshold")
	}
	if res.Contributors != 2 || res.Refilled != 20 {
		t.Fatalf("refill = %+v, want 2 contributors / 20 refilled", res)
	}

	got, _ := f.store.GetPool(ctx, p.ID)
	if got.CurrentBalance != 50 {
		t.Fatalf("balance after refill = %.2f, want 50", got.CurrentBalance)
	}
}

func TestAutoRefillSkippedAboveThreshold(t *testing.T) {
	f := newFixture(t)
	p := f.createPool(t, 10, 20)
	ctx := context.Background()

	if _, err := f.svc.Contribute(ctx, p.ID, f.acct, f.owner, 50, pool.ContributionManual); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	res, err := f.svc.AutoRefill(ctx, p.ID)
	if err != nil {
		t.Fatalf("auto refill: %v", err)
	}
	if res.Needed || res.Refilled != 0 {
		t.Fatalf("refill above threshold = %+v, want not needed", res)
	}
}

func TestExpireSessionsReleasesUnused(t *testing.T) {
	f := newFixture(t)
	p := f.createPool(t, 10, 20)
	ctx := context.Background()

	if _, err := f.svc.Contribute(ctx, p.ID, f.acct, f.owner, 50, pool.ContributionManual); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	sess, err := f.svc.CreateSession(ctx, p.ID, f.member, 20, 1)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := f.svc.UseSession(ctx, sess.ID, 5); err != nil {
		t.Fatalf("use: %v", err)
	}

	f.svc.SetClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })
	n, err := f.svc.ExpireSessions(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}

	got, _ := f.store.GetPool(ctx, p.ID)
	if got.CurrentBalance != 45 || got.AvailableBalance != 45 || got.ActiveSessions != 0 {
		t.Fatalf("pool after expiry: %+v", got)
	}
}
