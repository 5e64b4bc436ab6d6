package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/account"
	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/marketplace"
	"github.com/subsplit/subsplit/internal/platform"
	"github.com/subsplit/subsplit/internal/pool"
	"github.com/subsplit/subsplit/internal/usage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "subsplit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, balance float64) account.User {
	t.Helper()
	now := time.Now().UTC()
	u := account.User{
		ID:        uuid.New(),
		Email:     fmt.Sprintf("%s@example.com", uuid.NewString()[:8]),
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return u
}

func seedAccount(t *testing.T, s *Store, userID uuid.UUID, credits float64) account.PlatformAccount {
	t.Helper()
	now := time.Now().UTC()
	a := account.PlatformAccount{
		ID:               uuid.New(),
		UserID:           userID,
		Platform:         string(account.PlatformClaude),
		Email:            fmt.Sprintf("%s@example.com", uuid.NewString()[:8]),
		Status:           account.AccountActive,
		AvailableCredits: credits,
		TotalCredits:     credits,
		AllowPooling:     true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.InsertPlatformAccount(context.Background(), a); err != nil {
		t.Fatalf("insert platform account: %v", err)
	}
	return a
}

func seedCard(t *testing.T, s *Store, sellerID, acctID uuid.UUID, balance float64) card.Card {
	t.Helper()
	now := time.Now().UTC()
	c := card.Card{
		ID:                uuid.New(),
		Number:            "4" + uuid.NewString()[:15],
		CVV:               "123",
		SellerID:          sellerID,
		PlatformAccountID: acctID,
		Platform:          string(account.PlatformClaude),
		InitialBalance:    balance,
		CurrentBalance:    balance,
		BasePrice:         10,
		CurrentPrice:      10,
		DemandMultiplier:  1.0,
		Status:            card.StatusActive,
		CreatedAt:         now,
		ExpiresAt:         now.Add(24 * time.Hour),
	}
	if err := s.Insert(context.Background(), c); err != nil {
		t.Fatalf("insert card: %v", err)
	}
	return c
}

func seedPool(t *testing.T, s *Store, ownerID uuid.UUID) pool.Pool {
	t.Helper()
	now := time.Now().UTC()
	p := pool.Pool{
		ID:                  uuid.New(),
		OwnerID:             ownerID,
		Platform:            string(account.PlatformClaude),
		Name:                "test pool",
		MinContribution:     1,
		MaxContribution:     100,
		AutoRefillThreshold: 5,
		AutoRefillAmount:    10,
		Status:              pool.StatusActive,
		IsPublic:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.InsertPool(context.Background(), p); err != nil {
		t.Fatalf("insert pool: %v", err)
	}
	return p
}

func contribute(t *testing.T, s *Store, p pool.Pool, acct account.PlatformAccount, userID uuid.UUID, amount float64) {
	t.Helper()
	c := pool.Contribution{
		ID:                uuid.New(),
		PoolID:            p.ID,
		PlatformAccountID: acct.ID,
		ContributorID:     userID,
		Amount:            amount,
		Type:              pool.ContributionManual,
		Status:            pool.ContributionActive,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.Contribute(context.Background(), c); err != nil {
		t.Fatalf("contribute: %v", err)
	}
}

func TestChargeConservesBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)
	c := seedCard(t, s, u.ID, a.ID, 10)

	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		if _, err := s.Charge(ctx, c.ID, 2.5, now); err != nil {
			t.Fatalf("charge %d: %v", i, err)
		}
	}
	got, err := s.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if got.CurrentBalance+got.TotalCharged != got.InitialBalance {
		t.Fatalf("balance not conserved: current=%v charged=%v initial=%v",
			got.CurrentBalance, got.TotalCharged, got.InitialBalance)
	}
	if got.Status != card.StatusDepleted {
		t.Fatalf("expected depleted after draining, got %s", got.Status)
	}
	if got.UsageCount != 4 {
		t.Fatalf("expected usage count 4, got %d", got.UsageCount)
	}

	if _, err := s.Charge(ctx, c.ID, 1, now); !errors.Is(err, card.ErrNotUsable) {
		t.Fatalf("expected ErrNotUsable on depleted card, got %v", err)
	}
}

func TestChargeConcurrentNoDoubleSpend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)
	c := seedCard(t, s, u.ID, a.ID, 10)

	const workers = 25
	now := time.Now().UTC()
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Charge(ctx, c.ID, 1, now); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful unit charges, got %d", succeeded)
	}
	got, err := s.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if got.CurrentBalance != 0 {
		t.Fatalf("expected zero balance, got %v", got.CurrentBalance)
	}
	if got.Status != card.StatusDepleted {
		t.Fatalf("expected depleted, got %s", got.Status)
	}
}

func TestChargeGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)

	c := seedCard(t, s, u.ID, a.ID, 5)
	if _, err := s.Charge(ctx, c.ID, 6, time.Now().UTC()); !errors.Is(err, card.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Past expiry the guard refuses even with balance left.
	future := time.Now().UTC().Add(48 * time.Hour)
	if _, err := s.Charge(ctx, c.ID, 1, future); !errors.Is(err, card.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	if _, err := s.Charge(ctx, uuid.New(), 1, time.Now().UTC()); !errors.Is(err, card.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)
	c := seedCard(t, s, u.ID, a.ID, 5)

	ok, err := s.Transition(ctx, c.ID, card.StatusActive, card.StatusSuspended)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	// Guard misses once the stored status moved on.
	ok, err = s.Transition(ctx, c.ID, card.StatusActive, card.StatusCancelled)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if ok {
		t.Fatal("expected guard to miss on stale from-status")
	}
}

func TestContributeMovesCredits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 50)
	p := seedPool(t, s, u.ID)

	contribute(t, s, p, a, u.ID, 20)

	gotPool, err := s.GetPool(ctx, p.ID)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if gotPool.CurrentBalance != 20 || gotPool.AvailableBalance != 20 || gotPool.TotalContributed != 20 {
		t.Fatalf("pool balances wrong: %+v", gotPool)
	}
	gotAcct, err := s.GetPlatformAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if gotAcct.AvailableCredits != 30 || gotAcct.CreditsUsed != 20 {
		t.Fatalf("account credits wrong: available=%v used=%v", gotAcct.AvailableCredits, gotAcct.CreditsUsed)
	}

	// Overdrawing the source leaves everything untouched.
	err = s.Contribute(ctx, pool.Contribution{
		ID: uuid.New(), PoolID: p.ID, PlatformAccountID: a.ID, ContributorID: u.ID,
		Amount: 31, Type: pool.ContributionManual, Status: pool.ContributionActive,
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, pool.ErrInsufficientSourceCredits) {
		t.Fatalf("expected ErrInsufficientSourceCredits, got %v", err)
	}
	gotPool, _ = s.GetPool(ctx, p.ID)
	if gotPool.TotalContributed != 20 {
		t.Fatalf("failed contribution leaked into pool: %+v", gotPool)
	}
}

func TestAllocateSessionReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)
	p := seedPool(t, s, u.ID)
	contribute(t, s, p, a, u.ID, 30)

	now := time.Now().UTC()
	sess := pool.Session{
		ID: uuid.New(), PoolID: p.ID, UserID: u.ID, Token: uuid.NewString(),
		AllocatedAmount: 25, Status: pool.SessionActive,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.AllocateSession(ctx, sess); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	gotPool, _ := s.GetPool(ctx, p.ID)
	if gotPool.AvailableBalance != 5 || gotPool.CurrentBalance != 30 {
		t.Fatalf("reservation wrong: available=%v current=%v", gotPool.AvailableBalance, gotPool.CurrentBalance)
	}
	if gotPool.ActiveSessions != 1 || gotPool.TotalSessions != 1 {
		t.Fatalf("session counters wrong: %+v", gotPool)
	}

	// The remaining 5 cannot back a 6-credit session.
	err := s.AllocateSession(ctx, pool.Session{
		ID: uuid.New(), PoolID: p.ID, UserID: u.ID, Token: uuid.NewString(),
		AllocatedAmount: 6, Status: pool.SessionActive,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	if !errors.Is(err, pool.ErrInsufficientPoolBalance) {
		t.Fatalf("expected ErrInsufficientPoolBalance, got %v", err)
	}
}

func TestUseSessionConcurrentBurst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)
	p := seedPool(t, s, u.ID)
	contribute(t, s, p, a, u.ID, 50)

	now := time.Now().UTC()
	sess := pool.Session{
		ID: uuid.New(), PoolID: p.ID, UserID: u.ID, Token: uuid.NewString(),
		AllocatedAmount: 10, Status: pool.SessionActive,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.AllocateSession(ctx, sess); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	const workers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.UseSession(ctx, sess.ID, 1, now); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 unit uses against allocation 10, got %d", succeeded)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.UsedAmount != 10 {
		t.Fatalf("expected used 10, got %v", got.UsedAmount)
	}
	gotPool, _ := s.GetPool(ctx, p.ID)
	if gotPool.CurrentBalance != 40 || gotPool.TotalUsed != 10 {
		t.Fatalf("pool consumption wrong: current=%v used=%v", gotPool.CurrentBalance, gotPool.TotalUsed)
	}
}

func TestCompleteSessionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)
	p := seedPool(t, s, u.ID)
	contribute(t, s, p, a, u.ID, 30)

	now := time.Now().UTC()
	sess := pool.Session{
		ID: uuid.New(), PoolID: p.ID, UserID: u.ID, Token: uuid.NewString(),
		AllocatedAmount: 20, Status: pool.SessionActive,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.AllocateSession(ctx, sess); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := s.UseSession(ctx, sess.ID, 7, now); err != nil {
		t.Fatalf("use: %v", err)
	}

	done, err := s.CompleteSession(ctx, sess.ID, now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != pool.SessionCompleted || done.CompletedAt == nil {
		t.Fatalf("completion not recorded: %+v", done)
	}
	gotPool, _ := s.GetPool(ctx, p.ID)
	// 30 contributed, 20 reserved, 7 burned, 13 released back.
	if gotPool.AvailableBalance != 23 || gotPool.CurrentBalance != 23 {
		t.Fatalf("release wrong: available=%v current=%v", gotPool.AvailableBalance, gotPool.CurrentBalance)
	}
	if gotPool.ActiveSessions != 0 {
		t.Fatalf("active sessions not decremented: %+v", gotPool)
	}

	if _, err := s.CompleteSession(ctx, sess.ID, now); !errors.Is(err, pool.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive on repeat completion, got %v", err)
	}
	gotPool, _ = s.GetPool(ctx, p.ID)
	if gotPool.AvailableBalance != 23 {
		t.Fatalf("repeat completion re-credited the pool: %+v", gotPool)
	}
}

func TestExpireSessionsReleasesAllocations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)
	p := seedPool(t, s, u.ID)
	contribute(t, s, p, a, u.ID, 30)

	now := time.Now().UTC()
	sess := pool.Session{
		ID: uuid.New(), PoolID: p.ID, UserID: u.ID, Token: uuid.NewString(),
		AllocatedAmount: 10, Status: pool.SessionActive,
		CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	if err := s.AllocateSession(ctx, sess); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	expired, err := s.ExpireSessions(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].Status != pool.SessionExpired {
		t.Fatalf("unexpected expiry result: %+v", expired)
	}
	gotPool, _ := s.GetPool(ctx, p.ID)
	if gotPool.AvailableBalance != 30 || gotPool.ActiveSessions != 0 {
		t.Fatalf("expiry did not release allocation: %+v", gotPool)
	}

	if _, err := s.UseSession(ctx, sess.ID, 1, now.Add(3*time.Minute)); !errors.Is(err, pool.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive after expiry, got %v", err)
	}
}

func TestPurchaseAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seller := seedUser(t, s, 0)
	poor := seedUser(t, s, 3)
	buyer := seedUser(t, s, 50)
	a := seedAccount(t, s, seller.ID, 100)
	c := seedCard(t, s, seller.ID, a.ID, 10) // current_price 10

	now := time.Now().UTC()
	if _, _, err := s.Purchase(ctx, poor.ID, c.ID, 1, now); !errors.Is(err, marketplace.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	// The failed purchase must leave no trace.
	gotCard, _ := s.GetByID(ctx, c.ID)
	if gotCard.BuyerID != nil {
		t.Fatal("failed purchase assigned a buyer")
	}
	gotPoor, _ := s.GetUser(ctx, poor.ID)
	if gotPoor.Balance != 3 {
		t.Fatalf("failed purchase touched buyer balance: %v", gotPoor.Balance)
	}

	tx, bought, err := s.Purchase(ctx, buyer.ID, c.ID, 1, now)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if bought.BuyerID == nil || *bought.BuyerID != buyer.ID {
		t.Fatalf("buyer not assigned: %+v", bought)
	}
	if tx.Amount != 10 {
		t.Fatalf("expected amount 10, got %v", tx.Amount)
	}
	gotBuyer, _ := s.GetUser(ctx, buyer.ID)
	if gotBuyer.Balance != 40 || gotBuyer.TotalSpent != 10 {
		t.Fatalf("buyer money wrong: balance=%v spent=%v", gotBuyer.Balance, gotBuyer.TotalSpent)
	}
	gotSeller, _ := s.GetUser(ctx, seller.ID)
	if gotSeller.Balance != 10 || gotSeller.TotalEarned != 10 {
		t.Fatalf("seller money wrong: balance=%v earned=%v", gotSeller.Balance, gotSeller.TotalEarned)
	}

	if _, _, err := s.Purchase(ctx, buyer.ID, c.ID, 1, now); !errors.Is(err, card.ErrAlreadyPurchased) {
		t.Fatalf("expected ErrAlreadyPurchased, got %v", err)
	}

	purchases, err := s.ListPurchases(ctx, buyer.ID)
	if err != nil || len(purchases) != 1 {
		t.Fatalf("purchases: %v %v", purchases, err)
	}
	sales, err := s.ListSales(ctx, seller.ID)
	if err != nil || len(sales) != 1 {
		t.Fatalf("sales: %v %v", sales, err)
	}
}

func TestPurchaseMissingSellerRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seller := seedUser(t, s, 0)
	buyer := seedUser(t, s, 50)
	a := seedAccount(t, s, seller.ID, 100)
	c := seedCard(t, s, seller.ID, a.ID, 10)

	// The FK on seller_id normally makes this unreachable; drop it here
	// so the credit guard is exercised on its own.
	if _, err := s.DB().Exec(`PRAGMA foreign_keys = OFF`); err != nil {
		t.Fatalf("disable fk: %v", err)
	}
	if _, err := s.DB().Exec(`DELETE FROM users WHERE id = ?`, seller.ID.String()); err != nil {
		t.Fatalf("delete seller: %v", err)
	}

	if _, _, err := s.Purchase(ctx, buyer.ID, c.ID, 1, time.Now().UTC()); err == nil {
		t.Fatal("expected purchase against a missing seller to fail")
	}
	gotCard, err := s.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if gotCard.BuyerID != nil {
		t.Fatal("failed purchase assigned a buyer")
	}
	gotBuyer, err := s.GetUser(ctx, buyer.ID)
	if err != nil {
		t.Fatalf("get buyer: %v", err)
	}
	if gotBuyer.Balance != 50 {
		t.Fatalf("failed purchase touched buyer balance: %v", gotBuyer.Balance)
	}
}

func TestListAvailableFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)
	seedCard(t, s, u.ID, a.ID, 10)
	cheap := seedCard(t, s, u.ID, a.ID, 3)
	if err := s.UpdatePricing(ctx, cheap.ID, 4, 0.8); err != nil {
		t.Fatalf("update pricing: %v", err)
	}

	listings, err := s.ListAvailable(ctx, marketplace.Filter{MaxPrice: 5, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listings) != 1 || listings[0].CardID != cheap.ID {
		t.Fatalf("filter missed: %+v", listings)
	}
	if listings[0].CurrentPrice != 4 {
		t.Fatalf("price not updated in listing: %v", listings[0].CurrentPrice)
	}
}

func TestRecordBumpsAccessSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 50)
	seller := seedUser(t, s, 0)
	a := seedAccount(t, s, seller.ID, 100)
	c := seedCard(t, s, seller.ID, a.ID, 10)

	now := time.Now().UTC()
	sessID := uuid.New()
	err := s.InsertAccessSession(ctx, accessSessionFixture(sessID, u.ID, c.ID, a.ID, now))
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}

	e := usage.Entry{
		ID: uuid.New(), SessionID: sessID, CardID: c.ID, UserID: u.ID,
		Platform: c.Platform, RequestType: "chat",
		BaseCost: 2, ActualCost: 2.4, CostMultiplier: 1.2,
		Success: true, CreatedAt: now,
	}
	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("record: %v", err)
	}

	sess, err := s.GetAccessSession(ctx, sessID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.TotalUsage != 2.4 || sess.RequestCount != 1 || sess.LastRequestAt == nil {
		t.Fatalf("session counters not bumped: %+v", sess)
	}

	n, err := s.CountSince(ctx, c.Platform, now.Add(-time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("count since: n=%d err=%v", n, err)
	}
	entries, err := s.ListRecentByCard(ctx, c.ID, 10)
	if err != nil || len(entries) != 1 || entries[0].ActualCost != 2.4 {
		t.Fatalf("list by card: %v %v", entries, err)
	}
}

func accessSessionFixture(id, buyerID, cardID, acctID uuid.UUID, now time.Time) platform.Session {
	return platform.Session{
		ID:                id,
		BuyerID:           buyerID,
		CardID:            cardID,
		PlatformAccountID: acctID,
		Platform:          account.PlatformClaude,
		Token:             uuid.NewString(),
		Status:            platform.SessionActive,
		StartedAt:         now,
		ExpiresAt:         now.Add(time.Hour),
	}
}

func TestTerminateSessionOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	buyer := seedUser(t, s, 50)
	seller := seedUser(t, s, 0)
	a := seedAccount(t, s, seller.ID, 100)
	c := seedCard(t, s, seller.ID, a.ID, 10)

	now := time.Now().UTC()
	sessID := uuid.New()
	if err := s.InsertAccessSession(ctx, accessSessionFixture(sessID, buyer.ID, c.ID, a.ID, now)); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	changed, err := s.TerminateAccessSession(ctx, sessID, platform.SessionTerminated, now)
	if err != nil || !changed {
		t.Fatalf("first terminate: changed=%v err=%v", changed, err)
	}
	changed, err = s.TerminateAccessSession(ctx, sessID, platform.SessionExpired, now)
	if err != nil {
		t.Fatalf("second terminate: %v", err)
	}
	if changed {
		t.Fatal("terminate on finished session should be a no-op")
	}
	sess, _ := s.GetAccessSession(ctx, sessID)
	if sess.Status != platform.SessionTerminated || sess.TerminatedAt == nil {
		t.Fatalf("terminal state wrong: %+v", sess)
	}

	sessions, err := s.ListAccessSessionsByBuyer(ctx, buyer.ID)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("list sessions: %v %v", sessions, err)
	}
}

func TestAdjustBalanceGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 10)

	if err := s.AdjustBalance(ctx, u.ID, -15); !errors.Is(err, account.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := s.AdjustBalance(ctx, u.ID, -10); err != nil {
		t.Fatalf("exact debit: %v", err)
	}
	if err := s.AdjustBalance(ctx, u.ID, 5); err != nil {
		t.Fatalf("credit: %v", err)
	}
	got, _ := s.GetUser(ctx, u.ID)
	if got.Balance != 5 || got.TotalSpent != 10 || got.TotalEarned != 5 {
		t.Fatalf("totals wrong: %+v", got)
	}
}

func TestPriceHistoryFeedsSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, 0)
	a := seedAccount(t, s, u.ID, 100)
	c := seedCard(t, s, u.ID, a.ID, 10)

	for _, price := range []float64{11, 12, 13} {
		if err := s.UpdatePricing(ctx, c.ID, price, 1.1); err != nil {
			t.Fatalf("update pricing to %v: %v", price, err)
		}
	}
	series, err := s.PriceSeries(ctx, c.Platform, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("price series: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("expected 3 points, got %d", len(series))
	}
	if series[2].Price != 13 || series[2].BasePrice != 10 {
		t.Fatalf("last point wrong: %+v", series[2])
	}
}
