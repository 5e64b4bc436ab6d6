package card_test

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
	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/cardnum"
	"github.com/subsplit/subsplit/internal/store/sqlite"
)

func newService(t *testing.T) (*card.Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "subsplit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc := card.NewService(store)
	svc.SetLogger(log.New(io.Discard, "", 0))
	return svc, store
}

func generate(t *testing.T, svc *card.Service, store *sqlite.Store, balance float64) card.Card {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	seller := uuid.New()
	acct := uuid.New()
	if err := store.InsertUser(ctx, account.User{ID: seller, Email: seller.String() + "@example.com", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := store.InsertPlatformAccount(ctx, account.PlatformAccount{
		ID: acct, UserID: seller, Platform: "claude", Email: seller.String() + "@example.com",
		Status: account.AccountActive, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	c, err := svc.Generate(ctx, seller, acct, "claude", balance, 10, 24)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return c
}

func TestGenerateFormat(t *testing.T) {
	svc, store := newService(t)
	c := generate(t, svc, store, 100)

	if len(c.Number) != cardnum.NumberLength {
		t.Fatalf("number length = %d, want %d", len(c.Number), cardnum.NumberLength)
	}
	if c.Number[:1] != cardnum.Prefix {
		t.Fatalf("number prefix = %q, want %q", c.Number[:1], cardnum.Prefix)
	}
	if len(c.CVV) != cardnum.CVVLength {
		t.Fatalf("cvv length = %d", len(c.CVV))
	}
	if c.Status != card.StatusActive || c.CurrentBalance != 100 || c.DemandMultiplier != 1.0 {
		t.Fatalf("unexpected card state: %+v", c)
	}
	if !c.ExpiresAt.After(c.CreatedAt) {
		t.Fatal("expiry not in the future")
	}
}

func TestGenerateRejectsNonPositiveBalance(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Generate(context.Background(), uuid.New(), uuid.New(), "claude", 0, 10, 24)
	if !errors.Is(err, card.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestValidateWrongCVVLooksUnknown(t *testing.T) {
	svc, store := newService(t)
	c := generate(t, svc, store, 100)
	ctx := context.Background()

	v, err := svc.Validate(ctx, c.Number, c.CVV)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.CardID != c.ID || v.Balance != 100 {
		t.Fatalf("validation = %+v", v)
	}

	_, wrongCVV := svc.Validate(ctx, c.Number, "999")
	_, unknown := svc.Validate(ctx, "4999999999999999", c.CVV)
	if !errors.Is(wrongCVV, card.ErrNotFound) {
		t.Fatalf("wrong cvv err = %v, want ErrNotFound", wrongCVV)
	}
	if !errors.Is(unknown, card.ErrNotFound) {
		t.Fatalf("unknown number err = %v, want ErrNotFound", unknown)
	}
}

func TestLazyExpiryOnRead(t *testing.T) {
	svc, store := newService(t)
	c := generate(t, svc, store, 100)
	ctx := context.Background()

	// Move the clock past expiry; the next read settles the stored status.
	svc.SetClock(func() time.Time { return time.Now().UTC().Add(25 * time.Hour) })

	got, err := svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != card.StatusExpired {
		t.Fatalf("status = %q, want expired", got.Status)
	}

	if _, err := svc.Validate(ctx, c.Number, c.CVV); !errors.Is(err, card.ErrExpired) {
		t.Fatalf("validate err = %v, want ErrExpired", err)
	}
}

func TestChargeToDepletion(t *testing.T) {
	svc, store := newService(t)
	c := generate(t, svc, store, 10)
	ctx := context.Background()

	got, err := svc.Charge(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if got.Status != card.StatusDepleted || got.CurrentBalance != 0 {
		t.Fatalf("card after full charge: %+v", got)
	}

	if _, err := svc.Charge(ctx, c.ID, 1); !errors.Is(err, card.ErrDepleted) && !errors.Is(err, card.ErrNotUsable) {
		t.Fatalf("charge on depleted err = %v", err)
	}
	if _, err := svc.Validate(ctx, c.Number, c.CVV); !errors.Is(err, card.ErrDepleted) {
		t.Fatalf("validate on depleted err = %v, want ErrDepleted", err)
	}
}

func TestChargeRejectsNonPositive(t *testing.T) {
	svc, store := newService(t)
	c := generate(t, svc, store, 10)
	if _, err := svc.Charge(context.Background(), c.ID, -1); !errors.Is(err, card.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestDeactivateIdempotent(t *testing.T) {
	svc, store := newService(t)
	c := generate(t, svc, store, 10)
	ctx := context.Background()

	if err := svc.Deactivate(ctx, c.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err := svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != card.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}

	// Deactivating a terminal card is a no-op success.
	if err := svc.Deactivate(ctx, c.ID); err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
}
