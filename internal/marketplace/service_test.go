package marketplace_test

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
	"github.com/subsplit/subsplit/internal/marketplace"
	"github.com/subsplit/subsplit/internal/store/sqlite"
)

type fixture struct {
	store  *sqlite.Store
	cards  *card.Service
	market *marketplace.Service
	seller uuid.UUID
	buyer  uuid.UUID
	acct   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "subsplit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cards := card.NewService(store)
	cards.SetLogger(log.New(io.Discard, "", 0))
	market := marketplace.NewService(store, cards)
	market.SetLogger(log.New(io.Discard, "", 0))

	f := &fixture{store: store, cards: cards, market: market, seller: uuid.New(), buyer: uuid.New(), acct: uuid.New()}
	ctx := context.Background()
	now := time.Now().UTC()
	for _, u := range []account.User{
		{ID: f.seller, Email: "seller@example.com", CreatedAt: now, UpdatedAt: now},
		{ID: f.buyer, Email: "buyer@example.com", Balance: 500, CreatedAt: now, UpdatedAt: now},
	} {
		if err := store.InsertUser(ctx, u); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	if err := store.InsertPlatformAccount(ctx, account.PlatformAccount{
		ID: f.acct, UserID: f.seller, Platform: "claude",
		Email: "seller@example.com", Status: account.AccountActive,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return f
}

func (f *fixture) listCard(t *testing.T, balance float64) card.Card {
	t.Helper()
	c, err := f.cards.Generate(context.Background(), f.seller, f.acct, "claude", balance, 10, 24)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return c
}

func TestPurchaseMovesFundsAndAssignsBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listed := f.listCard(t, 100)

	tx, bought, err := f.market.Purchase(ctx, f.buyer, listed.ID, 1)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if tx.Amount != listed.CurrentPrice {
		t.Fatalf("transaction amount = %.2f, want %.2f", tx.Amount, listed.CurrentPrice)
	}
	if bought.BuyerID == nil || *bought.BuyerID != f.buyer {
		t.Fatalf("card buyer = %v, want %s", bought.BuyerID, f.buyer)
	}
	if bought.Number == "" || bought.CVV == "" {
		t.Fatal("purchase must reveal card number and CVV")
	}

	buyerBal, err := f.store.GetBalance(ctx, f.buyer)
	if err != nil {
		t.Fatalf("buyer balance: %v", err)
	}
	sellerBal, err := f.store.GetBalance(ctx, f.seller)
	if err != nil {
		t.Fatalf("seller balance: %v", err)
	}
	if buyerBal != 500-tx.Amount {
		t.Fatalf("buyer balance = %.2f, want %.2f", buyerBal, 500-tx.Amount)
	}
	if sellerBal != tx.Amount {
		t.Fatalf("seller balance = %.2f, want %.2f", sellerBal, tx.Amount)
	}
}

func TestPurchaseMultiHourChargesPerHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listed := f.listCard(t, 100)

	tx, _, err := f.market.Purchase(ctx, f.buyer, listed.ID, 3)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if want := listed.CurrentPrice * 3; tx.Amount != want {
		t.Fatalf("transaction amount = %.2f, want %.2f", tx.Amount, want)
	}
	if tx.DurationHours != 3 {
		t.Fatalf("duration hours = %d, want 3", tx.DurationHours)
	}

	buyerBal, err := f.store.GetBalance(ctx, f.buyer)
	if err != nil {
		t.Fatalf("buyer balance: %v", err)
	}
	if buyerBal != 500-tx.Amount {
		t.Fatalf("buyer balance = %.2f, want %.2f", buyerBal, 500-tx.Amount)
	}
}

func TestPurchaseOwnCardRefused(t *testing.T) {
	f := newFixture(t)
	listed := f.listCard(t, 100)

	_, _, err := f.market.Purchase(context.Background(), f.seller, listed.ID, 1)
	if !errors.Is(err, marketplace.ErrOwnCard) {
		t.Fatalf("err = %v, want ErrOwnCard", err)
	}
}

func TestPurchaseSoldCardRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listed := f.listCard(t, 100)

	if _, _, err := f.market.Purchase(ctx, f.buyer, listed.ID, 1); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	other := uuid.New()
	now := time.Now().UTC()
	if err := f.store.InsertUser(ctx, account.User{ID: other, Email: "other@example.com", Balance: 500, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	_, _, err := f.market.Purchase(ctx, other, listed.ID, 1)
	if !errors.Is(err, card.ErrAlreadyPurchased) {
		t.Fatalf("err = %v, want ErrAlreadyPurchased", err)
	}
}

func TestPurchaseInsufficientFundsLeavesCardListed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listed := f.listCard(t, 100)

	broke := uuid.New()
	now := time.Now().UTC()
	if err := f.store.InsertUser(ctx, account.User{ID: broke, Email: "broke@example.com", Balance: 1, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	_, _, err := f.market.Purchase(ctx, broke, listed.ID, 1)
	if !errors.Is(err, marketplace.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	listings, err := f.market.Browse(ctx, marketplace.Filter{Platform: "claude"})
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(listings) != 1 || listings[0].CardID != listed.ID {
		t.Fatalf("expected the card to remain listed, got %d listings", len(listings))
	}
}

func TestBrowseFilterAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cheap := f.listCard(t, 50)
	f.listCard(t, 200)

	listings, err := f.market.Browse(ctx, marketplace.Filter{Platform: "claude", MinBalance: 150})
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("listings = %d, want 1", len(listings))
	}
	if listings[0].CardID == cheap.ID {
		t.Fatal("min-balance filter returned the low-balance card")
	}

	tx, _, err := f.market.Purchase(ctx, f.buyer, cheap.ID, 1)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	purchases, err := f.market.Purchases(ctx, f.buyer)
	if err != nil {
		t.Fatalf("purchases: %v", err)
	}
	if len(purchases) != 1 || purchases[0].ID != tx.ID {
		t.Fatalf("purchases = %v, want [%s]", purchases, tx.ID)
	}
	sales, err := f.market.Sales(ctx, f.seller)
	if err != nil {
		t.Fatalf("sales: %v", err)
	}
	if len(sales) != 1 || sales[0].ID != tx.ID {
		t.Fatalf("sales = %v, want [%s]", sales, tx.ID)
	}
}
