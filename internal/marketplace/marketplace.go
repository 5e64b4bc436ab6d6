// Package marketplace lists generated cards for sale and settles purchases.
// A purchase is all-or-nothing: buyer debit, seller credit, and card
// assignment commit together or not at all.
package marketplace

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/card"
)

// Filter narrows a marketplace listing query. Zero values mean "no bound".
type Filter struct {
	Platform   string
	MaxPrice   float64
	MinBalance float64
	Limit      int
	Offset     int
}

// Listing is the buyer-facing view of a card for sale. Card number and CVV
// are withheld until purchase.
type Listing struct {
	CardID           uuid.UUID `json:"card_id"`
	SellerID         uuid.UUID `json:"seller_id"`
	Platform         string    `json:"platform"`
	CurrentBalance   float64   `json:"current_balance"`
	CurrentPrice     float64   `json:"current_price"`
	BasePrice        float64   `json:"base_price"`
	DemandMultiplier float64   `json:"demand_multiplier"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// Transaction is a settled marketplace purchase. Amount is the card's
// current price multiplied by the purchased access duration in hours.
type Transaction struct {
	ID            uuid.UUID `json:"id"`
	CardID        uuid.UUID `json:"card_id"`
	SellerID      uuid.UUID `json:"seller_id"`
	BuyerID       uuid.UUID `json:"buyer_id"`
	Platform      string    `json:"platform"`
	Amount        float64   `json:"amount"`
	DurationHours int       `json:"duration_hours"`
	CreatedAt     time.Time `json:"created_at"`
}

var (
	ErrCardNotForSale = errors.New("card is not available for purchase")

	// ErrOwnCard is returned when a seller tries to buy their own card.
	ErrOwnCard = errors.New("cannot purchase own card")

	ErrInsufficientFunds = errors.New("insufficient funds for purchase")
)

// Store defines marketplace persistence. Purchase must run as one
// transaction covering the buyer debit, seller credit, card assignment,
// and transaction record.
type Store interface {
	ListAvailable(ctx context.Context, f Filter) ([]Listing, error)

	// Purchase settles the sale of the card to the buyer at the card's
	// current price times durationHours. It fails with ErrCardNotForSale
	// when the card has a buyer already or is not usable, and
	// ErrInsufficientFunds when the buyer's balance cannot cover the total.
	Purchase(ctx context.Context, buyerID, cardID uuid.UUID, durationHours int, now time.Time) (Transaction, card.Card, error)

	ListPurchases(ctx context.Context, buyerID uuid.UUID) ([]Transaction, error)
	ListSales(ctx context.Context, sellerID uuid.UUID) ([]Transaction, error)
}
