package card

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a virtual card. Active is the only
// non-terminal state; no transition ever leaves a terminal state.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusDepleted  Status = "depleted"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Card is a single-owner prepaid balance backed by a platform account and
// sold once on the marketplace.
type Card struct {
	ID                uuid.UUID  `json:"id"`
	Number            string     `json:"card_number"`
	CVV               string     `json:"-"`
	SellerID          uuid.UUID  `json:"seller_id"`
	BuyerID           *uuid.UUID `json:"buyer_id,omitempty"`
	PlatformAccountID uuid.UUID  `json:"platform_account_id"`
	Platform          string     `json:"platform"`

	InitialBalance float64 `json:"initial_balance"`
	CurrentBalance float64 `json:"current_balance"`
	TotalCharged   float64 `json:"total_charged"`

	BasePrice        float64 `json:"base_price"`
	CurrentPrice     float64 `json:"current_price"`
	DemandMultiplier float64 `json:"demand_multiplier"`

	Status     Status     `json:"status"`
	UsageCount int64      `json:"usage_count"`
	LastUsed   *time.Time `json:"last_used,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// Expired reports whether the card is past its expiry at the given instant.
func (c Card) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Depleted reports whether the prepaid balance is exhausted.
func (c Card) Depleted() bool {
	return c.CurrentBalance <= 0
}

// Usable reports whether the card can be charged or purchased.
func (c Card) Usable(now time.Time) bool {
	return c.Status == StatusActive && !c.Expired(now) && !c.Depleted()
}

// Store defines persistence for virtual cards. Every balance mutation is
// atomic per card: two concurrent Charge calls can never both pass the
// balance guard and both deduct.
type Store interface {
	Insert(ctx context.Context, c Card) error
	GetByID(ctx context.Context, id uuid.UUID) (Card, error)
	GetByNumber(ctx context.Context, number string) (Card, error)

	// Charge deducts amount from the card balance if the card is active,
	// unexpired and holds at least amount, bumping usage counters and
	// transitioning to depleted when the balance reaches exactly zero.
	// Fails with ErrNotUsable or ErrInsufficientBalance.
	Charge(ctx context.Context, id uuid.UUID, amount float64, now time.Time) (Card, error)

	// Transition moves the card from one status to another, only when the
	// stored status still matches from. Returns false when the guard missed.
	Transition(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)

	// UpdatePricing writes the demand-driven price and multiplier.
	UpdatePricing(ctx context.Context, id uuid.UUID, price, multiplier float64) error

	ListActive(ctx context.Context) ([]Card, error)
}
