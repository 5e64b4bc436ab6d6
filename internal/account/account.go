package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Platform identifiers for the AI services credits are sourced from.
const (
	PlatformChatGPT    = "chatgpt"
	PlatformClaude     = "claude"
	PlatformGemini     = "gemini"
	PlatformMidjourney = "midjourney"
)

// AccountStatus is the verification state of a platform account.
type AccountStatus string

const (
	AccountActive              AccountStatus = "active"
	AccountInactive            AccountStatus = "inactive"
	AccountSuspended           AccountStatus = "suspended"
	AccountVerificationPending AccountStatus = "verification_pending"
)

// User is a marketplace participant with a wallet balance. Balance moves
// only through guarded store operations.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`

	Balance     float64 `json:"balance"`
	TotalEarned float64 `json:"total_earned"`
	TotalSpent  float64 `json:"total_spent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlatformAccount is a credit-bearing account on a third-party AI platform,
// the ultimate source of sellable credit.
type PlatformAccount struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Platform string    `json:"platform"`
	Email    string    `json:"email"`

	Status           AccountStatus `json:"status"`
	IsPremium        bool          `json:"is_premium"`
	SubscriptionType string        `json:"subscription_type,omitempty"`

	AvailableCredits float64    `json:"available_credits"`
	TotalCredits     float64    `json:"total_credits"`
	CreditsUsed      float64    `json:"credits_used"`
	LastCreditSync   *time.Time `json:"last_credit_sync,omitempty"`

	AllowPooling bool `json:"allow_pooling"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAccountNotFound = errors.New("platform account not found")

	// ErrInsufficientFunds is returned when a wallet debit would push the
	// balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientCredits is returned when a platform account debit
	// would push available credits below zero.
	ErrInsufficientCredits = errors.New("insufficient platform credits")
)

// Store defines persistence for users and platform accounts. Balance and
// credit adjustments are guarded atomic updates: a debit applies only when
// the remaining amount covers it.
type Store interface {
	InsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// GetBalance returns the wallet balance for a user.
	GetBalance(ctx context.Context, userID uuid.UUID) (float64, error)

	// AdjustBalance applies delta to the wallet. A negative delta fails
	// with ErrInsufficientFunds rather than overdrawing.
	AdjustBalance(ctx context.Context, userID uuid.UUID, delta float64) error

	InsertPlatformAccount(ctx context.Context, a PlatformAccount) error
	GetPlatformAccount(ctx context.Context, id uuid.UUID) (PlatformAccount, error)
	ListPlatformAccounts(ctx context.Context, userID uuid.UUID) ([]PlatformAccount, error)

	// AdjustCredits applies delta to a platform account's available
	// credits, tracking credits_used for debits. A negative delta fails
	// with ErrInsufficientCredits rather than overdrawing.
	AdjustCredits(ctx context.Context, accountID uuid.UUID, delta float64) error

	// SyncCredits overwrites the credit totals after an upstream refresh.
	SyncCredits(ctx context.Context, accountID uuid.UUID, available, total float64, at time.Time) error
}
