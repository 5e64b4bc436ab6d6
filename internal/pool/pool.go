package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a credit pool.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusDepleted  Status = "depleted"
)

// ContributionType distinguishes manual contributions from auto-refill pulls.
type ContributionType string

const (
	ContributionManual ContributionType = "manual"
	ContributionAuto   ContributionType = "auto_refill"
)

// ContributionStatus tracks whether a funding event is still backing the pool.
type ContributionStatus string

const (
	ContributionActive    ContributionStatus = "active"
	ContributionWithdrawn ContributionStatus = "withdrawn"
)

// SessionStatus is the lifecycle state of a pool session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// Pool is a shared credit balance funded by multiple contributors and
// consumed through time-boxed sessions.
//
// Balance invariants, enforced by the store's guarded updates:
//
//	AvailableBalance <= CurrentBalance <= TotalContributed
//	AvailableBalance == CurrentBalance - sum(active session allocations)
//	TotalUsed <= TotalContributed
type Pool struct {
	ID       uuid.UUID `json:"id"`
	OwnerID  uuid.UUID `json:"owner_id"`
	Platform string    `json:"platform"`
	Name     string    `json:"name"`

	MinContribution     float64 `json:"min_contribution"`
	MaxContribution     float64 `json:"max_contribution"`
	AutoRefillThreshold float64 `json:"auto_refill_threshold"`
	AutoRefillAmount    float64 `json:"auto_refill_amount"`

	Status   Status `json:"status"`
	IsPublic bool   `json:"is_public"`

	TotalContributed float64 `json:"total_contributed"`
	TotalUsed        float64 `json:"total_used"`
	CurrentBalance   float64 `json:"current_balance"`
	AvailableBalance float64 `json:"available_balance"`

	TotalSessions  int64      `json:"total_sessions"`
	ActiveSessions int64      `json:"active_sessions"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Utilization returns total used as a percentage of total contributed.
func (p Pool) Utilization() float64 {
	if p.TotalContributed == 0 {
		return 0
	}
	return p.TotalUsed / p.TotalContributed * 100
}

// Contribution is an immutable funding event moving credits from a platform
// account into a pool.
type Contribution struct {
	ID                uuid.UUID          `json:"id"`
	PoolID            uuid.UUID          `json:"pool_id"`
	PlatformAccountID uuid.UUID          `json:"platform_account_id"`
	ContributorID     uuid.UUID          `json:"contributor_id"`
	Amount            float64            `json:"amount"`
	Type              ContributionType   `json:"type"`
	Status            ContributionStatus `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
}

// Session is a time-boxed reservation carved out of a pool's available
// balance for a single user. UsedAmount never exceeds AllocatedAmount.
type Session struct {
	ID              uuid.UUID     `json:"id"`
	PoolID          uuid.UUID     `json:"pool_id"`
	UserID          uuid.UUID     `json:"user_id"`
	Token           string        `json:"session_token"`
	AllocatedAmount float64       `json:"allocated_amount"`
	UsedAmount      float64       `json:"used_amount"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// Remaining returns the unspent part of the reservation.
func (s Session) Remaining() float64 {
	return s.AllocatedAmount - s.UsedAmount
}

// Expired reports whether the session is past its expiry at the instant.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Stats is the aggregate view of a pool returned by the stats operation.
type Stats struct {
	Pool               Pool    `json:"pool"`
	ContributionsCount int     `json:"contributions_count"`
	ActiveSessions     int64   `json:"active_sessions"`
	Utilization        float64 `json:"utilization_percentage"`
}

// Store defines persistence for pools, contributions and sessions. All
// balance mutations are atomic per entity; concurrent callers can never both
// pass a guard and both move the same credits.
type Store interface {
	InsertPool(ctx context.Context, p Pool) error
	GetPool(ctx context.Context, id uuid.UUID) (Pool, error)
	ListPublic(ctx context.Context, platform string) ([]Pool, error)

	// ListActivePools returns every active pool, public or private. The refill
	// sweep uses it so private pools are topped up too.
	ListActivePools(ctx context.Context) ([]Pool, error)

	// Contribute records the funding event and moves amount from the
	// platform account into the pool in one transaction. Fails with
	// ErrInsufficientSourceCredits when the account cannot cover it.
	Contribute(ctx context.Context, c Contribution) error

	ListContributions(ctx context.Context, poolID uuid.UUID) ([]Contribution, error)

	// AllocateSession reserves the session's allocated amount from the
	// pool's available balance and inserts the session in one transaction.
	// Fails with ErrInsufficientPoolBalance.
	AllocateSession(ctx context.Context, s Session) error

	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	GetSessionByToken(ctx context.Context, token string) (Session, error)

	// UseSession increments the session's used amount and the pool's
	// consumption, guarded so used never exceeds allocated. Fails with
	// ErrSessionNotActive or ErrAllocationExceeded.
	UseSession(ctx context.Context, id uuid.UUID, amount float64, now time.Time) (Session, error)

	// CompleteSession flips an active session to completed and returns its
	// unused allocation to the pool's available balance. The status guard
	// makes a second call report ErrSessionNotActive without re-crediting.
	CompleteSession(ctx context.Context, id uuid.UUID, now time.Time) (Session, error)

	// ExpireSessions transitions every active session past its expiry,
	// releasing each unused allocation back to its pool. Returns the
	// sessions it expired.
	ExpireSessions(ctx context.Context, now time.Time) ([]Session, error)

	CountActiveSessions(ctx context.Context, poolID uuid.UUID) (int64, error)
}
