package platform

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/account"
)

// Request is one billable request against an AI platform.
type Request struct {
	Type    string `json:"request_type"`
	Message string `json:"message"`
}

// Response is the platform's reply plus the metered cost the provider
// reports for it. The billing core treats Cost as an external input.
type Response struct {
	Text      string  `json:"response"`
	Cost      float64 `json:"cost"`
	LatencyMS int64   `json:"latency_ms"`
}

// Handle identifies an open provider session.
type Handle string

// Provider is the opaque platform integration: the automation-driven login
// and request execution live behind it, so the billing core never sees
// browser machinery.
type Provider interface {
	OpenSession(ctx context.Context, acct account.PlatformAccount) (Handle, error)
	Execute(ctx context.Context, h Handle, req Request) (Response, error)
	CloseSession(ctx context.Context, h Handle) error
}

// SessionStatus is the lifecycle state of an access session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionExpired    SessionStatus = "expired"
	SessionTerminated SessionStatus = "terminated"
)

// Session is a buyer's time-boxed access to a purchased card's platform
// account. Usage counters are bumped by the metering store; the session
// itself never holds balance.
type Session struct {
	ID                uuid.UUID     `json:"id"`
	BuyerID           uuid.UUID     `json:"buyer_id"`
	CardID            uuid.UUID     `json:"card_id"`
	PlatformAccountID uuid.UUID     `json:"platform_account_id"`
	Platform          string        `json:"platform"`
	Token             string        `json:"session_token"`
	ProviderHandle    string        `json:"-"`
	Status            SessionStatus `json:"status"`

	TotalUsage    float64    `json:"total_usage"`
	RequestCount  int64      `json:"request_count"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty"`

	StartedAt    time.Time  `json:"started_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
}

// Expired reports whether the session is past its expiry at the instant.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Active reports whether the session may still execute requests.
func (s Session) Active(now time.Time) bool {
	return s.Status == SessionActive && !s.Expired(now)
}

var (
	ErrSessionNotFound = errors.New("access session not found")

	// ErrSessionNotActive covers expired and terminated sessions.
	ErrSessionNotActive = errors.New("access session is not active")

	// ErrNotSessionOwner is returned when a caller other than the buyer
	// touches the session.
	ErrNotSessionOwner = errors.New("access denied: not session owner")
)

// Store defines persistence for access sessions.
type Store interface {
	InsertAccessSession(ctx context.Context, s Session) error
	GetAccessSession(ctx context.Context, id uuid.UUID) (Session, error)
	ListAccessSessionsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]Session, error)

	// TerminateAccessSession flips an active session to the given terminal
	// status; a second call is a no-op returning false.
	TerminateAccessSession(ctx context.Context, id uuid.UUID, status SessionStatus, at time.Time) (bool, error)
}
