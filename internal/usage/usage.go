package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is a single append-only metering record for one billable request.
// Entries are never mutated after creation.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	CardID    uuid.UUID `json:"card_id"`
	UserID    uuid.UUID `json:"user_id"`
	Platform  string    `json:"platform"`

	RequestType  string `json:"request_type"`
	RequestSize  int64  `json:"request_size"`
	ResponseSize int64  `json:"response_size"`

	BaseCost       float64 `json:"base_cost"`
	ActualCost     float64 `json:"actual_cost"`
	CostMultiplier float64 `json:"cost_multiplier"`

	LatencyMS    int64  `json:"latency_ms"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Store defines persistence for the metering log. Record also bumps the
// owning access session's usage counters in the same transaction.
type Store interface {
	Record(ctx context.Context, e Entry) error
	CountSince(ctx context.Context, platform string, since time.Time) (int64, error)
	ListRecentByCard(ctx context.Context, cardID uuid.UUID, limit int) ([]Entry, error)
	ListRecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Entry, error)
}
