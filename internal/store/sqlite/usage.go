package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/usage"
)

const usageColumns = `id, session_id, card_id, user_id, platform,
	request_type, request_size, response_size,
	base_cost, actual_cost, cost_multiplier,
	latency_ms, success, error_message, created_at`

// Record appends the metering entry and bumps the owning access session's
// usage counters in the same transaction, so the session totals can never
// drift from the log.
func (s *Store) Record(ctx context.Context, e usage.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_logs (`+usageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.SessionID.String(), e.CardID.String(), e.UserID.String(), e.Platform,
		e.RequestType, e.RequestSize, e.ResponseSize,
		e.BaseCost, e.ActualCost, e.CostMultiplier,
		e.LatencyMS, e.Success, e.ErrorMessage, e.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE access_sessions
		SET total_usage = total_usage + ?,
		    request_count = request_count + 1,
		    last_request_at = ?
		WHERE id = ?`,
		e.ActualCost, e.CreatedAt.UTC(), e.SessionID.String(),
	); err != nil {
		return fmt.Errorf("bump session counters: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CountSince(ctx context.Context, platform string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_logs WHERE platform = ? AND created_at >= ?`,
		platform, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

func (s *Store) ListRecentByCard(ctx context.Context, cardID uuid.UUID, limit int) ([]usage.Entry, error) {
	return s.listUsage(ctx, `card_id = ?`, cardID.String(), limit)
}

func (s *Store) ListRecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]usage.Entry, error) {
	return s.listUsage(ctx, `user_id = ?`, userID.String(), limit)
}

func (s *Store) listUsage(ctx context.Context, where, arg string, limit int) ([]usage.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+usageColumns+` FROM usage_logs WHERE `+where+`
		ORDER BY created_at DESC LIMIT ?`,
		arg, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var out []usage.Entry
	for rows.Next() {
		var (
			e                                usage.Entry
			idStr, sessStr, cardStr, userStr string
		)
		if err := rows.Scan(
			&idStr, &sessStr, &cardStr, &userStr, &e.Platform,
			&e.RequestType, &e.RequestSize, &e.ResponseSize,
			&e.BaseCost, &e.ActualCost, &e.CostMultiplier,
			&e.LatencyMS, &e.Success, &e.ErrorMessage, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage entry: %w", err)
		}
		if e.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse usage id: %w", err)
		}
		if e.SessionID, err = uuid.Parse(sessStr); err != nil {
			return nil, fmt.Errorf("parse session id: %w", err)
		}
		if e.CardID, err = uuid.Parse(cardStr); err != nil {
			return nil, fmt.Errorf("parse card id: %w", err)
		}
		if e.UserID, err = uuid.Parse(userStr); err != nil {
			return nil, fmt.Errorf("parse user id: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
