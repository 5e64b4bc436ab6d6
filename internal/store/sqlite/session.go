package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/platform"
)

const accessSessionColumns = `id, buyer_id, card_id, platform_account_id, platform,
	session_token, provider_handle, status,
	total_usage, request_count, last_request_at,
	started_at, expires_at, terminated_at`

func (s *Store) InsertAccessSession(ctx context.Context, sess platform.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_sessions (`+accessSessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), sess.BuyerID.String(), sess.CardID.String(),
		sess.PlatformAccountID.String(), sess.Platform,
		sess.Token, sess.ProviderHandle, string(sess.Status),
		sess.TotalUsage, sess.RequestCount, nullTime(sess.LastRequestAt),
		sess.StartedAt.UTC(), sess.ExpiresAt.UTC(), nullTime(sess.TerminatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert access session: %w", err)
	}
	return nil
}

func (s *Store) GetAccessSession(ctx context.Context, id uuid.UUID) (platform.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accessSessionColumns+` FROM access_sessions WHERE id = ?`, id.String())
	return scanAccessSession(row)
}

func (s *Store) ListAccessSessionsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]platform.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accessSessionColumns+` FROM access_sessions
		WHERE buyer_id = ? ORDER BY started_at DESC`,
		buyerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list access sessions: %w", err)
	}
	defer rows.Close()

	var out []platform.Session
	for rows.Next() {
		sess, err := scanAccessSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) TerminateAccessSession(ctx context.Context, id uuid.UUID, status platform.SessionStatus, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE access_sessions SET status = ?, terminated_at = ?
		WHERE id = ? AND status = 'active'`,
		string(status), at.UTC(), id.String(),
	)
	if err != nil {
		return false, fmt.Errorf("terminate access session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("terminate access session: %w", err)
	}
	return n > 0, nil
}

func scanAccessSession(row rowScanner) (platform.Session, error) {
	var (
		sess                     platform.Session
		idStr, buyerStr, cardStr string
		acctStr, status          string
		lastReq, terminated      sql.NullTime
	)
	err := row.Scan(
		&idStr, &buyerStr, &cardStr, &acctStr, &sess.Platform,
		&sess.Token, &sess.ProviderHandle, &status,
		&sess.TotalUsage, &sess.RequestCount, &lastReq,
		&sess.StartedAt, &sess.ExpiresAt, &terminated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return platform.Session{}, platform.ErrSessionNotFound
	}
	if err != nil {
		return platform.Session{}, fmt.Errorf("scan access session: %w", err)
	}
	if sess.ID, err = uuid.Parse(idStr); err != nil {
		return platform.Session{}, fmt.Errorf("parse session id: %w", err)
	}
	if sess.BuyerID, err = uuid.Parse(buyerStr); err != nil {
		return platform.Session{}, fmt.Errorf("parse buyer id: %w", err)
	}
	if sess.CardID, err = uuid.Parse(cardStr); err != nil {
		return platform.Session{}, fmt.Errorf("parse card id: %w", err)
	}
	if sess.PlatformAccountID, err = uuid.Parse(acctStr); err != nil {
		return platform.Session{}, fmt.Errorf("parse account id: %w", err)
	}
	sess.Status = platform.SessionStatus(status)
	sess.LastRequestAt = timePtr(lastReq)
	sess.TerminatedAt = timePtr(terminated)
	return sess, nil
}
