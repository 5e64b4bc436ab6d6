package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/pool"
)

const poolColumns = `id, owner_id, platform, name,
	min_contribution, max_contribution, auto_refill_threshold, auto_refill_amount,
	status, is_public,
	total_contributed, total_used, current_balance, available_balance,
	total_sessions, active_sessions, last_used_at, created_at, updated_at`

const poolSessionColumns = `id, pool_id, user_id, session_token,
	allocated_amount, used_amount, status, created_at, expires_at, completed_at`

func (s *Store) InsertPool(ctx context.Context, p pool.Pool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_pools (`+poolColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.OwnerID.String(), p.Platform, p.Name,
		p.MinContribution, p.MaxContribution, p.AutoRefillThreshold, p.AutoRefillAmount,
		string(p.Status), p.IsPublic,
		p.TotalContributed, p.TotalUsed, p.CurrentBalance, p.AvailableBalance,
		p.TotalSessions, p.ActiveSessions, nullTime(p.LastUsedAt),
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (s *Store) GetPool(ctx context.Context, id uuid.UUID) (pool.Pool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+poolColumns+` FROM credit_pools WHERE id = ?`, id.String())
	return scanPool(row)
}

func (s *Store) ListPublic(ctx context.Context, platform string) ([]pool.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM credit_pools WHERE is_public = 1 AND status = 'active'`
	args := []any{}
	if platform != "" {
		query += ` AND platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list public pools: %w", err)
	}
	defer rows.Close()

	var out []pool.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListActivePools(ctx context.Context) ([]pool.Pool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+poolColumns+` FROM credit_pools WHERE status = 'active' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active pools: %w", err)
	}
	defer rows.Close()

	var out []pool.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Contribute debits the platform account and credits the pool in one
// transaction. The account debit is the guard: if the account cannot cover
// the amount, nothing moves.
func (s *Store) Contribute(ctx context.Context, c pool.Contribution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin contribution: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE platform_accounts
		SET available_credits = available_credits - ?,
		    credits_used = credits_used + ?,
		    updated_at = ?
		WHERE id = ? AND available_credits >= ?`,
		c.Amount, c.Amount, c.CreatedAt.UTC(), c.PlatformAccountID.String(), c.Amount,
	)
	if err != nil {
		return fmt.Errorf("debit platform account: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("debit platform account: %w", err)
	} else if n == 0 {
		return pool.ErrInsufficientSourceCredits
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pool_contributions (id, pool_id, platform_account_id, contributor_id, amount, contribution_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.PoolID.String(), c.PlatformAccountID.String(), c.ContributorID.String(),
		c.Amount, string(c.Type), string(c.Status), c.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE credit_pools
		SET total_contributed = total_contributed + ?,
		    current_balance = current_balance + ?,
		    available_balance = available_balance + ?,
		    status = CASE WHEN status = 'depleted' THEN 'active' ELSE status END,
		    updated_at = ?
		WHERE id = ?`,
		c.Amount, c.Amount, c.Amount, c.CreatedAt.UTC(), c.PoolID.String(),
	)
	if err != nil {
		return fmt.Errorf("credit pool: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("credit pool: %w", err)
	} else if n == 0 {
		return pool.ErrPoolNotFound
	}
	return tx.Commit()
}

func (s *Store) ListContributions(ctx context.Context, poolID uuid.UUID) ([]pool.Contribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pool_id, platform_account_id, contributor_id, amount, contribution_type, status, created_at
		FROM pool_contributions WHERE pool_id = ? ORDER BY created_at DESC`,
		poolID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	var out []pool.Contribution
	for rows.Next() {
		var (
			c                               pool.Contribution
			idStr, poolStr, acctStr, ctrStr string
			typ, status                     string
		)
		if err := rows.Scan(&idStr, &poolStr, &acctStr, &ctrStr, &c.Amount, &typ, &status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		if c.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse contribution id: %w", err)
		}
		if c.PoolID, err = uuid.Parse(poolStr); err != nil {
			return nil, fmt.Errorf("parse pool id: %w", err)
		}
		if c.PlatformAccountID, err = uuid.Parse(acctStr); err != nil {
			return nil, fmt.Errorf("parse account id: %w", err)
		}
		if c.ContributorID, err = uuid.Parse(ctrStr); err != nil {
			return nil, fmt.Errorf("parse contributor id: %w", err)
		}
		c.Type = pool.ContributionType(typ)
		c.Status = pool.ContributionStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllocateSession reserves the allocation from the pool's available balance
// and inserts the session. The guarded pool update is what makes concurrent
// over-allocation impossible.
func (s *Store) AllocateSession(ctx context.Context, sess pool.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin allocation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE credit_pools
		SET available_balance = available_balance - ?,
		    total_sessions = total_sessions + 1,
		    active_sessions = active_sessions + 1,
		    updated_at = ?
		WHERE id = ? AND status = 'active' AND available_balance >= ?`,
		sess.AllocatedAmount, sess.CreatedAt.UTC(), sess.PoolID.String(), sess.AllocatedAmount,
	)
	if err != nil {
		return fmt.Errorf("reserve allocation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("reserve allocation: %w", err)
	} else if n == 0 {
		// Release the connection before the classifying re-read.
		_ = tx.Rollback()
		return s.classifyAllocationFailure(ctx, sess.PoolID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pool_sessions (`+poolSessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), sess.PoolID.String(), sess.UserID.String(), sess.Token,
		sess.AllocatedAmount, sess.UsedAmount, string(sess.Status),
		sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(), nullTime(sess.CompletedAt),
	); err != nil {
		return fmt.Errorf("insert pool session: %w", err)
	}
	return tx.Commit()
}

func (s *Store) classifyAllocationFailure(ctx context.Context, poolID uuid.UUID) error {
	p, err := s.GetPool(ctx, poolID)
	if err != nil {
		return err
	}
	if p.Status != pool.StatusActive {
		return pool.ErrPoolNotActive
	}
	return pool.ErrInsufficientPoolBalance
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (pool.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+poolSessionColumns+` FROM pool_sessions WHERE id = ?`, id.String())
	return scanPoolSession(row)
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (pool.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+poolSessionColumns+` FROM pool_sessions WHERE session_token = ?`, token)
	return scanPoolSession(row)
}

// UseSession spends part of the session's reservation. The session guard
// caps used at allocated; the pool update burns the same amount out of the
// pool's current balance, so the available balance is untouched.
func (s *Store) UseSession(ctx context.Context, id uuid.UUID, amount float64, now time.Time) (pool.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pool.Session{}, fmt.Errorf("begin session use: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE pool_sessions
		SET used_amount = used_amount + ?
		WHERE id = ? AND status = 'active' AND expires_at > ?
		  AND used_amount + ? <= allocated_amount + 1e-9`,
		amount, id.String(), now.UTC(), amount,
	)
	if err != nil {
		return pool.Session{}, fmt.Errorf("use session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return pool.Session{}, fmt.Errorf("use session: %w", err)
	} else if n == 0 {
		_ = tx.Rollback()
		return pool.Session{}, s.classifyUseFailure(ctx, id, amount, now)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_pools
		SET current_balance = current_balance - ?,
		    total_used = total_used + ?,
		    last_used_at = ?,
		    status = CASE WHEN current_balance - ? <= 1e-9 THEN 'depleted' ELSE status END,
		    updated_at = ?
		WHERE id = (SELECT pool_id FROM pool_sessions WHERE id = ?)`,
		amount, amount, now.UTC(), amount, now.UTC(), id.String(),
	); err != nil {
		return pool.Session{}, fmt.Errorf("burn pool balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return pool.Session{}, fmt.Errorf("commit session use: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *Store) classifyUseFailure(ctx context.Context, id uuid.UUID, amount float64, now time.Time) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != pool.SessionActive || sess.Expired(now) {
		return pool.ErrSessionNotActive
	}
	if sess.UsedAmount+amount > sess.AllocatedAmount {
		return pool.ErrAllocationExceeded
	}
	return pool.ErrSessionNotActive
}

// CompleteSession finishes an active session and returns its unused
// reservation to the pool. The status guard is the idempotence barrier: a
// second completion cannot re-credit the pool.
func (s *Store) CompleteSession(ctx context.Context, id uuid.UUID, now time.Time) (pool.Session, error) {
	if err := s.finishSession(ctx, id, pool.SessionCompleted, now); err != nil {
		return pool.Session{}, err
	}
	return s.GetSession(ctx, id)
}

func (s *Store) finishSession(ctx context.Context, id uuid.UUID, to pool.SessionStatus, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session completion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE pool_sessions SET status = ?, completed_at = ?
		WHERE id = ? AND status = 'active'`,
		string(to), now.UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("finish session: %w", err)
	} else if n == 0 {
		_ = tx.Rollback()
		if _, gerr := s.GetSession(ctx, id); gerr != nil {
			return gerr
		}
		return pool.ErrSessionNotActive
	}

	// Release the unused part of the reservation.
	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_pools
		SET available_balance = available_balance + (
		        SELECT allocated_amount - used_amount FROM pool_sessions WHERE id = ?
		    ),
		    active_sessions = active_sessions - 1,
		    updated_at = ?
		WHERE id = (SELECT pool_id FROM pool_sessions WHERE id = ?)`,
		id.String(), now.UTC(), id.String(),
	); err != nil {
		return fmt.Errorf("release allocation: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ExpireSessions(ctx context.Context, now time.Time) ([]pool.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM pool_sessions WHERE status = 'active' AND expires_at <= ?`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expirable sessions: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse session id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []pool.Session
	for _, id := range ids {
		if err := s.finishSession(ctx, id, pool.SessionExpired, now); err != nil {
			// A concurrent completion already finished it; nothing to release.
			if errors.Is(err, pool.ErrSessionNotActive) {
				continue
			}
			return expired, err
		}
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return expired, err
		}
		expired = append(expired, sess)
	}
	return expired, nil
}

func (s *Store) CountActiveSessions(ctx context.Context, poolID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pool_sessions WHERE pool_id = ? AND status = 'active'`,
		poolID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

func scanPool(row rowScanner) (pool.Pool, error) {
	var (
		p               pool.Pool
		idStr, ownerStr string
		status          string
		lastUsed        sql.NullTime
	)
	err := row.Scan(
		&idStr, &ownerStr, &p.Platform, &p.Name,
		&p.MinContribution, &p.MaxContribution, &p.AutoRefillThreshold, &p.AutoRefillAmount,
		&status, &p.IsPublic,
		&p.TotalContributed, &p.TotalUsed, &p.CurrentBalance, &p.AvailableBalance,
		&p.TotalSessions, &p.ActiveSessions, &lastUsed, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return pool.Pool{}, pool.ErrPoolNotFound
	}
	if err != nil {
		return pool.Pool{}, fmt.Errorf("scan pool: %w", err)
	}
	if p.ID, err = uuid.Parse(idStr); err != nil {
		return pool.Pool{}, fmt.Errorf("parse pool id: %w", err)
	}
	if p.OwnerID, err = uuid.Parse(ownerStr); err != nil {
		return pool.Pool{}, fmt.Errorf("parse owner id: %w", err)
	}
	p.Status = pool.Status(status)
	p.LastUsedAt = timePtr(lastUsed)
	return p, nil
}

func scanPoolSession(row rowScanner) (pool.Session, error) {
	var (
		sess                    pool.Session
		idStr, poolStr, userStr string
		status                  string
		completed               sql.NullTime
	)
	err := row.Scan(
		&idStr, &poolStr, &userStr, &sess.Token,
		&sess.AllocatedAmount, &sess.UsedAmount, &status,
		&sess.CreatedAt, &sess.ExpiresAt, &completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return pool.Session{}, pool.ErrSessionNotFound
	}
	if err != nil {
		return pool.Session{}, fmt.Errorf("scan pool session: %w", err)
	}
	if sess.ID, err = uuid.Parse(idStr); err != nil {
		return pool.Session{}, fmt.Errorf("parse session id: %w", err)
	}
	if sess.PoolID, err = uuid.Parse(poolStr); err != nil {
		return pool.Session{}, fmt.Errorf("parse pool id: %w", err)
	}
	if sess.UserID, err = uuid.Parse(userStr); err != nil {
		return pool.Session{}, fmt.Errorf("parse user id: %w", err)
	}
	sess.Status = pool.SessionStatus(status)
	sess.CompletedAt = timePtr(completed)
	return sess, nil
}
