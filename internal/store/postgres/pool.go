package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
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
	row := s.db.QueryRowContext(ctx, `SELECT `+poolColumns+` FROM credit_pools WHERE id = $1`, id.String())
	return scanPool(row)
}

func (s *Store) ListPublic(ctx context.Context, platform string) ([]pool.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM credit_pools WHERE is_public AND status = 'active'`
	args := []any{}
	if platform != "" {
		query += ` AND platform = $1`
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

func (s *Store) Contribute(ctx context.Context, c pool.Contribution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin contribution: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE platform_accounts
		SET available_credits = available_credits - $1,
		    credits_used = credits_used + $1,
		    updated_at = $2
		WHERE id = $3 AND available_credits >= $1`,
		c.Amount, c.CreatedAt.UTC(), c.PlatformAccountID.String(),
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID.String(), c.PoolID.String(), c.PlatformAccountID.String(), c.ContributorID.String(),
		c.Amount, string(c.Type), string(c.Status), c.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE credit_pools
		SET total_contributed = total_contributed + $1,
		    current_balance = current_balance + $1,
		    available_balance = available_balance + $1,
		    status = CASE WHEN status = 'depleted' THEN 'active' ELSE status END,
		    updated_at = $2
		WHERE id = $3`,
		c.Amount, c.CreatedAt.UTC(), c.PoolID.String(),
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
		FROM pool_contributions WHERE pool_id = $1 ORDER BY created_at DESC`,
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

func (s *Store) AllocateSession(ctx context.Context, sess pool.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin allocation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE credit_pools
		SET available_balance = available_balance - $1,
		    total_sessions = total_sessions + 1,
		    active_sessions = active_sessions + 1,
		    updated_at = $2
		WHERE id = $3 AND status = 'active' AND available_balance >= $1`,
		sess.AllocatedAmount, sess.CreatedAt.UTC(), sess.PoolID.String(),
	)
	if err != nil {
		return fmt.Errorf("reserve allocation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("reserve allocation: %w", err)
	} else if n == 0 {
		_ = tx.Rollback()
		return s.classifyAllocationFailure(ctx, sess.PoolID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pool_sessions (`+poolSessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
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
	row := s.db.QueryRowContext(ctx, `SELECT `+poolSessionColumns+` FROM pool_sessions WHERE id = $1`, id.String())
	return scanPoolSession(row)
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (pool.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+poolSessionColumns+` FROM pool_sessions WHERE session_token = $1`, token)
	return scanPoolSession(row)
}

func (s *Store) UseSession(ctx context.Context, id uuid.UUID, amount float64, now time.Time) (pool.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pool.Session{}, fmt.Errorf("begin session use: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE pool_sessions
		SET used_amount = used_amount + $1
		WHERE id = $2 AND status = 'active' AND expires_at > $3
		  AND used_amount + $1 <= allocated_amount + 1e-9`,
		amount, id.String(), now.UTC(),
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
		SET current_balance = current_balance - $1,
		    total_used = total_used + $1,
		    last_used_at = $2,
		    status = CASE WHEN current_balance - $1 <= 1e-9 THEN 'depleted' ELSE status END,
		    updated_at = $2
		WHERE id = (SELECT pool_id FROM pool_sessions WHERE id = $3)`,
		amount, now.UTC(), id.String(),
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

func (s *Store) CompleteSession(ctx context.Context, id uuid.UUID, now time.Time) (pool.Session, error) {
	n, err := s.finishSessions(ctx, []uuid.UUID{id}, pool.SessionCompleted, now)
	if err != nil {
		return pool.Session{}, err
	}
	if n == 0 {
		if _, gerr := s.GetSession(ctx, id); gerr != nil {
			return pool.Session{}, gerr
		}
		return pool.Session{}, pool.ErrSessionNotActive
	}
	return s.GetSession(ctx, id)
}

// finishSessions moves the given active sessions to a terminal status and
// releases each unused allocation back to its pool, all in one transaction.
func (s *Store) finishSessions(ctx context.Context, ids []uuid.UUID, to pool.SessionStatus, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin session completion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		UPDATE pool_sessions SET status = $1, completed_at = $2
		WHERE id = ANY($3::uuid[]) AND status = 'active'
		RETURNING id, pool_id, allocated_amount - used_amount`,
		string(to), now.UTC(), pq.Array(idStrs),
	)
	if err != nil {
		return 0, fmt.Errorf("finish sessions: %w", err)
	}
	type release struct {
		poolID    string
		remaining float64
	}
	var releases []release
	for rows.Next() {
		var idStr string
		var r release
		if err := rows.Scan(&idStr, &r.poolID, &r.remaining); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan finished session: %w", err)
		}
		releases = append(releases, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range releases {
		if _, err := tx.ExecContext(ctx, `
			UPDATE credit_pools
			SET available_balance = available_balance + $1,
			    active_sessions = active_sessions - 1,
			    updated_at = $2
			WHERE id = $3`,
			r.remaining, now.UTC(), r.poolID,
		); err != nil {
			return 0, fmt.Errorf("release allocation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit session completion: %w", err)
	}
	return len(releases), nil
}

func (s *Store) ExpireSessions(ctx context.Context, now time.Time) ([]pool.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM pool_sessions WHERE status = 'active' AND expires_at <= $1`,
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

	if _, err := s.finishSessions(ctx, ids, pool.SessionExpired, now); err != nil {
		return nil, err
	}
	var expired []pool.Session
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return expired, err
		}
		if sess.Status == pool.SessionExpired {
			expired = append(expired, sess)
		}
	}
	return expired, nil
}

func (s *Store) CountActiveSessions(ctx context.Context, poolID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pool_sessions WHERE pool_id = $1 AND status = 'active'`,
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
