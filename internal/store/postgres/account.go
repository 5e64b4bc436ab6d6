package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/account"
)

const userColumns = `id, email, display_name, balance, total_earned, total_spent, created_at, updated_at`

const platformAccountColumns = `id, user_id, platform, email, status, is_premium, subscription_type,
	available_credits, total_credits, credits_used, last_credit_sync, allow_pooling, created_at, updated_at`

func (s *Store) InsertUser(ctx context.Context, u account.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID.String(), u.Email, u.DisplayName,
		u.Balance, u.TotalEarned, u.TotalSpent,
		u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (account.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (account.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID) (float64, error) {
	var balance float64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1`, userID.String()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, account.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *Store) AdjustBalance(ctx context.Context, userID uuid.UUID, delta float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET balance = balance + $1,
		    total_earned = total_earned + CASE WHEN $1 > 0 THEN $1 ELSE 0 END,
		    total_spent = total_spent + CASE WHEN $1 < 0 THEN -$1 ELSE 0 END,
		    updated_at = NOW()
		WHERE id = $2 AND balance + $1 >= 0`,
		delta, userID.String(),
	)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	if n == 0 {
		if _, gerr := s.GetUser(ctx, userID); gerr != nil {
			return gerr
		}
		return account.ErrInsufficientFunds
	}
	return nil
}

func (s *Store) InsertPlatformAccount(ctx context.Context, a account.PlatformAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_accounts (`+platformAccountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID.String(), a.UserID.String(), a.Platform, a.Email,
		string(a.Status), a.IsPremium, a.SubscriptionType,
		a.AvailableCredits, a.TotalCredits, a.CreditsUsed,
		nullTime(a.LastCreditSync), a.AllowPooling,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert platform account: %w", err)
	}
	return nil
}

func (s *Store) GetPlatformAccount(ctx context.Context, id uuid.UUID) (account.PlatformAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+platformAccountColumns+` FROM platform_accounts WHERE id = $1`, id.String())
	return scanPlatformAccount(row)
}

func (s *Store) ListPlatformAccounts(ctx context.Context, userID uuid.UUID) ([]account.PlatformAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+platformAccountColumns+` FROM platform_accounts WHERE user_id = $1 ORDER BY created_at`,
		userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list platform accounts: %w", err)
	}
	defer rows.Close()

	var out []account.PlatformAccount
	for rows.Next() {
		a, err := scanPlatformAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AdjustCredits(ctx context.Context, accountID uuid.UUID, delta float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE platform_accounts
		SET available_credits = available_credits + $1,
		    credits_used = credits_used + CASE WHEN $1 < 0 THEN -$1 ELSE 0 END,
		    updated_at = NOW()
		WHERE id = $2 AND available_credits + $1 >= 0`,
		delta, accountID.String(),
	)
	if err != nil {
		return fmt.Errorf("adjust credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust credits: %w", err)
	}
	if n == 0 {
		if _, gerr := s.GetPlatformAccount(ctx, accountID); gerr != nil {
			return gerr
		}
		return account.ErrInsufficientCredits
	}
	return nil
}

func (s *Store) SyncCredits(ctx context.Context, accountID uuid.UUID, available, total float64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE platform_accounts
		SET available_credits = $1, total_credits = $2, last_credit_sync = $3, updated_at = $3
		WHERE id = $4`,
		available, total, at.UTC(), accountID.String(),
	)
	if err != nil {
		return fmt.Errorf("sync credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sync credits: %w", err)
	}
	if n == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

func scanUser(row rowScanner) (account.User, error) {
	var (
		u     account.User
		idStr string
	)
	err := row.Scan(&idStr, &u.Email, &u.DisplayName, &u.Balance, &u.TotalEarned, &u.TotalSpent, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account.User{}, account.ErrUserNotFound
	}
	if err != nil {
		return account.User{}, fmt.Errorf("scan user: %w", err)
	}
	if u.ID, err = uuid.Parse(idStr); err != nil {
		return account.User{}, fmt.Errorf("parse user id: %w", err)
	}
	return u, nil
}

func scanPlatformAccount(row rowScanner) (account.PlatformAccount, error) {
	var (
		a             account.PlatformAccount
		idStr, usrStr string
		status        string
		lastSync      sql.NullTime
	)
	err := row.Scan(
		&idStr, &usrStr, &a.Platform, &a.Email,
		&status, &a.IsPremium, &a.SubscriptionType,
		&a.AvailableCredits, &a.TotalCredits, &a.CreditsUsed,
		&lastSync, &a.AllowPooling, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return account.PlatformAccount{}, account.ErrAccountNotFound
	}
	if err != nil {
		return account.PlatformAccount{}, fmt.Errorf("scan platform account: %w", err)
	}
	if a.ID, err = uuid.Parse(idStr); err != nil {
		return account.PlatformAccount{}, fmt.Errorf("parse account id: %w", err)
	}
	if a.UserID, err = uuid.Parse(usrStr); err != nil {
		return account.PlatformAccount{}, fmt.Errorf("parse user id: %w", err)
	}
	a.Status = account.AccountStatus(status)
	a.LastCreditSync = timePtr(lastSync)
	return a, nil
}
