package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/card"
)

const cardColumns = `id, card_number, cvv, seller_id, buyer_id, platform_account_id, platform,
	initial_balance, current_balance, total_charged,
	base_price, current_price, demand_multiplier,
	status, usage_count, last_used, created_at, activated_at, expires_at`

func (s *Store) Insert(ctx context.Context, c card.Card) error {
	var buyer sql.NullString
	if c.BuyerID != nil {
		buyer = sql.NullString{String: c.BuyerID.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO virtual_cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		c.ID.String(), c.Number, c.CVV, c.SellerID.String(), buyer,
		c.PlatformAccountID.String(), c.Platform,
		c.InitialBalance, c.CurrentBalance, c.TotalCharged,
		c.BasePrice, c.CurrentPrice, c.DemandMultiplier,
		string(c.Status), c.UsageCount, nullTime(c.LastUsed),
		c.CreatedAt.UTC(), nullTime(c.ActivatedAt), c.ExpiresAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") && strings.Contains(err.Error(), "card_number") {
			return card.ErrDuplicateNumber
		}
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (card.Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM virtual_cards WHERE id = $1`, id.String())
	return scanCard(row)
}

func (s *Store) GetByNumber(ctx context.Context, number string) (card.Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM virtual_cards WHERE card_number = $1`, number)
	return scanCard(row)
}

func (s *Store) Charge(ctx context.Context, id uuid.UUID, amount float64, now time.Time) (card.Card, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE virtual_cards
		SET current_balance = current_balance - $1,
		    total_charged = total_charged + $1,
		    usage_count = usage_count + 1,
		    last_used = $2,
		    status = CASE WHEN current_balance - $1 <= 1e-9 THEN 'depleted' ELSE status END
		WHERE id = $3 AND status = 'active' AND expires_at > $2 AND current_balance >= $1
		RETURNING `+cardColumns,
		amount, now.UTC(), id.String(),
	)
	c, err := scanCard(row)
	if errors.Is(err, card.ErrNotFound) {
		return card.Card{}, s.classifyChargeFailure(ctx, id, amount, now)
	}
	if err != nil {
		return card.Card{}, fmt.Errorf("charge card: %w", err)
	}
	return c, nil
}

func (s *Store) classifyChargeFailure(ctx context.Context, id uuid.UUID, amount float64, now time.Time) error {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case c.Status != card.StatusActive:
		return card.ErrNotUsable
	case c.Expired(now):
		return card.ErrExpired
	case c.CurrentBalance < amount:
		return card.ErrInsufficientBalance
	default:
		return card.ErrNotUsable
	}
}

func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to card.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE virtual_cards SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id.String(), string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition card: %w", err)
	}
	return n > 0, nil
}

func (s *Store) UpdatePricing(ctx context.Context, id uuid.UUID, price, multiplier float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pricing update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE virtual_cards SET current_price = $1, demand_multiplier = $2 WHERE id = $3`,
		price, multiplier, id.String(),
	)
	if err != nil {
		return fmt.Errorf("update pricing: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update pricing: %w", err)
	} else if n == 0 {
		return card.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO price_history (card_id, platform, price, base_price, demand_multiplier)
		SELECT id, platform, current_price, base_price, demand_multiplier
		FROM virtual_cards WHERE id = $1`,
		id.String(),
	); err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ListActive(ctx context.Context) ([]card.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM virtual_cards WHERE status = 'active' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active cards: %w", err)
	}
	defer rows.Close()

	var out []card.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCard(row rowScanner) (card.Card, error) {
	var (
		c                    card.Card
		idStr, sellerStr     string
		buyer                sql.NullString
		acctStr, status      string
		lastUsed, activated  sql.NullTime
		createdAt, expiresAt time.Time
	)
	err := row.Scan(
		&idStr, &c.Number, &c.CVV, &sellerStr, &buyer, &acctStr, &c.Platform,
		&c.InitialBalance, &c.CurrentBalance, &c.TotalCharged,
		&c.BasePrice, &c.CurrentPrice, &c.DemandMultiplier,
		&status, &c.UsageCount, &lastUsed, &createdAt, &activated, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return card.Card{}, card.ErrNotFound
	}
	if err != nil {
		return card.Card{}, fmt.Errorf("scan card: %w", err)
	}
	if c.ID, err = uuid.Parse(idStr); err != nil {
		return card.Card{}, fmt.Errorf("parse card id: %w", err)
	}
	if c.SellerID, err = uuid.Parse(sellerStr); err != nil {
		return card.Card{}, fmt.Errorf("parse seller id: %w", err)
	}
	if buyer.Valid {
		b, err := uuid.Parse(buyer.String)
		if err != nil {
			return card.Card{}, fmt.Errorf("parse buyer id: %w", err)
		}
		c.BuyerID = &b
	}
	if c.PlatformAccountID, err = uuid.Parse(acctStr); err != nil {
		return card.Card{}, fmt.Errorf("parse platform account id: %w", err)
	}
	c.Status = card.Status(status)
	c.LastUsed = timePtr(lastUsed)
	c.ActivatedAt = timePtr(activated)
	c.CreatedAt = createdAt
	c.ExpiresAt = expiresAt
	return c, nil
}
