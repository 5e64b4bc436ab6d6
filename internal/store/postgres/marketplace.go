package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/marketplace"
)

func (s *Store) ListAvailable(ctx context.Context, f marketplace.Filter) ([]marketplace.Listing, error) {
	query := `
		SELECT id, seller_id, platform, current_balance, current_price, base_price,
		       demand_multiplier, expires_at, created_at
		FROM virtual_cards
		WHERE buyer_id IS NULL AND status = 'active' AND expires_at > NOW()`
	args := []any{}
	n := 0
	next := func() string {
		n++
		return fmt.Sprintf("$%d", n)
	}
	if f.Platform != "" {
		query += ` AND platform = ` + next()
		args = append(args, f.Platform)
	}
	if f.MaxPrice > 0 {
		query += ` AND current_price <= ` + next()
		args = append(args, f.MaxPrice)
	}
	if f.MinBalance > 0 {
		query += ` AND current_balance >= ` + next()
		args = append(args, f.MinBalance)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + next()
	args = append(args, f.Limit)
	query += ` OFFSET ` + next()
	args = append(args, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list available cards: %w", err)
	}
	defer rows.Close()

	var out []marketplace.Listing
	for rows.Next() {
		var (
			l                marketplace.Listing
			idStr, sellerStr string
		)
		if err := rows.Scan(
			&idStr, &sellerStr, &l.Platform, &l.CurrentBalance, &l.CurrentPrice, &l.BasePrice,
			&l.DemandMultiplier, &l.ExpiresAt, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		if l.CardID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse card id: %w", err)
		}
		if l.SellerID, err = uuid.Parse(sellerStr); err != nil {
			return nil, fmt.Errorf("parse seller id: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) Purchase(ctx context.Context, buyerID, cardID uuid.UUID, durationHours int, now time.Time) (marketplace.Transaction, card.Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("begin purchase: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM virtual_cards WHERE id = $1 FOR UPDATE`, cardID.String())
	c, err := scanCard(row)
	if err != nil {
		return marketplace.Transaction{}, card.Card{}, err
	}
	price := c.CurrentPrice * float64(durationHours)

	res, err := tx.ExecContext(ctx, `
		UPDATE virtual_cards SET buyer_id = $1
		WHERE id = $2 AND buyer_id IS NULL AND status = 'active' AND expires_at > $3`,
		buyerID.String(), cardID.String(), now.UTC(),
	)
	if err != nil {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("assign buyer: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("assign buyer: %w", err)
	} else if n == 0 {
		if c.BuyerID != nil {
			return marketplace.Transaction{}, card.Card{}, card.ErrAlreadyPurchased
		}
		return marketplace.Transaction{}, card.Card{}, marketplace.ErrCardNotForSale
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE users
		SET balance = balance - $1, total_spent = total_spent + $1, updated_at = $2
		WHERE id = $3 AND balance >= $1`,
		price, now.UTC(), buyerID.String(),
	)
	if err != nil {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("debit buyer: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("debit buyer: %w", err)
	} else if n == 0 {
		return marketplace.Transaction{}, card.Card{}, marketplace.ErrInsufficientFunds
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE users
		SET balance = balance + $1, total_earned = total_earned + $1, updated_at = $2
		WHERE id = $3`,
		price, now.UTC(), c.SellerID.String(),
	)
	if err != nil {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("credit seller: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("credit seller: %w", err)
	} else if n == 0 {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("credit seller %s: no such user", c.SellerID)
	}

	t := marketplace.Transaction{
		ID:            uuid.New(),
		CardID:        c.ID,
		SellerID:      c.SellerID,
		BuyerID:       buyerID,
		Platform:      c.Platform,
		Amount:        price,
		DurationHours: durationHours,
		CreatedAt:     now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO marketplace_transactions (id, card_id, seller_id, buyer_id, platform, amount, duration_hours, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID.String(), t.CardID.String(), t.SellerID.String(), t.BuyerID.String(),
		t.Platform, t.Amount, t.DurationHours, t.CreatedAt.UTC(),
	); err != nil {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("insert transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return marketplace.Transaction{}, card.Card{}, fmt.Errorf("commit purchase: %w", err)
	}

	bought, err := s.GetByID(ctx, cardID)
	if err != nil {
		return marketplace.Transaction{}, card.Card{}, err
	}
	return t, bought, nil
}

func (s *Store) ListPurchases(ctx context.Context, buyerID uuid.UUID) ([]marketplace.Transaction, error) {
	return s.listTransactions(ctx, `buyer_id = $1`, buyerID)
}

func (s *Store) ListSales(ctx context.Context, sellerID uuid.UUID) ([]marketplace.Transaction, error) {
	return s.listTransactions(ctx, `seller_id = $1`, sellerID)
}

func (s *Store) listTransactions(ctx context.Context, where string, id uuid.UUID) ([]marketplace.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, seller_id, buyer_id, platform, amount, duration_hours, created_at
		FROM marketplace_transactions WHERE `+where+` ORDER BY created_at DESC`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []marketplace.Transaction
	for rows.Next() {
		var (
			t                                   marketplace.Transaction
			idStr, cardStr, sellerStr, buyerStr string
		)
		if err := rows.Scan(&idStr, &cardStr, &sellerStr, &buyerStr, &t.Platform, &t.Amount, &t.DurationHours, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse transaction id: %w", err)
		}
		if t.CardID, err = uuid.Parse(cardStr); err != nil {
			return nil, fmt.Errorf("parse card id: %w", err)
		}
		if t.SellerID, err = uuid.Parse(sellerStr); err != nil {
			return nil, fmt.Errorf("parse seller id: %w", err)
		}
		if t.BuyerID, err = uuid.Parse(buyerStr); err != nil {
			return nil, fmt.Errorf("parse buyer id: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
