package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/subsplit/subsplit/internal/pricing"
)

func (s *Store) ActiveCardCount(ctx context.Context, platform string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT card_id) FROM usage_logs
		WHERE platform = $1 AND created_at >= $2`,
		platform, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active cards: %w", err)
	}
	return n, nil
}

func (s *Store) RequestCount(ctx context.Context, platform string, since time.Time) (int64, error) {
	return s.CountSince(ctx, platform, since)
}

func (s *Store) PriceSeries(ctx context.Context, platform string, since time.Time) ([]pricing.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT price, base_price, created_at FROM price_history
		WHERE platform = $1 AND created_at >= $2
		ORDER BY created_at`,
		platform, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("load price series: %w", err)
	}
	defer rows.Close()

	var out []pricing.PricePoint
	for rows.Next() {
		var p pricing.PricePoint
		if err := rows.Scan(&p.Price, &p.BasePrice, &p.At); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UtilizationPoints(ctx context.Context, platform string) ([]pricing.UtilizationPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT current_price,
		       CASE WHEN initial_balance > 0
		            THEN (initial_balance - current_balance) / initial_balance * 100
		            ELSE 0 END AS utilization
		FROM virtual_cards
		WHERE platform = $1 AND usage_count > 0`,
		platform,
	)
	if err != nil {
		return nil, fmt.Errorf("load utilization points: %w", err)
	}
	defer rows.Close()

	var out []pricing.UtilizationPoint
	for rows.Next() {
		var p pricing.UtilizationPoint
		if err := rows.Scan(&p.Price, &p.Utilization); err != nil {
			return nil, fmt.Errorf("scan utilization point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
