package postgres

import "fmt"

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	balance DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_earned DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_spent DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS platform_accounts (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	platform TEXT NOT NULL,
	email TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	is_premium BOOLEAN NOT NULL DEFAULT FALSE,
	subscription_type TEXT NOT NULL DEFAULT '',
	available_credits DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_credits DOUBLE PRECISION NOT NULL DEFAULT 0,
	credits_used DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_credit_sync TIMESTAMPTZ,
	allow_pooling BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS virtual_cards (
	id UUID PRIMARY KEY,
	card_number TEXT NOT NULL UNIQUE,
	cvv TEXT NOT NULL,
	seller_id UUID NOT NULL REFERENCES users(id),
	buyer_id UUID REFERENCES users(id),
	platform_account_id UUID NOT NULL REFERENCES platform_accounts(id),
	platform TEXT NOT NULL,
	initial_balance DOUBLE PRECISION NOT NULL,
	current_balance DOUBLE PRECISION NOT NULL,
	total_charged DOUBLE PRECISION NOT NULL DEFAULT 0,
	base_price DOUBLE PRECISION NOT NULL,
	current_price DOUBLE PRECISION NOT NULL,
	demand_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	status TEXT NOT NULL DEFAULT 'active',
	usage_count BIGINT NOT NULL DEFAULT 0,
	last_used TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	activated_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cards_status_platform ON virtual_cards(status, platform);
CREATE INDEX IF NOT EXISTS idx_cards_seller ON virtual_cards(seller_id);
CREATE INDEX IF NOT EXISTS idx_cards_buyer ON virtual_cards(buyer_id);

CREATE TABLE IF NOT EXISTS marketplace_transactions (
	id UUID PRIMARY KEY,
	card_id UUID NOT NULL REFERENCES virtual_cards(id),
	seller_id UUID NOT NULL REFERENCES users(id),
	buyer_id UUID NOT NULL REFERENCES users(id),
	platform TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	duration_hours INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tx_buyer ON marketplace_transactions(buyer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tx_seller ON marketplace_transactions(seller_id, created_at);

CREATE TABLE IF NOT EXISTS credit_pools (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL REFERENCES users(id),
	platform TEXT NOT NULL,
	name TEXT NOT NULL,
	min_contribution DOUBLE PRECISION NOT NULL,
	max_contribution DOUBLE PRECISION NOT NULL,
	auto_refill_threshold DOUBLE PRECISION NOT NULL,
	auto_refill_amount DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	is_public BOOLEAN NOT NULL DEFAULT FALSE,
	total_contributed DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_used DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
	available_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_sessions BIGINT NOT NULL DEFAULT 0,
	active_sessions BIGINT NOT NULL DEFAULT 0,
	last_used_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_pools_public ON credit_pools(is_public, platform);

CREATE TABLE IF NOT EXISTS pool_contributions (
	id UUID PRIMARY KEY,
	pool_id UUID NOT NULL REFERENCES credit_pools(id) ON DELETE CASCADE,
	platform_account_id UUID NOT NULL REFERENCES platform_accounts(id),
	contributor_id UUID NOT NULL REFERENCES users(id),
	amount DOUBLE PRECISION NOT NULL,
	contribution_type TEXT NOT NULL DEFAULT 'manual',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_contrib_pool ON pool_contributions(pool_id, created_at);

CREATE TABLE IF NOT EXISTS pool_sessions (
	id UUID PRIMARY KEY,
	pool_id UUID NOT NULL REFERENCES credit_pools(id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES users(id),
	session_token TEXT NOT NULL UNIQUE,
	allocated_amount DOUBLE PRECISION NOT NULL,
	used_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_pool_sessions_active ON pool_sessions(status, expires_at);

CREATE TABLE IF NOT EXISTS usage_logs (
	id UUID PRIMARY KEY,
	session_id UUID NOT NULL,
	card_id UUID NOT NULL,
	user_id UUID NOT NULL,
	platform TEXT NOT NULL,
	request_type TEXT NOT NULL DEFAULT '',
	request_size BIGINT NOT NULL DEFAULT 0,
	response_size BIGINT NOT NULL DEFAULT 0,
	base_cost DOUBLE PRECISION NOT NULL,
	actual_cost DOUBLE PRECISION NOT NULL,
	cost_multiplier DOUBLE PRECISION NOT NULL,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	success BOOLEAN NOT NULL DEFAULT TRUE,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_usage_platform_time ON usage_logs(platform, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_card ON usage_logs(card_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_user ON usage_logs(user_id, created_at);

CREATE TABLE IF NOT EXISTS access_sessions (
	id UUID PRIMARY KEY,
	buyer_id UUID NOT NULL REFERENCES users(id),
	card_id UUID NOT NULL REFERENCES virtual_cards(id),
	platform_account_id UUID NOT NULL REFERENCES platform_accounts(id),
	platform TEXT NOT NULL,
	session_token TEXT NOT NULL UNIQUE,
	provider_handle TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	total_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
	request_count BIGINT NOT NULL DEFAULT 0,
	last_request_at TIMESTAMPTZ,
	started_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	terminated_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_access_buyer ON access_sessions(buyer_id, started_at);

CREATE TABLE IF NOT EXISTS price_history (
	id BIGSERIAL PRIMARY KEY,
	card_id UUID NOT NULL REFERENCES virtual_cards(id) ON DELETE CASCADE,
	platform TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	base_price DOUBLE PRECISION NOT NULL,
	demand_multiplier DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_price_history ON price_history(platform, created_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
