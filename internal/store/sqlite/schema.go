package sqlite

import "fmt"

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	balance REAL NOT NULL DEFAULT 0,
	total_earned REAL NOT NULL DEFAULT 0,
	total_spent REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS platform_accounts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	platform TEXT NOT NULL,
	email TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	is_premium INTEGER NOT NULL DEFAULT 0,
	subscription_type TEXT NOT NULL DEFAULT '',
	available_credits REAL NOT NULL DEFAULT 0,
	total_credits REAL NOT NULL DEFAULT 0,
	credits_used REAL NOT NULL DEFAULT 0,
	last_credit_sync TIMESTAMP,
	allow_pooling INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS virtual_cards (
	id TEXT PRIMARY KEY,
	card_number TEXT NOT NULL UNIQUE,
	cvv TEXT NOT NULL,
	seller_id TEXT NOT NULL REFERENCES users(id),
	buyer_id TEXT REFERENCES users(id),
	platform_account_id TEXT NOT NULL REFERENCES platform_accounts(id),
	platform TEXT NOT NULL,
	initial_balance REAL NOT NULL,
	current_balance REAL NOT NULL,
	total_charged REAL NOT NULL DEFAULT 0,
	base_price REAL NOT NULL,
	current_price REAL NOT NULL,
	demand_multiplier REAL NOT NULL DEFAULT 1.0,
	status TEXT NOT NULL DEFAULT 'active',
	usage_count INTEGER NOT NULL DEFAULT 0,
	last_used TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	activated_at TIMESTAMP,
	expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cards_status_platform ON virtual_cards(status, platform);
CREATE INDEX IF NOT EXISTS idx_cards_seller ON virtual_cards(seller_id);
CREATE INDEX IF NOT EXISTS idx_cards_buyer ON virtual_cards(buyer_id);

CREATE TABLE IF NOT EXISTS marketplace_transactions (
	id TEXT PRIMARY KEY,
	card_id TEXT NOT NULL REFERENCES virtual_cards(id),
	seller_id TEXT NOT NULL REFERENCES users(id),
	buyer_id TEXT NOT NULL REFERENCES users(id),
	platform TEXT NOT NULL,
	amount REAL NOT NULL,
	duration_hours INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tx_buyer ON marketplace_transactions(buyer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tx_seller ON marketplace_transactions(seller_id, created_at);

CREATE TABLE IF NOT EXISTS credit_pools (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL REFERENCES users(id),
	platform TEXT NOT NULL,
	name TEXT NOT NULL,
	min_contribution REAL NOT NULL,
	max_contribution REAL NOT NULL,
	auto_refill_threshold REAL NOT NULL,
	auto_refill_amount REAL NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	is_public INTEGER NOT NULL DEFAULT 0,
	total_contributed REAL NOT NULL DEFAULT 0,
	total_used REAL NOT NULL DEFAULT 0,
	current_balance REAL NOT NULL DEFAULT 0,
	available_balance REAL NOT NULL DEFAULT 0,
	total_sessions INTEGER NOT NULL DEFAULT 0,
	active_sessions INTEGER NOT NULL DEFAULT 0,
	last_used_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pools_public ON credit_pools(is_public, platform);

CREATE TABLE IF NOT EXISTS pool_contributions (
	id TEXT PRIMARY KEY,
	pool_id TEXT NOT NULL REFERENCES credit_pools(id) ON DELETE CASCADE,
	platform_account_id TEXT NOT NULL REFERENCES platform_accounts(id),
	contributor_id TEXT NOT NULL REFERENCES users(id),
	amount REAL NOT NULL,
	contribution_type TEXT NOT NULL DEFAULT 'manual',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_contrib_pool ON pool_contributions(pool_id, created_at);

CREATE TABLE IF NOT EXISTS pool_sessions (
	id TEXT PRIMARY KEY,
	pool_id TEXT NOT NULL REFERENCES credit_pools(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES users(id),
	session_token TEXT NOT NULL UNIQUE,
	allocated_amount REAL NOT NULL,
	used_amount REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pool_sessions_active ON pool_sessions(status, expires_at);

CREATE TABLE IF NOT EXISTS usage_logs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	card_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	request_type TEXT NOT NULL DEFAULT '',
	request_size INTEGER NOT NULL DEFAULT 0,
	response_size INTEGER NOT NULL DEFAULT 0,
	base_cost REAL NOT NULL,
	actual_cost REAL NOT NULL,
	cost_multiplier REAL NOT NULL,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 1,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_usage_platform_time ON usage_logs(platform, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_card ON usage_logs(card_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_user ON usage_logs(user_id, created_at);

CREATE TABLE IF NOT EXISTS access_sessions (
	id TEXT PRIMARY KEY,
	buyer_id TEXT NOT NULL REFERENCES users(id),
	card_id TEXT NOT NULL REFERENCES virtual_cards(id),
	platform_account_id TEXT NOT NULL REFERENCES platform_accounts(id),
	platform TEXT NOT NULL,
	session_token TEXT NOT NULL UNIQUE,
	provider_handle TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	total_usage REAL NOT NULL DEFAULT 0,
	request_count INTEGER NOT NULL DEFAULT 0,
	last_request_at TIMESTAMP,
	started_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	terminated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_access_buyer ON access_sessions(buyer_id, started_at);

CREATE TABLE IF NOT EXISTS price_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	card_id TEXT NOT NULL REFERENCES virtual_cards(id) ON DELETE CASCADE,
	platform TEXT NOT NULL,
	price REAL NOT NULL,
	base_price REAL NOT NULL,
	demand_multiplier REAL NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_price_history ON price_history(platform, created_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
