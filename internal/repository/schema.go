package repository

import (
	"database/sql"
	"fmt"
)

// schema - таблицы торгового ядра. Выполняется при старте, идемпотентно.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS owners (
		id VARCHAR(64) PRIMARY KEY,
		webhook_secret_hash TEXT NOT NULL DEFAULT '',
		paper_mode BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS exchange_accounts (
		id SERIAL PRIMARY KEY,
		owner VARCHAR(64) NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		exchange VARCHAR(20) NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		secret_key TEXT NOT NULL DEFAULT '',
		passphrase TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (owner, exchange)
	)`,
	`CREATE TABLE IF NOT EXISTS open_lots (
		id BIGSERIAL PRIMARY KEY,
		owner VARCHAR(64) NOT NULL,
		exchange VARCHAR(20) NOT NULL,
		symbol VARCHAR(30) NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		entry_notional DOUBLE PRECISION NOT NULL,
		buy_fee_quote DOUBLE PRECISION NOT NULL DEFAULT 0,
		buy_fee_base DOUBLE PRECISION NOT NULL DEFAULT 0,
		buy_fee_currency VARCHAR(20) NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		is_paper BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS open_lots_group_idx ON open_lots (owner, exchange, symbol, is_paper)`,
	`CREATE TABLE IF NOT EXISTS closed_trades (
		id BIGSERIAL PRIMARY KEY,
		owner VARCHAR(64) NOT NULL,
		exchange VARCHAR(20) NOT NULL,
		symbol VARCHAR(30) NOT NULL,
		action VARCHAR(4) NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		net_pnl DOUBLE PRECISION NOT NULL,
		is_paper BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS closed_trades_owner_idx ON closed_trades (owner, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS automation_rules (
		id SERIAL PRIMARY KEY,
		owner VARCHAR(64) NOT NULL,
		exchange VARCHAR(20) NOT NULL,
		symbol VARCHAR(30) NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (owner, exchange, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGSERIAL PRIMARY KEY,
		owner VARCHAR(64) NOT NULL,
		timestamp TIMESTAMP NOT NULL DEFAULT NOW(),
		type VARCHAR(20) NOT NULL,
		severity VARCHAR(10) NOT NULL DEFAULT 'info',
		message TEXT NOT NULL,
		meta JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_owner_idx ON notifications (owner, timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS settings (
		id INT PRIMARY KEY DEFAULT 1,
		gate_mode VARCHAR(20) NOT NULL DEFAULT 'normal',
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`INSERT INTO settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
}

// Migrate создаёт недостающие таблицы и индексы
func Migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
