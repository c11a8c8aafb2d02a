package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, connString string, maxConns int32) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}

	// Auto-migrate schema
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (p *PostgresClient) Migrate(ctx context.Context) error {
	// Tenants (one row per hosted bot)
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id BIGSERIAL PRIMARY KEY,
			token VARCHAR(128) UNIQUE NOT NULL,
			name VARCHAR(255),
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			button_config TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("create tenants table: %w", err)
	}

	// Per-chat configuration, license state and recording flag
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_configs (
			id BIGSERIAL PRIMARY KEY,
			tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			chat_id BIGINT NOT NULL,
			chat_name VARCHAR(255),
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			active_start_time TIMESTAMPTZ,
			fee_percent NUMERIC(10, 4) NOT NULL DEFAULT 0,
			usd_rate NUMERIC(18, 6) NOT NULL DEFAULT 0,
			php_rate NUMERIC(18, 6) NOT NULL DEFAULT 0,
			myr_rate NUMERIC(18, 6) NOT NULL DEFAULT 0,
			thb_rate NUMERIC(18, 6) NOT NULL DEFAULT 0,
			decimal_mode BOOLEAN NOT NULL DEFAULT TRUE,
			simple_mode BOOLEAN NOT NULL DEFAULT FALSE,
			expire_at TIMESTAMPTZ,
			license_key VARCHAR(64),
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (tenant_id, chat_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("create chat_configs table: %w", err)
	}

	// Ledger lines
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_records (
			id BIGSERIAL PRIMARY KEY,
			tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			chat_id BIGINT NOT NULL,
			type VARCHAR(20) NOT NULL,
			amount NUMERIC(18, 2) NOT NULL,
			operator_id BIGINT,
			operator_name VARCHAR(255),
			fee_applied NUMERIC(18, 2) NOT NULL DEFAULT 0,
			rate_snapshot NUMERIC(18, 6) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			original_text TEXT
		);
	`)
	if err != nil {
		return fmt.Errorf("create ledger_records table: %w", err)
	}
	_, err = p.Pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_ledger_records_window
		ON ledger_records (tenant_id, chat_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("create ledger_records index: %w", err)
	}

	// Operators registered per chat
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS operators (
			id BIGSERIAL PRIMARY KEY,
			tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			username VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (tenant_id, chat_id, user_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("create operators table: %w", err)
	}

	// Activation codes
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS license_codes (
			id BIGSERIAL PRIMARY KEY,
			code VARCHAR(64) UNIQUE NOT NULL,
			days INT NOT NULL,
			is_used BOOLEAN NOT NULL DEFAULT FALSE,
			used_by_chat BIGINT,
			used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("create license_codes table: %w", err)
	}

	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
