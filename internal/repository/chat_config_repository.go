package repository

import (
	"context"
	"errors"
	"fmt"

	"ledgerbot/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const chatConfigColumns = `id, tenant_id, chat_id, COALESCE(chat_name, ''), is_active, active_start_time,
	fee_percent::text, usd_rate::text, php_rate::text, myr_rate::text, thb_rate::text,
	decimal_mode, simple_mode, expire_at, COALESCE(license_key, ''), updated_at`

func scanChatConfig(row pgx.Row) (*entities.ChatConfig, error) {
	var c entities.ChatConfig
	var fee, usd, php, myr, thb string
	err := row.Scan(&c.ID, &c.TenantID, &c.ChatID, &c.ChatName, &c.IsActive, &c.ActiveStartTime,
		&fee, &usd, &php, &myr, &thb,
		&c.DecimalMode, &c.SimpleMode, &c.ExpireAt, &c.LicenseKey, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	err = decimals(
		[]*decimal.Decimal{&c.FeePercent, &c.USDRate, &c.PHPRate, &c.MYRRate, &c.THBRate},
		[]string{fee, usd, php, myr, thb},
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *pgQueries) GetChatConfig(ctx context.Context, tenantID, chatID int64, forUpdate bool) (*entities.ChatConfig, error) {
	sql := "SELECT " + chatConfigColumns + " FROM chat_configs WHERE tenant_id=$1 AND chat_id=$2"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	cfg, err := scanChatConfig(q.db.QueryRow(ctx, sql, tenantID, chatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat config: %w", err)
	}
	return cfg, nil
}

func (q *pgQueries) CreateChatConfig(ctx context.Context, cfg *entities.ChatConfig) (bool, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO chat_configs (tenant_id, chat_id, chat_name, is_active, fee_percent,
			usd_rate, php_rate, myr_rate, thb_rate, decimal_mode, simple_mode, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (tenant_id, chat_id) DO NOTHING
		RETURNING `+chatConfigColumns,
		cfg.TenantID, cfg.ChatID, cfg.ChatName, cfg.IsActive, cfg.FeePercent.String(),
		cfg.USDRate.String(), cfg.PHPRate.String(), cfg.MYRRate.String(), cfg.THBRate.String(),
		cfg.DecimalMode, cfg.SimpleMode)
	created, err := scanChatConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race to a concurrent creator; read theirs.
		existing, err := q.GetChatConfig(ctx, cfg.TenantID, cfg.ChatID, false)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return false, fmt.Errorf("chat config %d/%d vanished after conflict", cfg.TenantID, cfg.ChatID)
		}
		*cfg = *existing
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create chat config: %w", err)
	}
	*cfg = *created
	return true, nil
}

func (q *pgQueries) UpdateChatConfig(ctx context.Context, cfg *entities.ChatConfig) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE chat_configs SET chat_name=NULLIF($3, ''), is_active=$4, active_start_time=$5,
			fee_percent=$6, usd_rate=$7, php_rate=$8, myr_rate=$9, thb_rate=$10,
			decimal_mode=$11, simple_mode=$12, expire_at=$13, license_key=NULLIF($14, ''),
			updated_at=NOW()
		WHERE tenant_id=$1 AND chat_id=$2`,
		cfg.TenantID, cfg.ChatID, cfg.ChatName, cfg.IsActive, cfg.ActiveStartTime,
		cfg.FeePercent.String(), cfg.USDRate.String(), cfg.PHPRate.String(), cfg.MYRRate.String(), cfg.THBRate.String(),
		cfg.DecimalMode, cfg.SimpleMode, cfg.ExpireAt, cfg.LicenseKey)
	if err != nil {
		return fmt.Errorf("update chat config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update chat config %d/%d: no such row", cfg.TenantID, cfg.ChatID)
	}
	return nil
}

func (q *pgQueries) ListActiveChats(ctx context.Context) ([]entities.ChatConfig, error) {
	rows, err := q.db.Query(ctx, "SELECT "+chatConfigColumns+" FROM chat_configs WHERE is_active ORDER BY tenant_id, chat_id")
	if err != nil {
		return nil, fmt.Errorf("list active chats: %w", err)
	}
	defer rows.Close()

	configs := []entities.ChatConfig{}
	for rows.Next() {
		c, err := scanChatConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}
