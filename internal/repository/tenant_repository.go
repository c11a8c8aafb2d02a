package repository

import (
	"context"
	"errors"
	"fmt"

	"ledgerbot/internal/entities"

	"github.com/jackc/pgx/v5"
)

func (q *pgQueries) CreateTenant(ctx context.Context, t *entities.Tenant) error {
	if t.Status == "" {
		t.Status = entities.TenantActive
	}
	return q.db.QueryRow(ctx, `
		INSERT INTO tenants (token, name, status, button_config, created_at)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NOW())
		RETURNING id, created_at`, t.Token, t.Name, string(t.Status), t.ButtonConfig).Scan(&t.ID, &t.CreatedAt)
}

func (q *pgQueries) GetTenant(ctx context.Context, id int64) (*entities.Tenant, error) {
	var t entities.Tenant
	var status string
	err := q.db.QueryRow(ctx, `
		SELECT id, token, COALESCE(name, ''), status, COALESCE(button_config, ''), created_at
		FROM tenants WHERE id=$1`, id).Scan(&t.ID, &t.Token, &t.Name, &status, &t.ButtonConfig, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	t.Status = entities.TenantStatus(status)
	return &t, nil
}

func (q *pgQueries) ListTenants(ctx context.Context, status entities.TenantStatus) ([]entities.Tenant, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, token, COALESCE(name, ''), status, COALESCE(button_config, ''), created_at
		FROM tenants WHERE ($1 = '' OR status = $1) ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []entities.Tenant{}
	for rows.Next() {
		var t entities.Tenant
		var st string
		if err := rows.Scan(&t.ID, &t.Token, &t.Name, &st, &t.ButtonConfig, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Status = entities.TenantStatus(st)
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (q *pgQueries) SetTenantStatus(ctx context.Context, id int64, status entities.TenantStatus) error {
	tag, err := q.db.Exec(ctx, "UPDATE tenants SET status=$2 WHERE id=$1", id, string(status))
	if err != nil {
		return fmt.Errorf("set tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrTenantNotFound
	}
	return nil
}
