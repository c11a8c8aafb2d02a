package repository

import (
	"context"
	"errors"
	"fmt"

	"ledgerbot/internal/entities"

	"github.com/jackc/pgx/v5"
)

func (q *pgQueries) AddOperator(ctx context.Context, op *entities.Operator) (bool, error) {
	err := q.db.QueryRow(ctx, `
		INSERT INTO operators (tenant_id, chat_id, user_id, username, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_id, chat_id, user_id) DO NOTHING
		RETURNING id, created_at`,
		op.TenantID, op.ChatID, op.UserID, op.Username).Scan(&op.ID, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("add operator: %w", err)
	}
	return true, nil
}

func (q *pgQueries) RemoveOperator(ctx context.Context, tenantID, chatID, userID int64) (bool, error) {
	tag, err := q.db.Exec(ctx,
		"DELETE FROM operators WHERE tenant_id=$1 AND chat_id=$2 AND user_id=$3", tenantID, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("remove operator: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *pgQueries) ListOperators(ctx context.Context, tenantID, chatID int64) ([]entities.Operator, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, chat_id, user_id, COALESCE(username, ''), created_at
		FROM operators
		WHERE tenant_id=$1 AND chat_id=$2
		ORDER BY id`, tenantID, chatID)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	operators := []entities.Operator{}
	for rows.Next() {
		var op entities.Operator
		if err := rows.Scan(&op.ID, &op.TenantID, &op.ChatID, &op.UserID, &op.Username, &op.CreatedAt); err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}
	return operators, rows.Err()
}
