package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgerbot/internal/entities"

	"github.com/jackc/pgx/v5"
)

func (q *pgQueries) InsertLicenseCode(ctx context.Context, lc *entities.LicenseCode) error {
	return q.db.QueryRow(ctx, `
		INSERT INTO license_codes (code, days, is_used, created_at)
		VALUES ($1, $2, FALSE, NOW())
		RETURNING id, created_at`, lc.Code, lc.Days).Scan(&lc.ID, &lc.CreatedAt)
}

func (q *pgQueries) GetLicenseCode(ctx context.Context, code string, forUpdate bool) (*entities.LicenseCode, error) {
	sql := "SELECT id, code, days, is_used, used_by_chat, used_at, created_at FROM license_codes WHERE code=$1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	var lc entities.LicenseCode
	err := q.db.QueryRow(ctx, sql, code).Scan(&lc.ID, &lc.Code, &lc.Days, &lc.IsUsed, &lc.UsedByChat, &lc.UsedAt, &lc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license code: %w", err)
	}
	return &lc, nil
}

func (q *pgQueries) MarkLicenseCodeUsed(ctx context.Context, id int64, chatID int64, at time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE license_codes SET is_used=TRUE, used_by_chat=$2, used_at=$3
		WHERE id=$1 AND NOT is_used`, id, chatID, at)
	if err != nil {
		return fmt.Errorf("mark license code used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrLicenseCodeUsed
	}
	return nil
}
