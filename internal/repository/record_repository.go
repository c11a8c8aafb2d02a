package repository

import (
	"context"
	"fmt"
	"time"

	"ledgerbot/internal/entities"

	"github.com/shopspring/decimal"
)

func (q *pgQueries) InsertRecord(ctx context.Context, rec *entities.Record) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO ledger_records (tenant_id, chat_id, type, amount, operator_id, operator_name,
			fee_applied, rate_snapshot, created_at, original_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		rec.TenantID, rec.ChatID, string(rec.Kind), rec.Amount.String(), rec.OperatorID, rec.OperatorName,
		rec.FeeApplied.String(), rec.RateSnapshot.String(), rec.CreatedAt, rec.OriginalText).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// SummarizeRecords aggregates [from, to) in one grouped pass.
func (q *pgQueries) SummarizeRecords(ctx context.Context, tenantID, chatID int64, from, to time.Time) (entities.DailySummary, error) {
	sum := entities.DailySummary{
		TotalDeposit: decimal.Zero,
		TotalFee:     decimal.Zero,
		TotalPayout:  decimal.Zero,
		WindowStart:  from,
		WindowEnd:    to,
	}
	rows, err := q.db.Query(ctx, `
		SELECT type, COALESCE(SUM(amount), 0)::text, COALESCE(SUM(fee_applied), 0)::text, COUNT(*)
		FROM ledger_records
		WHERE tenant_id=$1 AND chat_id=$2 AND created_at >= $3 AND created_at < $4
		GROUP BY type`, tenantID, chatID, from, to)
	if err != nil {
		return sum, fmt.Errorf("summarize records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, total, fee string
		var count int
		if err := rows.Scan(&kind, &total, &fee, &count); err != nil {
			return sum, err
		}
		var d, f decimal.Decimal
		if err := decimals([]*decimal.Decimal{&d, &f}, []string{total, fee}); err != nil {
			return sum, err
		}
		switch entities.RecordKind(kind) {
		case entities.KindDeposit:
			sum.TotalDeposit, sum.TotalFee, sum.CountDeposit = d, f, count
		case entities.KindPayout:
			sum.TotalPayout, sum.CountPayout = d, count
		}
	}
	return sum, rows.Err()
}

func (q *pgQueries) ListRecords(ctx context.Context, tenantID, chatID int64, from, to time.Time, limit int, kind entities.RecordKind) ([]entities.Record, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, chat_id, type, amount::text, COALESCE(operator_id, 0), COALESCE(operator_name, ''),
			fee_applied::text, rate_snapshot::text, created_at, COALESCE(original_text, '')
		FROM ledger_records
		WHERE tenant_id=$1 AND chat_id=$2 AND created_at >= $3 AND created_at < $4 AND ($5 = '' OR type = $5)
		ORDER BY created_at DESC, id DESC
		LIMIT $6`, tenantID, chatID, from, to, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []entities.Record{}
	for rows.Next() {
		var r entities.Record
		var kindStr, amount, fee, rate string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ChatID, &kindStr, &amount, &r.OperatorID, &r.OperatorName,
			&fee, &rate, &r.CreatedAt, &r.OriginalText); err != nil {
			return nil, err
		}
		r.Kind = entities.RecordKind(kindStr)
		if err := decimals([]*decimal.Decimal{&r.Amount, &r.FeeApplied, &r.RateSnapshot}, []string{amount, fee, rate}); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (q *pgQueries) DeleteRecords(ctx context.Context, tenantID, chatID int64, from, to time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM ledger_records
		WHERE tenant_id=$1 AND chat_id=$2 AND created_at >= $3 AND created_at < $4`,
		tenantID, chatID, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return tag.RowsAffected(), nil
}
