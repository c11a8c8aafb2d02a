package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/interfaces"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLite has no exact decimal type; money and rates are stored as integers
// scaled by 10^moneyScale so SUM stays exact.
const moneyScale = 4

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		button_config TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL,
		chat_name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 0,
		active_start_time INTEGER,
		fee_percent INTEGER NOT NULL DEFAULT 0,
		usd_rate INTEGER NOT NULL DEFAULT 0,
		php_rate INTEGER NOT NULL DEFAULT 0,
		myr_rate INTEGER NOT NULL DEFAULT 0,
		thb_rate INTEGER NOT NULL DEFAULT 0,
		decimal_mode INTEGER NOT NULL DEFAULT 1,
		simple_mode INTEGER NOT NULL DEFAULT 0,
		expire_at INTEGER,
		license_key TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		UNIQUE (tenant_id, chat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		operator_id INTEGER NOT NULL DEFAULT 0,
		operator_name TEXT NOT NULL DEFAULT '',
		fee_applied INTEGER NOT NULL DEFAULT 0,
		rate_snapshot INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		original_text TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_records_window ON ledger_records (tenant_id, chat_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS operators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE (tenant_id, chat_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS license_codes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		days INTEGER NOT NULL,
		is_used INTEGER NOT NULL DEFAULT 0,
		used_by_chat INTEGER,
		used_at INTEGER,
		created_at INTEGER NOT NULL
	)`,
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteQueries struct {
	db sqlQuerier
}

// SQLiteStore is the embedded ledger store used for single-node deployments
// and tests. All access goes through one connection, so units of work are
// serialized and row locks are implicit.
type SQLiteStore struct {
	sqliteQueries
	conn *sql.DB
}

var _ interfaces.LedgerStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens dsn (a file path or ":memory:") and creates the schema.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	for _, ddl := range sqliteSchema {
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite migration failed: %w", err)
		}
	}
	return &SQLiteStore{sqliteQueries: sqliteQueries{db: conn}, conn: conn}, nil
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(q interfaces.LedgerQueries) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() {
	s.conn.Close()
}

func toUnits(d decimal.Decimal) int64 {
	return d.Round(moneyScale).Shift(moneyScale).IntPart()
}

func fromUnits(n int64) decimal.Decimal {
	return decimal.New(n, -moneyScale)
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// --- chat configuration ---

const sqliteChatConfigColumns = `id, tenant_id, chat_id, chat_name, is_active, active_start_time,
	fee_percent, usd_rate, php_rate, myr_rate, thb_rate,
	decimal_mode, simple_mode, expire_at, license_key, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteChatConfig(row rowScanner) (*entities.ChatConfig, error) {
	var c entities.ChatConfig
	var start, expire sql.NullInt64
	var fee, usd, php, myr, thb, updated int64
	err := row.Scan(&c.ID, &c.TenantID, &c.ChatID, &c.ChatName, &c.IsActive, &start,
		&fee, &usd, &php, &myr, &thb,
		&c.DecimalMode, &c.SimpleMode, &expire, &c.LicenseKey, &updated)
	if err != nil {
		return nil, err
	}
	c.ActiveStartTime = timePtr(start)
	c.ExpireAt = timePtr(expire)
	c.FeePercent = fromUnits(fee)
	c.USDRate = fromUnits(usd)
	c.PHPRate = fromUnits(php)
	c.MYRRate = fromUnits(myr)
	c.THBRate = fromUnits(thb)
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}

// GetChatConfig ignores forUpdate; the single connection already serializes
// units of work.
func (q *sqliteQueries) GetChatConfig(ctx context.Context, tenantID, chatID int64, forUpdate bool) (*entities.ChatConfig, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+sqliteChatConfigColumns+" FROM chat_configs WHERE tenant_id=? AND chat_id=?", tenantID, chatID)
	cfg, err := scanSQLiteChatConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat config: %w", err)
	}
	return cfg, nil
}

func (q *sqliteQueries) CreateChatConfig(ctx context.Context, cfg *entities.ChatConfig) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO chat_configs (tenant_id, chat_id, chat_name, is_active, fee_percent,
			usd_rate, php_rate, myr_rate, thb_rate, decimal_mode, simple_mode, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, chat_id) DO NOTHING`,
		cfg.TenantID, cfg.ChatID, cfg.ChatName, cfg.IsActive, toUnits(cfg.FeePercent),
		toUnits(cfg.USDRate), toUnits(cfg.PHPRate), toUnits(cfg.MYRRate), toUnits(cfg.THBRate),
		cfg.DecimalMode, cfg.SimpleMode, toNanos(time.Now()))
	if err != nil {
		return false, fmt.Errorf("create chat config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	stored, err := q.GetChatConfig(ctx, cfg.TenantID, cfg.ChatID, false)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, fmt.Errorf("chat config %d/%d missing after insert", cfg.TenantID, cfg.ChatID)
	}
	*cfg = *stored
	return n == 1, nil
}

func (q *sqliteQueries) UpdateChatConfig(ctx context.Context, cfg *entities.ChatConfig) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE chat_configs SET chat_name=?, is_active=?, active_start_time=?,
			fee_percent=?, usd_rate=?, php_rate=?, myr_rate=?, thb_rate=?,
			decimal_mode=?, simple_mode=?, expire_at=?, license_key=?, updated_at=?
		WHERE tenant_id=? AND chat_id=?`,
		cfg.ChatName, cfg.IsActive, nullNanos(cfg.ActiveStartTime),
		toUnits(cfg.FeePercent), toUnits(cfg.USDRate), toUnits(cfg.PHPRate), toUnits(cfg.MYRRate), toUnits(cfg.THBRate),
		cfg.DecimalMode, cfg.SimpleMode, nullNanos(cfg.ExpireAt), cfg.LicenseKey, toNanos(time.Now()),
		cfg.TenantID, cfg.ChatID)
	if err != nil {
		return fmt.Errorf("update chat config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update chat config %d/%d: no such row", cfg.TenantID, cfg.ChatID)
	}
	return nil
}

func (q *sqliteQueries) ListActiveChats(ctx context.Context) ([]entities.ChatConfig, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+sqliteChatConfigColumns+" FROM chat_configs WHERE is_active=1 ORDER BY tenant_id, chat_id")
	if err != nil {
		return nil, fmt.Errorf("list active chats: %w", err)
	}
	defer rows.Close()

	configs := []entities.ChatConfig{}
	for rows.Next() {
		c, err := scanSQLiteChatConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

// --- ledger records ---

func (q *sqliteQueries) InsertRecord(ctx context.Context, rec *entities.Record) error {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_records (tenant_id, chat_id, type, amount, operator_id, operator_name,
			fee_applied, rate_snapshot, created_at, original_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TenantID, rec.ChatID, string(rec.Kind), toUnits(rec.Amount), rec.OperatorID, rec.OperatorName,
		toUnits(rec.FeeApplied), toUnits(rec.RateSnapshot), toNanos(rec.CreatedAt), rec.OriginalText)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (q *sqliteQueries) SummarizeRecords(ctx context.Context, tenantID, chatID int64, from, to time.Time) (entities.DailySummary, error) {
	sum := entities.DailySummary{
		TotalDeposit: decimal.Zero,
		TotalFee:     decimal.Zero,
		TotalPayout:  decimal.Zero,
		WindowStart:  from,
		WindowEnd:    to,
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT type, COALESCE(SUM(amount), 0), COALESCE(SUM(fee_applied), 0), COUNT(*)
		FROM ledger_records
		WHERE tenant_id=? AND chat_id=? AND created_at >= ? AND created_at < ?
		GROUP BY type`, tenantID, chatID, toNanos(from), toNanos(to))
	if err != nil {
		return sum, fmt.Errorf("summarize records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var total, fee int64
		var count int
		if err := rows.Scan(&kind, &total, &fee, &count); err != nil {
			return sum, err
		}
		switch entities.RecordKind(kind) {
		case entities.KindDeposit:
			sum.TotalDeposit, sum.TotalFee, sum.CountDeposit = fromUnits(total), fromUnits(fee), count
		case entities.KindPayout:
			sum.TotalPayout, sum.CountPayout = fromUnits(total), count
		}
	}
	return sum, rows.Err()
}

func (q *sqliteQueries) ListRecords(ctx context.Context, tenantID, chatID int64, from, to time.Time, limit int, kind entities.RecordKind) ([]entities.Record, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, chat_id, type, amount, operator_id, operator_name,
			fee_applied, rate_snapshot, created_at, original_text
		FROM ledger_records
		WHERE tenant_id=? AND chat_id=? AND created_at >= ? AND created_at < ? AND (? = '' OR type = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, tenantID, chatID, toNanos(from), toNanos(to), string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []entities.Record{}
	for rows.Next() {
		var r entities.Record
		var kindStr string
		var amount, fee, rate, created int64
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ChatID, &kindStr, &amount, &r.OperatorID, &r.OperatorName,
			&fee, &rate, &created, &r.OriginalText); err != nil {
			return nil, err
		}
		r.Kind = entities.RecordKind(kindStr)
		r.Amount = fromUnits(amount)
		r.FeeApplied = fromUnits(fee)
		r.RateSnapshot = fromUnits(rate)
		r.CreatedAt = fromNanos(created)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (q *sqliteQueries) DeleteRecords(ctx context.Context, tenantID, chatID int64, from, to time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM ledger_records
		WHERE tenant_id=? AND chat_id=? AND created_at >= ? AND created_at < ?`,
		tenantID, chatID, toNanos(from), toNanos(to))
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return res.RowsAffected()
}

// --- operators ---

func (q *sqliteQueries) AddOperator(ctx context.Context, op *entities.Operator) (bool, error) {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO operators (tenant_id, chat_id, user_id, username, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, chat_id, user_id) DO NOTHING`,
		op.TenantID, op.ChatID, op.UserID, op.Username, toNanos(now))
	if err != nil {
		return false, fmt.Errorf("add operator: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return false, err
	}
	op.CreatedAt = now
	return true, nil
}

func (q *sqliteQueries) RemoveOperator(ctx context.Context, tenantID, chatID, userID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM operators WHERE tenant_id=? AND chat_id=? AND user_id=?", tenantID, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("remove operator: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *sqliteQueries) ListOperators(ctx context.Context, tenantID, chatID int64) ([]entities.Operator, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, chat_id, user_id, username, created_at
		FROM operators
		WHERE tenant_id=? AND chat_id=?
		ORDER BY id`, tenantID, chatID)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	operators := []entities.Operator{}
	for rows.Next() {
		var op entities.Operator
		var created int64
		if err := rows.Scan(&op.ID, &op.TenantID, &op.ChatID, &op.UserID, &op.Username, &created); err != nil {
			return nil, err
		}
		op.CreatedAt = fromNanos(created)
		operators = append(operators, op)
	}
	return operators, rows.Err()
}

// --- license codes ---

func (q *sqliteQueries) InsertLicenseCode(ctx context.Context, lc *entities.LicenseCode) error {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx,
		"INSERT INTO license_codes (code, days, is_used, created_at) VALUES (?, ?, 0, ?)",
		lc.Code, lc.Days, toNanos(now))
	if err != nil {
		return fmt.Errorf("insert license code: %w", err)
	}
	lc.ID, err = res.LastInsertId()
	lc.CreatedAt = now
	return err
}

func (q *sqliteQueries) GetLicenseCode(ctx context.Context, code string, forUpdate bool) (*entities.LicenseCode, error) {
	var lc entities.LicenseCode
	var usedBy, usedAt sql.NullInt64
	var created int64
	err := q.db.QueryRowContext(ctx,
		"SELECT id, code, days, is_used, used_by_chat, used_at, created_at FROM license_codes WHERE code=?", code).
		Scan(&lc.ID, &lc.Code, &lc.Days, &lc.IsUsed, &usedBy, &usedAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license code: %w", err)
	}
	if usedBy.Valid {
		v := usedBy.Int64
		lc.UsedByChat = &v
	}
	lc.UsedAt = timePtr(usedAt)
	lc.CreatedAt = fromNanos(created)
	return &lc, nil
}

func (q *sqliteQueries) MarkLicenseCodeUsed(ctx context.Context, id int64, chatID int64, at time.Time) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE license_codes SET is_used=1, used_by_chat=?, used_at=? WHERE id=? AND is_used=0",
		chatID, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("mark license code used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entities.ErrLicenseCodeUsed
	}
	return nil
}

// --- tenants ---

func (q *sqliteQueries) CreateTenant(ctx context.Context, t *entities.Tenant) error {
	if t.Status == "" {
		t.Status = entities.TenantActive
	}
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx,
		"INSERT INTO tenants (token, name, status, button_config, created_at) VALUES (?, ?, ?, ?, ?)",
		t.Token, t.Name, string(t.Status), t.ButtonConfig, toNanos(now))
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	t.ID, err = res.LastInsertId()
	t.CreatedAt = now
	return err
}

const sqliteTenantColumns = "id, token, name, status, button_config, created_at"

func scanSQLiteTenant(row rowScanner) (*entities.Tenant, error) {
	var t entities.Tenant
	var status string
	var created int64
	if err := row.Scan(&t.ID, &t.Token, &t.Name, &status, &t.ButtonConfig, &created); err != nil {
		return nil, err
	}
	t.Status = entities.TenantStatus(status)
	t.CreatedAt = fromNanos(created)
	return &t, nil
}

func (q *sqliteQueries) GetTenant(ctx context.Context, id int64) (*entities.Tenant, error) {
	t, err := scanSQLiteTenant(q.db.QueryRowContext(ctx, "SELECT "+sqliteTenantColumns+" FROM tenants WHERE id=?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entities.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (q *sqliteQueries) ListTenants(ctx context.Context, status entities.TenantStatus) ([]entities.Tenant, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+sqliteTenantColumns+" FROM tenants WHERE (? = '' OR status = ?) ORDER BY id", string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []entities.Tenant{}
	for rows.Next() {
		t, err := scanSQLiteTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

func (q *sqliteQueries) SetTenantStatus(ctx context.Context, id int64, status entities.TenantStatus) error {
	res, err := q.db.ExecContext(ctx, "UPDATE tenants SET status=? WHERE id=?", string(status), id)
	if err != nil {
		return fmt.Errorf("set tenant status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entities.ErrTenantNotFound
	}
	return nil
}
