package repository

import (
	"context"
	"fmt"

	"ledgerbot/internal/interfaces"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgQueries implements interfaces.LedgerQueries over a querier.
type pgQueries struct {
	db querier
}

// PostgresStore is the PostgreSQL ledger store.
type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{db: pool}, pool: pool}
}

var _ interfaces.LedgerStore = (*PostgresStore)(nil)

// InTx runs fn in one transaction, rolling back when fn fails.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q interfaces.LedgerQueries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func toDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid numeric %q: %w", s, err)
	}
	return d, nil
}

// decimals parses pairs of (dst, text) in order.
func decimals(dst []*decimal.Decimal, src []string) error {
	for i := range dst {
		d, err := toDecimal(src[i])
		if err != nil {
			return err
		}
		*dst[i] = d
	}
	return nil
}
