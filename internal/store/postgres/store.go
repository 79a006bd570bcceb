// Package postgres — реализация единицы работы поверх pgx.
// Все хранилища работают в одной транзакции, строки, которые будут
// меняться, читаются через SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/vpn-shop/internal/common"
	db "serotonyl.ru/vpn-shop/internal/db/postgres"
	"serotonyl.ru/vpn-shop/internal/store"
)

// Store — UnitOfWork на пуле соединений.
type Store struct {
	pool *pgxpool.Pool
}

// New создаёт хранилище.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.UnitOfWork = (*Store)(nil)

// Do выполняет fn в транзакции БД.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx *store.Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, Bind(tx))
	})
}

// Bind создаёт набор репозиториев поверх соединения или транзакции.
func Bind(q db.DBTX) *store.Tx {
	return &store.Tx{
		Ledger:       &LedgerRepository{db: q},
		Entitlements: &EntitlementRepository{db: q},
		Receipts:     &ReceiptRepository{db: q},
		Journal:      &JournalRepository{db: q},
		Catalog:      &CatalogRepository{db: q},
	}
}

// notFound переводит pgx.ErrNoRows в common.ErrNotFound.
func notFound(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", common.ErrNotFound, what, id)
	}
	return err
}

// mustAffect проверяет, что UPDATE/DELETE задел строку.
func mustAffect(rows int64, what string, id any) error {
	if rows == 0 {
		return fmt.Errorf("%w: %s %v", common.ErrNotFound, what, id)
	}
	return nil
}
