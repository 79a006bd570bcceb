// Package store объединяет хранилища всех модулей в одну единицу работы.
// Оркестратор получает *Tx, читает и пишет через него, а на выходе из
// Do всё коммитится атомарно или откатывается целиком.
package store

import (
	"context"

	"serotonyl.ru/vpn-shop/internal/features/catalog"
	"serotonyl.ru/vpn-shop/internal/features/entitlements"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/ledger"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
)

// Tx — хранилища, привязанные к одной транзакции.
type Tx struct {
	Ledger       ledger.Store
	Entitlements entitlements.Store
	Receipts     receipts.Store
	Journal      journal.Store
	Catalog      catalog.Store
}

// UnitOfWork выполняет fn в одной транзакции.
// Ошибка из fn откатывает всё, что fn успела записать.
// Внутри fn нельзя обращаться к роутерам и вызывать Do повторно.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error
}
