// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование денег и трафика, работа с временем.
package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Gigabyte — множитель для лимитов трафика (тарифы задаются в ГБ).
const Gigabyte int64 = 1024 * 1024 * 1024

// FormatMoney форматирует сумму с двумя знаками после запятой.
// Пример: FormatMoney(decimal.NewFromInt(30)) → "$30.00"
func FormatMoney(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return "-$" + amount.Neg().StringFixed(2)
	}
	return "$" + amount.StringFixed(2)
}

// FormatGigabytes переводит байты в гигабайты с одним знаком.
// Пример: FormatGigabytes(5 * Gigabyte) → "5.0 ГБ"
func FormatGigabytes(bytes int64) string {
	return fmt.Sprintf("%.1f ГБ", float64(bytes)/float64(Gigabyte))
}

// LoadLocation загружает часовой пояс по имени.
// Если не удалось (нет tzdata в образе) — для Москвы используем UTC+3 вручную, иначе UTC.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	if name == "Europe/Moscow" {
		return time.FixedZone("MSK", 3*60*60)
	}
	return time.UTC
}

// FormatDate форматирует дату в формат "02.01.2006" в заданном поясе.
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02.01.2006")
}
