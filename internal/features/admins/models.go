// Package admins управляет списком администраторов.
// Супер-админы задаются в ADMIN_IDS и не хранятся в БД, только они
// могут добавлять и удалять обычных админов из таблицы admins.
package admins

import "time"

// Admin — администратор, добавленный через бота или API.
type Admin struct {
	UserID   int64     `db:"user_id"`
	Username string    `db:"username"`
	AddedBy  int64     `db:"added_by"`
	AddedAt  time.Time `db:"added_at"`
}

// Ограничение на подбор токена админ-API: 3 неудачи за час.
const (
	maxFailedAttempts = 3
	attemptsWindow    = time.Hour
)
