package domain

import "time"

// Robot — зарегистрированный исполнитель jobs.
//
// Робот регистрируется при старте и обновляет LastSeenAt каждым claim'ом
// или renewal'ом. Запись — справочная: владение jobs определяется только
// полем robot_id в таблице jobs, а не этим реестром.
type Robot struct {
	// ID — уникальный идентификатор робота (задаётся оператором).
	ID string `json:"id"`

	// Environment — среда, которую обслуживает робот.
	Environment string `json:"environment"`

	// Slots — максимум одновременно выполняемых jobs.
	Slots int `json:"slots"`

	// Version — версия бинаря робота (для диагностики).
	Version string `json:"version,omitempty"`

	// LastSeenAt — время последнего обращения к сервису.
	LastSeenAt time.Time `json:"last_seen_at"`

	// RegisteredAt — время первой регистрации.
	RegisteredAt time.Time `json:"registered_at"`
}

// IsOnline возвращает true, если робот выходил на связь в пределах ttl.
func (r *Robot) IsOnline(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastSeenAt) <= ttl
}
