// Package offline реализует локальное durable хранилище робота на Badger.
//
// Назначение — пережить "тоннель": робот, потерявший связь с сервисом,
// продолжает выполнять уже захваченные jobs по локальным снимкам,
// checkpoint'ит прогресс и копит терминальные отчёты. После восстановления
// связи отчёты доставляются повторно (at-least-once), и только после
// подтверждения сервисом локальные записи job удаляются.
//
// Хранилище не участвует в распределении работы: владение jobs живёт
// в центральной очереди. Здесь — только локальный кэш и буфер доставки.
package offline
