// Package telemetry — общий слой наблюдаемости: настройка slog-логгера
// (формат и уровень задаются переменными окружения LOG_FORMAT и LOG_LEVEL)
// и хелперы для доменных атрибутов (job_id, robot_id, node_id).
//
// Prometheus-метрики пакет не объявляет: каждый бинарь регистрирует свои
// в cmd/* рядом с местом использования и отдаёт их на /metrics.
package telemetry
