package domain

// JobStatus — статус выполнения job.
//
// Жизненный цикл:
//
//	PENDING → QUEUED → RUNNING → COMPLETED
//	                           ↘ FAILED
//	                           ↘ TIMEOUT
//	(PENDING | QUEUED | RUNNING) → CANCELLED
//
// PENDING — job принят и ждёт диспетчеризации.
// QUEUED — job анонсирован роботам (dispatcher продвинул его и опубликовал
// событие в MQ). Claim забирает и PENDING, и QUEUED: продвижение — это
// оптимизация доставки, а не условие корректности.
// RUNNING возвращается в PENDING при истечении lease (без увеличения retry_count).
type JobStatus string

const (
	// JobStatusPending — job создан, ожидает диспетчеризации или повторной попытки.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusQueued — job анонсирован роботам, ожидает claim.
	JobStatusQueued JobStatus = "QUEUED"

	// JobStatusRunning — job захвачен роботом и выполняется.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted — job успешно завершён.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed — job завершился с ошибкой (после всех retry).
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled — job отменён пользователем.
	JobStatusCancelled JobStatus = "CANCELLED"

	// JobStatusTimeout — job превысил абсолютный дедлайн выполнения.
	// Отличается от истечения lease: истёкший lease возвращает job в PENDING.
	JobStatusTimeout JobStatus = "TIMEOUT"
)

// IsTerminal возвращает true, если статус финальный (job завершён).
// Из финального статуса переходов нет.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода по state machine.
// Любой переход вне схемы — ошибка вызывающей стороны.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusQueued || next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		switch next {
		case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
			return true
		case JobStatusPending:
			// Возврат в очередь: истёкший lease или явный release.
			return true
		default:
			return false
		}
	default:
		return false
	}
}

// String возвращает строковое представление JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus парсит строку в JobStatus.
// Возвращает false, если строка не является известным статусом.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch s {
	case "PENDING":
		return JobStatusPending, true
	case "QUEUED":
		return JobStatusQueued, true
	case "RUNNING":
		return JobStatusRunning, true
	case "COMPLETED":
		return JobStatusCompleted, true
	case "FAILED":
		return JobStatusFailed, true
	case "CANCELLED":
		return JobStatusCancelled, true
	case "TIMEOUT":
		return JobStatusTimeout, true
	default:
		return "", false
	}
}
