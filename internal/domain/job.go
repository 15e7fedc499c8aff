package domain

import (
	"time"

	"github.com/google/uuid"
)

// EnvironmentDefault — wildcard-среда. Job с этой средой может забрать любой
// робот, а робот с этой средой может забрать любой job.
const EnvironmentDefault = "default"

// Job — единица работы в очереди: один запуск workflow-графа.
//
// Job создаётся когда:
// - Пользователь отправляет запуск через API/CLI
// - Scheduler создаёт job по расписанию
//
// Job забирается роботом атомарным claim'ом (FOR UPDATE SKIP LOCKED) и
// выполняется движком. Пока job в статусе RUNNING, владеющий робот обязан
// продлевать lease (VisibleAfter), иначе sweeper вернёт job в PENDING.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на сохранённый workflow.
	// Nil для ad-hoc запусков с inline-графом.
	WorkflowID *uuid.UUID `json:"workflow_id,omitempty"`

	// WorkflowName — имя workflow на момент постановки (для удобства чтения).
	WorkflowName string `json:"workflow_name,omitempty"`

	// Graph — граф, который нужно выполнить. Снимок на момент постановки:
	// последующие правки workflow не влияют на уже поставленные jobs.
	Graph Graph `json:"graph"`

	// Input — входные параметры запуска. Попадают в variables движка.
	Input map[string]any `json:"input,omitempty"`

	// Status — текущий статус job.
	Status JobStatus `json:"status"`

	// Priority — приоритет выборки: больше — раньше.
	// При равных приоритетах порядок FIFO по CreatedAt.
	Priority int `json:"priority"`

	// Environment — среда выполнения. Робот забирает job, если среды
	// совпадают, либо одна из сторон — EnvironmentDefault.
	Environment string `json:"environment"`

	// RobotID — идентификатор робота-владельца, пока job RUNNING.
	// Пустая строка, когда владельца нет.
	RobotID string `json:"robot_id,omitempty"`

	// VisibleAfter — момент, после которого job снова доступен для claim.
	// Для RUNNING это срок lease: владелец продлевает его renewal'ами.
	VisibleAfter time.Time `json:"visible_after"`

	// Deadline — абсолютный дедлайн выполнения. RUNNING job, переживший
	// дедлайн, переводится sweeper'ом в TIMEOUT (терминальный).
	// Nil — без дедлайна.
	Deadline *time.Time `json:"deadline,omitempty"`

	// RetryCount — число уже израсходованных повторов после сбоев.
	// Возврат по истёкшему lease повтором не считается.
	RetryCount int `json:"retry_count"`

	// MaxRetries — максимум повторов после сбоев.
	MaxRetries int `json:"max_retries"`

	// Result — итоговые outputs выполнения (для COMPLETED).
	Result map[string]any `json:"result,omitempty"`

	// ErrorMessage — текст ошибки (для FAILED / TIMEOUT).
	ErrorMessage string `json:"error_message,omitempty"`

	// CancelRequested — кооперативный запрос отмены RUNNING job.
	// Робот узнаёт о нём из ответа на продление lease и останавливает движок.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// CreatedAt — время постановки в очередь.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время первого захвата роботом.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время перехода в терминальный статус.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsFinished возвращает true, если job в терминальном статусе.
func (j *Job) IsFinished() bool {
	return j.Status.IsTerminal()
}

// LeaseExpired возвращает true, если lease RUNNING job истёк к моменту now.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == JobStatusRunning && now.After(j.VisibleAfter)
}

// DeadlineExceeded возвращает true, если задан дедлайн и он пройден.
func (j *Job) DeadlineExceeded(now time.Time) bool {
	return j.Deadline != nil && now.After(*j.Deadline)
}

// CanRetry проверяет, остались ли повторы после сбоя.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если job ещё не завершён.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// EnvironmentMatches реализует правило совпадения сред:
// точное совпадение, либо wildcard с любой из сторон.
// То же правило зашито в SQL claim'а — семантика обязана совпадать.
func EnvironmentMatches(jobEnv, robotEnv string) bool {
	if jobEnv == robotEnv {
		return true
	}
	return jobEnv == EnvironmentDefault || robotEnv == EnvironmentDefault
}
