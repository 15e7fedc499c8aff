package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание автоматической постановки jobs.
//
// Schedule позволяет запускать workflow:
// - По cron-выражению: "0 9 * * *" (каждый день в 9:00)
// - По интервалу: каждые N секунд
//
// Scheduler проверяет next_due_at и ставит job в очередь, когда время подошло.
type Schedule struct {
	// ID — уникальный идентификатор schedule.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на workflow, который нужно запускать.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Name — человекочитаемое имя расписания.
	Name string `json:"name,omitempty"`

	// CronExpr — стандартное пятипольное cron-выражение
	// (минуты часы день-месяца месяц день-недели), например
	// "*/10 * * * *" или "30 8 * * 1-5". Имеет приоритет
	// над IntervalSec, если заданы оба.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — пауза в секундах между постановками;
	// действует только при пустом CronExpr.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — IANA-зона для вычисления cron-времени
	// ("Europe/Moscow", "America/New_York"); по умолчанию UTC.
	Timezone string `json:"timezone"`

	// Enabled — выключенное расписание scheduler не трогает.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующей постановки.
	// Scheduler ставит job, когда now >= NextDueAt,
	// после чего вычисляет новое NextDueAt.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastJobAt — время последней постановки.
	LastJobAt *time.Time `json:"last_job_at,omitempty"`

	// LastJobID — ID последнего поставленного job.
	LastJobID *uuid.UUID `json:"last_job_id,omitempty"`

	// Input — входные параметры для каждого поставленного job.
	Input map[string]any `json:"input,omitempty"`

	// Priority — приоритет поставленных jobs.
	Priority int `json:"priority"`

	// CreatedAt — время создания schedule.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCron сообщает, задано ли расписание cron-выражением.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval сообщает, задано ли расписание интервалом.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли ставить job: расписание включено
// и now >= NextDueAt.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordJob записывает информацию о постановке.
func (s *Schedule) RecordJob(jobID uuid.UUID, nextDue time.Time) {
	now := time.Now()
	s.LastJobAt = &now
	s.LastJobID = &jobID
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
