package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Job DTOs

// SubmitJobRequest — запрос на постановку job в очередь.
//
// Источник графа — одно из трёх:
//   - workflow_id: граф берётся из сохранённого workflow
//   - workflow_name: то же, но по имени
//   - graph: inline-граф для ad-hoc запуска
type SubmitJobRequest struct {
	WorkflowID   *uuid.UUID     `json:"workflow_id,omitempty"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Graph        *domain.Graph  `json:"graph,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Environment  string         `json:"environment,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	MaxRetries   *int           `json:"max_retries,omitempty"`
	DeadlineSec  int            `json:"deadline_sec,omitempty"`
}

// JobSummary — сокращённое представление job для списков (без графа).
// Полный job с графом отдаёт GET /api/v1/jobs/{id}.
type JobSummary struct {
	ID           uuid.UUID  `json:"id"`
	WorkflowID   *uuid.UUID `json:"workflow_id,omitempty"`
	WorkflowName string     `json:"workflow_name,omitempty"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	Environment  string     `json:"environment"`
	RobotID      string     `json:"robot_id,omitempty"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// JobSummaryFromDomain конвертирует domain.Job в JobSummary.
func JobSummaryFromDomain(j *domain.Job) JobSummary {
	return JobSummary{
		ID:           j.ID,
		WorkflowID:   j.WorkflowID,
		WorkflowName: j.WorkflowName,
		Status:       string(j.Status),
		Priority:     j.Priority,
		Environment:  j.Environment,
		RobotID:      j.RobotID,
		RetryCount:   j.RetryCount,
		MaxRetries:   j.MaxRetries,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

// JobStateResponse — краткий ответ со статусом job после операции.
// Для отмены: PENDING/QUEUED становятся CANCELLED сразу, RUNNING остаётся
// RUNNING, пока робот не подтвердит остановку.
type JobStateResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// QueueStatsResponse — счётчики jobs по статусам.
type QueueStatsResponse struct {
	Statuses map[string]int `json:"statuses"`
	Total    int            `json:"total"`
}

// Robot protocol DTOs.
// JSON-ключи — wire-контракт робота; менять синхронно с robot.Client.

// RegisterRobotRequest — регистрация робота при старте.
type RegisterRobotRequest struct {
	RobotID     string `json:"robot_id"`
	Environment string `json:"environment"`
	Slots       int    `json:"slots"`
	Version     string `json:"version,omitempty"`
}

// ClaimRequest — запрос пачки jobs.
type ClaimRequest struct {
	RobotID       string `json:"robot_id"`
	Environment   string `json:"environment"`
	BatchSize     int    `json:"batch_size"`
	VisibilitySec int    `json:"visibility_sec"`
}

// LeaseRequest — продление lease RUNNING job.
type LeaseRequest struct {
	RobotID   string `json:"robot_id"`
	ExtendSec int    `json:"extend_sec"`
}

// LeaseStateResponse — результат продления.
// cancel_requested=true — сигнал роботу остановить выполнение.
type LeaseStateResponse struct {
	VisibleAfter    time.Time `json:"visible_after"`
	CancelRequested bool      `json:"cancel_requested"`
}

// CompleteRequest — отчёт об успешном завершении.
type CompleteRequest struct {
	RobotID string         `json:"robot_id"`
	Result  map[string]any `json:"result,omitempty"`
}

// FailRequest — отчёт о сбое. fatal=true запрещает повтор.
type FailRequest struct {
	RobotID string `json:"robot_id"`
	Error   string `json:"error"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// ReleaseRequest — добровольный возврат job в очередь (graceful shutdown).
type ReleaseRequest struct {
	RobotID string `json:"robot_id"`
}

// CancelledRequest — подтверждение остановки по запросу отмены.
type CancelledRequest struct {
	RobotID string `json:"robot_id"`
	Error   string `json:"error,omitempty"`
}

// RobotResponse — запись реестра роботов.
type RobotResponse struct {
	ID           string    `json:"id"`
	Environment  string    `json:"environment"`
	Slots        int       `json:"slots"`
	Version      string    `json:"version,omitempty"`
	Online       bool      `json:"online"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RobotFromDomain конвертирует domain.Robot в RobotResponse.
func RobotFromDomain(r *domain.Robot, now time.Time) RobotResponse {
	return RobotResponse{
		ID:           r.ID,
		Environment:  r.Environment,
		Slots:        r.Slots,
		Version:      r.Version,
		Online:       r.IsOnline(now, robotOnlineTTL),
		LastSeenAt:   r.LastSeenAt,
		RegisteredAt: r.RegisteredAt,
	}
}

// Workflow DTOs

// CreateWorkflowRequest — запрос на создание workflow.
type CreateWorkflowRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Graph       domain.Graph `json:"graph"`
	Environment string       `json:"environment,omitempty"`
	MaxRetries  *int         `json:"max_retries,omitempty"`
}

// UpdateWorkflowRequest — запрос на обновление workflow.
type UpdateWorkflowRequest struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Graph       *domain.Graph `json:"graph,omitempty"`
	Environment *string       `json:"environment,omitempty"`
	MaxRetries  *int          `json:"max_retries,omitempty"`
	IsActive    *bool         `json:"is_active,omitempty"`
}

// WorkflowResponse — полный workflow с графом.
type WorkflowResponse struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Graph       domain.Graph `json:"graph"`
	Environment string       `json:"environment"`
	MaxRetries  int          `json:"max_retries"`
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// WorkflowFromDomain конвертирует domain.Workflow в WorkflowResponse.
func WorkflowFromDomain(wf *domain.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Graph:       wf.Graph,
		Environment: wf.Environment,
		MaxRetries:  wf.MaxRetries,
		IsActive:    wf.IsActive,
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
}

// WorkflowSummary — сокращённое представление workflow для списков.
type WorkflowSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Environment string    `json:"environment"`
	MaxRetries  int       `json:"max_retries"`
	IsActive    bool      `json:"is_active"`
	Nodes       int       `json:"nodes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkflowSummaryFromDomain конвертирует domain.Workflow в WorkflowSummary.
func WorkflowSummaryFromDomain(wf *domain.Workflow) WorkflowSummary {
	return WorkflowSummary{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Environment: wf.Environment,
		MaxRetries:  wf.MaxRetries,
		IsActive:    wf.IsActive,
		Nodes:       len(wf.Graph.Nodes),
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Input       map[string]any `json:"input,omitempty"`
	Priority    int            `json:"priority,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	Input       *map[string]any `json:"input,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID      `json:"id"`
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	Name        string         `json:"name,omitempty"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone"`
	Enabled     bool           `json:"enabled"`
	NextDueAt   *time.Time     `json:"next_due_at,omitempty"`
	LastJobAt   *time.Time     `json:"last_job_at,omitempty"`
	LastJobID   *uuid.UUID     `json:"last_job_id,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Priority    int            `json:"priority"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		WorkflowID:  s.WorkflowID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastJobAt:   s.LastJobAt,
		LastJobID:   s.LastJobID,
		Input:       s.Input,
		Priority:    s.Priority,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
