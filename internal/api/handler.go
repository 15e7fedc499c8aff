package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// JobStore — операции очереди jobs, нужные API.
// Реализуется repo.JobRepo; в тестах — in-memory хранилищем.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (domain.JobStatus, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	ClaimBatch(ctx context.Context, environment, robotID string, batchSize int, visibility time.Duration) ([]domain.Job, error)
	ExtendLease(ctx context.Context, jobID uuid.UUID, robotID string, extra time.Duration) (repo.LeaseState, error)
	Complete(ctx context.Context, jobID uuid.UUID, robotID string, result map[string]any) error
	Fail(ctx context.Context, jobID uuid.UUID, robotID, errMsg string, fatal bool) (domain.JobStatus, error)
	Release(ctx context.Context, jobID uuid.UUID, robotID string) error
	ConfirmCancel(ctx context.Context, jobID uuid.UUID, robotID string) error
}

// WorkflowStore — операции над сохранёнными workflows.
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	GetByName(ctx context.Context, name string) (*domain.Workflow, error)
	List(ctx context.Context) ([]domain.Workflow, error)
	Update(ctx context.Context, wf *domain.Workflow) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ScheduleStore — операции над расписаниями.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// RobotStore — реестр роботов.
type RobotStore interface {
	Upsert(ctx context.Context, robot *domain.Robot) error
	Touch(ctx context.Context, robotID string, seenAt time.Time) error
	List(ctx context.Context) ([]domain.Robot, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	jobs      JobStore
	workflows WorkflowStore
	schedules ScheduleStore
	robots    RobotStore
	publisher *mq.Publisher
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Jobs      JobStore
	Workflows WorkflowStore
	Schedules ScheduleStore
	Robots    RobotStore

	// Publisher — опциональный publisher подсказок jobs.available.
	// nil — роботы узнают о новых jobs только polling'ом.
	Publisher *mq.Publisher

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		jobs:      cfg.Jobs,
		workflows: cfg.Workflows,
		schedules: cfg.Schedules,
		robots:    cfg.Robots,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}
