package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ScheduleStore — операции над расписаниями, нужные планировщику.
// Реализуется repo.ScheduleRepo; в тестах — in-memory хранилищем.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
}

// WorkflowStore — чтение workflows для снимка графа.
type WorkflowStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
}

// JobStore — постановка jobs в очередь.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules ScheduleStore
	workflows WorkflowStore
	jobs      JobStore
	publisher *mq.Publisher
	logger    *slog.Logger
	batchSize int
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules ScheduleStore
	Workflows WorkflowStore
	Jobs      JobStore

	// Publisher — опциональный publisher подсказок jobs.available.
	Publisher *mq.Publisher

	Logger *slog.Logger

	// BatchSize — количество schedules за один тик (default: 100).
	BatchSize int
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		workflows: cfg.Workflows,
		jobs:      cfg.Jobs,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		batchSize: batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule ставит job со снимком графа workflow
// 3. Обновляет next_due_at
// 4. Публикует подсказку jobs.available
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		jobCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if jobCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"jobs_created", created,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если job был поставлен.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// 1. Загружаем workflow для снимка графа
	wf, err := s.workflows.GetByID(ctx, sched.WorkflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Workflow удалён: job не ставим, но расписание двигаем,
			// иначе schedule останется due и будет спамить каждый тик.
			s.logger.Warn("workflow not found for schedule, skipping",
				"schedule_id", sched.ID,
				"workflow_id", sched.WorkflowID,
			)
			return false, s.advance(ctx, sched, now)
		}
		return false, fmt.Errorf("get workflow: %w", err)
	}

	// 2. Неактивные workflows по расписанию не запускаются
	if !wf.IsActive {
		s.logger.Debug("workflow inactive, skipping schedule",
			"schedule_id", sched.ID,
			"workflow_id", wf.ID,
		)
		return false, s.advance(ctx, sched, now)
	}

	// 3. Ставим job со снимком графа: последующие правки workflow
	// на этот job уже не влияют
	job := &domain.Job{
		ID:           uuid.New(),
		WorkflowID:   &wf.ID,
		WorkflowName: wf.Name,
		Graph:        wf.Graph,
		Input:        sched.Input,
		Status:       domain.JobStatusPending,
		Priority:     sched.Priority,
		Environment:  wf.Environment,
		MaxRetries:   wf.MaxRetries,
		VisibleAfter: now,
		CreatedAt:    now,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return false, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("created job from schedule",
		"job_id", job.ID,
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"workflow_id", wf.ID,
		"workflow_name", wf.Name,
	)

	// 4. Вычисляем следующее время постановки
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Расписание испорчено (например, правка в обход API).
		// Выключаем, чтобы не обрабатывать его каждый тик.
		s.logger.Error("failed to calculate next due, disabling schedule",
			"schedule_id", sched.ID,
			"error", err,
		)
		sched.Enabled = false
		sched.UpdatedAt = time.Now()
		if err := s.schedules.Update(ctx, sched); err != nil {
			return true, fmt.Errorf("disable schedule: %w", err)
		}
		return true, nil
	}

	// 5. Обновляем schedule
	sched.RecordJob(job.ID, nextDue)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return true, fmt.Errorf("update schedule: %w", err)
	}

	// 6. Подсказка роботам (если publisher настроен)
	if s.publisher != nil {
		if err := s.publisher.PublishJobAvailable(ctx, job.ID, job.Environment, job.Priority); err != nil {
			// Не фатальная ошибка: job уже в БД, роботы доберутся
			// до него polling'ом
			s.logger.Warn("failed to publish job.available",
				"job_id", job.ID,
				"error", err,
			)
		}
	}

	return true, nil
}

// advance двигает next_due_at без постановки job.
func (s *Scheduler) advance(ctx context.Context, sched *domain.Schedule, now time.Time) error {
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		return fmt.Errorf("calculate next due: %w", err)
	}
	sched.NextDueAt = &nextDue
	sched.UpdatedAt = time.Now()
	return s.schedules.Update(ctx, sched)
}
