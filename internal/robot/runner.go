package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/offline"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// subflowPollInterval — интервал опроса статуса вложенного job.
const subflowPollInterval = time.Second

// jobRun — один выполняемый job: движок плюс причина остановки.
//
// Флаги различают три исхода STOPPED: потеря владения (молча бросаем),
// кооперативная отмена (отчёт CANCELLED) и остановка самого робота
// (cache и checkpoint сохраняются для возобновления).
type jobRun struct {
	job    *domain.Job
	engine *engine.Engine

	mu        sync.Mutex
	abandoned bool
	cancelled bool
}

func (r *jobRun) markAbandoned() {
	r.mu.Lock()
	r.abandoned = true
	r.mu.Unlock()
	r.engine.Stop()
}

func (r *jobRun) markCancelled() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.engine.Stop()
}

func (r *jobRun) state() (abandoned, cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned, r.cancelled
}

// startJob кэширует job, строит движок и запускает выполнение в горутине.
func (a *Agent) startJob(ctx context.Context, job *domain.Job) {
	a.runningMu.Lock()
	if _, ok := a.running[job.ID]; ok {
		a.runningMu.Unlock()
		// Lease истёк, но старый запуск ещё жив, а claim его вернул.
		// Второй движок не нужен: свежий lease достался текущему запуску.
		a.logger.Warn("job already running, skipping duplicate claim", "job_id", job.ID)
		return
	}
	a.runningMu.Unlock()

	// Durable-кэш до запуска: после рестарта робот возобновит job
	if err := a.store.CacheJob(job); err != nil {
		a.logger.Error("cache job failed, releasing", "job_id", job.ID, "error", err)
		if relErr := a.client.Release(ctx, job.ID, ReleaseRequest{RobotID: a.robotID}); relErr != nil {
			a.logger.Warn("release failed", "job_id", job.ID, "error", relErr)
		}
		return
	}

	eng, err := engine.New(engine.Config{
		Graph:       &job.Graph,
		Registry:    a.registry,
		JobID:       job.ID,
		JobInput:    job.Input,
		Handler:     &resultHandler{agent: a, job: job},
		Checkpoints: &checkpointSink{store: a.store},
		Logger:      a.logger,
	})
	if err != nil {
		// Ошибка конфигурации графа: повтор не поможет
		a.report(&offline.Report{
			JobID:    job.ID,
			Status:   domain.JobStatusFailed,
			Error:    err.Error(),
			Fatal:    true,
			QueuedAt: time.Now(),
		})
		return
	}

	run := &jobRun{job: job, engine: eng}
	a.runningMu.Lock()
	a.running[job.ID] = run
	a.runningMu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runJob(ctx, run)
	}()
}

// runJob выполняет граф job от checkpoint'а (если есть) до исхода и
// переводит исход в терминальный отчёт.
func (a *Agent) runJob(ctx context.Context, run *jobRun) {
	job := run.job
	logger := telemetry.WithJobID(a.logger, job.ID.String())

	defer func() {
		a.runningMu.Lock()
		delete(a.running, job.ID)
		a.runningMu.Unlock()
		a.wakeClaim()
	}()

	if cp, err := a.store.LatestCheckpoint(job.ID); err == nil {
		if restoreErr := run.engine.Restore(cp); restoreErr != nil {
			logger.Warn("checkpoint restore failed, starting fresh", "error", restoreErr)
		} else {
			logger.Info("resuming from checkpoint", "seq", cp.Seq)
		}
	} else if !errors.Is(err, offline.ErrNotFound) {
		logger.Warn("checkpoint lookup failed, starting fresh", "error", err)
	}

	// Renewal живёт, пока идёт Run
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.renewLease(renewCtx, run, logger)
	}()

	logger.Info("job started", "workflow", job.WorkflowName)
	res, err := run.engine.Run(ctx)
	stopRenew()

	if err != nil {
		logger.Error("job failed to start", "error", err)
		a.report(&offline.Report{
			JobID:    job.ID,
			Status:   domain.JobStatusFailed,
			Error:    err.Error(),
			Fatal:    true,
			QueuedAt: time.Now(),
		})
		return
	}

	switch res.Status {
	case engine.RunCompleted, engine.RunHalted:
		logger.Info("job completed", "nodes_visited", len(res.Visited))
		a.report(&offline.Report{
			JobID:    job.ID,
			Status:   domain.JobStatusCompleted,
			Result:   res.Outputs,
			QueuedAt: time.Now(),
		})

	case engine.RunFailed:
		logger.Warn("job failed", "node", res.FailedNode, "error", res.Error)
		a.report(&offline.Report{
			JobID:    job.ID,
			Status:   domain.JobStatusFailed,
			Error:    fmt.Sprintf("node %s: %s", res.FailedNode, res.Error),
			QueuedAt: time.Now(),
		})

	case engine.RunStopped:
		abandoned, cancelled := run.state()
		switch {
		case abandoned:
			// Владение потеряно: job уже переназначен, любые отчёты
			// сервис отвергнет. Чистим кэш молча.
			logger.Warn("job ownership lost, discarding local state")
			if err := a.store.RemoveJob(job.ID); err != nil {
				logger.Warn("remove job failed", "error", err)
			}
		case cancelled:
			logger.Info("job cancelled")
			a.report(&offline.Report{
				JobID:    job.ID,
				Status:   domain.JobStatusCancelled,
				QueuedAt: time.Now(),
			})
		default:
			// Остановка робота: cache и checkpoint остаются,
			// после рестарта выполнение продолжится
			logger.Info("job interrupted by shutdown, state preserved")
		}
	}
}

// renewLease продлевает lease job каждые visibility/3 и доставляет
// сигнал отмены. Потеря владения останавливает движок.
func (a *Agent) renewLease(ctx context.Context, run *jobRun, logger *slog.Logger) {
	interval := a.visibility / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state, err := a.client.ExtendLease(ctx, run.job.ID, LeaseRequest{
			RobotID:   a.robotID,
			ExtendSec: int(a.visibility.Seconds()),
		})
		if err != nil {
			if errors.Is(err, ErrOwnershipLost) || errors.Is(err, ErrNotFound) {
				logger.Warn("lease renewal rejected, abandoning job", "error", err)
				run.markAbandoned()
				return
			}
			// Временный сбой связи: lease рассчитан на пропуск
			// нескольких renewals
			logger.Debug("lease renewal failed", "error", err)
			continue
		}

		if state.CancelRequested {
			logger.Info("cancellation requested, stopping engine")
			run.markCancelled()
			return
		}
	}
}

// report ставит терминальный отчёт в durable-очередь и будит доставку.
func (a *Agent) report(rep *offline.Report) {
	if err := a.store.EnqueueReport(rep); err != nil {
		// Отчёт не сохранён — доставляем в лоб, иначе он потеряется
		a.logger.Error("enqueue report failed, attempting direct delivery",
			"job_id", rep.JobID, "error", err)
		if sendErr := a.sendReport(context.Background(), rep); sendErr != nil {
			a.logger.Error("direct report delivery failed, report lost",
				"job_id", rep.JobID, "error", sendErr)
		}
		return
	}
	a.wakeReports()
}

// --- Engine adapters ---

// resultHandler реализует engine.ResultHandler для робота.
type resultHandler struct {
	agent *Agent
	job   *domain.Job
}

// HandleFailure не перехватывает ошибки nodes: ошибка без error-маршрута
// проваливает запуск, политика retry применяется сервисом на уровне job.
func (h *resultHandler) HandleFailure(_ context.Context, _ *domain.Node, nodeErr error) error {
	return nodeErr
}

// HandleSubflow ставит вложенный job через сервис и ждёт его завершения.
// Среда и приоритет наследуются от родителя.
func (h *resultHandler) HandleSubflow(ctx context.Context, call engine.SubflowCall) (map[string]any, error) {
	req := SubmitJobRequest{
		WorkflowName: call.WorkflowName,
		Input:        call.Input,
		Environment:  h.job.Environment,
		Priority:     h.job.Priority,
	}
	if call.WorkflowID != uuid.Nil {
		req.WorkflowID = call.WorkflowID.String()
	}

	child, err := h.agent.client.SubmitJob(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit subflow: %w", err)
	}

	ticker := time.NewTicker(subflowPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		current, err := h.agent.client.GetJob(ctx, child.ID)
		if err != nil {
			// Временный сбой опроса не отменяет вложенный job
			continue
		}
		if !current.IsFinished() {
			continue
		}

		if current.Status == domain.JobStatusCompleted {
			return current.Result, nil
		}
		return nil, fmt.Errorf("subflow %s: %s", current.Status, current.ErrorMessage)
	}
}

// checkpointSink пишет checkpoints движка в offline-хранилище.
type checkpointSink struct {
	store *offline.Store
}

func (s *checkpointSink) SaveCheckpoint(_ context.Context, cp domain.Checkpoint) error {
	return s.store.SaveCheckpoint(&cp)
}
