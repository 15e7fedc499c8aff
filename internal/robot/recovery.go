package robot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/offline"
)

// recoverJobs возобновляет jobs, закэшированные до рестарта робота.
//
// Для каждого кэшированного job без отложенного отчёта (отчёт означает,
// что выполнение уже завершилось) робот подтверждает владение свежим
// lease и перезапускает движок — тот продолжит с последнего checkpoint'а.
// Отказ в lease означает, что за время простоя job переназначен: локальное
// состояние удаляется, выполнять чужой job нельзя.
func (a *Agent) recoverJobs(ctx context.Context) {
	jobs, err := a.store.CachedJobs()
	if err != nil {
		a.logger.Error("list cached jobs failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	a.logger.Info("recovering cached jobs", "count", len(jobs))

	reported := make(map[uuid.UUID]bool)
	if reports, err := a.store.PendingReports(); err == nil {
		for _, rep := range reports {
			reported[rep.JobID] = true
		}
	} else {
		a.logger.Warn("list pending reports failed", "error", err)
	}

	for i := range jobs {
		job := &jobs[i]

		if reported[job.ID] {
			// Job уже отработал, остался только недоставленный отчёт
			continue
		}

		state, err := a.client.ExtendLease(ctx, job.ID, LeaseRequest{
			RobotID:   a.robotID,
			ExtendSec: int(a.visibility.Seconds()),
		})
		if err != nil {
			if errors.Is(err, ErrOwnershipLost) || errors.Is(err, ErrNotFound) {
				a.logger.Warn("cached job reassigned while offline, discarding",
					"job_id", job.ID)
				if rmErr := a.store.RemoveJob(job.ID); rmErr != nil {
					a.logger.Warn("remove job failed", "job_id", job.ID, "error", rmErr)
				}
				continue
			}
			// Связь моргнула: job остаётся в кэше. Если сервис вернёт
			// его в очередь по истёкшему lease, обычный claim подхватит
			// его заново — checkpoint при этом уже удалён не будет
			a.logger.Warn("lease revalidation failed, leaving job cached",
				"job_id", job.ID, "error", err)
			continue
		}

		if state.CancelRequested {
			// Отмена пришла, пока робот стоял
			a.logger.Info("cached job cancelled while offline", "job_id", job.ID)
			a.report(&offline.Report{
				JobID:    job.ID,
				Status:   domain.JobStatusCancelled,
				QueuedAt: time.Now(),
			})
			continue
		}

		a.logger.Info("resuming cached job", "job_id", job.ID, "workflow", job.WorkflowName)
		a.startJob(ctx, job)
	}
}
