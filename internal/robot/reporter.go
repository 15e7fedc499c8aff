package robot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/offline"
)

// errUnknownReportStatus — повреждённая запись в очереди отчётов.
var errUnknownReportStatus = errors.New("unknown report status")

// reportLoop доставляет отложенные терминальные отчёты: по таймеру,
// по сигналу wakeReports и после восстановления связи.
func (a *Agent) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(a.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.reportCh:
		}
		a.deliverReports(ctx)
	}
}

// deliverReports пытается доставить все отложенные отчёты.
//
// Успех — отчёт и кэш job удаляются. Отказ в владении (409/404) —
// отчёт неактуален, сервис уже распорядился job'ом, локальное состояние
// удаляется молча. Прочие ошибки оставляют отчёт в очереди.
func (a *Agent) deliverReports(ctx context.Context) {
	if !a.conn.Online() {
		return
	}

	reports, err := a.store.PendingReports()
	if err != nil {
		a.logger.Error("list pending reports failed", "error", err)
		return
	}

	for i := range reports {
		rep := &reports[i]
		err := a.sendReport(ctx, rep)
		switch {
		case err == nil:
			a.logger.Info("report delivered",
				"job_id", rep.JobID, "status", rep.Status, "attempts", rep.Attempts)
			a.discardReport(rep.JobID)

		case errors.Is(err, ErrOwnershipLost), errors.Is(err, ErrNotFound),
			errors.Is(err, errUnknownReportStatus):
			a.logger.Warn("report rejected, discarding",
				"job_id", rep.JobID, "status", rep.Status, "error", err)
			a.discardReport(rep.JobID)

		default:
			a.logger.Warn("report delivery failed, will retry",
				"job_id", rep.JobID, "status", rep.Status, "error", err)
			if markErr := a.store.MarkReportAttempt(rep.JobID); markErr != nil {
				a.logger.Warn("mark report attempt failed", "error", markErr)
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// sendReport переводит отчёт в соответствующий API-вызов.
func (a *Agent) sendReport(ctx context.Context, rep *offline.Report) error {
	switch rep.Status {
	case domain.JobStatusCompleted:
		return a.client.Complete(ctx, rep.JobID, CompleteRequest{
			RobotID: a.robotID,
			Result:  rep.Result,
		})
	case domain.JobStatusFailed:
		return a.client.Fail(ctx, rep.JobID, FailRequest{
			RobotID: a.robotID,
			Error:   rep.Error,
			Fatal:   rep.Fatal,
		})
	case domain.JobStatusCancelled:
		return a.client.ReportCancelled(ctx, rep.JobID, CancelledRequest{
			RobotID: a.robotID,
			Error:   rep.Error,
		})
	default:
		return fmt.Errorf("%w: %q", errUnknownReportStatus, rep.Status)
	}
}

// discardReport удаляет отчёт и локальное состояние job.
func (a *Agent) discardReport(jobID uuid.UUID) {
	if err := a.store.RemoveReport(jobID); err != nil {
		a.logger.Warn("remove report failed", "job_id", jobID, "error", err)
	}
	if err := a.store.RemoveJob(jobID); err != nil {
		a.logger.Warn("remove job failed", "job_id", jobID, "error", err)
	}
}
