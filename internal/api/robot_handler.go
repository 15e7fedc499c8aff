package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
)

const (
	// defaultClaimVisibility — срок первичного lease, если робот не задал свой.
	defaultClaimVisibility = 60 * time.Second

	// minClaimVisibility / maxClaimVisibility — границы lease. Слишком
	// короткий lease истекает до первого renewal'а, слишком длинный
	// задерживает возврат jobs упавших роботов.
	minClaimVisibility = 5 * time.Second
	maxClaimVisibility = time.Hour

	// maxClaimBatch — максимум jobs за один claim.
	maxClaimBatch = 50

	// defaultLeaseExtend — продление lease, если робот не задал своё.
	defaultLeaseExtend = 60 * time.Second

	// robotOnlineTTL — сколько робот считается online после последнего
	// обращения.
	robotOnlineTTL = 90 * time.Second
)

// RegisterRobot регистрирует робота или обновляет его запись.
// POST /api/v1/robot/register
//
// Повторная регистрация того же ID — норма: робот регистрируется при
// каждом старте и при восстановлении связи.
func (h *Handler) RegisterRobot(w http.ResponseWriter, r *http.Request) {
	var req RegisterRobotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.RobotID == "" {
		BadRequest(w, "robot_id is required")
		return
	}
	if req.Environment == "" {
		req.Environment = domain.EnvironmentDefault
	}
	if req.Slots <= 0 {
		req.Slots = 1
	}

	now := time.Now()
	robot := &domain.Robot{
		ID:           req.RobotID,
		Environment:  req.Environment,
		Slots:        req.Slots,
		Version:      req.Version,
		LastSeenAt:   now,
		RegisteredAt: now,
	}

	if err := h.robots.Upsert(r.Context(), robot); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("robot registered",
		"robot_id", robot.ID,
		"environment", robot.Environment,
		"slots", robot.Slots,
	)

	Success(w, RobotFromDomain(robot, now))
}

// ListRobots возвращает реестр роботов.
// GET /api/v1/robots
func (h *Handler) ListRobots(w http.ResponseWriter, r *http.Request) {
	robots, err := h.robots.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	now := time.Now()
	result := make([]RobotResponse, len(robots))
	for i := range robots {
		result[i] = RobotFromDomain(&robots[i], now)
	}

	List(w, result, len(result))
}

// ClaimJobs атомарно выдаёт роботу пачку jobs.
// POST /api/v1/robot/claims
//
// Захват происходит одним SQL statement с FOR UPDATE SKIP LOCKED:
// конкурирующие роботы никогда не получают один и тот же job. Пустой
// ответ — норма, робот придёт за следующей пачкой позже.
func (h *Handler) ClaimJobs(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.RobotID == "" {
		BadRequest(w, "robot_id is required")
		return
	}
	if req.Environment == "" {
		req.Environment = domain.EnvironmentDefault
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 1
	}
	if req.BatchSize > maxClaimBatch {
		req.BatchSize = maxClaimBatch
	}

	visibility := time.Duration(req.VisibilitySec) * time.Second
	if visibility <= 0 {
		visibility = defaultClaimVisibility
	}
	if visibility < minClaimVisibility {
		visibility = minClaimVisibility
	}
	if visibility > maxClaimVisibility {
		visibility = maxClaimVisibility
	}

	jobs, err := h.jobs.ClaimBatch(r.Context(), req.Environment, req.RobotID, req.BatchSize, visibility)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	if err := h.robots.Touch(r.Context(), req.RobotID, time.Now()); err != nil {
		h.logger.Warn("failed to touch robot", "robot_id", req.RobotID, "error", err)
	}

	if len(jobs) > 0 {
		h.logger.Info("jobs claimed",
			"robot_id", req.RobotID,
			"environment", req.Environment,
			"count", len(jobs),
		)
	}

	if jobs == nil {
		jobs = []domain.Job{}
	}
	Success(w, jobs)
}

// ExtendLease продлевает lease RUNNING job.
// POST /api/v1/robot/jobs/{id}/lease
//
// Ответ несёт cancel_requested: так робот узнаёт о запросе отмены без
// отдельного канала. 409 означает потерю владения — job уже возвращён
// в очередь или передан другому роботу; робот обязан остановить
// выполнение и не отчитываться.
func (h *Handler) ExtendLease(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	var req LeaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.RobotID == "" {
		BadRequest(w, "robot_id is required")
		return
	}

	extra := time.Duration(req.ExtendSec) * time.Second
	if extra <= 0 {
		extra = defaultLeaseExtend
	}
	if extra > maxClaimVisibility {
		extra = maxClaimVisibility
	}

	state, err := h.jobs.ExtendLease(r.Context(), id, req.RobotID, extra)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}
	if !state.Extended {
		OwnershipConflict(w)
		return
	}

	if err := h.robots.Touch(r.Context(), req.RobotID, time.Now()); err != nil {
		h.logger.Warn("failed to touch robot", "robot_id", req.RobotID, "error", err)
	}

	Success(w, LeaseStateResponse{
		VisibleAfter:    state.VisibleAfter,
		CancelRequested: state.CancelRequested,
	})
}

// CompleteJob фиксирует успешное завершение job.
// POST /api/v1/robot/jobs/{id}/complete
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.RobotID == "" {
		BadRequest(w, "robot_id is required")
		return
	}

	err = h.jobs.Complete(r.Context(), id, req.RobotID, req.Result)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	h.logger.Info("job completed", "job_id", id, "robot_id", req.RobotID)

	h.publishLifecycle(r.Context(), mq.JobLifecyclePayload{
		JobID:   id,
		Status:  string(domain.JobStatusCompleted),
		RobotID: req.RobotID,
	})

	NoContent(w)
}

// FailJob фиксирует сбой выполнения.
// POST /api/v1/robot/jobs/{id}/fail
//
// Пока остались повторы и сбой не fatal, job возвращается в PENDING с
// инкрементом retry_count. Иначе — терминальный FAILED.
func (h *Handler) FailJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.RobotID == "" {
		BadRequest(w, "robot_id is required")
		return
	}

	status, err := h.jobs.Fail(r.Context(), id, req.RobotID, req.Error, req.Fatal)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	h.logger.Info("job failed",
		"job_id", id,
		"robot_id", req.RobotID,
		"status", status,
		"fatal", req.Fatal,
	)

	if h.publisher != nil {
		if job, err := h.jobs.GetByID(r.Context(), id); err == nil {
			if status == domain.JobStatusPending {
				// Повтор: будим роботов сразу, не дожидаясь dispatcher'а.
				if err := h.publisher.PublishJobAvailable(r.Context(), job.ID, job.Environment, job.Priority); err != nil {
					h.logger.Warn("failed to publish job.available", "job_id", job.ID, "error", err)
				}
			} else {
				h.publishLifecycle(r.Context(), mq.JobLifecyclePayload{
					JobID:        job.ID,
					WorkflowName: job.WorkflowName,
					Status:       string(status),
					RobotID:      req.RobotID,
					Error:        req.Error,
					RetryCount:   job.RetryCount,
				})
			}
		}
	}

	Success(w, JobStateResponse{ID: id, Status: string(status)})
}

// ReleaseJob возвращает job в очередь без инкремента retry_count.
// POST /api/v1/robot/jobs/{id}/release
//
// Используется при graceful shutdown робота: job станет доступен
// другим роботам немедленно.
func (h *Handler) ReleaseJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.RobotID == "" {
		BadRequest(w, "robot_id is required")
		return
	}

	err = h.jobs.Release(r.Context(), id, req.RobotID)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	h.logger.Info("job released", "job_id", id, "robot_id", req.RobotID)

	if h.publisher != nil {
		if job, err := h.jobs.GetByID(r.Context(), id); err == nil {
			if err := h.publisher.PublishJobAvailable(r.Context(), job.ID, job.Environment, job.Priority); err != nil {
				h.logger.Warn("failed to publish job.available", "job_id", job.ID, "error", err)
			}
		}
	}

	NoContent(w)
}

// CancelledJob подтверждает остановку по запросу отмены.
// POST /api/v1/robot/jobs/{id}/cancelled
//
// Вызывается роботом после того, как движок остановлен. Job переходит
// в терминальный CANCELLED.
func (h *Handler) CancelledJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	var req CancelledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.RobotID == "" {
		BadRequest(w, "robot_id is required")
		return
	}

	err = h.jobs.ConfirmCancel(r.Context(), id, req.RobotID)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	h.logger.Info("job cancellation confirmed", "job_id", id, "robot_id", req.RobotID)

	h.publishLifecycle(r.Context(), mq.JobLifecyclePayload{
		JobID:   id,
		Status:  string(domain.JobStatusCancelled),
		RobotID: req.RobotID,
		Error:   req.Error,
	})

	NoContent(w)
}

// publishLifecycle отправляет событие жизненного цикла, если publisher
// настроен. Ошибка публикации не влияет на ответ: статус уже в БД.
func (h *Handler) publishLifecycle(ctx context.Context, payload mq.JobLifecyclePayload) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishJobLifecycle(ctx, payload); err != nil {
		h.logger.Warn("failed to publish job.lifecycle", "job_id", payload.JobID, "error", err)
	}
}
