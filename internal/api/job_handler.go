package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// defaultMaxRetries — число повторов, если не задано ни в запросе,
// ни в workflow.
const defaultMaxRetries = 3

// ListJobs возвращает список jobs с фильтрацией.
// GET /api/v1/jobs?status=...&environment=...&workflow_id=...&limit=...&offset=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := repo.JobFilter{}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status, ok := domain.ParseJobStatus(statusStr)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}

	filter.Environment = r.URL.Query().Get("environment")

	if wfIDStr := r.URL.Query().Get("workflow_id"); wfIDStr != "" {
		wfID, err := uuid.Parse(wfIDStr)
		if err != nil {
			BadRequest(w, "invalid workflow_id")
			return
		}
		filter.WorkflowID = &wfID
	}

	filter.Limit = parseIntDefault(r.URL.Query().Get("limit"), 50)
	filter.Offset = parseIntDefault(r.URL.Query().Get("offset"), 0)

	jobs, err := h.jobs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]JobSummary, len(jobs))
	for i := range jobs {
		result[i] = JobSummaryFromDomain(&jobs[i])
	}

	List(w, result, len(result))
}

// SubmitJob ставит новый job в очередь.
// POST /api/v1/jobs
//
// Граф берётся из сохранённого workflow (workflow_id или workflow_name)
// либо из inline-поля graph. Снимок графа кладётся в сам job: правки
// workflow после постановки на job не влияют.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sources := 0
	if req.WorkflowID != nil {
		sources++
	}
	if req.WorkflowName != "" {
		sources++
	}
	if req.Graph != nil {
		sources++
	}
	if sources != 1 {
		BadRequest(w, "exactly one of workflow_id, workflow_name or graph is required")
		return
	}

	job := &domain.Job{
		ID:          uuid.New(),
		Input:       req.Input,
		Status:      domain.JobStatusPending,
		Priority:    req.Priority,
		Environment: req.Environment,
	}

	switch {
	case req.Graph != nil:
		// Ad-hoc запуск: inline-граф валидируется на входе.
		if err := req.Graph.Validate(); err != nil {
			BadRequest(w, "invalid graph: "+err.Error())
			return
		}
		job.Graph = *req.Graph
		if req.MaxRetries != nil {
			job.MaxRetries = *req.MaxRetries
		} else {
			job.MaxRetries = defaultMaxRetries
		}

	default:
		var wf *domain.Workflow
		var err error
		if req.WorkflowID != nil {
			wf, err = h.workflows.GetByID(r.Context(), *req.WorkflowID)
		} else {
			wf, err = h.workflows.GetByName(r.Context(), req.WorkflowName)
		}
		if HandleRepoError(w, h.logger, err, "workflow not found") {
			return
		}

		job.WorkflowID = &wf.ID
		job.WorkflowName = wf.Name
		job.Graph = wf.Graph
		if job.Environment == "" {
			job.Environment = wf.Environment
		}
		if req.MaxRetries != nil {
			job.MaxRetries = *req.MaxRetries
		} else {
			job.MaxRetries = wf.MaxRetries
		}
	}

	if job.Environment == "" {
		job.Environment = domain.EnvironmentDefault
	}

	now := time.Now()
	job.CreatedAt = now
	job.VisibleAfter = now
	if req.DeadlineSec > 0 {
		deadline := now.Add(time.Duration(req.DeadlineSec) * time.Second)
		job.Deadline = &deadline
	}

	if err := h.jobs.Create(r.Context(), job); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("job submitted",
		"job_id", job.ID,
		"workflow_name", job.WorkflowName,
		"environment", job.Environment,
		"priority", job.Priority,
	)

	// Подсказка роботам. Необязательная: dispatcher объявит job на
	// ближайшем тике, а claim работает и без объявления.
	if h.publisher != nil {
		if err := h.publisher.PublishJobAvailable(r.Context(), job.ID, job.Environment, job.Priority); err != nil {
			h.logger.Warn("failed to publish job.available", "job_id", job.ID, "error", err)
		}
	}

	Created(w, job)
}

// GetJob возвращает полный job с графом.
// GET /api/v1/jobs/{id}
//
// Этим же endpoint'ом пользуются роботы: по нему субфлоу-нода опрашивает
// статус дочернего job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, job)
}

// CancelJob запрашивает отмену job.
// POST /api/v1/jobs/{id}/cancel
//
// PENDING/QUEUED отменяются сразу. Для RUNNING выставляется
// cancel_requested: робот увидит его в ответе на продление lease,
// остановит движок и подтвердит остановку.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	status, err := h.jobs.Cancel(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	h.logger.Info("job cancel requested", "job_id", id, "status", status)

	if status == domain.JobStatusCancelled {
		h.publishLifecycle(r.Context(), mq.JobLifecyclePayload{
			JobID:  id,
			Status: string(status),
		})
	}

	Success(w, JobStateResponse{ID: id, Status: string(status)})
}

// QueueStats возвращает счётчики jobs по статусам.
// GET /api/v1/stats
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.jobs.CountByStatus(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	stats := QueueStatsResponse{Statuses: make(map[string]int, len(counts))}
	for status, n := range counts {
		stats.Statuses[string(status)] = n
		stats.Total += n
	}

	Success(w, stats)
}

// parseIntDefault возвращает def для пустых и некорректных значений.
func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
