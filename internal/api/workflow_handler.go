package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ListWorkflows возвращает список workflows без графов.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.workflows.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]WorkflowSummary, len(workflows))
	for i := range workflows {
		result[i] = WorkflowSummaryFromDomain(&workflows[i])
	}

	List(w, result, len(result))
}

// CreateWorkflow создаёт новый workflow.
// POST /api/v1/workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if err := req.Graph.Validate(); err != nil {
		BadRequest(w, "invalid graph: "+err.Error())
		return
	}

	environment := req.Environment
	if environment == "" {
		environment = domain.EnvironmentDefault
	}
	maxRetries := defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	now := time.Now()
	wf := &domain.Workflow{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Graph:       req.Graph,
		Environment: environment,
		MaxRetries:  maxRetries,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if HandleRepoError(w, h.logger, h.workflows.Create(r.Context(), wf), "") {
		return
	}

	h.logger.Info("workflow created", "workflow_id", wf.ID, "name", wf.Name)

	Created(w, WorkflowFromDomain(wf))
}

// GetWorkflow возвращает workflow по ID или имени.
// GET /api/v1/workflows/{id}
//
// Если путь не парсится как UUID, он трактуется как имя workflow.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("id")

	var wf *domain.Workflow
	var err error
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		wf, err = h.workflows.GetByID(r.Context(), id)
	} else {
		wf, err = h.workflows.GetByName(r.Context(), ref)
	}
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, WorkflowFromDomain(wf))
}

// UpdateWorkflow обновляет workflow.
// PUT /api/v1/workflows/{id}
//
// Меняет только определение: уже поставленные jobs несут снимок
// старого графа и выполняются как были поставлены.
func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	var req UpdateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	if req.Name != nil {
		wf.Name = *req.Name
	}
	if req.Description != nil {
		wf.Description = *req.Description
	}
	if req.Graph != nil {
		if err := req.Graph.Validate(); err != nil {
			BadRequest(w, "invalid graph: "+err.Error())
			return
		}
		wf.Graph = *req.Graph
	}
	if req.Environment != nil {
		wf.Environment = *req.Environment
	}
	if req.MaxRetries != nil {
		wf.MaxRetries = *req.MaxRetries
	}
	if req.IsActive != nil {
		wf.IsActive = *req.IsActive
	}

	if HandleRepoError(w, h.logger, h.workflows.Update(r.Context(), wf), "workflow not found") {
		return
	}

	Success(w, WorkflowFromDomain(wf))
}

// DeleteWorkflow удаляет workflow вместе с его расписаниями.
// DELETE /api/v1/workflows/{id}
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	if HandleRepoError(w, h.logger, h.workflows.Delete(r.Context(), id), "workflow not found") {
		return
	}

	h.logger.Info("workflow deleted", "workflow_id", id)

	NoContent(w)
}
