package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Типы ответов продублированы из api/dto.go: CLI ходит в API только
// по HTTP и внутренние пакеты сервера не импортирует.

// WorkflowResponse — workflow из API. Списки приходят без графа,
// GET по ID — с графом.
type WorkflowResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Graph       map[string]any `json:"graph,omitempty"`
	Environment string         `json:"environment"`
	MaxRetries  int            `json:"max_retries"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// JobResponse — job из API.
type JobResponse struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id,omitempty"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	Environment  string         `json:"environment"`
	RobotID      string         `json:"robot_id,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    string         `json:"created_at"`
	StartedAt    string         `json:"started_at,omitempty"`
	CompletedAt  string         `json:"completed_at,omitempty"`
}

// JobStateResponse — ответ операций, меняющих статус job.
type JobStateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StatsResponse — счётчики очереди по статусам.
type StatsResponse struct {
	Statuses map[string]int `json:"statuses"`
	Total    int            `json:"total"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Name        string         `json:"name,omitempty"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone"`
	Enabled     bool           `json:"enabled"`
	NextDueAt   string         `json:"next_due_at,omitempty"`
	LastJobAt   string         `json:"last_job_at,omitempty"`
	LastJobID   string         `json:"last_job_id,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Priority    int            `json:"priority"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// RobotResponse — робот из API.
type RobotResponse struct {
	ID           string `json:"id"`
	Environment  string `json:"environment"`
	Slots        int    `json:"slots"`
	Version      string `json:"version,omitempty"`
	Online       bool   `json:"online"`
	LastSeenAt   string `json:"last_seen_at"`
	RegisteredAt string `json:"registered_at"`
}

// --- Request types ---

// CreateWorkflowRequest — создание workflow.
type CreateWorkflowRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Graph       map[string]any `json:"graph"`
	Environment string         `json:"environment,omitempty"`
	MaxRetries  *int           `json:"max_retries,omitempty"`
}

// UpdateWorkflowRequest — обновление workflow.
type UpdateWorkflowRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Graph       map[string]any `json:"graph,omitempty"`
	Environment *string        `json:"environment,omitempty"`
	MaxRetries  *int           `json:"max_retries,omitempty"`
	IsActive    *bool          `json:"is_active,omitempty"`
}

// SubmitJobRequest — постановка job. Ровно один источник графа:
// workflow_id, workflow_name или inline graph.
type SubmitJobRequest struct {
	WorkflowID   string         `json:"workflow_id,omitempty"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Graph        map[string]any `json:"graph,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Environment  string         `json:"environment,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	MaxRetries   *int           `json:"max_retries,omitempty"`
	DeadlineSec  int            `json:"deadline_sec,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Input       map[string]any `json:"input,omitempty"`
	Priority    int            `json:"priority,omitempty"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
}

// ListJobsOpts — параметры фильтрации jobs.
type ListJobsOpts struct {
	Status      string
	Environment string
	WorkflowID  string
	Limit       int
}

// --- API envelopes ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiErrorBody `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, hc: &http.Client{Timeout: 30 * time.Second}}
}

// fetchOne выполняет запрос и декодирует единичный объект из конверта {"data": ...}.
func fetchOne[T any](c *Client, method, path string, body any) (*T, error) {
	var out T
	if err := c.send(method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// fetchList выполняет GET и декодирует срез из конверта {"data": [...], "total": N}.
func fetchList[T any](c *Client, path string, params url.Values) ([]T, error) {
	var out []T
	if err := c.sendList(path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Workflows ---

// ListWorkflows возвращает все workflows.
func (c *Client) ListWorkflows() ([]WorkflowResponse, error) {
	return fetchList[WorkflowResponse](c, "/api/v1/workflows", nil)
}

// CreateWorkflow создаёт новый workflow.
func (c *Client) CreateWorkflow(req CreateWorkflowRequest) (*WorkflowResponse, error) {
	return fetchOne[WorkflowResponse](c, http.MethodPost, "/api/v1/workflows", req)
}

// GetWorkflow возвращает workflow по ID или имени.
func (c *Client) GetWorkflow(idOrName string) (*WorkflowResponse, error) {
	return fetchOne[WorkflowResponse](c, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(idOrName), nil)
}

// UpdateWorkflow обновляет workflow.
func (c *Client) UpdateWorkflow(id string, req UpdateWorkflowRequest) (*WorkflowResponse, error) {
	return fetchOne[WorkflowResponse](c, http.MethodPut, "/api/v1/workflows/"+id, req)
}

// DeleteWorkflow удаляет workflow.
func (c *Client) DeleteWorkflow(id string) error {
	return c.send(http.MethodDelete, "/api/v1/workflows/"+id, nil, nil)
}

// --- Jobs ---

// ListJobs возвращает список jobs с фильтрацией.
func (c *Client) ListJobs(opts ListJobsOpts) ([]JobResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Environment != "" {
		params.Set("environment", opts.Environment)
	}
	if opts.WorkflowID != "" {
		params.Set("workflow_id", opts.WorkflowID)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	return fetchList[JobResponse](c, "/api/v1/jobs", params)
}

// SubmitJob ставит job в очередь.
func (c *Client) SubmitJob(req SubmitJobRequest) (*JobResponse, error) {
	return fetchOne[JobResponse](c, http.MethodPost, "/api/v1/jobs", req)
}

// GetJob возвращает job по ID.
func (c *Client) GetJob(id string) (*JobResponse, error) {
	return fetchOne[JobResponse](c, http.MethodGet, "/api/v1/jobs/"+id, nil)
}

// CancelJob запрашивает отмену job.
func (c *Client) CancelJob(id string) (*JobStateResponse, error) {
	return fetchOne[JobStateResponse](c, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil)
}

// QueueStats возвращает счётчики очереди.
func (c *Client) QueueStats() (*StatsResponse, error) {
	return fetchOne[StatsResponse](c, http.MethodGet, "/api/v1/stats", nil)
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если workflowID не пустой — фильтрует.
func (c *Client) ListSchedules(workflowID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if workflowID != "" {
		params.Set("workflow_id", workflowID)
	}
	return fetchList[ScheduleResponse](c, "/api/v1/schedules", params)
}

// CreateSchedule создаёт schedule для workflow.
func (c *Client) CreateSchedule(workflowID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	return fetchOne[ScheduleResponse](c, http.MethodPost, "/api/v1/workflows/"+workflowID+"/schedules", req)
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	return fetchOne[ScheduleResponse](c, http.MethodGet, "/api/v1/schedules/"+id, nil)
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	return fetchOne[ScheduleResponse](c, http.MethodPut, "/api/v1/schedules/"+id, req)
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.send(http.MethodDelete, "/api/v1/schedules/"+id, nil, nil)
}

// EnableSchedule включает schedule.
func (c *Client) EnableSchedule(id string) (*ScheduleResponse, error) {
	return c.setScheduleEnabled(id, true)
}

// DisableSchedule выключает schedule.
func (c *Client) DisableSchedule(id string) (*ScheduleResponse, error) {
	return c.setScheduleEnabled(id, false)
}

func (c *Client) setScheduleEnabled(id string, enabled bool) (*ScheduleResponse, error) {
	body := map[string]bool{"enabled": enabled}
	return fetchOne[ScheduleResponse](c, http.MethodPut, "/api/v1/schedules/"+id+"/enabled", body)
}

// --- Robots ---

// ListRobots возвращает зарегистрированных роботов.
func (c *Client) ListRobots() ([]RobotResponse, error) {
	return fetchList[RobotResponse](c, "/api/v1/robots", nil)
}

// --- HTTP plumbing ---

// send выполняет запрос и раскрывает конверт {"data": ...} в out.
// При out == nil или ответе 204 тело не читается.
func (c *Client) send(method, path string, body, out any) error {
	resp, err := c.roundTrip(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apiError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var envelope dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode API response: %w", err)
	}
	return json.Unmarshal(envelope.Data, out)
}

// sendList — то же для списочного конверта.
func (c *Client) sendList(path string, params url.Values, out any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	resp, err := c.roundTrip(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apiError(resp)
	}

	var envelope listResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode API response: %w", err)
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *Client) roundTrip(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.hc.Do(req)
}

// apiError переводит конверт {"error": {...}} в error вида "CODE: message".
func apiError(resp *http.Response) error {
	var envelope errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
}
