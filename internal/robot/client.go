package robot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/breaker"
	"github.com/shaiso/Conveyor/internal/domain"
)

const defaultClientTimeout = 15 * time.Second

// --- Request types ---

// RegisterRequest — регистрация робота. Повторная регистрация работает
// как heartbeat: сервис обновляет last_seen_at.
type RegisterRequest struct {
	RobotID     string `json:"robot_id"`
	Environment string `json:"environment"`
	Slots       int    `json:"slots"`
	Version     string `json:"version,omitempty"`
}

// ClaimRequest — запрос на атомарный claim batch'а jobs.
type ClaimRequest struct {
	RobotID       string `json:"robot_id"`
	Environment   string `json:"environment"`
	BatchSize     int    `json:"batch_size"`
	VisibilitySec int    `json:"visibility_sec"`
}

// LeaseRequest — продление lease выполняемого job.
type LeaseRequest struct {
	RobotID   string `json:"robot_id"`
	ExtendSec int    `json:"extend_sec"`
}

// LeaseState — ответ на продление lease. Renewal заодно доставляет
// сигнал кооперативной отмены.
type LeaseState struct {
	VisibleAfter    time.Time `json:"visible_after"`
	CancelRequested bool      `json:"cancel_requested"`
}

// CompleteRequest — терминальный отчёт об успехе.
type CompleteRequest struct {
	RobotID string         `json:"robot_id"`
	Result  map[string]any `json:"result,omitempty"`
}

// FailRequest — терминальный отчёт об ошибке.
// Fatal=true запрещает retry: ошибка конфигурации не лечится повтором.
type FailRequest struct {
	RobotID string `json:"robot_id"`
	Error   string `json:"error,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// ReleaseRequest — добровольный возврат незапущенного job в очередь.
type ReleaseRequest struct {
	RobotID string `json:"robot_id"`
}

// CancelledRequest — подтверждение кооперативной отмены.
type CancelledRequest struct {
	RobotID string `json:"robot_id"`
	Error   string `json:"error,omitempty"`
}

// SubmitJobRequest — постановка job (используется для subflow).
type SubmitJobRequest struct {
	WorkflowID   string         `json:"workflow_id,omitempty"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Environment  string         `json:"environment,omitempty"`
	Priority     int            `json:"priority,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент робота для Conveyor API.
//
// Все вызовы идут под circuit breaker'ом зависимости "conveyor-api":
// транспортные сбои и 5xx считаются сбоями зависимости, 4xx — это
// семантические ответы (ownership lost, not found) и breaker не трогают.
//
// В отличие от CLI-клиента, робот декодирует jobs прямо в domain.Job:
// ему нужен исполняемый граф, а не витрина для таблицы.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *breaker.Breaker
}

// NewClient создаёт клиент робота.
// breakers может быть nil — тогда создаётся собственный реестр с
// конфигурацией по умолчанию.
func NewClient(baseURL string, breakers *breaker.Registry) *Client {
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.Config{})
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultClientTimeout,
		},
		breaker: breakers.Get("conveyor-api"),
	}
}

// Health проверяет доступность сервиса.
func (c *Client) Health(ctx context.Context) error {
	return c.send(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Register регистрирует робота (или обновляет heartbeat).
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.send(ctx, http.MethodPost, "/api/v1/robot/register", req, nil)
}

// Claim атомарно забирает batch jobs для выполнения.
func (c *Client) Claim(ctx context.Context, req ClaimRequest) ([]domain.Job, error) {
	var jobs []domain.Job
	err := c.send(ctx, http.MethodPost, "/api/v1/robot/claims", req, &jobs)
	return jobs, err
}

// ExtendLease продлевает lease и возвращает состояние job.
// ErrOwnershipLost — job принадлежит другому роботу.
func (c *Client) ExtendLease(ctx context.Context, jobID uuid.UUID, req LeaseRequest) (*LeaseState, error) {
	var state LeaseState
	err := c.send(ctx, http.MethodPost, "/api/v1/robot/jobs/"+jobID.String()+"/lease", req, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Complete отчитывается об успешном завершении job.
func (c *Client) Complete(ctx context.Context, jobID uuid.UUID, req CompleteRequest) error {
	return c.send(ctx, http.MethodPost, "/api/v1/robot/jobs/"+jobID.String()+"/complete", req, nil)
}

// Fail отчитывается об ошибке выполнения job.
func (c *Client) Fail(ctx context.Context, jobID uuid.UUID, req FailRequest) error {
	return c.send(ctx, http.MethodPost, "/api/v1/robot/jobs/"+jobID.String()+"/fail", req, nil)
}

// Release возвращает незапущенный job в очередь без счёта попытки.
func (c *Client) Release(ctx context.Context, jobID uuid.UUID, req ReleaseRequest) error {
	return c.send(ctx, http.MethodPost, "/api/v1/robot/jobs/"+jobID.String()+"/release", req, nil)
}

// ReportCancelled подтверждает кооперативную отмену job.
func (c *Client) ReportCancelled(ctx context.Context, jobID uuid.UUID, req CancelledRequest) error {
	return c.send(ctx, http.MethodPost, "/api/v1/robot/jobs/"+jobID.String()+"/cancelled", req, nil)
}

// SubmitJob ставит новый job в очередь (вложенный workflow).
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (*domain.Job, error) {
	var job domain.Job
	if err := c.send(ctx, http.MethodPost, "/api/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob возвращает job по ID.
func (c *Client) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	if err := c.send(ctx, http.MethodGet, "/api/v1/jobs/"+jobID.String(), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// BreakerState возвращает состояние breaker'а API (для диагностики).
func (c *Client) BreakerState() breaker.State {
	return c.breaker.State()
}

// --- HTTP helpers ---

// send выполняет запрос под breaker'ом и декодирует data-обёртку.
func (c *Client) send(ctx context.Context, method, path string, body, result any) error {
	if !c.breaker.Allow() {
		return breaker.ErrOpen
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}
	defer resp.Body.Close()

	// 5xx — сбой зависимости; 4xx — семантический ответ
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return c.apiError(resp)
	}
	c.breaker.RecordSuccess()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// apiError переводит ответ с ошибкой в типизированную ошибку клиента.
func (c *Client) apiError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		return ErrOwnershipLost
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
