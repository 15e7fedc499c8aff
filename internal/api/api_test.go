package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/robot"
)

// --- In-memory stores ---
//
// Повторяют семантику repo-слоя: один мьютекс на хранилище делает каждую
// операцию атомарной, как одиночный SQL statement в Postgres.

type memJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

func (m *memJobStore) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobStore) List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Environment != "" && job.Environment != filter.Environment {
			continue
		}
		if filter.WorkflowID != nil && (job.WorkflowID == nil || *job.WorkflowID != *filter.WorkflowID) {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memJobStore) Cancel(ctx context.Context, jobID uuid.UUID) (domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", repo.ErrNotFound
	}
	switch job.Status {
	case domain.JobStatusPending, domain.JobStatusQueued:
		job.Status = domain.JobStatusCancelled
		now := time.Now()
		job.CompletedAt = &now
	case domain.JobStatusRunning:
		job.CancelRequested = true
	default:
		return "", repo.ErrInvalidState
	}
	return job.Status, nil
}

func (m *memJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.JobStatus]int)
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (m *memJobStore) ClaimBatch(ctx context.Context, environment, robotID string, batchSize int, visibility time.Duration) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()

	var candidates []*domain.Job
	for _, job := range m.jobs {
		if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusQueued {
			continue
		}
		if job.VisibleAfter.After(now) {
			continue
		}
		if !domain.EnvironmentMatches(job.Environment, environment) {
			continue
		}
		candidates = append(candidates, job)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	var claimed []domain.Job
	for _, job := range candidates {
		job.Status = domain.JobStatusRunning
		job.RobotID = robotID
		job.VisibleAfter = now.Add(visibility)
		if job.StartedAt == nil {
			started := now
			job.StartedAt = &started
		}
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (m *memJobStore) ExtendLease(ctx context.Context, jobID uuid.UUID, robotID string, extra time.Duration) (repo.LeaseState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusRunning || job.RobotID != robotID {
		return repo.LeaseState{Extended: false}, nil
	}
	job.VisibleAfter = time.Now().Add(extra)
	return repo.LeaseState{
		Extended:        true,
		CancelRequested: job.CancelRequested,
		VisibleAfter:    job.VisibleAfter,
	}, nil
}

func (m *memJobStore) Complete(ctx context.Context, jobID uuid.UUID, robotID string, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusRunning || job.RobotID != robotID {
		return repo.ErrNotOwner
	}
	job.Status = domain.JobStatusCompleted
	job.Result = result
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (m *memJobStore) Fail(ctx context.Context, jobID uuid.UUID, robotID, errMsg string, fatal bool) (domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusRunning || job.RobotID != robotID {
		return "", repo.ErrNotOwner
	}
	job.ErrorMessage = errMsg
	job.VisibleAfter = time.Now()
	if !fatal && job.RetryCount < job.MaxRetries {
		job.Status = domain.JobStatusPending
		job.RetryCount++
		job.RobotID = ""
		job.CompletedAt = nil
	} else {
		job.Status = domain.JobStatusFailed
		now := time.Now()
		job.CompletedAt = &now
	}
	return job.Status, nil
}

func (m *memJobStore) Release(ctx context.Context, jobID uuid.UUID, robotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusRunning || job.RobotID != robotID {
		return repo.ErrNotOwner
	}
	job.Status = domain.JobStatusPending
	job.RobotID = ""
	job.VisibleAfter = time.Now()
	return nil
}

func (m *memJobStore) ConfirmCancel(ctx context.Context, jobID uuid.UUID, robotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusRunning || job.RobotID != robotID {
		return repo.ErrNotOwner
	}
	job.Status = domain.JobStatusCancelled
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

// requeue имитирует sweeper: возврат RUNNING job в очередь после
// истечения lease.
func (m *memJobStore) requeue(jobID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Status = domain.JobStatusPending
		job.RobotID = ""
		job.VisibleAfter = time.Now()
	}
}

type memWorkflowStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*domain.Workflow
}

func newMemWorkflowStore() *memWorkflowStore {
	return &memWorkflowStore{workflows: make(map[uuid.UUID]*domain.Workflow)}
}

func (m *memWorkflowStore) Create(ctx context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.workflows {
		if existing.Name == wf.Name {
			return repo.ErrAlreadyExists
		}
	}
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *memWorkflowStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (m *memWorkflowStore) GetByName(ctx context.Context, name string) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.workflows {
		if wf.Name == name {
			cp := *wf
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memWorkflowStore) List(ctx context.Context) ([]domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Workflow
	for _, wf := range m.workflows {
		out = append(out, *wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memWorkflowStore) Update(ctx context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; !ok {
		return repo.ErrNotFound
	}
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *memWorkflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.workflows, id)
	return nil
}

type memScheduleStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*domain.Schedule
}

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{schedules: make(map[uuid.UUID]*domain.Schedule)}
}

func (m *memScheduleStore) Create(ctx context.Context, schedule *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *schedule
	m.schedules[schedule.ID] = &cp
	return nil
}

func (m *memScheduleStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memScheduleStore) List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Schedule
	for _, s := range m.schedules {
		if filter.WorkflowID != nil && s.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.Enabled != nil && s.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *memScheduleStore) Update(ctx context.Context, schedule *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[schedule.ID]; !ok {
		return repo.ErrNotFound
	}
	cp := *schedule
	m.schedules[schedule.ID] = &cp
	return nil
}

func (m *memScheduleStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *memScheduleStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.Enabled = enabled
	return nil
}

type memRobotStore struct {
	mu     sync.Mutex
	robots map[string]*domain.Robot
}

func newMemRobotStore() *memRobotStore {
	return &memRobotStore{robots: make(map[string]*domain.Robot)}
}

func (m *memRobotStore) Upsert(ctx context.Context, robot *domain.Robot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *robot
	if existing, ok := m.robots[robot.ID]; ok {
		cp.RegisteredAt = existing.RegisteredAt
	}
	m.robots[robot.ID] = &cp
	return nil
}

func (m *memRobotStore) Touch(ctx context.Context, robotID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.robots[robotID]; ok {
		r.LastSeenAt = seenAt
	}
	return nil
}

func (m *memRobotStore) List(ctx context.Context) ([]domain.Robot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Robot
	for _, r := range m.robots {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Test environment ---

type testEnv struct {
	jobs      *memJobStore
	workflows *memWorkflowStore
	schedules *memScheduleStore
	robots    *memRobotStore
	server    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		jobs:      newMemJobStore(),
		workflows: newMemWorkflowStore(),
		schedules: newMemScheduleStore(),
		robots:    newMemRobotStore(),
	}

	h := NewHandler(Config{
		Jobs:      env.jobs,
		Workflows: env.workflows,
		Schedules: env.schedules,
		Robots:    env.robots,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)

	return env
}

func (e *testEnv) client() *robot.Client {
	return robot.NewClient(e.server.URL, nil)
}

// addPendingJob кладёт готовый к claim'у job напрямую в хранилище.
func (e *testEnv) addPendingJob(t *testing.T, environment string, priority int) uuid.UUID {
	t.Helper()
	job := &domain.Job{
		ID:           uuid.New(),
		Graph:        validGraph(),
		Status:       domain.JobStatusPending,
		Priority:     priority,
		Environment:  environment,
		MaxRetries:   1,
		VisibleAfter: time.Now().Add(-time.Second),
		CreatedAt:    time.Now(),
	}
	if err := e.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job.ID
}

func validGraph() domain.Graph {
	return domain.Graph{
		Nodes: []domain.Node{
			{ID: "start", Type: "set"},
			{ID: "finish", Type: "set"},
		},
		Edges: []domain.Edge{
			{SourceNode: "start", SourcePort: "out", TargetNode: "finish"},
		},
	}
}

// --- HTTP helpers ---

func doRequest(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, raw
}

func decodeData(t *testing.T, raw []byte, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, raw)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v (%s)", err, envelope.Data)
	}
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, raw)
	}
	return envelope.Error.Code
}

// --- Submit ---

func TestAPI_SubmitJob_FromWorkflowName(t *testing.T) {
	env := newTestEnv(t)

	status, raw := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/workflows", CreateWorkflowRequest{
		Name:        "sync-orders",
		Graph:       validGraph(),
		Environment: "staging",
	})
	if status != http.StatusCreated {
		t.Fatalf("create workflow status = %d: %s", status, raw)
	}

	job, err := env.client().SubmitJob(context.Background(), robot.SubmitJobRequest{
		WorkflowName: "sync-orders",
		Input:        map[string]any{"day": "monday"},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	if job.Status != domain.JobStatusPending {
		t.Errorf("job status = %s, want PENDING", job.Status)
	}
	if job.WorkflowName != "sync-orders" {
		t.Errorf("workflow_name = %q", job.WorkflowName)
	}
	if job.Environment != "staging" {
		t.Errorf("environment = %q, want staging (inherited from workflow)", job.Environment)
	}
	if job.MaxRetries != defaultMaxRetries {
		t.Errorf("max_retries = %d, want workflow default %d", job.MaxRetries, defaultMaxRetries)
	}
	if len(job.Graph.Nodes) != 2 {
		t.Errorf("graph snapshot missing: %+v", job.Graph)
	}
}

func TestAPI_SubmitJob_InlineGraphInvalid(t *testing.T) {
	env := newTestEnv(t)

	// Ребро на несуществующий node
	bad := domain.Graph{
		Nodes: []domain.Node{{ID: "a", Type: "set"}},
		Edges: []domain.Edge{{SourceNode: "a", SourcePort: "out", TargetNode: "ghost"}},
	}
	status, raw := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/jobs", SubmitJobRequest{Graph: &bad})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", status, raw)
	}
}

func TestAPI_SubmitJob_RequiresSingleSource(t *testing.T) {
	env := newTestEnv(t)

	status, _ := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/jobs", SubmitJobRequest{})
	if status != http.StatusBadRequest {
		t.Fatalf("empty source: status = %d, want 400", status)
	}

	g := validGraph()
	wfID := uuid.New()
	status, _ = doRequest(t, http.MethodPost, env.server.URL+"/api/v1/jobs", SubmitJobRequest{
		WorkflowID: &wfID,
		Graph:      &g,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("two sources: status = %d, want 400", status)
	}
}

func TestAPI_SubmitJob_DeadlineFromSeconds(t *testing.T) {
	env := newTestEnv(t)

	g := validGraph()
	var job domain.Job
	status, raw := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/jobs", SubmitJobRequest{
		Graph:       &g,
		DeadlineSec: 3600,
	})
	if status != http.StatusCreated {
		t.Fatalf("status = %d: %s", status, raw)
	}
	decodeData(t, raw, &job)

	if job.Deadline == nil {
		t.Fatal("deadline not set")
	}
	want := time.Now().Add(time.Hour)
	if job.Deadline.Before(want.Add(-time.Minute)) || job.Deadline.After(want.Add(time.Minute)) {
		t.Errorf("deadline = %v, want ~%v", job.Deadline, want)
	}
}

// --- Claim ---

func TestAPI_Claim_SingleWinnerUnderContention(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addPendingJob(t, "default", 0)

	const robots = 8
	var wg sync.WaitGroup
	results := make([][]domain.Job, robots)

	for i := 0; i < robots; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobs, err := env.client().Claim(context.Background(), robot.ClaimRequest{
				RobotID:       fmt.Sprintf("robot-%d", i),
				Environment:   "default",
				BatchSize:     1,
				VisibilitySec: 60,
			})
			if err != nil {
				t.Errorf("claim %d: %v", i, err)
				return
			}
			results[i] = jobs
		}(i)
	}
	wg.Wait()

	var winners int
	for i, jobs := range results {
		if len(jobs) == 0 {
			continue
		}
		winners++
		if jobs[0].ID != jobID {
			t.Errorf("robot %d claimed unexpected job %s", i, jobs[0].ID)
		}
		if jobs[0].Status != domain.JobStatusRunning {
			t.Errorf("claimed job status = %s, want RUNNING", jobs[0].Status)
		}
		if jobs[0].RobotID != fmt.Sprintf("robot-%d", i) {
			t.Errorf("claimed job robot_id = %q, want robot-%d", jobs[0].RobotID, i)
		}
	}
	if winners != 1 {
		t.Fatalf("job claimed by %d robots, want exactly 1", winners)
	}
}

func TestAPI_Claim_EnvironmentRules(t *testing.T) {
	env := newTestEnv(t)
	defaultJob := env.addPendingJob(t, "default", 0)
	stagingJob := env.addPendingJob(t, "staging", 0)
	prodJob := env.addPendingJob(t, "prod", 0)

	// Робот staging: берёт staging и default jobs, но не prod
	jobs, err := env.client().Claim(context.Background(), robot.ClaimRequest{
		RobotID:       "robot-staging",
		Environment:   "staging",
		BatchSize:     10,
		VisibilitySec: 60,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	got := make(map[uuid.UUID]bool, len(jobs))
	for _, j := range jobs {
		got[j.ID] = true
	}
	if !got[defaultJob] || !got[stagingJob] {
		t.Errorf("staging robot must claim default and staging jobs, got %v", got)
	}
	if got[prodJob] {
		t.Error("staging robot claimed prod job")
	}

	// Робот default (wildcard): берёт оставшийся prod job
	jobs, err = env.client().Claim(context.Background(), robot.ClaimRequest{
		RobotID:       "robot-any",
		Environment:   "default",
		BatchSize:     10,
		VisibilitySec: 60,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != prodJob {
		t.Errorf("wildcard robot jobs = %v, want just prod job", jobs)
	}
}

func TestAPI_Claim_PriorityThenFIFO(t *testing.T) {
	env := newTestEnv(t)
	low := env.addPendingJob(t, "default", 1)
	time.Sleep(2 * time.Millisecond)
	high := env.addPendingJob(t, "default", 9)

	jobs, err := env.client().Claim(context.Background(), robot.ClaimRequest{
		RobotID:       "robot-1",
		Environment:   "default",
		BatchSize:     2,
		VisibilitySec: 60,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("claimed %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != high || jobs[1].ID != low {
		t.Errorf("claim order = [%s %s], want high priority first", jobs[0].ID, jobs[1].ID)
	}
}

// --- Lease and ownership ---

func TestAPI_Lease_LostAfterRequeue(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addPendingJob(t, "default", 0)
	client := env.client()

	jobs, err := client.Claim(context.Background(), robot.ClaimRequest{
		RobotID: "robot-1", Environment: "default", BatchSize: 1, VisibilitySec: 60,
	})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(jobs))
	}

	// Sweeper вернул job в очередь (lease истёк)
	env.jobs.requeue(jobID)

	_, err = client.ExtendLease(context.Background(), jobID, robot.LeaseRequest{
		RobotID: "robot-1", ExtendSec: 60,
	})
	if !errors.Is(err, robot.ErrOwnershipLost) {
		t.Fatalf("ExtendLease error = %v, want ErrOwnershipLost", err)
	}

	// Отчёт о завершении от бывшего владельца тоже отклоняется
	err = client.Complete(context.Background(), jobID, robot.CompleteRequest{
		RobotID: "robot-1", Result: map[string]any{"n": 1},
	})
	if !errors.Is(err, robot.ErrOwnershipLost) {
		t.Fatalf("Complete error = %v, want ErrOwnershipLost", err)
	}
}

func TestAPI_Lease_RenewalKeepsOwnership(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addPendingJob(t, "default", 0)
	client := env.client()

	if _, err := client.Claim(context.Background(), robot.ClaimRequest{
		RobotID: "robot-1", Environment: "default", BatchSize: 1, VisibilitySec: 60,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	state, err := client.ExtendLease(context.Background(), jobID, robot.LeaseRequest{
		RobotID: "robot-1", ExtendSec: 120,
	})
	if err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	if state.CancelRequested {
		t.Error("cancel_requested = true for untouched job")
	}
	if !state.VisibleAfter.After(time.Now().Add(time.Minute)) {
		t.Errorf("visible_after = %v, want ~2m ahead", state.VisibleAfter)
	}
}

// --- Cancel ---

func TestAPI_Cancel_PendingImmediate(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addPendingJob(t, "default", 0)

	var result JobStateResponse
	status, raw := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/jobs/"+jobID.String()+"/cancel", nil)
	if status != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", status, raw)
	}
	decodeData(t, raw, &result)
	if result.Status != string(domain.JobStatusCancelled) {
		t.Errorf("status after cancel = %s, want CANCELLED", result.Status)
	}
}

func TestAPI_Cancel_RunningIsCooperative(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addPendingJob(t, "default", 0)
	client := env.client()

	if _, err := client.Claim(context.Background(), robot.ClaimRequest{
		RobotID: "robot-1", Environment: "default", BatchSize: 1, VisibilitySec: 60,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Отмена RUNNING job не меняет статус сразу
	var result JobStateResponse
	status, raw := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/jobs/"+jobID.String()+"/cancel", nil)
	if status != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", status, raw)
	}
	decodeData(t, raw, &result)
	if result.Status != string(domain.JobStatusRunning) {
		t.Errorf("status after cancel = %s, want RUNNING (cooperative)", result.Status)
	}

	// Робот узнаёт об отмене из renewal'а
	state, err := client.ExtendLease(context.Background(), jobID, robot.LeaseRequest{
		RobotID: "robot-1", ExtendSec: 60,
	})
	if err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	if !state.CancelRequested {
		t.Fatal("renewal does not carry cancel_requested")
	}

	// Робот останавливает движок и подтверждает
	if err := client.ReportCancelled(context.Background(), jobID, robot.CancelledRequest{
		RobotID: "robot-1", Error: "cancelled by user",
	}); err != nil {
		t.Fatalf("ReportCancelled: %v", err)
	}

	job, err := env.jobs.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobStatusCancelled {
		t.Errorf("final status = %s, want CANCELLED", job.Status)
	}
}

func TestAPI_Cancel_TerminalIsInvalidState(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addPendingJob(t, "default", 0)
	client := env.client()

	if _, err := client.Claim(context.Background(), robot.ClaimRequest{
		RobotID: "robot-1", Environment: "default", BatchSize: 1, VisibilitySec: 60,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := client.Complete(context.Background(), jobID, robot.CompleteRequest{RobotID: "robot-1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	status, raw := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/jobs/"+jobID.String()+"/cancel", nil)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("cancel of completed job: status = %d, want 422: %s", status, raw)
	}
	if code := errorCode(t, raw); code != string(ErrCodeInvalidState) {
		t.Errorf("error code = %s, want INVALID_STATE", code)
	}
}

// --- Fail and retries ---

func TestAPI_Fail_RetriesThenTerminal(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addPendingJob(t, "default", 0) // MaxRetries: 1
	client := env.client()

	claim := func() {
		t.Helper()
		jobs, err := client.Claim(context.Background(), robot.ClaimRequest{
			RobotID: "robot-1", Environment: "default", BatchSize: 1, VisibilitySec: 60,
		})
		if err != nil || len(jobs) != 1 {
			t.Fatalf("claim: %v (%d jobs)", err, len(jobs))
		}
	}

	// Первый сбой: остаётся попытка, job возвращается в PENDING
	claim()
	if err := client.Fail(context.Background(), jobID, robot.FailRequest{
		RobotID: "robot-1", Error: "flaky network",
	}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	job, _ := env.jobs.GetByID(context.Background(), jobID)
	if job.Status != domain.JobStatusPending || job.RetryCount != 1 {
		t.Fatalf("after first fail: status = %s retry_count = %d, want PENDING/1", job.Status, job.RetryCount)
	}

	// Второй сбой: попытки кончились — терминальный FAILED
	claim()
	if err := client.Fail(context.Background(), jobID, robot.FailRequest{
		RobotID: "robot-1", Error: "flaky network",
	}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	job, _ = env.jobs.GetByID(context.Background(), jobID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("after second fail: status = %s, want FAILED", job.Status)
	}
}

func TestAPI_Fail_FatalSkipsRetries(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addPendingJob(t, "default", 0)
	client := env.client()

	if _, err := client.Claim(context.Background(), robot.ClaimRequest{
		RobotID: "robot-1", Environment: "default", BatchSize: 1, VisibilitySec: 60,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := client.Fail(context.Background(), jobID, robot.FailRequest{
		RobotID: "robot-1", Error: "unknown node type", Fatal: true,
	}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	job, _ := env.jobs.GetByID(context.Background(), jobID)
	if job.Status != domain.JobStatusFailed {
		t.Errorf("status = %s, want FAILED (fatal skips retries)", job.Status)
	}
	if job.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", job.RetryCount)
	}
}

// --- Release ---

func TestAPI_Release_ReturnsJobWithoutRetryCost(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addPendingJob(t, "default", 0)
	client := env.client()

	if _, err := client.Claim(context.Background(), robot.ClaimRequest{
		RobotID: "robot-1", Environment: "default", BatchSize: 1, VisibilitySec: 60,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := client.Release(context.Background(), jobID, robot.ReleaseRequest{RobotID: "robot-1"}); err != nil {
		t.Fatalf("release: %v", err)
	}

	job, _ := env.jobs.GetByID(context.Background(), jobID)
	if job.Status != domain.JobStatusPending {
		t.Errorf("status = %s, want PENDING", job.Status)
	}
	if job.RetryCount != 0 {
		t.Errorf("retry_count = %d, release must not consume retries", job.RetryCount)
	}

	// Job снова доступен другому роботу
	jobs, err := env.client().Claim(context.Background(), robot.ClaimRequest{
		RobotID: "robot-2", Environment: "default", BatchSize: 1, VisibilitySec: 60,
	})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("re-claim: %v (%d jobs)", err, len(jobs))
	}
}

// --- Workflows ---

func TestAPI_Workflows_CRUD(t *testing.T) {
	env := newTestEnv(t)
	base := env.server.URL + "/api/v1/workflows"

	var created WorkflowResponse
	status, raw := doRequest(t, http.MethodPost, base, CreateWorkflowRequest{
		Name:  "etl",
		Graph: validGraph(),
	})
	if status != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", status, raw)
	}
	decodeData(t, raw, &created)
	if created.Environment != domain.EnvironmentDefault {
		t.Errorf("environment = %q, want default", created.Environment)
	}
	if !created.IsActive {
		t.Error("new workflow must be active")
	}

	// Дубликат имени
	status, raw = doRequest(t, http.MethodPost, base, CreateWorkflowRequest{
		Name:  "etl",
		Graph: validGraph(),
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate name: status = %d, want 409: %s", status, raw)
	}

	// Get по имени
	var fetched WorkflowResponse
	status, raw = doRequest(t, http.MethodGet, base+"/etl", nil)
	if status != http.StatusOK {
		t.Fatalf("get by name: status = %d: %s", status, raw)
	}
	decodeData(t, raw, &fetched)
	if fetched.ID != created.ID {
		t.Errorf("get by name returned %s, want %s", fetched.ID, created.ID)
	}

	// Update
	newDesc := "nightly ETL"
	status, raw = doRequest(t, http.MethodPut, base+"/"+created.ID.String(), UpdateWorkflowRequest{
		Description: &newDesc,
	})
	if status != http.StatusOK {
		t.Fatalf("update: status = %d: %s", status, raw)
	}
	decodeData(t, raw, &fetched)
	if fetched.Description != newDesc {
		t.Errorf("description = %q", fetched.Description)
	}

	// Delete и 404 после
	status, _ = doRequest(t, http.MethodDelete, base+"/"+created.ID.String(), nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", status)
	}
	status, _ = doRequest(t, http.MethodGet, base+"/"+created.ID.String(), nil)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d, want 404", status)
	}
}

// --- Schedules ---

func TestAPI_Schedules_CreateComputesNextDue(t *testing.T) {
	env := newTestEnv(t)

	var wf WorkflowResponse
	_, raw := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/workflows", CreateWorkflowRequest{
		Name:  "periodic",
		Graph: validGraph(),
	})
	decodeData(t, raw, &wf)

	var sched ScheduleResponse
	status, raw := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/workflows/"+wf.ID.String()+"/schedules", CreateScheduleRequest{
		Name:        "every-5m",
		IntervalSec: 300,
		Enabled:     true,
	})
	if status != http.StatusCreated {
		t.Fatalf("create schedule: status = %d: %s", status, raw)
	}
	decodeData(t, raw, &sched)

	if sched.NextDueAt == nil {
		t.Fatal("next_due_at not computed at creation")
	}
	want := time.Now().Add(5 * time.Minute)
	if sched.NextDueAt.Before(want.Add(-time.Minute)) || sched.NextDueAt.After(want.Add(time.Minute)) {
		t.Errorf("next_due_at = %v, want ~%v", sched.NextDueAt, want)
	}
	if sched.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC default", sched.Timezone)
	}
}

func TestAPI_Schedules_InvalidCronRejected(t *testing.T) {
	env := newTestEnv(t)

	var wf WorkflowResponse
	_, raw := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/workflows", CreateWorkflowRequest{
		Name:  "periodic",
		Graph: validGraph(),
	})
	decodeData(t, raw, &wf)

	status, _ := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/workflows/"+wf.ID.String()+"/schedules", CreateScheduleRequest{
		CronExpr: "not a cron",
		Enabled:  true,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("invalid cron: status = %d, want 400", status)
	}
}

func TestAPI_Schedules_UnknownWorkflow404(t *testing.T) {
	env := newTestEnv(t)

	status, _ := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/workflows/"+uuid.NewString()+"/schedules", CreateScheduleRequest{
		IntervalSec: 60,
		Enabled:     true,
	})
	if status != http.StatusNotFound {
		t.Fatalf("unknown workflow: status = %d, want 404", status)
	}
}

// --- Robots ---

func TestAPI_Robots_RegisterAndList(t *testing.T) {
	env := newTestEnv(t)

	if err := env.client().Register(context.Background(), robot.RegisterRequest{
		RobotID:     "robot-1",
		Environment: "staging",
		Slots:       4,
		Version:     "1.2.0",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var robots []RobotResponse
	status, raw := doRequest(t, http.MethodGet, env.server.URL+"/api/v1/robots", nil)
	if status != http.StatusOK {
		t.Fatalf("list robots: status = %d: %s", status, raw)
	}
	decodeData(t, raw, &robots)

	if len(robots) != 1 {
		t.Fatalf("listed %d robots, want 1", len(robots))
	}
	r := robots[0]
	if r.ID != "robot-1" || r.Environment != "staging" || r.Slots != 4 {
		t.Errorf("robot = %+v", r)
	}
	if !r.Online {
		t.Error("freshly registered robot must be online")
	}
}

// --- Stats ---

func TestAPI_Stats_CountsByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.addPendingJob(t, "default", 0)
	env.addPendingJob(t, "default", 0)
	jobID := env.addPendingJob(t, "default", 0)
	if _, err := env.jobs.Cancel(context.Background(), jobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var stats QueueStatsResponse
	status, raw := doRequest(t, http.MethodGet, env.server.URL+"/api/v1/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("stats: status = %d: %s", status, raw)
	}
	decodeData(t, raw, &stats)

	if stats.Statuses["PENDING"] != 2 {
		t.Errorf("PENDING = %d, want 2", stats.Statuses["PENDING"])
	}
	if stats.Statuses["CANCELLED"] != 1 {
		t.Errorf("CANCELLED = %d, want 1", stats.Statuses["CANCELLED"])
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
}
