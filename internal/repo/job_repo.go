package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// jobColumns — единый список колонок таблицы jobs.
// Порядок обязан совпадать со scanJob / scanJobFromRows.
const jobColumns = `id, workflow_id, workflow_name, graph, input, status, priority, environment,
	       robot_id, visible_after, deadline, retry_count, max_retries, result,
	       error_message, cancel_requested, created_at, started_at, completed_at`

// claimBatchSQL — атомарный claim пачки jobs.
//
// Ровно один statement: выборка кандидатов с FOR UPDATE SKIP LOCKED внутри
// подзапроса и захват в том же UPDATE. Конкурирующие роботы не блокируют
// друг друга и никогда не получают один и тот же job: заблокированные строки
// пропускаются, а переход в RUNNING и установка владельца происходят до
// снятия блокировки. Пары SELECT-затем-UPDATE здесь недопустимы.
const claimBatchSQL = `
	UPDATE jobs
	SET status = 'RUNNING',
	    robot_id = $1,
	    visible_after = now() + make_interval(secs => $2),
	    started_at = COALESCE(started_at, now())
	WHERE id IN (
	    SELECT id FROM jobs
	    WHERE status IN ('PENDING', 'QUEUED')
	      AND visible_after <= now()
	      AND (environment = $3 OR environment = 'default' OR $3 = 'default')
	    ORDER BY priority DESC, created_at ASC
	    LIMIT $4
	    FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + jobColumns

// JobRepo — репозиторий очереди jobs.
//
// Единственный источник истины о владении: колонки robot_id и visible_after.
// Все ownership-операции проверяют владельца в том же statement, который
// меняет строку.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Create ставит новый job в очередь.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	graphJSON, err := json.Marshal(job.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	inputJSON, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}

	query := `
		INSERT INTO jobs (id, workflow_id, workflow_name, graph, input, status, priority,
		                  environment, visible_after, deadline, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		nullUUID(job.WorkflowID),
		nullString(job.WorkflowName),
		graphJSON,
		inputJSON,
		job.Status,
		job.Priority,
		job.Environment,
		job.VisibleAfter,
		job.Deadline,
		job.RetryCount,
		job.MaxRetries,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return r.scanJob(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список jobs с фильтрацией.
func (r *JobRepo) List(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE ($1::text IS NULL OR status = $1::job_status)
		  AND ($2::text IS NULL OR environment = $2)
		  AND ($3::uuid IS NULL OR workflow_id = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		nullString(filter.Environment),
		nullUUID(filter.WorkflowID),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimBatch атомарно захватывает до batchSize jobs для робота.
//
// Возвращает захваченные jobs уже в статусе RUNNING с установленным lease
// (visible_after = now + visibility). Пустой результат — не ошибка: очередь
// пуста или всё подходящее заблокировано конкурентами.
func (r *JobRepo) ClaimBatch(ctx context.Context, environment, robotID string, batchSize int, visibility time.Duration) ([]domain.Job, error) {
	if batchSize <= 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, claimBatchSQL,
		robotID,
		visibility.Seconds(),
		environment,
		batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// LeaseState — результат продления lease.
type LeaseState struct {
	// Extended — true, если lease продлён (робот всё ещё владелец).
	Extended bool

	// CancelRequested — запрошена ли кооперативная отмена job.
	// Renewal — канал доставки этого сигнала роботу.
	CancelRequested bool

	// VisibleAfter — новый срок lease.
	VisibleAfter time.Time
}

// ExtendLease продлевает lease job от имени робота-владельца.
//
// Если робот больше не владелец (lease истёк и job переотдан или завершён),
// возвращает Extended=false без ошибки: это штатный сигнал для робота
// молча прекратить выполнение.
func (r *JobRepo) ExtendLease(ctx context.Context, jobID uuid.UUID, robotID string, extra time.Duration) (LeaseState, error) {
	query := `
		UPDATE jobs
		SET visible_after = now() + make_interval(secs => $3)
		WHERE id = $1 AND robot_id = $2 AND status = 'RUNNING'
		RETURNING visible_after, cancel_requested
	`
	var state LeaseState
	err := r.pool.QueryRow(ctx, query, jobID, robotID, extra.Seconds()).
		Scan(&state.VisibleAfter, &state.CancelRequested)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeaseState{Extended: false}, nil
	}
	if err != nil {
		return LeaseState{}, fmt.Errorf("extend lease: %w", err)
	}
	state.Extended = true
	return state, nil
}

// Complete переводит job в COMPLETED с результатом.
// Возвращает ErrNotOwner, если робот не владеет job: статус не меняется.
func (r *JobRepo) Complete(ctx context.Context, jobID uuid.UUID, robotID string, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = 'COMPLETED', result = $3, completed_at = now()
		WHERE id = $1 AND robot_id = $2 AND status = 'RUNNING'
	`
	tag, err := r.pool.Exec(ctx, query, jobID, robotID, resultJSON)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwner
	}
	return nil
}

// Fail фиксирует сбой выполнения job.
//
// Если остались повторы — возврат в PENDING с retry_count+1 и немедленной
// видимостью; иначе терминальный FAILED. fatal=true пропускает retry
// независимо от счётчика: ошибку конфигурации повтор не вылечит.
// Возвращает итоговый статус и ErrNotOwner, если робот не владеет job.
func (r *JobRepo) Fail(ctx context.Context, jobID uuid.UUID, robotID, errMsg string, fatal bool) (domain.JobStatus, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN NOT $4 AND retry_count < max_retries THEN 'PENDING' ELSE 'FAILED' END::job_status,
		    retry_count = CASE WHEN NOT $4 AND retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
		    robot_id = CASE WHEN NOT $4 AND retry_count < max_retries THEN NULL ELSE robot_id END,
		    visible_after = now(),
		    error_message = $3,
		    completed_at = CASE WHEN NOT $4 AND retry_count < max_retries THEN NULL ELSE now() END
		WHERE id = $1 AND robot_id = $2 AND status = 'RUNNING'
		RETURNING status
	`
	var status domain.JobStatus
	err := r.pool.QueryRow(ctx, query, jobID, robotID, errMsg, fatal).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotOwner
	}
	if err != nil {
		return "", fmt.Errorf("fail job: %w", err)
	}
	return status, nil
}

// Release добровольно возвращает job в очередь без учёта попытки.
// Используется при graceful shutdown робота. Возвращает ErrNotOwner,
// если робот не владеет job.
func (r *JobRepo) Release(ctx context.Context, jobID uuid.UUID, robotID string) error {
	query := `
		UPDATE jobs
		SET status = 'PENDING', robot_id = NULL, visible_after = now()
		WHERE id = $1 AND robot_id = $2 AND status = 'RUNNING'
	`
	tag, err := r.pool.Exec(ctx, query, jobID, robotID)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwner
	}
	return nil
}

// ConfirmCancel подтверждает кооперативную отмену: RUNNING → CANCELLED.
// Вызывается роботом после остановки движка по cancel_requested.
func (r *JobRepo) ConfirmCancel(ctx context.Context, jobID uuid.UUID, robotID string) error {
	query := `
		UPDATE jobs
		SET status = 'CANCELLED', completed_at = now()
		WHERE id = $1 AND robot_id = $2 AND status = 'RUNNING'
	`
	tag, err := r.pool.Exec(ctx, query, jobID, robotID)
	if err != nil {
		return fmt.Errorf("confirm cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwner
	}
	return nil
}

// Cancel отменяет job по запросу пользователя.
//
// PENDING/QUEUED отменяются немедленно. Для RUNNING выставляется
// cancel_requested: владеющий робот увидит флаг при следующем renewal
// и остановит движок. Возвращает статус после операции.
func (r *JobRepo) Cancel(ctx context.Context, jobID uuid.UUID) (domain.JobStatus, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN status IN ('PENDING', 'QUEUED') THEN 'CANCELLED'::job_status ELSE status END,
		    cancel_requested = CASE WHEN status = 'RUNNING' THEN TRUE ELSE cancel_requested END,
		    completed_at = CASE WHEN status IN ('PENDING', 'QUEUED') THEN now() ELSE completed_at END
		WHERE id = $1 AND status IN ('PENDING', 'QUEUED', 'RUNNING')
		RETURNING status
	`
	var status domain.JobStatus
	err := r.pool.QueryRow(ctx, query, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		// Либо job нет, либо он уже в терминальном статусе.
		if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
			return "", getErr
		}
		return "", ErrInvalidState
	}
	if err != nil {
		return "", fmt.Errorf("cancel job: %w", err)
	}
	return status, nil
}

// RequeueTimedOut возвращает в очередь RUNNING jobs с истёкшим lease.
//
// Истечение lease — не сбой: retry_count не увеличивается. Если на job
// висел запрос отмены, он сразу переводится в CANCELLED вместо PENDING.
// Возвращает число затронутых jobs.
func (r *JobRepo) RequeueTimedOut(ctx context.Context) (int, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN cancel_requested THEN 'CANCELLED' ELSE 'PENDING' END::job_status,
		    robot_id = NULL,
		    visible_after = now(),
		    completed_at = CASE WHEN cancel_requested THEN now() ELSE completed_at END
		WHERE status = 'RUNNING' AND visible_after < now()
	`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("requeue timed out: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkDeadlineExceeded переводит RUNNING jobs с пройденным абсолютным
// дедлайном в терминальный TIMEOUT. Запускается sweeper'ом до requeue,
// чтобы просроченный job не вернулся в очередь.
func (r *JobRepo) MarkDeadlineExceeded(ctx context.Context) (int, error) {
	query := `
		UPDATE jobs
		SET status = 'TIMEOUT',
		    error_message = 'execution deadline exceeded',
		    completed_at = now()
		WHERE status = 'RUNNING' AND deadline IS NOT NULL AND deadline < now()
	`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("mark deadline exceeded: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// QueuedJob — минимальная проекция job для анонса роботам.
type QueuedJob struct {
	ID          uuid.UUID
	Environment string
	Priority    int
}

// MarkQueued продвигает пачку PENDING jobs в QUEUED для анонса в MQ.
//
// SKIP LOCKED: несколько инстансов сервиса не анонсируют один job дважды.
// Продвижение — оптимизация доставки; claim берёт и PENDING, и QUEUED.
func (r *JobRepo) MarkQueued(ctx context.Context, limit int) ([]QueuedJob, error) {
	query := `
		UPDATE jobs
		SET status = 'QUEUED'
		WHERE id IN (
		    SELECT id FROM jobs
		    WHERE status = 'PENDING' AND visible_after <= now()
		    ORDER BY priority DESC, created_at ASC
		    LIMIT $1
		    FOR UPDATE SKIP LOCKED
		)
		RETURNING id, environment, priority
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("mark queued: %w", err)
	}
	defer rows.Close()

	var queued []QueuedJob
	for rows.Next() {
		var q QueuedJob
		if err := rows.Scan(&q.ID, &q.Environment, &q.Priority); err != nil {
			return nil, fmt.Errorf("scan queued job: %w", err)
		}
		queued = append(queued, q)
	}
	return queued, rows.Err()
}

// CountByStatus возвращает количество jobs в каждом статусе.
func (r *JobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// --- Helpers ---

// JobFilter — параметры фильтрации jobs.
type JobFilter struct {
	Status      domain.JobStatus
	Environment string
	WorkflowID  *uuid.UUID
	Limit       int
	Offset      int
}

// scanJob сканирует одну строку в Job.
func (r *JobRepo) scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var graphJSON, inputJSON, resultJSON []byte
	var workflowName, robotID, errorMessage *string

	err := row.Scan(
		&job.ID,
		&job.WorkflowID,
		&workflowName,
		&graphJSON,
		&inputJSON,
		&job.Status,
		&job.Priority,
		&job.Environment,
		&robotID,
		&job.VisibleAfter,
		&job.Deadline,
		&job.RetryCount,
		&job.MaxRetries,
		&resultJSON,
		&errorMessage,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := unmarshalJobJSON(&job, graphJSON, inputJSON, resultJSON); err != nil {
		return nil, err
	}
	if workflowName != nil {
		job.WorkflowName = *workflowName
	}
	if robotID != nil {
		job.RobotID = *robotID
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	return &job, nil
}

// scanJobFromRows сканирует строку из rows в Job.
func (r *JobRepo) scanJobFromRows(rows pgx.Rows) (*domain.Job, error) {
	var job domain.Job
	var graphJSON, inputJSON, resultJSON []byte
	var workflowName, robotID, errorMessage *string

	err := rows.Scan(
		&job.ID,
		&job.WorkflowID,
		&workflowName,
		&graphJSON,
		&inputJSON,
		&job.Status,
		&job.Priority,
		&job.Environment,
		&robotID,
		&job.VisibleAfter,
		&job.Deadline,
		&job.RetryCount,
		&job.MaxRetries,
		&resultJSON,
		&errorMessage,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := unmarshalJobJSON(&job, graphJSON, inputJSON, resultJSON); err != nil {
		return nil, err
	}
	if workflowName != nil {
		job.WorkflowName = *workflowName
	}
	if robotID != nil {
		job.RobotID = *robotID
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	return &job, nil
}

// unmarshalJobJSON распаковывает JSONB-поля job.
func unmarshalJobJSON(job *domain.Job, graphJSON, inputJSON, resultJSON []byte) error {
	if graphJSON != nil {
		if err := json.Unmarshal(graphJSON, &job.Graph); err != nil {
			return fmt.Errorf("unmarshal graph: %w", err)
		}
	}
	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &job.Input); err != nil {
			return fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
