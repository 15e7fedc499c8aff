package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/repo"
)

// Default configuration values.
const (
	defaultDispatchInterval = time.Second
	defaultSweepInterval    = 5 * time.Second
	defaultBatchSize        = 100
)

// JobStore — операции очереди, нужные dispatcher'у.
// Реализуется repo.JobRepo; в тестах — in-memory хранилищем.
type JobStore interface {
	MarkQueued(ctx context.Context, limit int) ([]repo.QueuedJob, error)
	MarkDeadlineExceeded(ctx context.Context) (int, error)
	RequeueTimedOut(ctx context.Context) (int, error)
}

// Announcer — публикация подсказок о доступных jobs.
// Реализуется mq.Publisher.
type Announcer interface {
	PublishJobAvailable(ctx context.Context, jobID uuid.UUID, environment string, priority int) error
}

// Dispatcher — фоновые циклы очереди на стороне сервиса.
//
// Два независимых цикла:
//   - dispatch: продвигает PENDING jobs в QUEUED и анонсирует их
//     в RabbitMQ, чтобы роботы просыпались без ожидания poll'а
//   - sweep: переводит просроченные по дедлайну RUNNING jobs в TIMEOUT
//     и возвращает в очередь jobs с истёкшим lease
//
// Анонс — только подсказка. Владение jobs определяется исключительно
// атомарным claim'ом в БД, поэтому потерянный или задвоенный анонс
// ни на что не влияет.
type Dispatcher struct {
	jobs      JobStore
	announcer Announcer

	dispatchInterval time.Duration
	sweepInterval    time.Duration
	batchSize        int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Dispatcher.
type Config struct {
	Jobs JobStore

	// Announcer — опциональный publisher подсказок jobs.available.
	// nil — цикл dispatch выключен, роботы работают polling'ом;
	// sweep работает всегда.
	Announcer Announcer

	// DispatchInterval — период цикла анонса (default: 1s).
	DispatchInterval time.Duration

	// SweepInterval — период цикла уборки (default: 5s).
	SweepInterval time.Duration

	// BatchSize — количество jobs за одно продвижение (default: 100).
	BatchSize int

	Logger *slog.Logger
}

// New создаёт новый Dispatcher.
func New(cfg Config) *Dispatcher {
	dispatchInterval := cfg.DispatchInterval
	if dispatchInterval <= 0 {
		dispatchInterval = defaultDispatchInterval
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		jobs:             cfg.Jobs,
		announcer:        cfg.Announcer,
		dispatchInterval: dispatchInterval,
		sweepInterval:    sweepInterval,
		batchSize:        batchSize,
		logger:           logger,
	}
}

// Start запускает циклы dispatcher'а.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	d.logger.Info("starting dispatcher",
		"dispatch_interval", d.dispatchInterval,
		"sweep_interval", d.sweepInterval,
		"announce", d.announcer != nil,
	)

	if d.announcer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.dispatchLoop(ctx)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sweepLoop(ctx)
	}()

	d.logger.Info("dispatcher started")
	return nil
}

// Stop останавливает dispatcher и ждёт завершения циклов.
func (d *Dispatcher) Stop() {
	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	d.logger.Info("stopping dispatcher...")

	if d.cancelFunc != nil {
		d.cancelFunc()
	}

	d.wg.Wait()

	d.logger.Info("dispatcher stopped")
}

// IsStopped проверяет, остановлен ли dispatcher.
func (d *Dispatcher) IsStopped() bool {
	d.stoppedMu.RLock()
	defer d.stoppedMu.RUnlock()
	return d.stopped
}

// dispatchLoop — цикл анонса новых jobs.
func (d *Dispatcher) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(d.dispatchInterval)
	defer ticker.Stop()

	// Первый проход сразу: анонсируем jobs, накопившиеся пока сервис
	// был выключен
	d.dispatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

// dispatch продвигает пачку PENDING jobs в QUEUED и анонсирует их.
func (d *Dispatcher) dispatch(ctx context.Context) {
	queued, err := d.jobs.MarkQueued(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to mark jobs queued", "error", err)
		return
	}

	if len(queued) == 0 {
		return
	}

	d.logger.Debug("announcing queued jobs", "count", len(queued))

	for _, q := range queued {
		if err := d.announcer.PublishJobAvailable(ctx, q.ID, q.Environment, q.Priority); err != nil {
			// Job уже QUEUED и остаётся claimable: роботы найдут его
			// очередным poll'ом
			d.logger.Warn("failed to announce job",
				"job_id", q.ID,
				"error", err,
			)
		}
	}
}

// sweepLoop — цикл уборки зависших jobs.
func (d *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	d.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep выполняет один проход уборки.
//
// Порядок важен: сначала дедлайны, потом lease. Иначе RUNNING job с
// пройденным дедлайном и истёкшим lease вернулся бы в PENDING вместо
// терминального TIMEOUT.
func (d *Dispatcher) sweep(ctx context.Context) {
	timedOut, err := d.jobs.MarkDeadlineExceeded(ctx)
	if err != nil {
		d.logger.Error("failed to mark deadline exceeded", "error", err)
	} else if timedOut > 0 {
		d.logger.Info("jobs timed out by deadline", "count", timedOut)
	}

	requeued, err := d.jobs.RequeueTimedOut(ctx)
	if err != nil {
		d.logger.Error("failed to requeue timed out jobs", "error", err)
	} else if requeued > 0 {
		d.logger.Info("jobs requeued after lease expiry", "count", requeued)
	}
}
