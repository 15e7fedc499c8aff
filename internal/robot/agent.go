package robot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/offline"
)

// Default configuration values.
const (
	defaultSlots          = 4
	defaultPollInterval   = 10 * time.Second
	defaultReportInterval = 10 * time.Second
	defaultVisibility     = 60 * time.Second
	defaultPrefetch       = 5
)

// Agent — робот: претендует на jobs, выполняет их графы и отчитывается.
//
// Агент:
//   - Регистрируется на сервисе и держит heartbeat
//   - Забирает jobs атомарным claim'ом (MQ-подсказка + polling fallback),
//     не больше свободных слотов за раз
//   - Кэширует каждый job в offline-хранилище до запуска
//   - Выполняет граф одним движком на job, с checkpoint'ами в Badger
//   - Продлевает lease каждого выполняемого job (интервал = visibility/3);
//     renewal заодно доставляет сигнал отмены
//   - Доставляет терминальные отчёты at-least-once через offline-очередь
//   - На старте возобновляет кэшированные jobs с последнего checkpoint'а
//     или молча бросает их при потере владения
type Agent struct {
	client   *Client
	conn     *ConnManager
	store    *offline.Store
	registry engine.Registry

	// MQ (опционально: nil — только polling)
	mqConn   *mq.Connection
	consumer *mq.Consumer

	// Identity
	robotID     string
	environment string
	version     string

	// Configuration
	slots          int
	pollInterval   time.Duration
	reportInterval time.Duration
	visibility     time.Duration

	// Выполняемые jobs
	runningMu sync.Mutex
	running   map[uuid.UUID]*jobRun

	// Coalesced-триггеры внепланового claim и доставки отчётов
	claimCh  chan struct{}
	reportCh chan struct{}

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Agent.
type Config struct {
	// Client — HTTP-клиент Conveyor API (обязательно).
	Client *Client

	// Conn — менеджер соединения (обязательно).
	Conn *ConnManager

	// Store — offline-хранилище (обязательно).
	Store *offline.Store

	// Registry — реестр типов nodes (обязательно).
	Registry engine.Registry

	// MQConn — соединение с RabbitMQ для подсказок (опционально).
	MQConn *mq.Connection

	// RobotID — идентификатор робота (обязательно).
	RobotID string

	// Environment — обслуживаемая среда (default: "default").
	Environment string

	// Version — версия бинаря (для регистрации).
	Version string

	// Slots — максимум одновременных jobs (default: 4).
	Slots int

	// PollInterval — интервал polling fallback (default: 10s).
	PollInterval time.Duration

	// ReportInterval — интервал доставки отложенных отчётов (default: 10s).
	ReportInterval time.Duration

	// Visibility — lease, запрашиваемый при claim (default: 60s).
	// Renewal происходит каждые Visibility/3.
	Visibility time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт Agent.
func New(cfg Config) *Agent {
	if cfg.Environment == "" {
		cfg.Environment = domain.EnvironmentDefault
	}
	if cfg.Slots <= 0 {
		cfg.Slots = defaultSlots
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = defaultReportInterval
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = defaultVisibility
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		client:         cfg.Client,
		conn:           cfg.Conn,
		store:          cfg.Store,
		registry:       cfg.Registry,
		mqConn:         cfg.MQConn,
		robotID:        cfg.RobotID,
		environment:    cfg.Environment,
		version:        cfg.Version,
		slots:          cfg.Slots,
		pollInterval:   cfg.PollInterval,
		reportInterval: cfg.ReportInterval,
		visibility:     cfg.Visibility,
		running:        make(map[uuid.UUID]*jobRun),
		claimCh:        make(chan struct{}, 1),
		reportCh:       make(chan struct{}, 1),
		logger:         logger,
	}
}

// Start подключается к сервису и запускает рабочие циклы.
//
// Блокируется до первого успешного контакта с сервисом. Затем:
// регистрация, восстановление кэшированных jobs, consumer подсказок,
// polling-цикл и цикл доставки отчётов.
func (a *Agent) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	a.logger.Info("starting robot",
		"robot_id", a.robotID,
		"environment", a.environment,
		"slots", a.slots,
		"visibility", a.visibility,
	)

	if err := a.conn.Connect(ctx); err != nil {
		return err
	}

	if err := a.register(ctx); err != nil {
		// Не фатально: сервис уже отвечал на health, повторим в claim-цикле
		a.logger.Warn("initial registration failed", "error", err)
	}

	a.recoverJobs(ctx)

	if a.mqConn != nil {
		a.consumer = mq.NewConsumer(a.mqConn, a.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueJobsAvailable),
			Handler:  a.handleJobAvailable,
			Prefetch: defaultPrefetch,
		})

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("hint consumer error", "error", err)
			}
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.claimLoop(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reportLoop(ctx)
	}()

	a.logger.Info("robot started")
	return nil
}

// Stop останавливает Agent.
//
// Выполняемым jobs предлагается остановка (Stop движка); их lease и
// checkpoint сохраняются, отчёт не отправляется — после рестарта робот
// возобновит их с последнего checkpoint'а.
func (a *Agent) Stop() {
	a.stoppedMu.Lock()
	a.stopped = true
	a.stoppedMu.Unlock()

	a.logger.Info("stopping robot...")

	// Останавливаем выполняемые движки до отмены контекста,
	// чтобы исход читался как остановка, а не сбой
	a.runningMu.Lock()
	for _, run := range a.running {
		run.engine.Stop()
	}
	a.runningMu.Unlock()

	if a.cancelFunc != nil {
		a.cancelFunc()
	}

	if a.consumer != nil {
		a.consumer.Stop()
	}

	a.wg.Wait()
	a.conn.Close()

	a.logger.Info("robot stopped")
}

// IsStopped проверяет, остановлен ли Agent.
func (a *Agent) IsStopped() bool {
	a.stoppedMu.RLock()
	defer a.stoppedMu.RUnlock()
	return a.stopped
}

// register регистрирует робота на сервисе.
func (a *Agent) register(ctx context.Context) error {
	return a.client.Register(ctx, RegisterRequest{
		RobotID:     a.robotID,
		Environment: a.environment,
		Slots:       a.slots,
		Version:     a.version,
	})
}

// claimLoop — цикл получения jobs: polling по таймеру, плюс внеплановые
// попытки по MQ-подсказке и при восстановлении связи.
func (a *Agent) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	// Первый claim сразу при старте
	a.claim(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.claim(ctx)
		case <-a.claimCh:
			a.claim(ctx)
		case <-a.conn.ReconnectNotify():
			// После простоя сервис мог накопить jobs, а у нас могли
			// накопиться недоставленные отчёты; заодно восстанавливаем
			// регистрацию
			if err := a.register(ctx); err != nil {
				a.logger.Debug("re-registration failed", "error", err)
			}
			a.wakeReports()
			a.claim(ctx)
		}
	}
}

// claim забирает jobs в пределах свободных слотов и запускает их.
func (a *Agent) claim(ctx context.Context) {
	if a.IsStopped() || !a.conn.Online() {
		return
	}

	free := a.freeSlots()
	if free <= 0 {
		return
	}

	jobs, err := a.client.Claim(ctx, ClaimRequest{
		RobotID:       a.robotID,
		Environment:   a.environment,
		BatchSize:     free,
		VisibilitySec: int(a.visibility.Seconds()),
	})
	if err != nil {
		a.logger.Warn("claim failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	a.logger.Info("claimed jobs", "count", len(jobs))

	for i := range jobs {
		a.startJob(ctx, &jobs[i])
	}
}

// freeSlots возвращает число свободных слотов выполнения.
func (a *Agent) freeSlots() int {
	a.runningMu.Lock()
	defer a.runningMu.Unlock()
	return a.slots - len(a.running)
}

// wakeClaim взводит внеплановый claim (coalesced: лишние сигналы
// схлопываются).
func (a *Agent) wakeClaim() {
	select {
	case a.claimCh <- struct{}{}:
	default:
	}
}

// wakeReports взводит внеплановую доставку отложенных отчётов.
func (a *Agent) wakeReports() {
	select {
	case a.reportCh <- struct{}{}:
	default:
	}
}

// RunningJobs возвращает IDs выполняемых jobs (для диагностики).
func (a *Agent) RunningJobs() []uuid.UUID {
	a.runningMu.Lock()
	defer a.runningMu.Unlock()

	ids := make([]uuid.UUID, 0, len(a.running))
	for id := range a.running {
		ids = append(ids, id)
	}
	return ids
}
