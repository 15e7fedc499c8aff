package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State — состояние circuit breaker.
type State string

const (
	// StateClosed — нормальная работа, запросы проходят.
	StateClosed State = "CLOSED"

	// StateOpen — зависимость считается недоступной, запросы отклоняются
	// немедленно без обращения к ней.
	StateOpen State = "OPEN"

	// StateHalfOpen — пробный режим: пропускается ограниченное число
	// запросов, по их исходу breaker закрывается или снова открывается.
	StateHalfOpen State = "HALF_OPEN"
)

// Config — конфигурация breaker.
type Config struct {
	// FailureThreshold — число подряд идущих сбоев для перехода в OPEN.
	// По умолчанию: 5.
	FailureThreshold int

	// SuccessThreshold — число подряд идущих успехов в HALF_OPEN
	// для возврата в CLOSED. По умолчанию: 1.
	SuccessThreshold int

	// OpenTimeout — сколько держать OPEN до пробного HALF_OPEN.
	// По умолчанию: 30s.
	OpenTimeout time.Duration

	// MaxProbes — сколько запросов пропустить в HALF_OPEN.
	// По умолчанию: 1.
	MaxProbes int

	// Logger — логгер. Nil — slog.Default().
	Logger *slog.Logger
}

// Breaker — circuit breaker для одной именованной внешней зависимости.
//
// Где ConnectionManager отвечает на вопрос "есть ли связь с сервисом
// вообще", breaker отвечает на "стоит ли сейчас дёргать конкретную
// зависимость". На каждую зависимость — свой экземпляр: деградация
// одной не должна глушить вызовы другой.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu              sync.Mutex
	state           State
	consecFailures  int
	consecSuccesses int
	probesInFlight  int
	openedAt        time.Time
	lastStateChange time.Time

	// Подменяется в тестах.
	now func() time.Time
}

// New создаёт breaker для зависимости name.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Breaker{
		name:            name,
		cfg:             cfg,
		logger:          cfg.Logger.With("breaker", name),
		state:           StateClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// Allow решает, можно ли выполнить запрос к зависимости.
//
// В OPEN по истечении OpenTimeout breaker сам переходит в HALF_OPEN
// и пропускает до MaxProbes пробных запросов.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.setState(StateHalfOpen)
	}

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probesInFlight < b.cfg.MaxProbes {
			b.probesInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess фиксирует успешный запрос.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecFailures = 0
	b.consecSuccesses++

	if b.state == StateHalfOpen && b.consecSuccesses >= b.cfg.SuccessThreshold {
		b.setState(StateClosed)
	}
}

// RecordFailure фиксирует сбой запроса.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecSuccesses = 0
	b.consecFailures++

	switch b.state {
	case StateClosed:
		if b.consecFailures >= b.cfg.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		// Неудачная проба — сразу обратно в OPEN.
		b.setState(StateOpen)
	}
}

// Do выполняет fn под защитой breaker.
// Если breaker не пропускает запрос, возвращает ErrOpen не вызывая fn.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name возвращает имя зависимости.
func (b *Breaker) Name() string {
	return b.name
}

// setState меняет состояние. Вызывается под mu.
func (b *Breaker) setState(next State) {
	if b.state == next {
		return
	}

	b.logger.Info("circuit breaker state change",
		"from", b.state,
		"to", next,
		"consecutive_failures", b.consecFailures,
	)

	b.state = next
	b.lastStateChange = b.now()

	switch next {
	case StateOpen:
		b.openedAt = b.now()
		b.probesInFlight = 0
		b.consecSuccesses = 0
	case StateHalfOpen:
		b.probesInFlight = 0
		b.consecFailures = 0
		b.consecSuccesses = 0
	case StateClosed:
		b.probesInFlight = 0
		b.consecFailures = 0
	}
}
