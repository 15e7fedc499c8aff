package robot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Параметры ConnManager по умолчанию.
const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 60 * time.Second
	defaultProbeInterval  = 15 * time.Second
)

// ConnManager — владелец логической связи робота с Conveyor API.
//
// Единственный источник истины о доступности сервиса: claim-цикл,
// доставка отчётов и восстановление сверяются с Online(). Пока связи
// нет, менеджер пробует health-пробу с экспоненциальной задержкой
// (initial → x2 → max); когда связь есть — проверяет её периодически.
// Восстановление связи рассылается через ReconnectNotify.
type ConnManager struct {
	client *Client
	logger *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	probeInterval  time.Duration

	mu     sync.RWMutex
	online bool
	closed bool

	reconnectCh chan struct{}
	closedCh    chan struct{}
	wg          sync.WaitGroup
}

// ConnConfig — конфигурация ConnManager.
type ConnConfig struct {
	// InitialBackoff — первая задержка между попытками (default: 1s).
	InitialBackoff time.Duration

	// MaxBackoff — потолок задержки (default: 60s).
	MaxBackoff time.Duration

	// ProbeInterval — период проверки живого соединения (default: 15s).
	ProbeInterval time.Duration
}

// NewConnManager создаёт менеджер соединения.
func NewConnManager(client *Client, logger *slog.Logger, cfg ConnConfig) *ConnManager {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ConnManager{
		client:         client,
		logger:         logger,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		probeInterval:  cfg.ProbeInterval,
		reconnectCh:    make(chan struct{}, 1),
		closedCh:       make(chan struct{}),
	}
}

// Connect блокируется до первого успешного контакта с сервисом
// (или отмены контекста), затем запускает фоновый мониторинг.
func (m *ConnManager) Connect(ctx context.Context) error {
	delay := m.initialBackoff

	for {
		if err := m.client.Health(ctx); err == nil {
			m.setOnline(true)
			m.logger.Info("connected to conveyor service")
			break
		} else {
			m.logger.Warn("service unreachable, retrying", "delay", delay, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closedCh:
			return context.Canceled
		case <-time.After(delay):
		}

		delay = min(delay*2, m.maxBackoff)
	}

	m.wg.Add(1)
	go m.monitor(ctx)

	return nil
}

// monitor следит за связью: живую проверяет периодически,
// потерянную пробует восстановить с экспоненциальной задержкой.
func (m *ConnManager) monitor(ctx context.Context) {
	defer m.wg.Done()

	delay := m.initialBackoff

	for {
		var wait time.Duration
		if m.Online() {
			wait = m.probeInterval
		} else {
			wait = delay
		}

		select {
		case <-ctx.Done():
			return
		case <-m.closedCh:
			return
		case <-time.After(wait):
		}

		err := m.client.Health(ctx)
		switch {
		case err == nil && !m.Online():
			m.setOnline(true)
			delay = m.initialBackoff
			m.logger.Info("reconnected to conveyor service")
			m.notifyReconnect()
		case err == nil:
			delay = m.initialBackoff
		case m.Online():
			m.setOnline(false)
			m.logger.Warn("lost connection to conveyor service", "error", err)
		default:
			m.logger.Debug("service still unreachable", "delay", delay, "error", err)
			delay = min(delay*2, m.maxBackoff)
		}
	}
}

// Online возвращает true, если сервис доступен.
func (m *ConnManager) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// ReconnectNotify возвращает канал уведомлений о восстановлении связи.
func (m *ConnManager) ReconnectNotify() <-chan struct{} {
	return m.reconnectCh
}

// Close останавливает мониторинг.
func (m *ConnManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.closedCh)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *ConnManager) setOnline(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
}

func (m *ConnManager) notifyReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}
