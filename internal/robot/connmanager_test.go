package robot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/breaker"
)

// flakyHealth — healthz, которым можно управлять из теста.
type flakyHealth struct {
	mu   sync.Mutex
	down bool
}

func (f *flakyHealth) set(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyHealth) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func newTestConnManager(t *testing.T, serverURL string, cfg ConnConfig) *ConnManager {
	t.Helper()
	// Высокий порог, чтобы breaker не вмешивался в сценарии связи:
	// его собственное поведение покрыто тестами клиента
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1000})
	client := NewClient(serverURL, breakers)
	return NewConnManager(client, testLogger(), cfg)
}

// --- Connect ---

func TestConnManager_Connect_Immediate(t *testing.T) {
	health := &flakyHealth{}
	server := httptest.NewServer(http.HandlerFunc(health.handler))
	defer server.Close()

	m := newTestConnManager(t, server.URL, ConnConfig{})
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Online() {
		t.Error("expected online after Connect")
	}
}

func TestConnManager_Connect_RetriesUntilUp(t *testing.T) {
	health := &flakyHealth{down: true}
	server := httptest.NewServer(http.HandlerFunc(health.handler))
	defer server.Close()

	m := newTestConnManager(t, server.URL, ConnConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	})
	defer m.Close()

	// Сервис оживает через пару неудачных проб
	go func() {
		time.Sleep(40 * time.Millisecond)
		health.set(false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Online() {
		t.Error("expected online after recovery")
	}
}

func TestConnManager_Connect_ContextCancelled(t *testing.T) {
	health := &flakyHealth{down: true}
	server := httptest.NewServer(http.HandlerFunc(health.handler))
	defer server.Close()

	m := newTestConnManager(t, server.URL, ConnConfig{
		InitialBackoff: 10 * time.Millisecond,
	})
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := m.Connect(ctx); err == nil {
		t.Fatal("expected error when context cancelled before first contact")
	}
	if m.Online() {
		t.Error("should not be online")
	}
}

// --- Monitoring ---

func TestConnManager_DetectsLossAndRecovery(t *testing.T) {
	health := &flakyHealth{}
	server := httptest.NewServer(http.HandlerFunc(health.handler))
	defer server.Close()

	m := newTestConnManager(t, server.URL, ConnConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		ProbeInterval:  10 * time.Millisecond,
	})
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Роняем сервис и ждём, пока монитор заметит
	health.set(true)
	waitFor(t, time.Second, func() bool { return !m.Online() })

	// Поднимаем обратно
	health.set(false)
	waitFor(t, time.Second, func() bool { return m.Online() })

	// Восстановление должно прозвенеть в ReconnectNotify
	select {
	case <-m.ReconnectNotify():
	case <-time.After(time.Second):
		t.Fatal("expected reconnect notification")
	}
}

func TestConnManager_CloseStopsMonitor(t *testing.T) {
	health := &flakyHealth{}
	server := httptest.NewServer(http.HandlerFunc(health.handler))
	defer server.Close()

	m := newTestConnManager(t, server.URL, ConnConfig{
		ProbeInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Close должен дождаться монитора и вернуться
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

// waitFor опрашивает условие до истечения таймаута.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
