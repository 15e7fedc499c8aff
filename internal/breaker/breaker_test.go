package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	cfg.Logger = testLogger()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New("api", cfg)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %s, want CLOSED", got)
	}

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %s, want OPEN", got)
	}
	if b.Allow() {
		t.Error("open breaker must not allow requests")
	}
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if got := b.State(); got != StateClosed {
		t.Errorf("state = %s, want CLOSED (streak interrupted by success)", got)
	}
}

func TestBreaker_HalfOpenProbeAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: 30 * time.Second})

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("open breaker allowed a request before timeout")
	}

	clock.Advance(31 * time.Second)

	// Один пробный запрос проходит, остальные ждут его исхода
	if !b.Allow() {
		t.Fatal("breaker must allow a probe after OpenTimeout")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", got)
	}
	if b.Allow() {
		t.Error("second request allowed while probe is in flight")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: time.Second})

	b.RecordFailure()
	clock.Advance(2 * time.Second)

	if !b.Allow() {
		t.Fatal("probe not allowed")
	}
	b.RecordSuccess()

	if got := b.State(); got != StateClosed {
		t.Fatalf("state after successful probe = %s, want CLOSED", got)
	}
	if !b.Allow() {
		t.Error("closed breaker must allow requests")
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: time.Second})

	b.RecordFailure()
	clock.Advance(2 * time.Second)

	if !b.Allow() {
		t.Fatal("probe not allowed")
	}
	b.RecordFailure()

	if got := b.State(); got != StateOpen {
		t.Fatalf("state after failed probe = %s, want OPEN", got)
	}

	// Новый цикл: снова таймаут, снова проба
	clock.Advance(2 * time.Second)
	if !b.Allow() {
		t.Error("breaker must allow a new probe after the next timeout")
	}
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})

	wantErr := errors.New("connection refused")
	err := b.Do(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do error = %v, want %v", err, wantErr)
	}

	// Сбой открыл breaker: fn больше не вызывается
	called := false
	err = b.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Do error = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn called while breaker is open")
	}
}

func TestRegistry_SharedInstancePerName(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1, Logger: testLogger()})

	first := reg.Get("db")
	second := reg.Get("db")
	if first != second {
		t.Fatal("Get must return the same breaker for the same name")
	}

	other := reg.Get("rabbitmq")
	if other == first {
		t.Fatal("different dependencies must get different breakers")
	}

	// Состояние зависимости общее для всех держателей
	first.RecordFailure()
	if got := second.State(); got != StateOpen {
		t.Errorf("state via second handle = %s, want OPEN", got)
	}

	states := reg.States()
	if states["db"] != StateOpen || states["rabbitmq"] != StateClosed {
		t.Errorf("states = %v", states)
	}
}
