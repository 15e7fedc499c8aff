package nodes

import (
	"context"
	"time"

	"github.com/shaiso/Conveyor/internal/engine"
)

// DelayNode — node типа "delay".
//
// Ожидает указанное количество секунд. Поддерживает отмену через context:
// Stop движка или отзыв lease прерывают ожидание немедленно.
//
// Config:
//   - duration_sec (number): длительность задержки в секундах (default: 1)
type DelayNode struct{}

// NewDelayNode создаёт delay node.
func NewDelayNode() *DelayNode { return &DelayNode{} }

// Type возвращает тип node.
func (n *DelayNode) Type() string { return "delay" }

// Execute выполняет задержку.
func (n *DelayNode) Execute(ctx context.Context, req engine.Request) (engine.Result, error) {
	durationSec := GetConfigFloat(req.Config, "duration_sec", 1)
	if durationSec <= 0 {
		durationSec = 1
	}
	duration := time.Duration(durationSec * float64(time.Second))

	select {
	case <-time.After(duration):
		return engine.Result{
			Success: true,
			Outputs: map[string]any{"delayed_sec": durationSec},
		}, nil
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
}
