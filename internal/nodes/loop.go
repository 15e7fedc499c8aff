package nodes

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/engine"
)

// ForLoopNode — node типа "forloop": числовой счётчик с накоплением.
//
// Состояние итерации хранится в собственных outputs node (Prior),
// поэтому node и все nodes тела цикла должны объявлять в графе
// capability "control-flow" — иначе повторный вход будет отсечён.
// Тело возвращается в node обратным exec-ребром.
//
// Config:
//   - start: начальное значение (по умолчанию 0)
//   - end: граница (обязательно; не включается)
//   - step: шаг (по умолчанию 1, не может быть 0)
//
// Порты: "loop" пока index в диапазоне, затем один раз "completed".
//
// Outputs:
//   - index: текущее значение счётчика
//   - total: накопленная сумма значений index
type ForLoopNode struct{}

// NewForLoopNode создаёт forloop node.
func NewForLoopNode() *ForLoopNode { return &ForLoopNode{} }

// Type возвращает тип node.
func (n *ForLoopNode) Type() string { return "forloop" }

// Execute продвигает счётчик на один шаг.
func (n *ForLoopNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	if _, ok := req.Config["end"]; !ok {
		return engine.Result{}, fmt.Errorf("%w: forloop node requires end", ErrInvalidConfig)
	}
	start := GetConfigFloat(req.Config, "start", 0)
	end := GetConfigFloat(req.Config, "end", 0)
	step := GetConfigFloat(req.Config, "step", 1)
	if step == 0 {
		return engine.Result{}, fmt.Errorf("%w: forloop step must not be zero", ErrInvalidConfig)
	}

	index := start
	total, _ := toFloat(req.Prior["total"])
	if prev, ok := toFloat(req.Prior["index"]); ok {
		index = prev + step
	}

	finished := (step > 0 && index >= end) || (step < 0 && index <= end)
	port := PortLoop
	if finished {
		port = PortCompleted
	} else {
		total += index
	}

	return engine.Result{
		Success:   true,
		Outputs:   map[string]any{"index": index, "total": total},
		NextPorts: []string{port},
	}, nil
}
