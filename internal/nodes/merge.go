package nodes

import (
	"context"

	"github.com/shaiso/Conveyor/internal/engine"
)

// MergeNode — node типа "merge": точка схождения ветвей.
//
// Возвращает свои входы как outputs. Используется как join-барьер после
// параллельного запуска: data-рёбра из ветвей сводят их результаты в одни
// outputs.
type MergeNode struct{}

// NewMergeNode создаёт merge node.
func NewMergeNode() *MergeNode { return &MergeNode{} }

// Type возвращает тип node.
func (n *MergeNode) Type() string { return "merge" }

// Execute возвращает входы как outputs.
func (n *MergeNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	outputs := make(map[string]any, len(req.Inputs))
	for k, v := range req.Inputs {
		outputs[k] = v
	}
	return engine.Result{Success: true, Outputs: outputs}, nil
}
