package nodes

import (
	"context"

	"github.com/shaiso/Conveyor/internal/engine"
)

// StartNode — входной node типа "start".
//
// Публикует входные параметры job как свои outputs: data-рёбра из start
// раздают их остальному графу.
//
// Config:
//   - defaults (map): значения по умолчанию; input job их перекрывает
type StartNode struct{}

// NewStartNode создаёт start node.
func NewStartNode() *StartNode { return &StartNode{} }

// Type возвращает тип node.
func (n *StartNode) Type() string { return "start" }

// Execute публикует input job как outputs.
func (n *StartNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	outputs := make(map[string]any)
	for k, v := range GetConfigMap(req.Config, "defaults") {
		outputs[k] = v
	}
	for k, v := range req.JobInput {
		outputs[k] = v
	}
	return engine.Result{Success: true, Outputs: outputs}, nil
}
