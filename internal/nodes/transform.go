package nodes

import (
	"context"

	"github.com/shaiso/Conveyor/internal/engine"
)

// TransformNode — node типа "transform".
//
// Движок уже отрендерил config через engine.RenderConfig, поэтому config
// содержит готовые значения после подстановки шаблонов. Transform просто
// возвращает config как outputs — это "pass-through с template expansion"
// для переформатирования данных между nodes.
type TransformNode struct{}

// NewTransformNode создаёт transform node.
func NewTransformNode() *TransformNode { return &TransformNode{} }

// Type возвращает тип node.
func (n *TransformNode) Type() string { return "transform" }

// Execute возвращает отрендеренный config как outputs.
func (n *TransformNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	outputs := make(map[string]any, len(req.Config))
	for k, v := range req.Config {
		outputs[k] = v
	}
	return engine.Result{Success: true, Outputs: outputs}, nil
}
