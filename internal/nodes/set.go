package nodes

import (
	"context"

	"github.com/shaiso/Conveyor/internal/engine"
)

// SetNode — node типа "set": дополняет проходящие данные значениями
// из конфигурации.
//
// Outputs — копия входов, поверх которой применены values. Шаблоны в
// values уже отрендерены движком, поэтому set работает и как вычислитель
// выражений ({{ .Inputs.a }}{{ .Inputs.b }}).
//
// Config:
//   - values (map): значения, добавляемые к outputs
type SetNode struct{}

// NewSetNode создаёт set node.
func NewSetNode() *SetNode { return &SetNode{} }

// Type возвращает тип node.
func (n *SetNode) Type() string { return "set" }

// Execute дополняет входы значениями из конфигурации.
func (n *SetNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	outputs := make(map[string]any, len(req.Inputs))
	for k, v := range req.Inputs {
		outputs[k] = v
	}
	for k, v := range GetConfigMap(req.Config, "values") {
		outputs[k] = v
	}
	return engine.Result{Success: true, Outputs: outputs}, nil
}
