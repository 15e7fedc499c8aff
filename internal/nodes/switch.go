package nodes

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/engine"
)

// SwitchNode — node типа "switch": выбирает exec-порт по значению.
//
// Config:
//   - value: сравниваемое значение (обычно шаблон); если не задано,
//     берётся входной порт "value"
//   - cases (map): значение -> имя порта
//   - default: порт, если ни один case не совпал (по умолчанию "default")
//
// Outputs:
//   - matched: имя выбранного порта
type SwitchNode struct{}

// NewSwitchNode создаёт switch node.
func NewSwitchNode() *SwitchNode { return &SwitchNode{} }

// Type возвращает тип node.
func (n *SwitchNode) Type() string { return "switch" }

// Execute выбирает порт по таблице cases.
func (n *SwitchNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	cases := GetConfigMap(req.Config, "cases")
	if len(cases) == 0 {
		return engine.Result{}, fmt.Errorf("%w: switch node requires non-empty cases", ErrInvalidConfig)
	}

	value := req.Inputs["value"]
	if v, ok := req.Config["value"]; ok {
		value = v
	}

	port := GetConfigString(req.Config, "default", "default")
	key := fmt.Sprintf("%v", value)
	if target, ok := cases[key]; ok {
		if s, sok := target.(string); sok && s != "" {
			port = s
		}
	}

	return engine.Result{
		Success:   true,
		Outputs:   map[string]any{"matched": port},
		NextPorts: []string{port},
	}, nil
}
