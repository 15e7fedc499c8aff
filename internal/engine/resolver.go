package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// dataResolver — VariableResolver по умолчанию: переносит значения по
// data-рёбрам графа и проверяет объявленные порты.
type dataResolver struct {
	graph *domain.Graph
}

// NewDataResolver создаёт resolver, работающий по data-рёбрам графа.
func NewDataResolver(graph *domain.Graph) VariableResolver {
	return &dataResolver{graph: graph}
}

// TransferInputs собирает входы node: для каждого входящего data-ребра
// берётся значение исходного порта источника. Ребро из ещё не выполненного
// node молча пропускается; отсутствие значения на обязательном порту —
// ошибка.
func (r *dataResolver) TransferInputs(node *domain.Node, vars *Variables) (map[string]any, error) {
	inputs := make(map[string]any)
	for _, edge := range r.graph.DataEdgesInto(node.ID) {
		val, ok := vars.Output(edge.SourceNode, edge.SourcePort)
		if !ok {
			continue
		}
		port := edge.TargetPort
		if port == "" {
			port = edge.SourcePort
		}
		inputs[port] = val
	}

	for _, port := range node.Inputs {
		if !port.Required {
			continue
		}
		if _, ok := inputs[port.Name]; !ok {
			return nil, fmt.Errorf("%w: node %q input %q", ErrMissingInput, node.ID, port.Name)
		}
	}
	return inputs, nil
}

// ValidateOutputs проверяет, что NextPorts ссылаются на объявленные порты
// node. Node без объявленных outputs не проверяется.
func (r *dataResolver) ValidateOutputs(node *domain.Node, res *Result) error {
	if len(node.Outputs) == 0 || len(res.NextPorts) == 0 {
		return nil
	}

	declared := make(map[string]bool, len(node.Outputs))
	for _, p := range node.Outputs {
		declared[p.Name] = true
	}
	for _, port := range res.NextPorts {
		if !declared[port] {
			return fmt.Errorf("%w: node %q port %q", ErrUnknownPort, node.ID, port)
		}
	}
	return nil
}
