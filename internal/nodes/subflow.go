package nodes

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/engine"
)

// SubflowNode — node типа "subflow": запускает вложенный workflow.
//
// Node не выполняет workflow сам: он формирует SubflowCall, который
// движок передаёт в ResultHandler. Outputs node — результат
// вложенного запуска.
//
// Config:
//   - workflow (string): имя workflow
//   - workflow_id (string): UUID workflow (альтернатива имени)
//   - input (map): входные данные; поверх них накладываются Inputs node
type SubflowNode struct{}

// NewSubflowNode создаёт subflow node.
func NewSubflowNode() *SubflowNode { return &SubflowNode{} }

// Type возвращает тип node.
func (n *SubflowNode) Type() string { return "subflow" }

// Execute собирает вызов вложенного workflow.
func (n *SubflowNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	call := engine.SubflowCall{
		WorkflowName: GetConfigString(req.Config, "workflow", ""),
		Input:        map[string]any{},
	}
	if raw := GetConfigString(req.Config, "workflow_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return engine.Result{}, fmt.Errorf("%w: invalid workflow_id %q", ErrInvalidConfig, raw)
		}
		call.WorkflowID = id
	}
	if call.WorkflowName == "" && call.WorkflowID == uuid.Nil {
		return engine.Result{}, fmt.Errorf("%w: subflow node requires workflow or workflow_id", ErrInvalidConfig)
	}

	for k, v := range GetConfigMap(req.Config, "input") {
		call.Input[k] = v
	}
	for k, v := range req.Inputs {
		call.Input[k] = v
	}

	return engine.Result{Success: true, Subflow: &call}, nil
}
