package nodes

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/engine"
)

// ParallelNode — node типа "parallel": параллельный fan-out.
//
// Два режима:
//   - branches: список стартовых nodes, каждая ветка идёт по своему пути;
//   - branch + items: одна стартовая node запускается для каждого элемента
//     списка, элемент приходит в ветку как output "item" этой node.
//
// Config:
//   - branches ([]string): стартовые nodes веток
//   - branch (string): стартовая node для режима по элементам
//   - items: список элементов (или входной порт "items")
//   - join (string): node-барьер; если задан, ветки выполняются в фоне
//     и сходятся на барьере, иначе node блокируется до их завершения
//
// Outputs:
//   - branches: число запущенных веток
type ParallelNode struct{}

// NewParallelNode создаёт parallel node.
func NewParallelNode() *ParallelNode { return &ParallelNode{} }

// Type возвращает тип node.
func (n *ParallelNode) Type() string { return "parallel" }

// Execute формирует список веток для движка.
func (n *ParallelNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	join := GetConfigString(req.Config, "join", "")

	if starts := GetConfigStringSlice(req.Config, "branches"); len(starts) > 0 {
		return engine.Result{
			Success:          true,
			Outputs:          map[string]any{"branches": len(starts)},
			ParallelBranches: starts,
			PairedJoinID:     join,
		}, nil
	}

	start := GetConfigString(req.Config, "branch", "")
	if start == "" {
		return engine.Result{}, fmt.Errorf("%w: parallel node requires branches or branch", ErrInvalidConfig)
	}
	items := GetConfigSlice(req.Config, "items")
	if items == nil {
		items = toSlice(req.Inputs["items"])
	}
	if len(items) == 0 {
		return engine.Result{}, fmt.Errorf("%w: parallel node with branch requires items", ErrInvalidConfig)
	}

	starts := make([]string, len(items))
	seeds := make([]map[string]any, len(items))
	for i, item := range items {
		starts[i] = start
		seeds[i] = map[string]any{"item": item, "index": i}
	}
	return engine.Result{
		Success:          true,
		Outputs:          map[string]any{"branches": len(items)},
		ParallelBranches: starts,
		BranchVars:       seeds,
		PairedJoinID:     join,
	}, nil
}
