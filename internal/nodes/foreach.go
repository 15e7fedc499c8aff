package nodes

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/engine"
)

// ForEachNode — node типа "foreach": итератор по списку.
//
// В последовательном режиме node вместо обратного exec-ребра использует
// Repeat: движок после маршрутизации возвращает его в хвост очереди, и
// тело обрабатывает текущий элемент до следующей итерации. Позиция
// хранится в Prior, поэтому node и тело объявляют capability
// "control-flow".
//
// В параллельном режиме (parallel: true) все элементы отправляются
// одним fan-out: стартовая node тела запускается для каждого элемента
// как отдельная ветка, элемент приходит в ветку как output "item".
//
// Config:
//   - items: список элементов; если не задан, берётся входной порт "items"
//   - parallel (bool): параллельный режим
//   - branch (string): стартовая node тела (обязательно при parallel)
//   - join (string): node-барьер для параллельного режима
//
// Порты: "loop" на каждый элемент, затем один раз "completed".
//
// Outputs:
//   - item: текущий элемент (последовательный режим)
//   - index: позиция элемента
//   - total: длина списка
type ForEachNode struct{}

// NewForEachNode создаёт foreach node.
func NewForEachNode() *ForEachNode { return &ForEachNode{} }

// Type возвращает тип node.
func (n *ForEachNode) Type() string { return "foreach" }

// Execute выдаёт очередной элемент списка либо запускает fan-out.
func (n *ForEachNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	items := GetConfigSlice(req.Config, "items")
	if items == nil {
		items = toSlice(req.Inputs["items"])
	}

	if GetConfigBool(req.Config, "parallel", false) {
		return n.dispatch(req, items)
	}

	index := 0
	if prev, ok := toFloat(req.Prior["index"]); ok {
		index = int(prev) + 1
	}

	if index >= len(items) {
		return engine.Result{
			Success:   true,
			Outputs:   map[string]any{"index": index, "total": len(items)},
			NextPorts: []string{PortCompleted},
		}, nil
	}

	return engine.Result{
		Success: true,
		Outputs: map[string]any{
			"item":  items[index],
			"index": index,
			"total": len(items),
		},
		NextPorts: []string{PortLoop},
		Repeat:    true,
	}, nil
}

// dispatch формирует ветку на каждый элемент списка.
func (n *ForEachNode) dispatch(req engine.Request, items []any) (engine.Result, error) {
	start := GetConfigString(req.Config, "branch", "")
	if start == "" {
		return engine.Result{}, fmt.Errorf("%w: parallel foreach requires branch", ErrInvalidConfig)
	}
	if len(items) == 0 {
		return engine.Result{
			Success:   true,
			Outputs:   map[string]any{"index": 0, "total": 0},
			NextPorts: []string{PortCompleted},
		}, nil
	}

	starts := make([]string, len(items))
	seeds := make([]map[string]any, len(items))
	for i, item := range items {
		starts[i] = start
		seeds[i] = map[string]any{"item": item, "index": i, "total": len(items)}
	}
	return engine.Result{
		Success:          true,
		Outputs:          map[string]any{"index": len(items) - 1, "total": len(items)},
		NextPorts:        []string{PortCompleted},
		ParallelBranches: starts,
		BranchVars:       seeds,
		PairedJoinID:     GetConfigString(req.Config, "join", ""),
	}, nil
}
