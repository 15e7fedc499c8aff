package nodes

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/Conveyor/internal/engine"
)

// Node — встроенный executor с именем типа.
//
// Каждый тип node (http, delay, if, forloop, ...) реализует этот интерфейс.
type Node interface {
	engine.NodeExecutor

	// Type возвращает тип node, под которым он регистрируется.
	Type() string
}

// Registry — реестр типов nodes.
//
// Реализует engine.Registry. Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]Node),
	}
}

// DefaultRegistry создаёт реестр со всеми встроенными nodes.
func DefaultRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry()

	r.Register(NewStartNode())
	r.Register(NewSetNode())
	r.Register(NewTransformNode())
	r.Register(NewIfNode())
	r.Register(NewSwitchNode())
	r.Register(NewForLoopNode())
	r.Register(NewForEachNode())
	r.Register(NewParallelNode())
	r.Register(NewMergeNode())
	r.Register(NewSubflowNode())
	r.Register(NewHTTPNode(nil))
	r.Register(NewDelayNode())
	r.Register(NewLogNode(logger))
	r.Register(NewFailNode())

	return r
}

// Register регистрирует node в реестре.
// Node с уже занятым типом перезаписывается.
func (r *Registry) Register(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.Type()] = n
}

// Executor возвращает executor по типу node.
// Возвращает ErrUnknownNodeType, если тип не зарегистрирован.
func (r *Registry) Executor(nodeType string) (engine.NodeExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, exists := r.nodes[nodeType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return n, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.nodes[nodeType]
	return exists
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.nodes))
	for t := range r.nodes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
