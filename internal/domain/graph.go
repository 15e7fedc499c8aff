package domain

import "fmt"

// NodeCapability — роль node в управлении потоком выполнения.
type NodeCapability string

const (
	// CapabilityExecutable — обычный исполняемый node.
	// Выполняется не более одного раза за запуск (guard по instance id).
	CapabilityExecutable NodeCapability = "executable"

	// CapabilityControlFlow — управляющий node (циклы, итераторы).
	// Исключён из guard'а повторного выполнения: может входить в очередь
	// многократно в рамках одного запуска.
	CapabilityControlFlow NodeCapability = "control-flow"

	// CapabilityPassthrough — транзитный node без побочных эффектов
	// (start, merge). Выполняется как executable.
	CapabilityPassthrough NodeCapability = "passthrough"
)

// EdgeKind — тип связи между nodes.
type EdgeKind string

const (
	// EdgeExec — управляющая связь: определяет порядок выполнения.
	// Исходит из конкретного exec-порта источника.
	EdgeExec EdgeKind = "exec"

	// EdgeData — связь данных: переносит output источника во input приёмника.
	// На порядок выполнения не влияет.
	EdgeData EdgeKind = "data"
)

// PortDef — объявление порта node.
type PortDef struct {
	// Name — имя порта ("exec-out", "true", "loop", "items", ...).
	Name string `json:"name"`

	// Required — обязателен ли входной порт для запуска node.
	Required bool `json:"required,omitempty"`
}

// Node — вершина workflow-графа.
type Node struct {
	// ID — уникальный идентификатор node в рамках графа.
	ID string `json:"id"`

	// Type — тип node из реестра executors ("if", "forloop", "http", ...).
	Type string `json:"type"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Capability — роль node в управлении потоком.
	// Пустое значение трактуется как executable.
	Capability NodeCapability `json:"capability,omitempty"`

	// Inputs — объявленные входные порты.
	Inputs []PortDef `json:"inputs,omitempty"`

	// Outputs — объявленные выходные порты (exec и data).
	Outputs []PortDef `json:"outputs,omitempty"`

	// Config — статическая конфигурация node (зависит от типа).
	Config map[string]any `json:"config,omitempty"`
}

// EffectiveCapability возвращает capability с учётом значения по умолчанию.
func (n *Node) EffectiveCapability() NodeCapability {
	if n.Capability == "" {
		return CapabilityExecutable
	}
	return n.Capability
}

// Edge — ребро workflow-графа.
type Edge struct {
	// SourceNode — ID node-источника.
	SourceNode string `json:"source_node"`

	// SourcePort — порт источника, из которого исходит ребро.
	SourcePort string `json:"source_port"`

	// TargetNode — ID node-приёмника.
	TargetNode string `json:"target_node"`

	// TargetPort — порт приёмника (для data-рёбер — имя input'а).
	TargetPort string `json:"target_port,omitempty"`

	// Kind — тип ребра: exec или data.
	// Пустое значение трактуется как exec.
	Kind EdgeKind `json:"kind,omitempty"`
}

// EffectiveKind возвращает тип ребра с учётом значения по умолчанию.
func (e *Edge) EffectiveKind() EdgeKind {
	if e.Kind == "" {
		return EdgeExec
	}
	return e.Kind
}

// Graph — workflow-граф: nodes + рёбра + необязательный явный вход.
//
// Граф сериализуется в JSONB поля jobs.graph и workflows.graph.
// Снимок графа в job неизменяем: правки workflow не трогают поставленные jobs.
type Graph struct {
	// Entry — ID входного node. Если пусто, вход вычисляется:
	// единственный node без входящих exec-рёбер.
	Entry string `json:"entry,omitempty"`

	// Nodes — вершины графа.
	Nodes []Node `json:"nodes"`

	// Edges — рёбра графа.
	Edges []Edge `json:"edges,omitempty"`
}

// NodeByID возвращает node по ID или nil.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// EntryNode возвращает входной node графа.
//
// Правило: явный Entry, иначе единственный node без входящих exec-рёбер.
// Ноль или несколько кандидатов — фатальная ошибка конфигурации.
func (g *Graph) EntryNode() (*Node, error) {
	if g.Entry != "" {
		n := g.NodeByID(g.Entry)
		if n == nil {
			return nil, fmt.Errorf("entry node %q not found in graph", g.Entry)
		}
		return n, nil
	}

	hasIncoming := make(map[string]bool, len(g.Nodes))
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.EffectiveKind() == EdgeExec {
			hasIncoming[e.TargetNode] = true
		}
	}

	var candidates []*Node
	for i := range g.Nodes {
		if !hasIncoming[g.Nodes[i].ID] {
			candidates = append(candidates, &g.Nodes[i])
		}
	}

	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return nil, fmt.Errorf("graph has no entry node: every node has incoming exec edges")
	default:
		return nil, fmt.Errorf("graph has %d entry candidates, want exactly one (set entry explicitly)", len(candidates))
	}
}

// ExecTargets возвращает ID nodes, достижимых из указанного exec-порта.
func (g *Graph) ExecTargets(nodeID, port string) []string {
	var targets []string
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.EffectiveKind() != EdgeExec {
			continue
		}
		if e.SourceNode == nodeID && e.SourcePort == port {
			targets = append(targets, e.TargetNode)
		}
	}
	return targets
}

// ExecOutTargets возвращает ID nodes, достижимых по любым exec-рёбрам node.
// Используется как маршрут по умолчанию, когда executor не назвал порт.
func (g *Graph) ExecOutTargets(nodeID string) []string {
	var targets []string
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.EffectiveKind() != EdgeExec {
			continue
		}
		if e.SourceNode == nodeID {
			targets = append(targets, e.TargetNode)
		}
	}
	return targets
}

// DataEdgesInto возвращает data-рёбра, входящие в node.
func (g *Graph) DataEdgesInto(nodeID string) []Edge {
	var edges []Edge
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.EffectiveKind() == EdgeData && e.TargetNode == nodeID {
			edges = append(edges, *e)
		}
	}
	return edges
}

// Validate проверяет структурную корректность графа:
// непустота, уникальность ID, ссылочная целостность рёбер, разрешимость входа.
// Типы nodes проверяет движок по своему реестру executors.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}

	seen := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("node %d: empty id", i)
		}
		if n.Type == "" {
			return fmt.Errorf("node %q: empty type", n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}

	for i := range g.Edges {
		e := &g.Edges[i]
		if !seen[e.SourceNode] {
			return fmt.Errorf("edge %d: unknown source node %q", i, e.SourceNode)
		}
		if !seen[e.TargetNode] {
			return fmt.Errorf("edge %d: unknown target node %q", i, e.TargetNode)
		}
		if e.EffectiveKind() == EdgeExec && e.SourcePort == "" {
			return fmt.Errorf("edge %d: exec edge without source port", i)
		}
	}

	if _, err := g.EntryNode(); err != nil {
		return err
	}
	return nil
}
