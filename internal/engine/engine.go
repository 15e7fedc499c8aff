package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// RunStatus — итог прохода по графу.
type RunStatus string

const (
	// RunCompleted — очередь исчерпана, все nodes отработали.
	RunCompleted RunStatus = "COMPLETED"

	// RunFailed — логическая ошибка node без error-маршрута.
	RunFailed RunStatus = "FAILED"

	// RunStopped — проход прерван: Stop() или отмена контекста.
	RunStopped RunStatus = "STOPPED"

	// RunHalted — выполнен целевой node (Config.TargetNode).
	RunHalted RunStatus = "HALTED"
)

// RunResult — результат прохода по графу.
type RunResult struct {
	// Status — итог прохода.
	Status RunStatus

	// Outputs — объединённые outputs терминальных nodes (без исходящих
	// exec-рёбер). Для COMPLETED это итоговый результат job.
	Outputs map[string]any

	// FailedNode — node, на котором запуск провалился (для FAILED).
	FailedNode string

	// Error — описание ошибки (для FAILED).
	Error string

	// Visited — nodes в порядке выполнения. Control-flow nodes
	// встречаются по разу на итерацию.
	Visited []string
}

// Config — конфигурация движка.
type Config struct {
	// Graph — выполняемый граф. Обязателен.
	Graph *domain.Graph

	// Registry — реестр executors. Обязателен.
	Registry Registry

	// JobID — идентификатор job для checkpoint'ов и логов.
	JobID uuid.UUID

	// JobInput — входные параметры job.
	JobInput map[string]any

	// Resolver — перенос данных между nodes.
	// По умолчанию — перенос по data-рёбрам графа.
	Resolver VariableResolver

	// Handler — обработчики ошибок и subflow. По умолчанию ошибки
	// проваливают запуск, subflow недоступен.
	Handler ResultHandler

	// Parallel — стратегия параллельных ветвей. По умолчанию ветви
	// выполняются горутинами движка с join-барьером.
	Parallel ParallelStrategy

	// Checkpoints — приёмник снимков прогресса. По умолчанию снимки
	// не пишутся.
	Checkpoints CheckpointSink

	// TargetNode — при непустом значении проход останавливается после
	// выполнения этого node со статусом HALTED.
	TargetNode string

	// Logger — логгер. По умолчанию slog.Default().
	Logger *slog.Logger
}

// Engine — движок выполнения workflow-графа.
//
// Один экземпляр обслуживает один запуск: New → [Restore] → Run.
// Pause, Resume и Stop можно звать из других горутин во время Run.
type Engine struct {
	graph    *domain.Graph
	registry Registry
	resolver VariableResolver
	handler  ResultHandler
	parallel ParallelStrategy
	sink     CheckpointSink
	logger   *slog.Logger

	jobID    uuid.UUID
	jobInput map[string]any
	env      map[string]string
	target   string

	// haltBefore — node, перед которым проход молча останавливается.
	// Используется ветвями: ветвь не должна выполнять свой join.
	haltBefore string

	vars  *Variables
	state *runState
	gate  *pauseGate

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  bool
	restored bool
}

// New создаёт движок для одного запуска графа.
//
// Граф проходит структурную валидацию, а каждый тип node проверяется по
// реестру: ошибка здесь — ошибка конфигурации, повторять такой job
// бессмысленно.
func New(cfg Config) (*Engine, error) {
	if cfg.Graph == nil {
		return nil, errors.New("engine: graph is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if err := cfg.Graph.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	for i := range cfg.Graph.Nodes {
		n := &cfg.Graph.Nodes[i]
		if _, err := cfg.Registry.Executor(n.Type); err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
	}

	if cfg.Resolver == nil {
		cfg.Resolver = NewDataResolver(cfg.Graph)
	}
	if cfg.Handler == nil {
		cfg.Handler = defaultHandler{}
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = noopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		graph:    cfg.Graph,
		registry: cfg.Registry,
		resolver: cfg.Resolver,
		handler:  cfg.Handler,
		sink:     cfg.Checkpoints,
		logger:   telemetry.WithJobID(cfg.Logger, cfg.JobID.String()),
		jobID:    cfg.JobID,
		jobInput: cfg.JobInput,
		env:      environMap(),
		target:   cfg.TargetNode,
		vars:     NewVariables(),
		state:    newRunState(),
		gate:     &pauseGate{},
	}
	if cfg.Parallel != nil {
		e.parallel = cfg.Parallel
	} else {
		e.parallel = newBranchRunner(e)
	}
	return e, nil
}

// Restore загружает состояние из checkpoint'а перед Run.
// Проход продолжится с сохранённого frontier; выполненные nodes
// повторно не выполняются.
func (e *Engine) Restore(cp *domain.Checkpoint) error {
	if cp == nil {
		return errors.New("engine: nil checkpoint")
	}
	if cp.JobID != e.jobID {
		return fmt.Errorf("engine: checkpoint belongs to job %s, engine runs %s", cp.JobID, e.jobID)
	}

	e.state.restore(cp)
	e.vars.Restore(cp.Variables)

	e.mu.Lock()
	e.restored = true
	e.mu.Unlock()
	return nil
}

// Pause закрывает ворота перед следующим node.
// Уже выполняющийся node дорабатывает до конца.
func (e *Engine) Pause() { e.gate.Pause() }

// Resume открывает ворота после Pause.
func (e *Engine) Resume() { e.gate.Resume() }

// Paused сообщает, закрыты ли ворота.
func (e *Engine) Paused() bool { return e.gate.Paused() }

// Stop прерывает проход: отменяет контекст запуска и снимает паузу.
// Идемпотентен; безопасен до и во время Run.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.gate.Resume()
}

// Run выполняет граф до исчерпания очереди, провала или остановки.
//
// Ошибка в возврате — фатальная проблема конфигурации графа; все
// логические исходы, включая провал node, выражаются в RunResult.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return e.result(RunStopped), nil
	}
	e.cancel = cancel
	restored := e.restored
	e.mu.Unlock()

	if !restored {
		entry, err := e.graph.EntryNode()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
		}
		e.state.pushBack(entry.ID)
	}

	return e.walk(runCtx)
}

// walk — основной цикл: голова очереди выполняется, приёмники её
// exec-рёбер встают в хвост.
func (e *Engine) walk(ctx context.Context) (*RunResult, error) {
	for {
		if err := e.gate.Wait(ctx); err != nil {
			return e.result(RunStopped), nil
		}
		if ctx.Err() != nil {
			return e.result(RunStopped), nil
		}

		nodeID, ok := e.state.popFront()
		if !ok {
			return e.result(RunCompleted), nil
		}
		if e.haltBefore != "" && nodeID == e.haltBefore {
			continue
		}

		node := e.graph.NodeByID(nodeID)
		if node == nil {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
		}
		if e.state.shouldSkip(node) {
			continue
		}

		done, err := e.step(ctx, node)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return e.result(RunStopped), nil
		}
		if done != nil {
			return done, nil
		}
	}
}

// step выполняет один node целиком: join-барьер, входы, executor,
// маршрутизация, checkpoint. Ненулевой RunResult завершает проход.
func (e *Engine) step(ctx context.Context, node *domain.Node) (*RunResult, error) {
	if err := e.parallel.WaitJoin(ctx, node.ID); err != nil {
		if ctx.Err() != nil {
			return e.result(RunStopped), nil
		}
		return e.routeFailure(ctx, node, nil, err.Error()), nil
	}

	res := e.executeNode(ctx, node)

	if res.Success && res.Subflow != nil {
		outs, err := e.handler.HandleSubflow(ctx, *res.Subflow)
		if err != nil {
			res = Result{Success: false, Error: err.Error(), Outputs: res.Outputs}
		} else {
			if res.Outputs == nil {
				res.Outputs = make(map[string]any, len(outs))
			}
			for k, v := range outs {
				res.Outputs[k] = v
			}
		}
	}

	if !res.Success {
		return e.routeFailure(ctx, node, res.Outputs, res.Error), nil
	}

	if err := e.resolver.ValidateOutputs(node, &res); err != nil {
		return e.routeFailure(ctx, node, res.Outputs, err.Error()), nil
	}

	e.finishNode(node, res.Outputs)

	if len(res.ParallelBranches) > 0 {
		if err := e.dispatchBranches(ctx, node, &res); err != nil {
			if ctx.Err() != nil {
				return e.result(RunStopped), nil
			}
			return e.routeFailure(ctx, node, res.Outputs, err.Error()), nil
		}
		if res.PairedJoinID == "" {
			// Блокирующий fan-out уже завершён: ветви выполнены, guard
			// поглощён, маршрут и checkpoint идут как обычно.
			e.routeSuccess(node, res.NextPorts)
			e.saveCheckpoint(ctx, node.ID)
		}
		// При барьере checkpoint откладывается до join'а: снимок с
		// "выполненным" fan-out, но незавершёнными ветвями нельзя
		// возобновить корректно.
	} else {
		e.routeSuccess(node, res.NextPorts)
		if res.Repeat {
			// Итератор встаёт за свои приёмники: тело цикла успеет
			// потребить текущий элемент до следующей итерации.
			e.state.pushBack(node.ID)
		}
		e.saveCheckpoint(ctx, node.ID)
	}

	if e.target != "" && node.ID == e.target {
		return e.result(RunHalted), nil
	}
	return nil, nil
}

// executeNode собирает входы, рендерит config и вызывает executor.
// Любая ошибка на этом пути — логическая ошибка node.
func (e *Engine) executeNode(ctx context.Context, node *domain.Node) Result {
	inputs, err := e.resolver.TransferInputs(node, e.vars)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	prior := e.vars.NodeOutputs(node.ID)

	config, err := RenderConfig(node.Config, NewContext(e.jobInput, inputs, prior, e.env))
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	exec, err := e.registry.Executor(node.Type)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	logger := telemetry.WithNodeID(e.logger, node.ID)
	logger.Debug("executing node", "type", node.Type)
	start := time.Now()

	res, err := exec.Execute(ctx, Request{
		Node:     node,
		Config:   config,
		Inputs:   inputs,
		Prior:    prior,
		JobInput: e.jobInput,
	})
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	logger.Debug("node executed",
		"type", node.Type,
		"success", res.Success,
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

// routeFailure обрабатывает логическую ошибку node: error-маршрут, если
// он подключён; иначе решение за ResultHandler; иначе провал запуска.
func (e *Engine) routeFailure(ctx context.Context, node *domain.Node, outputs map[string]any, msg string) *RunResult {
	if targets := e.graph.ExecTargets(node.ID, PortError); len(targets) > 0 {
		outs := make(map[string]any, len(outputs)+1)
		for k, v := range outputs {
			outs[k] = v
		}
		outs[PortError] = msg

		e.finishNode(node, outs)
		for _, t := range targets {
			e.state.pushBack(t)
		}
		e.saveCheckpoint(ctx, node.ID)

		telemetry.WithNodeID(e.logger, node.ID).Warn("node failed, routed to error port", "error", msg)
		return nil
	}

	if err := e.handler.HandleFailure(ctx, node, errors.New(msg)); err == nil {
		// Обработчик признал ошибку обработанной: идём маршрутом по умолчанию.
		e.finishNode(node, outputs)
		e.routeSuccess(node, nil)
		e.saveCheckpoint(ctx, node.ID)
		return nil
	}

	telemetry.WithNodeID(e.logger, node.ID).Error("node failed", "error", msg)
	r := e.result(RunFailed)
	r.FailedNode = node.ID
	r.Error = msg
	return r
}

// finishNode публикует outputs node и отмечает его выполненным.
func (e *Engine) finishNode(node *domain.Node, outputs map[string]any) {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	e.vars.SetNodeOutputs(node.ID, outputs)
	e.state.markExecuted(node.ID)
}

// routeSuccess ставит в очередь приёмники exec-рёбер node.
// Пустой список портов — маршрут по умолчанию: все exec-рёбра, кроме error.
func (e *Engine) routeSuccess(node *domain.Node, ports []string) {
	if len(ports) == 0 {
		for _, t := range e.defaultTargets(node.ID) {
			e.state.pushBack(t)
		}
		return
	}
	for _, port := range ports {
		for _, t := range e.graph.ExecTargets(node.ID, port) {
			e.state.pushBack(t)
		}
	}
}

func (e *Engine) defaultTargets(nodeID string) []string {
	var targets []string
	for i := range e.graph.Edges {
		edge := &e.graph.Edges[i]
		if edge.EffectiveKind() != domain.EdgeExec || edge.SourceNode != nodeID {
			continue
		}
		if edge.SourcePort == PortError {
			continue
		}
		targets = append(targets, edge.TargetNode)
	}
	return targets
}

// dispatchBranches передаёт ветви стратегии и ставит join в голову очереди.
func (e *Engine) dispatchBranches(ctx context.Context, node *domain.Node, res *Result) error {
	branches := make([]Branch, len(res.ParallelBranches))
	for i, start := range res.ParallelBranches {
		b := Branch{Start: start}
		if i < len(res.BranchVars) {
			b.Seed = res.BranchVars[i]
		}
		branches[i] = b
	}

	if err := e.parallel.Dispatch(ctx, node, branches, res.PairedJoinID); err != nil {
		return err
	}
	if res.PairedJoinID != "" {
		e.state.pushFront(res.PairedJoinID)
	}
	return nil
}

// saveCheckpoint пишет снимок прогресса. Ошибка записи не прерывает проход.
func (e *Engine) saveCheckpoint(ctx context.Context, nodeID string) {
	cp := domain.Checkpoint{
		ID:        uuid.New(),
		JobID:     e.jobID,
		Seq:       e.state.nextSeq(),
		NodeID:    nodeID,
		Frontier:  e.state.frontier(),
		Executed:  e.state.executedIDs(),
		Variables: e.vars.Snapshot(),
		SavedAt:   time.Now().UTC(),
	}
	if err := e.sink.SaveCheckpoint(ctx, cp); err != nil {
		telemetry.WithNodeID(e.logger, nodeID).Warn("checkpoint save failed", "error", err)
	}
}

func (e *Engine) result(status RunStatus) *RunResult {
	return &RunResult{
		Status:  status,
		Outputs: e.collectSinkOutputs(),
		Visited: e.state.visitedIDs(),
	}
}

// collectSinkOutputs объединяет outputs выполненных nodes без исходящих
// exec-рёбер. Для линейного графа это outputs последнего node.
func (e *Engine) collectSinkOutputs() map[string]any {
	outs := make(map[string]any)
	for _, nodeID := range e.state.visitedIDs() {
		if len(e.graph.ExecOutTargets(nodeID)) > 0 {
			continue
		}
		for k, v := range e.vars.NodeOutputs(nodeID) {
			outs[k] = v
		}
	}
	return outs
}

// defaultHandler — ResultHandler по умолчанию: ошибки проваливают запуск,
// вложенные workflows недоступны.
type defaultHandler struct{}

func (defaultHandler) HandleFailure(_ context.Context, _ *domain.Node, nodeErr error) error {
	return nodeErr
}

func (defaultHandler) HandleSubflow(_ context.Context, _ SubflowCall) (map[string]any, error) {
	return nil, ErrSubflowUnsupported
}

// noopSink — CheckpointSink по умолчанию.
type noopSink struct{}

func (noopSink) SaveCheckpoint(_ context.Context, _ domain.Checkpoint) error { return nil }

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}
