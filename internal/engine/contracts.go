package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Зарезервированные имена exec-портов.
const (
	// PortOut — exec-порт по умолчанию для линейного продолжения.
	PortOut = "out"

	// PortError — exec-порт маршрута ошибки. Если у node есть исходящее
	// exec-ребро из этого порта, логическая ошибка node уходит по нему
	// вместо провала всего запуска.
	PortError = "error"
)

// Request — входные данные одного выполнения node.
type Request struct {
	// Node — выполняемый node графа.
	Node *domain.Node

	// Config — конфигурация node после рендеринга шаблонов.
	Config map[string]any

	// Inputs — значения входных портов, собранные по data-рёбрам.
	Inputs map[string]any

	// Prior — outputs этого же node с предыдущего выполнения.
	// Непустой только у control-flow nodes: итераторы хранят в нём счётчик.
	Prior map[string]any

	// JobInput — входные параметры job. Start node публикует их как outputs.
	JobInput map[string]any
}

// Result — исход одного выполнения node.
type Result struct {
	// Success — выполнился ли node логически успешно.
	Success bool

	// Error — описание логической ошибки (при Success == false).
	Error string

	// Outputs — выходные значения по портам node.
	Outputs map[string]any

	// NextPorts — exec-порты, по которым продолжается выполнение.
	// Пустой срез при успехе — маршрут по умолчанию: все exec-рёбра node,
	// кроме исходящих из PortError.
	NextPorts []string

	// Repeat — вернуть node в очередь после маршрутизации. Node встаёт
	// за только что поставленные приёмники: тело цикла потребит текущий
	// элемент до следующей итерации. Так итераторы выполняются по разу
	// на элемент коллекции без явного обратного ребра.
	Repeat bool

	// ParallelBranches — стартовые nodes ветвей для параллельного запуска.
	ParallelBranches []string

	// BranchVars — сид variables на ветвь, парный к ParallelBranches.
	// Сид публикуется в overlay ветви как outputs породившего node,
	// поэтому data-ребро из него доставит ветви её элемент.
	BranchVars []map[string]any

	// PairedJoinID — node-барьер, ожидающий завершения всех ветвей.
	// Пустая строка — Dispatch блокируется до конца ветвей.
	PairedJoinID string

	// Subflow — запрос на выполнение вложенного workflow.
	// Outputs вложенного запуска вливаются в Outputs node.
	Subflow *SubflowCall
}

// SubflowCall — запрос выполнения вложенного workflow.
type SubflowCall struct {
	// WorkflowID — ID сохранённого workflow. Zero-значение — поиск по имени.
	WorkflowID uuid.UUID

	// WorkflowName — имя workflow (используется при пустом WorkflowID).
	WorkflowName string

	// Input — входные параметры вложенного запуска.
	Input map[string]any
}

// NodeExecutor — исполнитель nodes конкретного типа.
//
// Ошибка в возврате Execute — инфраструктурный сбой executor'а; логические
// ошибки выражаются через Result.Success и Result.Error. Движок трактует
// обе одинаково (маршрут ошибки либо провал запуска), но инфраструктурный
// сбой теряет Outputs.
type NodeExecutor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Registry — реестр executors по типу node.
type Registry interface {
	// Executor возвращает executor для типа node.
	Executor(nodeType string) (NodeExecutor, error)
}

// VariableResolver отвечает за перенос данных между nodes.
type VariableResolver interface {
	// TransferInputs собирает входные значения node по data-рёбрам графа.
	// Отсутствие значения на обязательном порту — ошибка.
	TransferInputs(node *domain.Node, vars *Variables) (map[string]any, error)

	// ValidateOutputs проверяет результат node перед маршрутизацией.
	ValidateOutputs(node *domain.Node, res *Result) error
}

// ResultHandler — внешние обработчики исходов, которые движок не решает сам.
type ResultHandler interface {
	// HandleFailure вызывается для логической ошибки node, не имеющей
	// error-маршрута. Возврат nil признаёт ошибку обработанной: выполнение
	// продолжается маршрутом по умолчанию. Ненулевой возврат проваливает
	// запуск.
	HandleFailure(ctx context.Context, node *domain.Node, nodeErr error) error

	// HandleSubflow выполняет вложенный workflow и возвращает его outputs.
	HandleSubflow(ctx context.Context, call SubflowCall) (map[string]any, error)
}

// Branch — одна ветвь параллельного запуска.
type Branch struct {
	// Start — ID стартового node ветви.
	Start string

	// Seed — значения, публикуемые в overlay ветви как outputs породившего
	// node (например, элемент коллекции для этой ветви).
	Seed map[string]any
}

// ParallelStrategy — стратегия выполнения параллельных ветвей.
type ParallelStrategy interface {
	// Dispatch запускает ветви от имени node from. При joinID != "" возврат
	// немедленный: регистрируется барьер, который снимается по завершении
	// всех ветвей. При joinID == "" вызов блокируется до конца ветвей.
	Dispatch(ctx context.Context, from *domain.Node, branches []Branch, joinID string) error

	// WaitJoin блокирует выполнение node до снятия его барьера.
	// Для node без барьера возврат немедленный. Ошибка любой ветви
	// возвращается отсюда и трактуется как логическая ошибка join-node.
	WaitJoin(ctx context.Context, nodeID string) error
}

// CheckpointSink принимает снимки прогресса после каждого выполненного node.
type CheckpointSink interface {
	// SaveCheckpoint сохраняет снимок. Ошибка записи не прерывает
	// выполнение: движок логирует её и идёт дальше.
	SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error
}
