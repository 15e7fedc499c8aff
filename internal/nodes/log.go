package nodes

import (
	"context"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/engine"
)

// LogNode — node типа "log": пишет сообщение в лог робота и пропускает
// входы дальше без изменений.
//
// Config:
//   - message (string): сообщение (шаблоны уже отрендерены движком)
//   - level (string): debug | info | warn | error. Default: info
type LogNode struct {
	logger *slog.Logger
}

// NewLogNode создаёт log node.
func NewLogNode(logger *slog.Logger) *LogNode {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNode{logger: logger}
}

// Type возвращает тип node.
func (n *LogNode) Type() string { return "log" }

// Execute пишет сообщение и возвращает входы как outputs.
func (n *LogNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	msg := GetConfigString(req.Config, "message", "")
	if msg == "" {
		msg = "log node"
	}

	logger := n.logger.With("node_id", req.Node.ID)
	switch GetConfigString(req.Config, "level", "info") {
	case "debug":
		logger.Debug(msg)
	case "warn":
		logger.Warn(msg)
	case "error":
		logger.Error(msg)
	default:
		logger.Info(msg)
	}

	outputs := make(map[string]any, len(req.Inputs))
	for k, v := range req.Inputs {
		outputs[k] = v
	}
	return engine.Result{Success: true, Outputs: outputs}, nil
}
