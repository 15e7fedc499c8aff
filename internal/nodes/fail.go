package nodes

import (
	"context"

	"github.com/shaiso/Conveyor/internal/engine"
)

// FailNode — node типа "fail": всегда завершается логической ошибкой.
//
// Ставится в графах как защитный тупик: достижение означает нарушение
// ожиданий автора. С подключённым error-ребром работает как явный переход
// на аварийную ветку.
//
// Config:
//   - message (string): текст ошибки
type FailNode struct{}

// NewFailNode создаёт fail node.
func NewFailNode() *FailNode { return &FailNode{} }

// Type возвращает тип node.
func (n *FailNode) Type() string { return "fail" }

// Execute возвращает логическую ошибку.
func (n *FailNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	msg := GetConfigString(req.Config, "message", "fail node reached")
	return engine.Result{Success: false, Error: msg}, nil
}
