package domain

import (
	"time"

	"github.com/google/uuid"
)

// Checkpoint — снимок прогресса выполнения job.
//
// Движок пишет checkpoint после каждого выполненного node; робот хранит
// только последний снимок на job (latest-wins) в локальном offline-хранилище.
// Снимка достаточно для точного возобновления: очередь, guard выполненных
// nodes и variables восстанавливаются без повторного прохода графа.
type Checkpoint struct {
	// ID — уникальный идентификатор снимка.
	ID uuid.UUID `json:"id"`

	// JobID — job, к которому относится снимок.
	JobID uuid.UUID `json:"job_id"`

	// Seq — монотонный номер снимка в рамках job.
	// Снимок с меньшим Seq никогда не затирает снимок с большим.
	Seq uint64 `json:"seq"`

	// NodeID — последний выполненный node.
	NodeID string `json:"node_id"`

	// Frontier — содержимое очереди движка на момент снимка
	// (ID nodes, ожидающих выполнения, в порядке очереди).
	Frontier []string `json:"frontier,omitempty"`

	// Executed — instance ids уже выполненных nodes.
	Executed []string `json:"executed,omitempty"`

	// Variables — снимок variables запуска.
	Variables map[string]any `json:"variables,omitempty"`

	// SavedAt — время снимка.
	SavedAt time.Time `json:"saved_at"`
}
