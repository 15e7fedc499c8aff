package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workflow — сохранённое определение workflow-графа.
//
// Workflow — это "шаблон" автоматизации: граф, который можно запускать
// многократно. Каждый запуск порождает Job со снимком графа, поэтому
// правка workflow не влияет на уже поставленные jobs.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя workflow (например, "sync-orders").
	Name string `json:"name"`

	// Description — описание назначения.
	Description string `json:"description,omitempty"`

	// Graph — граф workflow.
	Graph Graph `json:"graph"`

	// Environment — среда по умолчанию для jobs этого workflow.
	Environment string `json:"environment"`

	// MaxRetries — число повторов по умолчанию для jobs этого workflow.
	MaxRetries int `json:"max_retries"`

	// IsActive — флаг активности. Неактивные workflows не запускаются
	// по расписанию; прямой запуск остаётся доступен.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}
