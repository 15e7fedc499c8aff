package engine

import "errors"

// Ошибки графа и конфигурации запуска.
var (
	// ErrInvalidGraph — граф не прошёл структурную валидацию.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrNodeNotFound — очередь ссылается на отсутствующий в графе node.
	ErrNodeNotFound = errors.New("node not found in graph")

	// ErrMissingInput — обязательный входной порт node не получил значения.
	ErrMissingInput = errors.New("missing required input")

	// ErrUnknownPort — executor назвал порт, не объявленный у node.
	ErrUnknownPort = errors.New("unknown port")

	// ErrNoBranches — параллельный запуск без единой ветви.
	ErrNoBranches = errors.New("parallel dispatch has no branches")

	// ErrSubflowUnsupported — в этом запуске вложенные workflows недоступны.
	ErrSubflowUnsupported = errors.New("subflow is not supported in this run")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")

	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")
)
