package nodes

import "errors"

// Ошибки встроенных nodes.
var (
	// ErrUnknownNodeType — тип node не найден в реестре.
	// Для робота это фатальная ошибка конфигурации job: повторять бессмысленно.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrInvalidConfig — невалидная конфигурация node.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrHTTPRequest — ошибка выполнения HTTP-запроса.
	ErrHTTPRequest = errors.New("http request failed")
)
