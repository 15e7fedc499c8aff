package breaker

import "errors"

// Ошибки breaker.
var (
	// ErrOpen — breaker открыт, запрос отклонён без обращения к зависимости.
	ErrOpen = errors.New("circuit breaker is open")
)
