package repo

import "errors"

// Сентинельные ошибки слоя хранения. HTTP-хендлеры переводят их
// в статусы ответов (см. api.HandleRepoError).
var (
	// ErrNotFound — запрошенной записи нет в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — нарушена уникальность (duplicate key).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — текущее состояние записи не допускает операцию.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotOwner — job не принадлежит указанному роботу.
	// Возвращается ownership-операциями (extend/complete/fail/release),
	// когда lease уже потерян: робот обязан молча прекратить работу над job.
	ErrNotOwner = errors.New("job not owned by robot")
)
