package offline

import "errors"

// Ошибки offline-хранилища.
var (
	// ErrNotFound — запись отсутствует в хранилище.
	ErrNotFound = errors.New("not found in offline store")
)
