package robot

import "errors"

// Ошибки робота.
var (
	// ErrOwnershipLost — сервис больше не считает робота владельцем job.
	// Job молча бросается локально: результатом распоряжается новый владелец.
	ErrOwnershipLost = errors.New("job ownership lost")

	// ErrNotFound — ресурс отсутствует на сервисе.
	ErrNotFound = errors.New("not found")

	// ErrOffline — связь с сервисом отсутствует, операция не выполнялась.
	ErrOffline = errors.New("service offline")
)
