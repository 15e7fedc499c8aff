// Package api содержит HTTP API сервера очереди.
//
// Структура:
//   - handler.go           — Handler с DI (хранилища, publisher, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, recovery, metrics)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - job_handler.go       — постановка, просмотр и отмена jobs
//   - robot_handler.go     — протокол роботов: register, claim, lease, отчёты
//   - workflow_handler.go  — CRUD workflows
//   - schedule_handler.go  — CRUD schedules
//
// Endpoints делятся на два круга: управляющий (jobs, workflows, schedules,
// stats) и робот-протокол под /api/v1/robot/. Второй — wire-контракт
// robot.Client; ошибки владения там всегда 409 OWNERSHIP_LOST.
package api
