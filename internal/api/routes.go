package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
//
// extra — дополнительные middleware (например, Metrics); применяются
// после Recovery и Logging.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, extra ...Middleware) {
	middlewares := append([]Middleware{
		Recovery(h.logger),
		Logging(h.logger),
	}, extra...)
	chain := Chain(middlewares...)

	// Jobs
	mux.Handle("GET /api/v1/jobs", chain(http.HandlerFunc(h.ListJobs)))
	mux.Handle("POST /api/v1/jobs", chain(http.HandlerFunc(h.SubmitJob)))
	mux.Handle("GET /api/v1/jobs/{id}", chain(http.HandlerFunc(h.GetJob)))
	mux.Handle("POST /api/v1/jobs/{id}/cancel", chain(http.HandlerFunc(h.CancelJob)))
	mux.Handle("GET /api/v1/stats", chain(http.HandlerFunc(h.QueueStats)))

	// Workflows
	mux.Handle("GET /api/v1/workflows", chain(http.HandlerFunc(h.ListWorkflows)))
	mux.Handle("POST /api/v1/workflows", chain(http.HandlerFunc(h.CreateWorkflow)))
	mux.Handle("GET /api/v1/workflows/{id}", chain(http.HandlerFunc(h.GetWorkflow)))
	mux.Handle("PUT /api/v1/workflows/{id}", chain(http.HandlerFunc(h.UpdateWorkflow)))
	mux.Handle("DELETE /api/v1/workflows/{id}", chain(http.HandlerFunc(h.DeleteWorkflow)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/workflows/{id}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))

	// Robot protocol
	mux.Handle("POST /api/v1/robot/register", chain(http.HandlerFunc(h.RegisterRobot)))
	mux.Handle("POST /api/v1/robot/claims", chain(http.HandlerFunc(h.ClaimJobs)))
	mux.Handle("POST /api/v1/robot/jobs/{id}/lease", chain(http.HandlerFunc(h.ExtendLease)))
	mux.Handle("POST /api/v1/robot/jobs/{id}/complete", chain(http.HandlerFunc(h.CompleteJob)))
	mux.Handle("POST /api/v1/robot/jobs/{id}/fail", chain(http.HandlerFunc(h.FailJob)))
	mux.Handle("POST /api/v1/robot/jobs/{id}/release", chain(http.HandlerFunc(h.ReleaseJob)))
	mux.Handle("POST /api/v1/robot/jobs/{id}/cancelled", chain(http.HandlerFunc(h.CancelledJob)))
	mux.Handle("GET /api/v1/robots", chain(http.HandlerFunc(h.ListRobots)))
}
