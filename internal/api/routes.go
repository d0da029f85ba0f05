package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Requests
	mux.Handle("GET /api/v1/requests", chain(http.HandlerFunc(h.ListRequests)))
	mux.Handle("POST /api/v1/requests", chain(http.HandlerFunc(h.SubmitRequest)))
	mux.Handle("GET /api/v1/requests/{id}", chain(http.HandlerFunc(h.GetRequest)))
	mux.Handle("POST /api/v1/requests/{id}/cancel", chain(http.HandlerFunc(h.CancelRequest)))
	mux.Handle("GET /api/v1/requests/{id}/tasks", chain(http.HandlerFunc(h.ListRequestTasks)))
	mux.Handle("GET /api/v1/requests/{id}/proposals", chain(http.HandlerFunc(h.ListRequestProposals)))

	// Proposals
	mux.Handle("GET /api/v1/proposals", chain(http.HandlerFunc(h.ListProposals)))
	mux.Handle("GET /api/v1/proposals/{id}", chain(http.HandlerFunc(h.GetProposal)))
	mux.Handle("POST /api/v1/proposals/{id}/approve", chain(http.HandlerFunc(h.ApproveProposal)))
	mux.Handle("POST /api/v1/proposals/{id}/reject", chain(http.HandlerFunc(h.RejectProposal)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}
