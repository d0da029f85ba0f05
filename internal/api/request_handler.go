package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/repo"
)

// tenantHeader — заголовок с идентификатором tenant.
const tenantHeader = "X-Tenant-ID"

// tenantID извлекает tenant из заголовка запроса.
func tenantID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(tenantHeader)
	if raw == "" {
		return uuid.Nil, errors.New("missing " + tenantHeader + " header")
	}
	return uuid.Parse(raw)
}

// ListRequests возвращает список requests с фильтрацией.
// GET /api/v1/requests?status=...&limit=...&offset=...
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	filter := repo.RequestFilter{TenantID: &tenant}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RequestStatus(status)
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = mustParseInt(limitStr, 50)
	} else {
		filter.Limit = 50
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = mustParseInt(offsetStr, 0)
	}

	requests, err := h.requestRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RequestResponse, len(requests))
	for i, req := range requests {
		result[i] = RequestFromDomain(req)
	}

	List(w, result, len(result))
}

// SubmitRequest создаёт новый request на анализ.
// POST /api/v1/requests
//
// Повторный submit с тем же idempotency key возвращает существующий
// request вместо создания дубликата.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	var req SubmitRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Kind == "" {
		BadRequest(w, "kind is required")
		return
	}

	if req.IdempotencyKey != "" {
		existing, err := h.requestRepo.GetByIdempotencyKey(r.Context(), tenant, req.IdempotencyKey)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			InternalError(w, h.logger, err)
			return
		}
		if existing != nil {
			Success(w, RequestFromDomain(*existing))
			return
		}
	}

	request := &domain.Request{
		ID:             uuid.New(),
		TenantID:       tenant,
		Kind:           req.Kind,
		Params:         req.Params,
		Status:         domain.RequestStatusPending,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := h.requestRepo.Create(r.Context(), request); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) && req.IdempotencyKey != "" {
			// Гонка двух submit с одним ключом — отдаём победителя
			existing, getErr := h.requestRepo.GetByIdempotencyKey(r.Context(), tenant, req.IdempotencyKey)
			if getErr == nil && existing != nil {
				Success(w, RequestFromDomain(*existing))
				return
			}
		}
		InternalError(w, h.logger, err)
		return
	}

	// Best effort: orchestrator подхватит request через polling,
	// даже если публикация не удалась
	if h.publisher != nil {
		if err := h.publisher.PublishRequestSubmitted(r.Context(), request.ID, tenant); err != nil {
			h.logger.Warn("failed to publish request submitted",
				"request_id", request.ID,
				"error", err,
			)
		}
	}

	Created(w, RequestFromDomain(*request))
}

// GetRequest возвращает request по ID.
// GET /api/v1/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	request, err := h.requestRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	Success(w, RequestFromDomain(*request))
}

// CancelRequest запрашивает отмену request.
// POST /api/v1/requests/{id}/cancel
//
// Отмена кооперативная: статус становится CANCELLED сразу, orchestrator
// и supervisors прекращают работу на ближайшей контрольной точке.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	if err := h.requestRepo.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrTerminal) {
			InvalidState(w, "request is already finished")
			return
		}
		if HandleRepoError(w, h.logger, err, "request not found") {
			return
		}
	}

	request, err := h.requestRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	h.notifier.RequestStatus(r.Context(), request.ID, request.TenantID,
		string(domain.RequestStatusCancelled), "")

	Success(w, RequestFromDomain(*request))
}

// ListRequestTasks возвращает задачи request.
// GET /api/v1/requests/{id}/tasks
func (h *Handler) ListRequestTasks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	// Проверяем, что request существует
	_, err = h.requestRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	tasks, err := h.taskRepo.ListByRequestID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}

	List(w, result, len(result))
}

// ListRequestProposals возвращает proposals request.
// GET /api/v1/requests/{id}/proposals
func (h *Handler) ListRequestProposals(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	proposals, err := h.proposalRepo.ListByRequestID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ProposalResponse, len(proposals))
	for i, p := range proposals {
		result[i] = ProposalFromDomain(p)
	}

	List(w, result, len(result))
}

// mustParseInt парсит строку в int с дефолтным значением.
func mustParseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
