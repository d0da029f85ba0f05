package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/repo"
)

// ListProposals возвращает список proposals с фильтрацией.
// GET /api/v1/proposals?status=...&limit=...&offset=...
func (h *Handler) ListProposals(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	filter := repo.ProposalFilter{TenantID: &tenant}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := domain.ProposalStatus(statusStr)
		filter.Status = &status
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = mustParseInt(limitStr, 50)
	} else {
		filter.Limit = 50
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = mustParseInt(offsetStr, 0)
	}

	proposals, err := h.proposalRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ProposalResponse, len(proposals))
	for i, p := range proposals {
		result[i] = ProposalFromDomain(p)
	}

	List(w, result, len(result))
}

// GetProposal возвращает proposal по ID.
// GET /api/v1/proposals/{id}
func (h *Handler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid proposal id")
		return
	}

	proposal, err := h.proposalRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "proposal not found") {
		return
	}

	Success(w, ProposalFromDomain(*proposal))
}

// ApproveProposal одобряет proposal и инициирует выполнение действия.
// POST /api/v1/proposals/{id}/approve
//
// Одобрение — CAS: только PROPOSED может стать APPROVED.
// Дубликат решения получает 422.
func (h *Handler) ApproveProposal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid proposal id")
		return
	}

	var req ReviewProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.ReviewedBy == "" {
		BadRequest(w, "reviewed_by is required")
		return
	}

	if err := h.proposalRepo.Approve(r.Context(), id, req.ReviewedBy, req.Comment); err != nil {
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrTerminal) {
			InvalidState(w, "proposal is not awaiting review")
			return
		}
		if HandleRepoError(w, h.logger, err, "proposal not found") {
			return
		}
	}

	proposal, err := h.proposalRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "proposal not found") {
		return
	}

	// Выполняет действие orchestrator; polling-fallback нет, но
	// одобренный proposal остаётся APPROVED и виден в списках
	if h.publisher != nil {
		if err := h.publisher.PublishProposalApproved(r.Context(), proposal.ID, proposal.RequestID); err != nil {
			h.logger.Warn("failed to publish proposal approved",
				"proposal_id", proposal.ID,
				"error", err,
			)
		}
	}

	h.notifier.ProposalStatus(r.Context(), proposal.ID, proposal.TenantID,
		string(domain.ProposalStatusApproved))

	Success(w, ProposalFromDomain(*proposal))
}

// RejectProposal отклоняет proposal.
// POST /api/v1/proposals/{id}/reject
func (h *Handler) RejectProposal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid proposal id")
		return
	}

	var req ReviewProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.ReviewedBy == "" {
		BadRequest(w, "reviewed_by is required")
		return
	}

	if err := h.proposalRepo.Reject(r.Context(), id, req.ReviewedBy, req.Comment); err != nil {
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrTerminal) {
			InvalidState(w, "proposal is not awaiting review")
			return
		}
		if HandleRepoError(w, h.logger, err, "proposal not found") {
			return
		}
	}

	proposal, err := h.proposalRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "proposal not found") {
		return
	}

	h.notifier.ProposalStatus(r.Context(), proposal.ID, proposal.TenantID,
		string(domain.ProposalStatusRejected))

	Success(w, ProposalFromDomain(*proposal))
}
