package domain

import (
	"time"

	"github.com/google/uuid"
)

// Proposal — предложенное side-effecting действие (human-approval workflow).
//
// Worker, чья capability изменяет внешнее состояние, не выполняет действие
// сам: он создаёт proposal и возвращает управление. Человек одобряет или
// отклоняет предложение через API, и только одобренное действие
// выполняется — тем же tier-3 контрактом, через orchestrator.
//
// Жизненный цикл:
//
//	PROPOSED → APPROVED → EXECUTING → EXECUTED
//	                                ↘ FAILED
//	         ↘ REJECTED
type Proposal struct {
	// ID — уникальный идентификатор proposal.
	ID uuid.UUID `json:"id"`

	// RequestID — request, в рамках которого действие предложено.
	RequestID uuid.UUID `json:"request_id"`

	// TenantID — владелец.
	TenantID uuid.UUID `json:"tenant_id"`

	// Description — человекочитаемое описание действия.
	Description string `json:"description"`

	// ActionType — тип действия для dispatch table исполнителя.
	// Например: "update_price", "create_discount", "send_notification".
	ActionType string `json:"action_type"`

	// Parameters — параметры действия.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Status — текущий статус proposal.
	Status ProposalStatus `json:"status"`

	// ExecutionLogs — журнал выполнения действия (добавляется построчно).
	ExecutionLogs string `json:"execution_logs,omitempty"`

	// ReviewedBy — кто принял решение.
	ReviewedBy string `json:"reviewed_by,omitempty"`

	// ReviewComment — комментарий к решению.
	ReviewComment string `json:"review_comment,omitempty"`

	// ApprovedAt — время одобрения.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	// ExecutedAt — время завершения выполнения.
	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// CanReview возвращает true, если по proposal ещё можно принять решение.
func (p *Proposal) CanReview() bool {
	return p.Status == ProposalStatusProposed
}

// CanExecute возвращает true, если действие можно выполнять.
func (p *Proposal) CanExecute() bool {
	return p.Status == ProposalStatusApproved
}

// Approve одобряет proposal.
func (p *Proposal) Approve(reviewer, comment string) {
	now := time.Now()
	p.Status = ProposalStatusApproved
	p.ReviewedBy = reviewer
	p.ReviewComment = comment
	p.ApprovedAt = &now
	p.UpdatedAt = now
}

// Reject отклоняет proposal.
func (p *Proposal) Reject(reviewer, comment string) {
	now := time.Now()
	p.Status = ProposalStatusRejected
	p.ReviewedBy = reviewer
	p.ReviewComment = comment
	p.UpdatedAt = now
}

// MarkExecuting переводит proposal в статус EXECUTING.
func (p *Proposal) MarkExecuting() {
	p.Status = ProposalStatusExecuting
	p.UpdatedAt = time.Now()
}

// MarkExecuted отмечает действие выполненным.
func (p *Proposal) MarkExecuted() {
	now := time.Now()
	p.Status = ProposalStatusExecuted
	p.ExecutedAt = &now
	p.UpdatedAt = now
}

// MarkExecutionFailed отмечает провал выполнения действия.
func (p *Proposal) MarkExecutionFailed(reason string) {
	now := time.Now()
	p.Status = ProposalStatusFailed
	p.AppendLog("execution failed: " + reason)
	p.ExecutedAt = &now
	p.UpdatedAt = now
}

// AppendLog добавляет строку в журнал выполнения.
func (p *Proposal) AppendLog(line string) {
	if p.ExecutionLogs != "" {
		p.ExecutionLogs += "\n"
	}
	p.ExecutionLogs += time.Now().UTC().Format(time.RFC3339) + " " + line
}
