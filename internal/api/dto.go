package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
)

// Request DTOs

// SubmitRequestRequest — запрос на создание request.
type SubmitRequestRequest struct {
	Kind           string         `json:"kind"`
	Params         map[string]any `json:"params,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// RequestResponse — ответ с request.
type RequestResponse struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	Kind           string         `json:"kind"`
	Params         map[string]any `json:"params,omitempty"`
	Status         string         `json:"status"`
	ResultSummary  string         `json:"result_summary,omitempty"`
	ResultData     map[string]any `json:"result_data,omitempty"`
	Error          string         `json:"error,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RequestFromDomain конвертирует domain.Request в RequestResponse.
func RequestFromDomain(r domain.Request) RequestResponse {
	return RequestResponse{
		ID:             r.ID,
		TenantID:       r.TenantID,
		Kind:           r.Kind,
		Params:         r.Params,
		Status:         string(r.Status),
		ResultSummary:  r.ResultSummary,
		ResultData:     r.ResultData,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		CreatedAt:      r.CreatedAt,
	}
}

// Task DTOs

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID         uuid.UUID      `json:"id"`
	RequestID  uuid.UUID      `json:"request_id"`
	Department string         `json:"department"`
	Sequence   int            `json:"sequence"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Status     string         `json:"status"`
	RetryCount int            `json:"retry_count"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	dependsOn := make([]string, len(t.DependsOn))
	for i, d := range t.DependsOn {
		dependsOn[i] = string(d)
	}
	return TaskResponse{
		ID:         t.ID,
		RequestID:  t.RequestID,
		Department: string(t.Department),
		Sequence:   t.Sequence,
		DependsOn:  dependsOn,
		Status:     string(t.Status),
		RetryCount: t.RetryCount,
		Output:     t.Output,
		Error:      t.Error,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		CreatedAt:  t.CreatedAt,
	}
}

// Proposal DTOs

// ReviewProposalRequest — решение по proposal.
type ReviewProposalRequest struct {
	ReviewedBy string `json:"reviewed_by"`
	Comment    string `json:"comment,omitempty"`
}

// ProposalResponse — ответ с proposal.
type ProposalResponse struct {
	ID            uuid.UUID      `json:"id"`
	RequestID     uuid.UUID      `json:"request_id"`
	TenantID      uuid.UUID      `json:"tenant_id"`
	Description   string         `json:"description"`
	ActionType    string         `json:"action_type"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Status        string         `json:"status"`
	ExecutionLogs string         `json:"execution_logs,omitempty"`
	ReviewedBy    string         `json:"reviewed_by,omitempty"`
	ReviewComment string         `json:"review_comment,omitempty"`
	ApprovedAt    *time.Time     `json:"approved_at,omitempty"`
	ExecutedAt    *time.Time     `json:"executed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ProposalFromDomain конвертирует domain.Proposal в ProposalResponse.
func ProposalFromDomain(p domain.Proposal) ProposalResponse {
	return ProposalResponse{
		ID:            p.ID,
		RequestID:     p.RequestID,
		TenantID:      p.TenantID,
		Description:   p.Description,
		ActionType:    p.ActionType,
		Parameters:    p.Parameters,
		Status:        string(p.Status),
		ExecutionLogs: p.ExecutionLogs,
		ReviewedBy:    p.ReviewedBy,
		ReviewComment: p.ReviewComment,
		ApprovedAt:    p.ApprovedAt,
		ExecutedAt:    p.ExecutedAt,
		CreatedAt:     p.CreatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Params      map[string]any `json:"params,omitempty"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	Kind        *string         `json:"kind,omitempty"`
	Params      *map[string]any `json:"params,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID            uuid.UUID      `json:"id"`
	TenantID      uuid.UUID      `json:"tenant_id"`
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	Params        map[string]any `json:"params,omitempty"`
	CronExpr      string         `json:"cron_expr,omitempty"`
	IntervalSec   int            `json:"interval_sec,omitempty"`
	Timezone      string         `json:"timezone"`
	Enabled       bool           `json:"enabled"`
	NextDueAt     *time.Time     `json:"next_due_at,omitempty"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	LastRequestID *uuid.UUID     `json:"last_request_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:            s.ID,
		TenantID:      s.TenantID,
		Name:          s.Name,
		Kind:          s.Kind,
		Params:        s.Params,
		CronExpr:      s.CronExpr,
		IntervalSec:   s.IntervalSec,
		Timezone:      s.Timezone,
		Enabled:       s.Enabled,
		NextDueAt:     s.NextDueAt,
		LastRunAt:     s.LastRunAt,
		LastRequestID: s.LastRequestID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
