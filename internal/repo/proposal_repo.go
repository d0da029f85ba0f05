package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Hivemind/internal/domain"
)

// ProposalRepo — репозиторий предложенных действий (human-approval workflow).
type ProposalRepo struct {
	pool *pgxpool.Pool
}

// NewProposalRepo создаёт новый ProposalRepo.
func NewProposalRepo(pool *pgxpool.Pool) *ProposalRepo {
	return &ProposalRepo{pool: pool}
}

// ProposalFilter — фильтр для списка proposals.
type ProposalFilter struct {
	RequestID *uuid.UUID
	TenantID  *uuid.UUID
	Status    *domain.ProposalStatus
	Limit     int
	Offset    int
}

const proposalColumns = `
	id, request_id, tenant_id, description, action_type, parameters,
	status, execution_logs, reviewed_by, review_comment,
	approved_at, executed_at, created_at, updated_at
`

// --- Базовые CRUD ---

// Create создаёт новый proposal.
func (r *ProposalRepo) Create(ctx context.Context, p *domain.Proposal) error {
	paramsJSON, err := json.Marshal(p.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	query := `
		INSERT INTO proposals (
			id, request_id, tenant_id, description, action_type, parameters,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.RequestID,
		p.TenantID,
		p.Description,
		p.ActionType,
		paramsJSON,
		p.Status.String(),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// GetByID возвращает proposal по ID.
func (r *ProposalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	return r.scanProposal(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список proposals с фильтрацией.
func (r *ProposalRepo) List(ctx context.Context, filter ProposalFilter) ([]domain.Proposal, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.RequestID != nil {
		conditions = append(conditions, fmt.Sprintf("request_id = $%d", argNum))
		args = append(args, *filter.RequestID)
		argNum++
	}
	if filter.TenantID != nil {
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", argNum))
		args = append(args, *filter.TenantID)
		argNum++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, filter.Status.String())
		argNum++
	}

	query := `SELECT ` + proposalColumns + ` FROM proposals`

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	return r.scanProposals(rows)
}

// ListByRequestID возвращает proposals конкретного request.
func (r *ProposalRepo) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.Proposal, error) {
	return r.List(ctx, ProposalFilter{RequestID: &requestID})
}

// ListByStatus возвращает proposals в определённом статусе.
func (r *ProposalRepo) ListByStatus(ctx context.Context, status domain.ProposalStatus) ([]domain.Proposal, error) {
	return r.List(ctx, ProposalFilter{Status: &status})
}

// --- Approval workflow операции ---

// Approve одобряет proposal (PROPOSED → APPROVED).
func (r *ProposalRepo) Approve(ctx context.Context, id uuid.UUID, reviewer, comment string) error {
	query := `
		UPDATE proposals
		SET status = 'APPROVED',
			reviewed_by = $2,
			review_comment = $3,
			approved_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'PROPOSED'
	`
	result, err := r.pool.Exec(ctx, query, id, reviewer, comment)
	if err != nil {
		return fmt.Errorf("approve proposal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Reject отклоняет proposal (PROPOSED → REJECTED).
func (r *ProposalRepo) Reject(ctx context.Context, id uuid.UUID, reviewer, comment string) error {
	query := `
		UPDATE proposals
		SET status = 'REJECTED',
			reviewed_by = $2,
			review_comment = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = 'PROPOSED'
	`
	result, err := r.pool.Exec(ctx, query, id, reviewer, comment)
	if err != nil {
		return fmt.Errorf("reject proposal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ClaimExecuting атомарно забирает одобренный proposal в выполнение
// (APPROVED → EXECUTING). Ровно один исполнитель выигрывает.
func (r *ProposalRepo) ClaimExecuting(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE proposals
		SET status = 'EXECUTING', updated_at = NOW()
		WHERE id = $1 AND status = 'APPROVED'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("claim proposal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkExecuted отмечает действие выполненным (EXECUTING → EXECUTED).
func (r *ProposalRepo) MarkExecuted(ctx context.Context, id uuid.UUID, logs string) error {
	query := `
		UPDATE proposals
		SET status = 'EXECUTED',
			execution_logs = $2,
			executed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'EXECUTING'
	`
	result, err := r.pool.Exec(ctx, query, id, logs)
	if err != nil {
		return fmt.Errorf("mark proposal executed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkExecutionFailed отмечает провал выполнения (EXECUTING → FAILED).
func (r *ProposalRepo) MarkExecutionFailed(ctx context.Context, id uuid.UUID, logs string) error {
	query := `
		UPDATE proposals
		SET status = 'FAILED',
			execution_logs = $2,
			executed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'EXECUTING'
	`
	result, err := r.pool.Exec(ctx, query, id, logs)
	if err != nil {
		return fmt.Errorf("mark proposal failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// --- Вспомогательные методы ---

// scanProposal сканирует одну строку в Proposal.
func (r *ProposalRepo) scanProposal(row pgx.Row) (*domain.Proposal, error) {
	var p domain.Proposal
	var paramsJSON []byte
	var statusStr string
	var logs, reviewedBy, reviewComment *string

	err := row.Scan(
		&p.ID,
		&p.RequestID,
		&p.TenantID,
		&p.Description,
		&p.ActionType,
		&paramsJSON,
		&statusStr,
		&logs,
		&reviewedBy,
		&reviewComment,
		&p.ApprovedAt,
		&p.ExecutedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan proposal: %w", err)
	}

	return r.fillProposal(&p, paramsJSON, statusStr, logs, reviewedBy, reviewComment)
}

// scanProposals сканирует несколько строк в []Proposal.
func (r *ProposalRepo) scanProposals(rows pgx.Rows) ([]domain.Proposal, error) {
	var proposals []domain.Proposal

	for rows.Next() {
		var p domain.Proposal
		var paramsJSON []byte
		var statusStr string
		var logs, reviewedBy, reviewComment *string

		err := rows.Scan(
			&p.ID,
			&p.RequestID,
			&p.TenantID,
			&p.Description,
			&p.ActionType,
			&paramsJSON,
			&statusStr,
			&logs,
			&reviewedBy,
			&reviewComment,
			&p.ApprovedAt,
			&p.ExecutedAt,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}

		filled, err := r.fillProposal(&p, paramsJSON, statusStr, logs, reviewedBy, reviewComment)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *filled)
	}

	return proposals, rows.Err()
}

func (r *ProposalRepo) fillProposal(p *domain.Proposal, paramsJSON []byte, statusStr string, logs, reviewedBy, reviewComment *string) (*domain.Proposal, error) {
	p.Status = domain.ParseProposalStatus(statusStr)

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &p.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if logs != nil {
		p.ExecutionLogs = *logs
	}
	if reviewedBy != nil {
		p.ReviewedBy = *reviewedBy
	}
	if reviewComment != nil {
		p.ReviewComment = *reviewComment
	}
	return p, nil
}
