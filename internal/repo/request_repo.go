package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Hivemind/internal/domain"
)

// RequestRepo — репозиторий для работы с requests.
//
// Все конкурентные переходы статуса выполняются условными UPDATE
// (WHERE status = ...): проигравший CAS получает ErrInvalidState
// и обязан no-op'нуть.
type RequestRepo struct {
	pool *pgxpool.Pool
}

// NewRequestRepo создаёт новый RequestRepo.
func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool}
}

const requestColumns = `
	id, tenant_id, kind, params, status, result_summary, result_data,
	error, checkpoint, idempotency_key, started_at, completed_at,
	created_at, updated_at
`

// Create создаёт новый request.
func (r *RequestRepo) Create(ctx context.Context, req *domain.Request) error {
	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	query := `
		INSERT INTO requests (id, tenant_id, kind, params, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		req.ID,
		req.TenantID,
		req.Kind,
		paramsJSON,
		req.Status,
		nullString(req.IdempotencyKey),
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает request по ID.
func (r *RequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	return r.scanRequest(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает request по ключу идемпотентности.
func (r *RequestRepo) GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE tenant_id = $1 AND idempotency_key = $2`
	return r.scanRequest(r.pool.QueryRow(ctx, query, tenantID, key))
}

// List возвращает список requests с фильтрацией.
func (r *RequestRepo) List(ctx context.Context, filter RequestFilter) ([]domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE ($1::uuid IS NULL OR tenant_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.TenantID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		req, err := r.scanRequestFromRows(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ListPending возвращает requests в статусе PENDING.
// Используется polling fallback'ом orchestrator'а.
func (r *RequestRepo) ListPending(ctx context.Context, limit int) ([]domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		req, err := r.scanRequestFromRows(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ListStale возвращает PROCESSING requests с истёкшей арендой.
// Такие requests осиротели после падения orchestrator'а
// и подлежат resumption.
func (r *RequestRepo) ListStale(ctx context.Context, now time.Time, limit int) ([]domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status = 'PROCESSING' AND (lease_until IS NULL OR lease_until < $1)
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		req, err := r.scanRequestFromRows(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ClaimPending атомарно забирает PENDING request в обработку
// (PENDING → PROCESSING + аренда). Ровно один вызов выигрывает,
// остальные получают ErrInvalidState.
func (r *RequestRepo) ClaimPending(ctx context.Context, id, claimedBy uuid.UUID, leaseUntil time.Time) error {
	query := `
		UPDATE requests
		SET status = 'PROCESSING', claimed_by = $2, lease_until = $3,
		    started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := r.pool.Exec(ctx, query, id, claimedBy, leaseUntil)
	if err != nil {
		return fmt.Errorf("claim pending request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ClaimStale атомарно перехватывает PROCESSING request с истёкшей
// арендой. Гарантирует ровно одного resumer'а на request.
func (r *RequestRepo) ClaimStale(ctx context.Context, id, claimedBy uuid.UUID, now, leaseUntil time.Time) error {
	query := `
		UPDATE requests
		SET claimed_by = $2, lease_until = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
		  AND (lease_until IS NULL OR lease_until < $4)
	`
	result, err := r.pool.Exec(ctx, query, id, claimedBy, leaseUntil, now)
	if err != nil {
		return fmt.Errorf("claim stale request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// RefreshLease продлевает аренду на границе фаз.
// ErrInvalidState означает, что аренду перехватил другой resumer —
// текущий обязан остановиться.
func (r *RequestRepo) RefreshLease(ctx context.Context, id, claimedBy uuid.UUID, leaseUntil time.Time) error {
	query := `
		UPDATE requests
		SET lease_until = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING' AND claimed_by = $2
	`
	result, err := r.pool.Exec(ctx, query, id, claimedBy, leaseUntil)
	if err != nil {
		return fmt.Errorf("refresh lease: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// SaveCheckpoint записывает checkpoint (write-ahead, до диспетчеризации).
// Checkpoint терминального request не перезаписывается.
func (r *RequestRepo) SaveCheckpoint(ctx context.Context, id uuid.UUID, cp *domain.Checkpoint) error {
	cpJSON, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	query := `
		UPDATE requests
		SET checkpoint = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	result, err := r.pool.Exec(ctx, query, id, cpJSON)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Complete переводит request в COMPLETED с результатом
// (PROCESSING → COMPLETED). Поздний вызов для уже терминального
// request возвращает ErrTerminal, результат отбрасывается.
func (r *RequestRepo) Complete(ctx context.Context, id uuid.UUID, summary string, data map[string]any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal result data: %w", err)
	}

	query := `
		UPDATE requests
		SET status = 'COMPLETED', result_summary = $2, result_data = $3,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	result, err := r.pool.Exec(ctx, query, id, summary, dataJSON)
	if err != nil {
		return fmt.Errorf("complete request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

// Fail переводит request в FAILED с консолидированной ошибкой.
func (r *RequestRepo) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE requests
		SET status = 'FAILED', error = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`
	result, err := r.pool.Exec(ctx, query, id, domain.TruncateError(errMsg))
	if err != nil {
		return fmt.Errorf("fail request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

// Cancel переводит request в CANCELLED.
// Разрешено только из PENDING или PROCESSING.
func (r *RequestRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE requests
		SET status = 'CANCELLED', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// GetStatus возвращает только статус request (дешёвая проверка отмены
// на границах фаз).
func (r *RequestRepo) GetStatus(ctx context.Context, id uuid.UUID) (domain.RequestStatus, error) {
	var status domain.RequestStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM requests WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get request status: %w", err)
	}
	return status, nil
}

// --- Helpers ---

// RequestFilter — параметры фильтрации requests.
type RequestFilter struct {
	TenantID *uuid.UUID
	Status   domain.RequestStatus
	Limit    int
	Offset   int
}

// scanRequest сканирует одну строку в Request.
func (r *RequestRepo) scanRequest(row pgx.Row) (*domain.Request, error) {
	var req domain.Request
	var paramsJSON, resultDataJSON, checkpointJSON []byte
	var summary, reqError, idempotencyKey *string

	err := row.Scan(
		&req.ID,
		&req.TenantID,
		&req.Kind,
		&paramsJSON,
		&req.Status,
		&summary,
		&resultDataJSON,
		&reqError,
		&checkpointJSON,
		&idempotencyKey,
		&req.StartedAt,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}

	return r.fillRequest(&req, paramsJSON, resultDataJSON, checkpointJSON, summary, reqError, idempotencyKey)
}

// scanRequestFromRows сканирует строку из rows в Request.
func (r *RequestRepo) scanRequestFromRows(rows pgx.Rows) (*domain.Request, error) {
	var req domain.Request
	var paramsJSON, resultDataJSON, checkpointJSON []byte
	var summary, reqError, idempotencyKey *string

	err := rows.Scan(
		&req.ID,
		&req.TenantID,
		&req.Kind,
		&paramsJSON,
		&req.Status,
		&summary,
		&resultDataJSON,
		&reqError,
		&checkpointJSON,
		&idempotencyKey,
		&req.StartedAt,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}

	return r.fillRequest(&req, paramsJSON, resultDataJSON, checkpointJSON, summary, reqError, idempotencyKey)
}

// fillRequest распаковывает JSONB поля и nullable строки.
func (r *RequestRepo) fillRequest(req *domain.Request, paramsJSON, resultDataJSON, checkpointJSON []byte, summary, reqError, idempotencyKey *string) (*domain.Request, error) {
	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &req.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if resultDataJSON != nil {
		if err := json.Unmarshal(resultDataJSON, &req.ResultData); err != nil {
			return nil, fmt.Errorf("unmarshal result data: %w", err)
		}
	}
	if len(checkpointJSON) > 0 {
		var cp domain.Checkpoint
		if err := json.Unmarshal(checkpointJSON, &cp); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		req.Checkpoint = &cp
	}
	if summary != nil {
		req.ResultSummary = *summary
	}
	if reqError != nil {
		req.Error = *reqError
	}
	if idempotencyKey != nil {
		req.IdempotencyKey = *idempotencyKey
	}
	return req, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
