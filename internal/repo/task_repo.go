package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Hivemind/internal/domain"
)

// TaskRepo — репозиторий для работы с делегированными задачами.
//
// Переходы статуса задачи конкурентны (дубликаты доставки, retry),
// поэтому выполняются условными UPDATE. Повторная обработка уже
// терминальной задачи — no-op с ErrTerminal.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `
	id, request_id, tenant_id, department, sequence, depends_on, status,
	retry_count, input, output, error, started_at, finished_at,
	created_at, updated_at
`

// Create создаёт новую задачу.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	inputJSON, err := json.Marshal(task.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	dependsOn := make([]string, len(task.DependsOn))
	for i, d := range task.DependsOn {
		dependsOn[i] = string(d)
	}

	query := `
		INSERT INTO tasks (id, request_id, tenant_id, department, sequence, depends_on,
		                   status, retry_count, input, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		task.RequestID,
		task.TenantID,
		task.Department,
		task.Sequence,
		dependsOn,
		task.Status,
		task.RetryCount,
		inputJSON,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает задачу по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return r.scanTask(r.pool.QueryRow(ctx, query, id))
}

// ListByRequestID возвращает все задачи request в порядке назначения.
func (r *TaskRepo) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE request_id = $1
		ORDER BY sequence ASC
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by request_id: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := r.scanTaskFromRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// GetByRequestAndDepartment возвращает задачу request для department.
func (r *TaskRepo) GetByRequestAndDepartment(ctx context.Context, requestID uuid.UUID, dept domain.Department) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE request_id = $1 AND department = $2`
	return r.scanTask(r.pool.QueryRow(ctx, query, requestID, dept))
}

// ListPendingByDepartment возвращает PENDING задачи department
// в порядке создания. Polling-fallback для supervisor: задачи,
// чья публикация потерялась, всё равно будут выполнены.
func (r *TaskRepo) ListPendingByDepartment(ctx context.Context, dept domain.Department, limit int) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE department = $1 AND status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, dept, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := r.scanTaskFromRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// ClaimRunning атомарно забирает задачу в выполнение
// (PENDING или RETRYING → RUNNING). Дубликат доставки проигрывает CAS
// и обязан воздержаться от побочных эффектов.
func (r *TaskRepo) ClaimRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = 'RUNNING',
		    started_at = COALESCE(started_at, NOW()),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.classifyClaimFailure(ctx, id)
	}
	return nil
}

// MarkRetrying фиксирует провалившуюся попытку (RUNNING → RETRYING).
// retry_count строго растёт; потолок контролирует supervisor.
func (r *TaskRepo) MarkRetrying(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = 'RETRYING', retry_count = $2, error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'RUNNING' AND retry_count < $2
	`
	result, err := r.pool.Exec(ctx, query, id, retryCount, domain.TruncateError(errMsg))
	if err != nil {
		return fmt.Errorf("mark task retrying: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Complete переводит задачу в COMPLETED с результатом (RUNNING → COMPLETED).
func (r *TaskRepo) Complete(ctx context.Context, id uuid.UUID, output map[string]any) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = 'COMPLETED', output = $2, error = NULL,
		    finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'
	`
	result, err := r.pool.Exec(ctx, query, id, outputJSON)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Fail переводит задачу в FAILED с ошибкой.
func (r *TaskRepo) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = 'FAILED', error = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('RUNNING', 'RETRYING')
	`
	result, err := r.pool.Exec(ctx, query, id, domain.TruncateError(errMsg))
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Cancel отменяет выполняющуюся задачу (RUNNING → CANCELLED).
// Используется supervisor'ом, когда request отменили во время
// выполнения: результат попытки отбрасывается.
func (r *TaskRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = 'CANCELLED', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('RUNNING', 'RETRYING')
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// CancelNonTerminal отменяет все нетерминальные задачи request.
// Возвращает количество отменённых. Уже выполняющиеся задачи
// не прерываются — их результат отбросится при write-back.
func (r *TaskRepo) CancelNonTerminal(ctx context.Context, requestID uuid.UUID) (int, error) {
	query := `
		UPDATE tasks
		SET status = 'CANCELLED', finished_at = NOW(), updated_at = NOW()
		WHERE request_id = $1 AND status IN ('PENDING', 'RETRYING')
	`
	result, err := r.pool.Exec(ctx, query, requestID)
	if err != nil {
		return 0, fmt.Errorf("cancel tasks: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// CountByRequestAndStatus возвращает количество задач request по статусу.
func (r *TaskRepo) CountByRequestAndStatus(ctx context.Context, requestID uuid.UUID, status domain.TaskStatus) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks WHERE request_id = $1 AND status = $2
	`, requestID, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

// classifyClaimFailure различает проигранный CAS: задача не существует,
// уже терминальна или уже выполняется.
func (r *TaskRepo) classifyClaimFailure(ctx context.Context, id uuid.UUID) error {
	var status domain.TaskStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get task status: %w", err)
	}
	if status.IsTerminal() {
		return ErrTerminal
	}
	return ErrInvalidState
}

// --- Helpers ---

func (r *TaskRepo) scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var inputJSON, outputJSON []byte
	var dependsOn []string
	var taskError *string

	err := row.Scan(
		&task.ID,
		&task.RequestID,
		&task.TenantID,
		&task.Department,
		&task.Sequence,
		&dependsOn,
		&task.Status,
		&task.RetryCount,
		&inputJSON,
		&outputJSON,
		&taskError,
		&task.StartedAt,
		&task.FinishedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	return r.fillTask(&task, inputJSON, outputJSON, dependsOn, taskError)
}

func (r *TaskRepo) scanTaskFromRows(rows pgx.Rows) (*domain.Task, error) {
	var task domain.Task
	var inputJSON, outputJSON []byte
	var dependsOn []string
	var taskError *string

	err := rows.Scan(
		&task.ID,
		&task.RequestID,
		&task.TenantID,
		&task.Department,
		&task.Sequence,
		&dependsOn,
		&task.Status,
		&task.RetryCount,
		&inputJSON,
		&outputJSON,
		&taskError,
		&task.StartedAt,
		&task.FinishedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	return r.fillTask(&task, inputJSON, outputJSON, dependsOn, taskError)
}

func (r *TaskRepo) fillTask(task *domain.Task, inputJSON, outputJSON []byte, dependsOn []string, taskError *string) (*domain.Task, error) {
	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &task.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &task.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if len(dependsOn) > 0 {
		task.DependsOn = make([]domain.Department, len(dependsOn))
		for i, d := range dependsOn {
			task.DependsOn[i] = domain.Department(d)
		}
	}
	if taskError != nil {
		task.Error = *taskError
	}
	return task, nil
}
