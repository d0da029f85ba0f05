package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxTaskRetries — потолок повторных попыток для задачи.
// Достижение потолка принудительно переводит задачу в FAILED.
const MaxTaskRetries = 5

// Task — делегированная единица работы для одного department.
//
// Task создаётся orchestrator'ом на фазе PLANNING и выполняется
// supervisor'ом соответствующего department. Retry count строго растёт
// и сравнивается с потолком MaxTaskRetries.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// RequestID — ссылка на родительский request.
	RequestID uuid.UUID `json:"request_id"`

	// TenantID — владелец (копия Request.TenantID для сообщений очереди).
	TenantID uuid.UUID `json:"tenant_id"`

	// Department — идентификатор department, которому назначена задача.
	Department Department `json:"department"`

	// Sequence — порядковый номер назначения в плане.
	// Определяет детерминированный порядок слияния результатов.
	Sequence int `json:"sequence"`

	// DependsOn — departments, чьи результаты нужны этой задаче.
	// Задача диспетчеризуется только после их завершения.
	DependsOn []Department `json:"depends_on,omitempty"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// RetryCount — количество провалившихся попыток.
	RetryCount int `json:"retry_count"`

	// Input — входные данные задачи (из плана, с подстановкой
	// результатов upstream departments).
	Input map[string]any `json:"input,omitempty"`

	// Output — результат выполнения задачи.
	// Заполняется supervisor'ом после успешного завершения.
	Output map[string]any `json:"output,omitempty"`

	// Error — текст последней ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// StartedAt — время первого перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения терминального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task завершён.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// CanRetry проверяет, можно ли сделать ещё одну попытку.
func (t *Task) CanRetry() bool {
	return t.RetryCount < MaxTaskRetries
}

// MarkRunning переводит task в статус RUNNING.
func (t *Task) MarkRunning() {
	now := time.Now()
	t.Status = TaskStatusRunning
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.UpdatedAt = now
}

// MarkRetrying фиксирует провалившуюся попытку и переводит task в RETRYING.
func (t *Task) MarkRetrying(err string) {
	t.Status = TaskStatusRetrying
	t.RetryCount++
	t.Error = err
	t.UpdatedAt = time.Now()
}

// MarkCompleted переводит task в статус COMPLETED с результатом.
func (t *Task) MarkCompleted(output map[string]any) {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.Output = output
	t.Error = ""
	t.FinishedAt = &now
	t.UpdatedAt = now
}

// MarkFailed переводит task в статус FAILED с ошибкой.
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.Error = err
	t.FinishedAt = &now
	t.UpdatedAt = now
}

// MarkCancelled переводит task в статус CANCELLED.
// Применяется только к ещё не диспетчеризованным задачам.
func (t *Task) MarkCancelled() {
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.FinishedAt = &now
	t.UpdatedAt = now
}
