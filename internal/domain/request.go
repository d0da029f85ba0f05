package domain

import (
	"time"

	"github.com/google/uuid"
)

// maxErrorLen — потолок длины консолидированной ошибки request.
// Детали по задачам остаются в task store, request хранит краткую сводку.
const maxErrorLen = 1000

// Request — верхнеуровневая единица работы, инициированная tenant'ом.
//
// Request создаётся когда:
// - Tenant отправляет запрос на анализ (через API/CLI)
// - Scheduler создаёт request по расписанию
//
// Orchestrator — единственный владелец переходов статуса request.
// Request никогда не удаляется физически (хранится для аудита).
type Request struct {
	// ID — уникальный идентификатор request.
	ID uuid.UUID `json:"id"`

	// TenantID — владелец request.
	TenantID uuid.UUID `json:"tenant_id"`

	// Kind — вид анализа, определяет набор departments в плане.
	// Например: "full_analysis", "sales_overview", "forecast".
	Kind string `json:"kind"`

	// Params — входные параметры, переданные при создании.
	Params map[string]any `json:"params,omitempty"`

	// Status — текущий статус обработки.
	Status RequestStatus `json:"status"`

	// ResultSummary — краткая текстовая сводка результата.
	ResultSummary string `json:"result_summary,omitempty"`

	// ResultData — структурированный итоговый результат.
	// Слияние выходов задач в порядке назначения (sequence), не завершения.
	ResultData map[string]any `json:"result_data,omitempty"`

	// Error — консолидированная ошибка, если request провален.
	Error string `json:"error,omitempty"`

	// Checkpoint — сериализованное состояние оркестрации.
	// Интерпретируется только orchestrator'ом; после терминального
	// статуса не мутируется.
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Например, для scheduled requests: "{schedule_id}_{next_due_at}"
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// StartedAt — время начала обработки (когда статус стал PROCESSING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время достижения терминального статуса.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CreatedAt — время создания request.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration возвращает продолжительность обработки.
// Возвращает 0, если request ещё не завершён.
func (r *Request) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если request завершён (в любом статусе).
func (r *Request) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkProcessing переводит request в статус PROCESSING.
func (r *Request) MarkProcessing() {
	now := time.Now()
	r.Status = RequestStatusProcessing
	r.StartedAt = &now
	r.UpdatedAt = now
}

// MarkCompleted переводит request в статус COMPLETED с результатом.
func (r *Request) MarkCompleted(summary string, data map[string]any) {
	now := time.Now()
	r.Status = RequestStatusCompleted
	r.ResultSummary = summary
	r.ResultData = data
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// MarkFailed переводит request в статус FAILED с консолидированной ошибкой.
// Ошибка обрезается до потолка, полные детали остаются в задачах.
func (r *Request) MarkFailed(err string) {
	now := time.Now()
	r.Status = RequestStatusFailed
	r.Error = TruncateError(err)
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// MarkCancelled переводит request в статус CANCELLED.
func (r *Request) MarkCancelled() {
	now := time.Now()
	r.Status = RequestStatusCancelled
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// TruncateError обрезает текст ошибки до потолка maxErrorLen.
func TruncateError(s string) string {
	if len(s) <= maxErrorLen {
		return s
	}
	return s[:maxErrorLen-3] + "..."
}
