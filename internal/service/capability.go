package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
)

// Ошибки capabilities.
var (
	// ErrCapabilityNotFound — capability не найдена в реестре.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrInvalidInput — невалидный input задачи.
	ErrInvalidInput = errors.New("invalid task input")

	// ErrNoRecords — в input нет записей для анализа.
	ErrNoRecords = errors.New("no records to analyze")
)

// Capability — интерфейс единицы работы tier-3 уровня.
//
// Каждый department владеет одной capability (fetch_records,
// aggregate_metrics и т.д.). Capability не знает ни о retry,
// ни об очередях — этим занимается supervisor.
type Capability interface {
	// Name возвращает имя capability.
	Name() string

	// Invoke выполняет работу и возвращает результат.
	// Capability должна проверять ctx.Done() для кооперативной отмены.
	Invoke(ctx context.Context, inv *Invocation) (*Result, error)
}

// Invocation — входные данные для вызова capability.
type Invocation struct {
	// TaskID — идентификатор задачи.
	TaskID uuid.UUID

	// RequestID — идентификатор родительского request'а.
	RequestID uuid.UUID

	// TenantID — владелец данных.
	TenantID uuid.UUID

	// Department — department, от имени которого идёт вызов.
	Department domain.Department

	// Input — input задачи (параметры request'а плюс upstream-результаты).
	Input map[string]any

	// Attempt — номер попытки (1 для первого запуска).
	Attempt int

	// Timeout — таймаут выполнения.
	// Если 0, используется таймаут по умолчанию.
	Timeout time.Duration
}

// Result — результат вызова capability.
type Result struct {
	// Output — выходные данные задачи.
	// Доступны нижестоящим departments через input["upstream"].
	Output map[string]any
}

// NewResult создаёт Result с output.
func NewResult(output map[string]any) *Result {
	if output == nil {
		output = make(map[string]any)
	}
	return &Result{Output: output}
}

// Upstream возвращает output указанного department'а из input задачи.
// Orchestrator складывает результаты зависимостей под ключ "upstream".
func (inv *Invocation) Upstream(dept domain.Department) map[string]any {
	upstream, ok := inv.Input["upstream"].(map[string]any)
	if !ok {
		return nil
	}
	out, ok := upstream[dept.String()].(map[string]any)
	if !ok {
		return nil
	}
	return out
}

// InputString извлекает строковое значение из input.
func InputString(input map[string]any, key string) string {
	if v, ok := input[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// InputInt извлекает числовое значение из input.
func InputInt(input map[string]any, key string) int {
	if v, ok := input[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// InputFloat извлекает float из input.
func InputFloat(input map[string]any, key string) (float64, bool) {
	if v, ok := input[key]; ok {
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
	}
	return 0, false
}

// InputSlice извлекает слайс из input.
func InputSlice(input map[string]any, key string) []any {
	if v, ok := input[key]; ok {
		if s, ok := v.([]any); ok {
			return s
		}
	}
	return nil
}
