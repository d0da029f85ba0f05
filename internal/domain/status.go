package domain

// RequestStatus — статус обработки request.
//
// Жизненный цикл:
//
//	PENDING → PROCESSING → COMPLETED
//	                     ↘ FAILED
//	         (или) → CANCELLED (из PENDING или PROCESSING)
type RequestStatus string

const (
	// RequestStatusPending — request создан, но ещё не взят в обработку.
	RequestStatusPending RequestStatus = "PENDING"

	// RequestStatusProcessing — orchestrator обрабатывает request.
	RequestStatusProcessing RequestStatus = "PROCESSING"

	// RequestStatusCompleted — request успешно завершён, результат собран.
	RequestStatusCompleted RequestStatus = "COMPLETED"

	// RequestStatusFailed — request завершился с ошибкой.
	RequestStatusFailed RequestStatus = "FAILED"

	// RequestStatusCancelled — request отменён пользователем.
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (request завершён).
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled:
		return true
	default:
		return false
	}
}

// Phase — под-состояние обработки внутри PROCESSING.
//
// Фаза хранится в checkpoint, чтобы после падения orchestrator
// продолжил с последней завершённой фазы, а не с нуля.
//
//	PLANNING → DISPATCHED → AGGREGATING → FINALIZING
type Phase string

const (
	// PhasePlanning — декомпозиция входа на department assignments.
	PhasePlanning Phase = "PLANNING"

	// PhaseDispatched — публикация задач в очереди departments.
	PhaseDispatched Phase = "DISPATCHED"

	// PhaseAggregating — ожидание терминальных статусов всех задач.
	PhaseAggregating Phase = "AGGREGATING"

	// PhaseFinalizing — детерминированное слияние результатов.
	PhaseFinalizing Phase = "FINALIZING"
)

// TaskStatus — статус делегированной задачи.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ RETRYING → RUNNING (пока retry_count < потолка)
//	                  ↘ FAILED (потолок retry достигнут или permanent ошибка)
//	PENDING → CANCELLED (недиспетчеризованные задачи отменённого request)
type TaskStatus string

const (
	// TaskStatusPending — задача создана, ожидает supervisor.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — supervisor выполняет задачу.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusRetrying — попытка провалилась, ожидается повтор.
	TaskStatusRetrying TaskStatus = "RETRYING"

	// TaskStatusCompleted — задача успешно завершена.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — задача провалена (после всех retry или permanent).
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusCancelled — задача отменена до выполнения.
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// ProposalStatus — статус предложенного действия (human-approval workflow).
//
// Side-effecting действия не выполняются автоматически: worker создаёт
// proposal, человек одобряет или отклоняет, и только одобренное
// действие выполняется.
//
// Жизненный цикл:
//
//	PROPOSED → APPROVED → EXECUTING → EXECUTED
//	                                ↘ FAILED
//	         ↘ REJECTED
type ProposalStatus string

const (
	// ProposalStatusProposed — действие предложено, ожидает решения.
	ProposalStatusProposed ProposalStatus = "PROPOSED"

	// ProposalStatusApproved — действие одобрено, можно выполнять.
	ProposalStatusApproved ProposalStatus = "APPROVED"

	// ProposalStatusRejected — действие отклонено.
	ProposalStatusRejected ProposalStatus = "REJECTED"

	// ProposalStatusExecuting — действие выполняется.
	ProposalStatusExecuting ProposalStatus = "EXECUTING"

	// ProposalStatusExecuted — действие успешно выполнено.
	ProposalStatusExecuted ProposalStatus = "EXECUTED"

	// ProposalStatusFailed — выполнение действия провалилось.
	ProposalStatusFailed ProposalStatus = "FAILED"
)

// String возвращает строковое представление ProposalStatus.
func (s ProposalStatus) String() string {
	return string(s)
}

// IsTerminal возвращает true, если статус финальный.
func (s ProposalStatus) IsTerminal() bool {
	switch s {
	case ProposalStatusRejected, ProposalStatusExecuted, ProposalStatusFailed:
		return true
	default:
		return false
	}
}

// ParseProposalStatus парсит строку в ProposalStatus.
func ParseProposalStatus(s string) ProposalStatus {
	switch s {
	case "PROPOSED":
		return ProposalStatusProposed
	case "APPROVED":
		return ProposalStatusApproved
	case "REJECTED":
		return ProposalStatusRejected
	case "EXECUTING":
		return ProposalStatusExecuting
	case "EXECUTED":
		return ProposalStatusExecuted
	case "FAILED":
		return ProposalStatusFailed
	default:
		return ProposalStatusProposed
	}
}
