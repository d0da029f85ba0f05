package orchestrator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/plan"
)

// RequestState — состояние оркестрации одного request в памяти.
//
// RequestState создаётся когда Orchestrator забирает request
// и удаляется при достижении терминального статуса.
//
// Содержит:
//   - Request и его checkpoint (write-ahead прогресс)
//   - Граф зависимостей назначений
//   - Контекст для шаблонов (с outputs завершённых departments)
//   - Отслеживание статуса каждого назначения
type RequestState struct {
	// Request — данные request из БД.
	Request *domain.Request

	// Checkpoint — write-ahead прогресс. Мутируется только под mu
	// и персистится перед каждым значимым шагом.
	Checkpoint *domain.Checkpoint

	// Graph — граф зависимостей назначений плана.
	Graph *plan.Graph

	// Context — контекст для рендеринга input'ов.
	Context *plan.Context

	// completed — завершённые departments (department → true).
	completed map[domain.Department]bool

	// inflight — диспетчеризованные, но не завершённые departments.
	inflight map[domain.Department]bool

	// failed — провалившиеся departments.
	failed map[domain.Department]bool

	// tasks — задачи по departments.
	tasks map[domain.Department]*domain.Task

	mu sync.RWMutex
}

// NewRequestState создаёт RequestState для request.
// Если у request ещё нет checkpoint, создаётся checkpoint фазы PLANNING.
func NewRequestState(req *domain.Request) (*RequestState, error) {
	cp := req.Checkpoint
	if cp == nil {
		cp = domain.NewCheckpoint()
	}
	if cp.Version != domain.CheckpointVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCheckpointVersion, cp.Version, domain.CheckpointVersion)
	}

	return &RequestState{
		Request:    req,
		Checkpoint: cp,
		Context:    plan.NewContext(req.Params),
		completed:  make(map[domain.Department]bool),
		inflight:   make(map[domain.Department]bool),
		failed:     make(map[domain.Department]bool),
		tasks:      make(map[domain.Department]*domain.Task),
	}, nil
}

// SetPlan фиксирует план в state и checkpoint (фаза DISPATCHED
// наступит после первой диспетчеризации).
func (s *RequestState) SetPlan(p *domain.Plan) error {
	g, err := plan.BuildGraph(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Graph = g
	s.Checkpoint.Plan = p
	return nil
}

// Plan возвращает план из checkpoint.
func (s *RequestState) Plan() *domain.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Checkpoint.Plan
}

// Ready возвращает назначения, готовые к диспетчеризации,
// в детерминированном порядке sequence.
func (s *RequestState) Ready() []*domain.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocked := make(map[domain.Department]bool, len(s.inflight)+len(s.failed))
	for d := range s.inflight {
		blocked[d] = true
	}
	// Провалившиеся не предлагаются повторно
	for d := range s.failed {
		blocked[d] = true
	}

	return s.Graph.Ready(s.completed, blocked)
}

// MarkDispatched помечает назначение как диспетчеризованное.
func (s *RequestState) MarkDispatched(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight[task.Department] = true
	s.tasks[task.Department] = task
	s.Checkpoint.Phase = domain.PhaseDispatched
	s.Checkpoint.RecordDispatch(task.ID)
}

// MarkCompleted помечает department как успешно завершённый
// и добавляет его output в контекст шаблонов.
func (s *RequestState) MarkCompleted(dept domain.Department, output map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, dept)
	s.completed[dept] = true

	if task, ok := s.tasks[dept]; ok {
		task.Output = output
		task.Status = domain.TaskStatusCompleted
	}

	s.Context.AddTaskResult(dept, output, domain.TaskStatusCompleted)
}

// MarkFailed помечает department как провалившийся.
func (s *RequestState) MarkFailed(dept domain.Department, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, dept)
	s.failed[dept] = true

	if task, ok := s.tasks[dept]; ok {
		task.Error = errMsg
		task.Status = domain.TaskStatusFailed
	}

	s.Context.AddTaskResult(dept, nil, domain.TaskStatusFailed)
}

// ApplyTerminal применяет терминальный статус задачи из task store.
// Возвращает true, если состояние изменилось, и false, если статус
// уже учтён (или не терминальный). Идемпотентен: используется при
// периодической сверке активных requests с базой, когда сообщение
// tasks.results потерялось.
func (s *RequestState) ApplyTerminal(task *domain.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch task.Status {
	case domain.TaskStatusCompleted:
		if s.completed[task.Department] {
			return false
		}
		delete(s.inflight, task.Department)
		s.completed[task.Department] = true
		s.tasks[task.Department] = task
		s.Context.AddTaskResult(task.Department, task.Output, domain.TaskStatusCompleted)
		return true

	case domain.TaskStatusFailed:
		if s.failed[task.Department] {
			return false
		}
		delete(s.inflight, task.Department)
		s.failed[task.Department] = true
		s.tasks[task.Department] = task
		s.Context.AddTaskResult(task.Department, nil, domain.TaskStatusFailed)
		return true

	default:
		return false
	}
}

// SetPhase переводит checkpoint в новую фазу.
func (s *RequestState) SetPhase(phase domain.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Checkpoint.Phase = phase
}

// Phase возвращает текущую фазу checkpoint.
func (s *RequestState) Phase() domain.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Checkpoint.Phase
}

// IsDispatched проверяет, подтверждена ли публикация задачи.
func (s *RequestState) IsDispatched(taskID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Checkpoint.IsDispatched(taskID)
}

// Task возвращает задачу department'а.
func (s *RequestState) Task(dept domain.Department) *domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[dept]
}

// IsComplete проверяет, завершены ли все назначения (успешно).
func (s *RequestState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Graph.IsComplete(s.completed)
}

// HasFailed проверяет, есть ли провалившиеся departments.
func (s *RequestState) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.failed) > 0
}

// FailedTasks возвращает провалившиеся задачи в порядке sequence.
func (s *RequestState) FailedTasks() []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failed := make([]*domain.Task, 0, len(s.failed))
	for _, node := range s.Graph.Order {
		if s.failed[node.Department] {
			if task, ok := s.tasks[node.Department]; ok {
				failed = append(failed, task)
			}
		}
	}
	return failed
}

// Output возвращает output завершённого department (или nil).
func (s *RequestState) Output(dept domain.Department) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.completed[dept] {
		return nil
	}
	if tc, ok := s.Context.Tasks[dept.String()]; ok {
		return tc.Output
	}
	return nil
}

// UpstreamOutputs собирает outputs завершённых зависимостей назначения.
// Ключ — идентификатор department.
func (s *RequestState) UpstreamOutputs(deps []domain.Department) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(deps) == 0 {
		return nil
	}
	outputs := make(map[string]any, len(deps))
	for _, dept := range deps {
		if tc, ok := s.Context.Tasks[dept.String()]; ok && s.completed[dept] {
			outputs[dept.String()] = tc.Output
		}
	}
	return outputs
}

// MergedResults сливает outputs завершённых departments в итоговый
// результат. Порядок слияния — порядок назначения (sequence),
// не порядок завершения: результат детерминирован.
func (s *RequestState) MergedResults() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string]any, len(s.completed))
	for _, node := range s.Graph.Order {
		if !s.completed[node.Department] {
			continue
		}
		if tc, ok := s.Context.Tasks[node.Department.String()]; ok {
			merged[node.Department.String()] = tc.Output
		}
	}
	return merged
}

// RequestID возвращает ID request.
func (s *RequestState) RequestID() uuid.UUID {
	return s.Request.ID
}

// TenantID возвращает владельца request.
func (s *RequestState) TenantID() uuid.UUID {
	return s.Request.TenantID
}

// Stats возвращает статистику обработки.
func (s *RequestState) Stats() RequestStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	if s.Graph != nil {
		total = s.Graph.Size()
	}
	return RequestStats{
		Phase:          s.Checkpoint.Phase,
		TotalTasks:     total,
		CompletedTasks: len(s.completed),
		InflightTasks:  len(s.inflight),
		FailedTasks:    len(s.failed),
		PendingTasks:   total - len(s.completed) - len(s.inflight) - len(s.failed),
	}
}

// RequestStats — статистика обработки request.
type RequestStats struct {
	Phase          domain.Phase
	TotalTasks     int
	CompletedTasks int
	InflightTasks  int
	FailedTasks    int
	PendingTasks   int
}

// RestoreFromTasks восстанавливает состояние из task store
// (после рестарта orchestrator'а или takeover по lease).
//
// Checkpoint определяет план и подтверждённые диспетчеризации,
// task store — фактические статусы. RUNNING и RETRYING задачи
// остаются inflight: их supervisor доведёт до терминального статуса.
func (s *RequestState) RestoreFromTasks(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range tasks {
		task := &tasks[i]
		s.tasks[task.Department] = task

		switch task.Status {
		case domain.TaskStatusCompleted:
			s.completed[task.Department] = true
			s.Context.AddTaskResult(task.Department, task.Output, domain.TaskStatusCompleted)

		case domain.TaskStatusFailed:
			s.failed[task.Department] = true
			s.Context.AddTaskResult(task.Department, nil, domain.TaskStatusFailed)

		case domain.TaskStatusRunning, domain.TaskStatusRetrying:
			s.inflight[task.Department] = true

		case domain.TaskStatusPending:
			// Создана, но публикация могла не подтвердиться.
			// Если task есть в Checkpoint.Dispatched — она в очереди,
			// иначе resumption дошлёт её заново.
			if s.Checkpoint.IsDispatched(task.ID) {
				s.inflight[task.Department] = true
			}

		case domain.TaskStatusCancelled:
			// Отменённые задачи не участвуют в продолжении
		}
	}
}
