package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/faults"
	"github.com/shaiso/Hivemind/internal/mq"
	"github.com/shaiso/Hivemind/internal/repo"
	"github.com/shaiso/Hivemind/internal/service"
)

func TestBackoffDelay_Growth(t *testing.T) {
	// Без jitter нижняя граница: base * 2^(retry-1)
	tests := []struct {
		retryCount int
		atLeast    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}

	for _, tt := range tests {
		delay := backoffDelay(tt.retryCount, retryBaseDelay, retryMaxDelay)
		if delay < tt.atLeast {
			t.Errorf("retry %d: delay %v below lower bound %v", tt.retryCount, delay, tt.atLeast)
		}
		// jitter не больше base
		if delay > tt.atLeast+retryBaseDelay && delay != retryMaxDelay {
			t.Errorf("retry %d: delay %v exceeds jitter bound", tt.retryCount, delay)
		}
	}
}

func TestBackoffDelay_Ceiling(t *testing.T) {
	for retry := 6; retry <= 20; retry++ {
		if delay := backoffDelay(retry, retryBaseDelay, retryMaxDelay); delay > retryMaxDelay {
			t.Errorf("retry %d: delay %v exceeds ceiling %v", retry, delay, retryMaxDelay)
		}
	}
}

func TestBackoffDelay_ZeroRetry(t *testing.T) {
	// Некорректный вход не должен давать нулевую задержку
	if delay := backoffDelay(0, retryBaseDelay, retryMaxDelay); delay < time.Second {
		t.Errorf("expected at least base delay, got %v", delay)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Department: "unknown_department"}); err == nil {
		t.Error("expected error for unknown department")
	}

	// Пустой реестр не обслуживает ни один department
	if _, err := New(Config{
		Department: domain.DeptDataRetrieval,
		Registry:   service.NewRegistry(),
	}); err == nil {
		t.Error("expected error for registry without capabilities")
	}

	s, err := New(Config{Department: domain.DeptDataRetrieval})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.invokeTimeout != defaultInvokeTimeout {
		t.Errorf("expected default invoke timeout, got %v", s.invokeTimeout)
	}
	if s.pollInterval != defaultPollInterval {
		t.Errorf("expected default poll interval, got %v", s.pollInterval)
	}
}

// stubCapability считает вызовы и отвечает через fn.
type stubCapability struct {
	name string
	fn   func(inv *service.Invocation) (*service.Result, error)

	mu      sync.Mutex
	invokes int
}

func (c *stubCapability) Name() string { return c.name }

func (c *stubCapability) Invoke(_ context.Context, inv *service.Invocation) (*service.Result, error) {
	c.mu.Lock()
	c.invokes++
	c.mu.Unlock()
	return c.fn(inv)
}

func (c *stubCapability) invoked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invokes
}

// memTaskStore эмулирует CAS-семантику TaskRepo в памяти.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func newMemTaskStore(tasks ...*domain.Task) *memTaskStore {
	s := &memTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
	for _, t := range tasks {
		// Храним копию: хранилище не делит память с task в обработке
		copied := *t
		s.tasks[t.ID] = &copied
	}
	return s
}

func (s *memTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *memTaskStore) ListPendingByDepartment(_ context.Context, dept domain.Department, limit int) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []domain.Task
	for _, t := range s.tasks {
		if t.Department == dept && t.Status == domain.TaskStatusPending && len(tasks) < limit {
			tasks = append(tasks, *t)
		}
	}
	return tasks, nil
}

func (s *memTaskStore) ClaimRunning(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return repo.ErrNotFound
	}
	switch t.Status {
	case domain.TaskStatusPending, domain.TaskStatusRetrying:
		t.Status = domain.TaskStatusRunning
		return nil
	case domain.TaskStatusRunning:
		return repo.ErrInvalidState
	default:
		return repo.ErrTerminal
	}
}

func (s *memTaskStore) MarkRetrying(_ context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return repo.ErrNotFound
	}
	if t.Status != domain.TaskStatusRunning {
		return repo.ErrInvalidState
	}
	t.Status = domain.TaskStatusRetrying
	t.RetryCount = retryCount
	t.Error = errMsg
	return nil
}

func (s *memTaskStore) Complete(_ context.Context, id uuid.UUID, output map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return repo.ErrNotFound
	}
	if t.Status != domain.TaskStatusRunning {
		return repo.ErrInvalidState
	}
	t.Status = domain.TaskStatusCompleted
	t.Output = output
	return nil
}

func (s *memTaskStore) Fail(_ context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return repo.ErrNotFound
	}
	if t.Status != domain.TaskStatusRunning && t.Status != domain.TaskStatusRetrying {
		return repo.ErrInvalidState
	}
	t.Status = domain.TaskStatusFailed
	t.Error = errMsg
	return nil
}

func (s *memTaskStore) Cancel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return repo.ErrNotFound
	}
	if t.Status.IsTerminal() {
		return repo.ErrInvalidState
	}
	t.Status = domain.TaskStatusCancelled
	return nil
}

func (s *memTaskStore) get(id uuid.UUID) domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

// stubRequestStore отвечает фиксированным статусом request.
type stubRequestStore struct {
	status domain.RequestStatus
}

func (s *stubRequestStore) GetStatus(context.Context, uuid.UUID) (domain.RequestStatus, error) {
	return s.status, nil
}

// capturePublisher собирает опубликованные task.result.
type capturePublisher struct {
	mu      sync.Mutex
	results []mq.TaskResultPayload
}

func (p *capturePublisher) PublishTaskResult(_ context.Context, payload mq.TaskResultPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, payload)
	return nil
}

func (p *capturePublisher) published() []mq.TaskResultPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mq.TaskResultPayload(nil), p.results...)
}

// newTestSupervisor собирает supervisor с fakes и быстрым backoff.
func newTestSupervisor(t *testing.T, capability service.Capability, store *memTaskStore, pub *capturePublisher) *Supervisor {
	t.Helper()

	registry := service.NewRegistry()
	registry.Register(capability)

	s, err := New(Config{
		Department: domain.DeptDataRetrieval,
		Registry:   registry,
		Logger:     slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.taskRepo = store
	s.requestRepo = &stubRequestStore{status: domain.RequestStatusProcessing}
	if pub != nil {
		s.publisher = pub
	}
	s.retryBase = time.Millisecond
	s.retryMax = 4 * time.Millisecond
	return s
}

func newRunningTask() *domain.Task {
	return &domain.Task{
		ID:         uuid.New(),
		RequestID:  uuid.New(),
		TenantID:   uuid.New(),
		Department: domain.DeptDataRetrieval,
		Status:     domain.TaskStatusRunning,
	}
}

func TestRunTask_RetryCeiling(t *testing.T) {
	capability := &stubCapability{
		name: service.CapabilityFetchRecords,
		fn: func(*service.Invocation) (*service.Result, error) {
			return nil, faults.Transient(errors.New("upstream flaky"))
		},
	}

	task := newRunningTask()
	store := newMemTaskStore(task)
	pub := &capturePublisher{}
	s := newTestSupervisor(t, capability, store, pub)

	logger := slog.New(slog.DiscardHandler)
	if err := s.runTask(context.Background(), logger, task); err != nil {
		t.Fatalf("runTask: %v", err)
	}

	// Первая попытка плюс MaxTaskRetries повторов
	if got := capability.invoked(); got != domain.MaxTaskRetries+1 {
		t.Errorf("expected %d attempts, got %d", domain.MaxTaskRetries+1, got)
	}
	if task.RetryCount != domain.MaxTaskRetries {
		t.Errorf("expected retry count %d, got %d", domain.MaxTaskRetries, task.RetryCount)
	}

	stored := store.get(task.ID)
	if stored.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED after ceiling, got %s", stored.Status)
	}
	if !strings.Contains(stored.Error, faults.ErrExhausted.Error()) {
		t.Errorf("failure must carry exhaustion marker, got %q", stored.Error)
	}

	results := pub.published()
	if len(results) != 1 || results[0].Status != string(domain.TaskStatusFailed) {
		t.Errorf("expected single FAILED task.result, got %v", results)
	}
}

func TestHandleDispatch_DuplicateDeliveryNoOp(t *testing.T) {
	capability := &stubCapability{
		name: service.CapabilityFetchRecords,
		fn: func(*service.Invocation) (*service.Result, error) {
			return service.NewResult(map[string]any{}), nil
		},
	}

	task := newRunningTask()
	task.Status = domain.TaskStatusCompleted
	store := newMemTaskStore(task)
	s := newTestSupervisor(t, capability, store, &capturePublisher{})

	delivery := &mq.Delivery{Message: mq.Message{
		Type: mq.MessageTypeTaskDispatch,
		Payload: mq.TaskDispatchPayload{
			TaskID:     task.ID,
			RequestID:  task.RequestID,
			TenantID:   task.TenantID,
			Department: task.Department,
		},
	}}

	// Терминальная задача: повторная доставка ack'ается без выполнения
	if err := s.handleDispatch(context.Background(), delivery); err != nil {
		t.Fatalf("duplicate delivery must be acked, got %v", err)
	}
	if got := capability.invoked(); got != 0 {
		t.Errorf("duplicate delivery must not invoke capability, got %d invocations", got)
	}
	if store.get(task.ID).Status != domain.TaskStatusCompleted {
		t.Error("duplicate delivery must not change task status")
	}
}

func TestPoll_ExecutesPendingTask(t *testing.T) {
	capability := &stubCapability{
		name: service.CapabilityFetchRecords,
		fn: func(*service.Invocation) (*service.Result, error) {
			return service.NewResult(map[string]any{"records": []any{}}), nil
		},
	}

	task := newRunningTask()
	task.Status = domain.TaskStatusPending
	store := newMemTaskStore(task)
	pub := &capturePublisher{}
	s := newTestSupervisor(t, capability, store, pub)

	// Публикация dispatch потерялась: задачу должен подобрать polling
	s.poll(context.Background())

	if got := capability.invoked(); got != 1 {
		t.Fatalf("expected 1 invocation from poll, got %d", got)
	}
	stored := store.get(task.ID)
	if stored.Status != domain.TaskStatusCompleted {
		t.Errorf("expected COMPLETED after poll, got %s", stored.Status)
	}

	results := pub.published()
	if len(results) != 1 || results[0].Status != string(domain.TaskStatusCompleted) {
		t.Errorf("expected COMPLETED task.result, got %v", results)
	}
}

func TestPoll_SkipsClaimedTask(t *testing.T) {
	capability := &stubCapability{
		name: service.CapabilityFetchRecords,
		fn: func(*service.Invocation) (*service.Result, error) {
			return service.NewResult(nil), nil
		},
	}

	task := newRunningTask()
	store := newMemTaskStore(task)
	s := newTestSupervisor(t, capability, store, nil)

	// RUNNING задачу держит другой экземпляр — проигранный CAS это no-op
	if err := s.processTask(context.Background(), task.ID); err != nil {
		t.Fatalf("lost claim must be a no-op, got %v", err)
	}
	if got := capability.invoked(); got != 0 {
		t.Errorf("claimed task must not be invoked again, got %d invocations", got)
	}
}
