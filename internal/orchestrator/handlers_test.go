package orchestrator

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
	"github.com/shaiso/Hivemind/internal/mq"
	"github.com/shaiso/Hivemind/internal/repo"
)

// stubRequestStore отвечает фиксированным статусом и записывает
// терминальные переходы request'а.
type stubRequestStore struct {
	mu     sync.Mutex
	status domain.RequestStatus

	checkpoints int
	failedMsg   string
	failed      bool
	completed   bool
}

func (s *stubRequestStore) GetByID(context.Context, uuid.UUID) (*domain.Request, error) {
	return nil, repo.ErrNotFound
}

func (s *stubRequestStore) GetStatus(context.Context, uuid.UUID) (domain.RequestStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *stubRequestStore) ListPending(context.Context, int) ([]domain.Request, error) {
	return nil, nil
}

func (s *stubRequestStore) ListStale(context.Context, time.Time, int) ([]domain.Request, error) {
	return nil, nil
}

func (s *stubRequestStore) ClaimPending(context.Context, uuid.UUID, uuid.UUID, time.Time) error {
	return nil
}

func (s *stubRequestStore) ClaimStale(context.Context, uuid.UUID, uuid.UUID, time.Time, time.Time) error {
	return nil
}

func (s *stubRequestStore) RefreshLease(context.Context, uuid.UUID, uuid.UUID, time.Time) error {
	return nil
}

func (s *stubRequestStore) SaveCheckpoint(context.Context, uuid.UUID, *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints++
	return nil
}

func (s *stubRequestStore) Complete(context.Context, uuid.UUID, string, map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
	return nil
}

func (s *stubRequestStore) Fail(_ context.Context, _ uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
	s.failedMsg = errMsg
	return nil
}

func (s *stubRequestStore) failedWith() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed, s.failedMsg
}

// stubTaskStore хранит задачи в памяти.
type stubTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	byReq []domain.Task
}

func newStubTaskStore() *stubTaskStore {
	return &stubTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (s *stubTaskStore) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.RequestID == task.RequestID && t.Department == task.Department {
			return repo.ErrAlreadyExists
		}
	}
	copied := *task
	s.tasks[task.ID] = &copied
	return nil
}

func (s *stubTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *stubTaskStore) GetByRequestAndDepartment(_ context.Context, requestID uuid.UUID, dept domain.Department) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.RequestID == requestID && t.Department == dept {
			copied := *t
			return &copied, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *stubTaskStore) ListByRequestID(context.Context, uuid.UUID) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.byReq...), nil
}

func (s *stubTaskStore) CancelNonTerminal(context.Context, uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled := 0
	for _, t := range s.tasks {
		if !t.IsFinished() {
			t.Status = domain.TaskStatusCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (s *stubTaskStore) byDepartment(dept domain.Department) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Department == dept {
			copied := *t
			return &copied
		}
	}
	return nil
}

// stubDispatchPublisher собирает публикации или падает с err.
type stubDispatchPublisher struct {
	mu        sync.Mutex
	err       error
	published []mq.TaskDispatchPayload
}

func (p *stubDispatchPublisher) PublishTaskDispatch(_ context.Context, payload mq.TaskDispatchPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, payload)
	return nil
}

func (p *stubDispatchPublisher) dispatched() []mq.TaskDispatchPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mq.TaskDispatchPayload(nil), p.published...)
}

// newTestOrchestrator собирает orchestrator с fakes вместо хранилищ.
func newTestOrchestrator(requests *stubRequestStore, tasks *stubTaskStore, pub dispatchPublisher) *Orchestrator {
	o := New(Config{Logger: slog.New(slog.DiscardHandler)})
	o.requestRepo = requests
	o.taskRepo = tasks
	o.publisher = pub
	return o
}

func TestDispatchAssignment_CheckpointOnlyAfterPublish(t *testing.T) {
	requests := &stubRequestStore{status: domain.RequestStatusProcessing}
	tasks := newStubTaskStore()
	pub := &stubDispatchPublisher{err: errors.New("broker unreachable")}
	o := newTestOrchestrator(requests, tasks, pub)

	state := newTestState(t, "quantitative")

	// Короткий дедлайн обрывает backoff между попытками публикации
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := o.dispatchReady(ctx, state); err != nil {
		t.Fatalf("dispatchReady: %v", err)
	}

	created := tasks.byDepartment(domain.DeptDataRetrieval)
	if created == nil {
		t.Fatal("task must be created before publish")
	}

	// Неподтверждённая публикация не попадает в checkpoint: иначе
	// resume посчитал бы задачу inflight и никогда бы её не дослал
	if state.IsDispatched(created.ID) {
		t.Error("unconfirmed publish must not be recorded in checkpoint")
	}

	failed, msg := requests.failedWith()
	if !failed {
		t.Fatal("exhausted dispatch publish must fail the request")
	}
	if !strings.Contains(msg, "dispatch to") {
		t.Errorf("failure message must name the department, got %q", msg)
	}
}

func TestDispatchAssignment_RecordsConfirmedPublish(t *testing.T) {
	requests := &stubRequestStore{status: domain.RequestStatusProcessing}
	tasks := newStubTaskStore()
	pub := &stubDispatchPublisher{}
	o := newTestOrchestrator(requests, tasks, pub)

	state := newTestState(t, "quantitative")

	if err := o.dispatchReady(context.Background(), state); err != nil {
		t.Fatalf("dispatchReady: %v", err)
	}

	published := pub.dispatched()
	if len(published) != 1 || published[0].Department != domain.DeptDataRetrieval {
		t.Fatalf("expected data_retrieval dispatch, got %v", published)
	}

	created := tasks.byDepartment(domain.DeptDataRetrieval)
	if created == nil || !state.IsDispatched(created.ID) {
		t.Error("confirmed publish must be recorded in checkpoint")
	}
	if requests.checkpoints == 0 {
		t.Error("checkpoint must be persisted after dispatch")
	}
}

func TestRequestState_ApplyTerminalIdempotent(t *testing.T) {
	state := newTestState(t, "quantitative")

	task := taskFor(state, domain.DeptDataRetrieval)
	state.MarkDispatched(task)

	done := *task
	done.Status = domain.TaskStatusCompleted
	done.Output = map[string]any{"records": []any{1}}

	if !state.ApplyTerminal(&done) {
		t.Fatal("first terminal status must change the state")
	}
	if state.ApplyTerminal(&done) {
		t.Error("repeated terminal status must be a no-op")
	}

	stats := state.Stats()
	if stats.CompletedTasks != 1 || stats.InflightTasks != 0 {
		t.Errorf("expected 1 completed / 0 inflight, got %d / %d", stats.CompletedTasks, stats.InflightTasks)
	}

	// Output восстановленной задачи доступен нижестоящим
	upstream := state.UpstreamOutputs([]domain.Department{domain.DeptDataRetrieval})
	if _, ok := upstream["data_retrieval"]; !ok {
		t.Error("recovered output must be visible to downstream tasks")
	}
}

func TestSyncRequest_RecoversLostResult(t *testing.T) {
	requests := &stubRequestStore{status: domain.RequestStatusProcessing}
	tasks := newStubTaskStore()
	pub := &stubDispatchPublisher{}
	o := newTestOrchestrator(requests, tasks, pub)

	state := newTestState(t, "quantitative")
	task := taskFor(state, domain.DeptDataRetrieval)
	state.MarkDispatched(task)

	// Задача завершилась в базе, но tasks.results потерялся
	done := *task
	done.Status = domain.TaskStatusCompleted
	done.Output = map[string]any{"records": []any{}}
	tasks.byReq = []domain.Task{done}

	if err := o.addActive(state); err != nil {
		t.Fatalf("addActive: %v", err)
	}

	if err := o.syncRequest(context.Background(), state); err != nil {
		t.Fatalf("syncRequest: %v", err)
	}

	stats := state.Stats()
	if stats.CompletedTasks != 1 || stats.InflightTasks != 0 {
		t.Fatalf("expected 1 completed / 0 inflight after sync, got %d / %d",
			stats.CompletedTasks, stats.InflightTasks)
	}

	// Сверка должна продвинуть request: следующий department уходит в очередь
	var advanced bool
	for _, p := range pub.dispatched() {
		if p.Department == domain.DeptQuantitative {
			advanced = true
		}
	}
	if !advanced {
		t.Error("sync must dispatch the next ready department")
	}
}

func TestStart_WithoutBrokerPollingOnly(t *testing.T) {
	requests := &stubRequestStore{status: domain.RequestStatusProcessing}
	tasks := newStubTaskStore()
	o := newTestOrchestrator(requests, tasks, nil)

	// Conn == nil: consumers не создаются, процесс живёт на polling
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start without broker: %v", err)
	}
	o.Stop()

	if o.requestConsumer != nil || o.resultConsumer != nil || o.proposalConsumer != nil {
		t.Error("consumers must not be created without a broker connection")
	}
}
