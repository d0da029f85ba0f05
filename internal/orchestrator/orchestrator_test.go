package orchestrator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/plan"
)

func newTestRequest(kind string) *domain.Request {
	return &domain.Request{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Kind:     kind,
		Params:   map[string]any{"period": "2026-Q1"},
		Status:   domain.RequestStatusPending,
	}
}

// newTestState создаёт state с построенным планом.
func newTestState(t *testing.T, kind string) *RequestState {
	t.Helper()

	req := newTestRequest(kind)
	state, err := NewRequestState(req)
	if err != nil {
		t.Fatalf("NewRequestState: %v", err)
	}

	p, err := plan.NewPlanner().Plan(req)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if err := state.SetPlan(p); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	return state
}

func taskFor(state *RequestState, dept domain.Department) *domain.Task {
	assignment := state.Plan().Get(dept)
	return &domain.Task{
		ID:         uuid.New(),
		RequestID:  state.RequestID(),
		TenantID:   state.TenantID(),
		Department: dept,
		Sequence:   assignment.Sequence,
		DependsOn:  assignment.DependsOn,
		Status:     domain.TaskStatusPending,
		CreatedAt:  time.Now(),
	}
}

func TestNewRequestState_Defaults(t *testing.T) {
	req := newTestRequest("quantitative")

	state, err := NewRequestState(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Checkpoint == nil {
		t.Fatal("checkpoint should be initialized")
	}
	if state.Phase() != domain.PhasePlanning {
		t.Errorf("expected PLANNING phase, got %s", state.Phase())
	}
	if state.Context == nil {
		t.Error("template context should be initialized")
	}
}

func TestNewRequestState_IncompatibleCheckpoint(t *testing.T) {
	req := newTestRequest("quantitative")
	req.Checkpoint = &domain.Checkpoint{Version: domain.CheckpointVersion + 1}

	if _, err := NewRequestState(req); !errors.Is(err, ErrCheckpointVersion) {
		t.Errorf("expected ErrCheckpointVersion, got %v", err)
	}
}

func TestRequestState_DispatchOrder(t *testing.T) {
	state := newTestState(t, "quantitative")

	// Первым готов только data_retrieval: остальные зависят от него
	ready := state.Ready()
	if len(ready) != 1 || ready[0].Department != domain.DeptDataRetrieval {
		t.Fatalf("expected data_retrieval first, got %v", ready)
	}

	task := taskFor(state, domain.DeptDataRetrieval)
	state.MarkDispatched(task)

	if len(state.Ready()) != 0 {
		t.Error("inflight department must not be offered again")
	}
	if state.Phase() != domain.PhaseDispatched {
		t.Errorf("expected DISPATCHED phase, got %s", state.Phase())
	}
	if !state.IsDispatched(task.ID) {
		t.Error("dispatch must be recorded in checkpoint")
	}

	state.MarkCompleted(domain.DeptDataRetrieval, map[string]any{"records": []any{}})

	ready = state.Ready()
	if len(ready) != 1 || ready[0].Department != domain.DeptQuantitative {
		t.Fatalf("expected quantitative after data_retrieval, got %v", ready)
	}
}

func TestRequestState_CompletionAndMerge(t *testing.T) {
	state := newTestState(t, "quantitative")

	outputs := map[domain.Department]map[string]any{
		domain.DeptDataRetrieval:  {"records": []any{1, 2}},
		domain.DeptQuantitative:   {"mean": 15.0},
		domain.DeptRecommendation: {"findings": []any{}},
	}

	for _, assignment := range state.Plan().Assignments {
		state.MarkDispatched(taskFor(state, assignment.Department))
		state.MarkCompleted(assignment.Department, outputs[assignment.Department])
	}

	if !state.IsComplete() {
		t.Fatal("expected complete state")
	}
	if state.HasFailed() {
		t.Fatal("unexpected failure")
	}

	merged := state.MergedResults()
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged outputs, got %d", len(merged))
	}
	quant, ok := merged["quantitative_analysis"].(map[string]any)
	if !ok || quant["mean"] != 15.0 {
		t.Errorf("unexpected quantitative output: %v", merged["quantitative_analysis"])
	}
}

func TestRequestState_FailedTasksInSequenceOrder(t *testing.T) {
	state := newTestState(t, "full_analysis")

	state.MarkDispatched(taskFor(state, domain.DeptDataRetrieval))
	state.MarkCompleted(domain.DeptDataRetrieval, map[string]any{})

	// Проваливаем в обратном порядке sequence
	qual := taskFor(state, domain.DeptQualitative)
	qual.Error = "qualitative broke"
	quant := taskFor(state, domain.DeptQuantitative)
	quant.Error = "quantitative broke"

	state.MarkDispatched(qual)
	state.MarkDispatched(quant)
	state.MarkFailed(domain.DeptQualitative, "qualitative broke")
	state.MarkFailed(domain.DeptQuantitative, "quantitative broke")

	if !state.HasFailed() {
		t.Fatal("expected failed state")
	}

	failed := state.FailedTasks()
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed tasks, got %d", len(failed))
	}
	// Порядок — по sequence плана, не по порядку провала
	if failed[0].Department != domain.DeptQuantitative {
		t.Errorf("expected quantitative first, got %s", failed[0].Department)
	}
	if failed[1].Department != domain.DeptQualitative {
		t.Errorf("expected qualitative second, got %s", failed[1].Department)
	}
}

func TestRequestState_UpstreamOutputs(t *testing.T) {
	state := newTestState(t, "quantitative")

	state.MarkDispatched(taskFor(state, domain.DeptDataRetrieval))
	state.MarkCompleted(domain.DeptDataRetrieval, map[string]any{"records": []any{"a"}})

	upstream := state.UpstreamOutputs([]domain.Department{domain.DeptDataRetrieval})
	output, ok := upstream["data_retrieval"].(map[string]any)
	if !ok {
		t.Fatalf("expected data_retrieval output, got %v", upstream)
	}
	if records, ok := output["records"].([]any); !ok || len(records) != 1 {
		t.Errorf("unexpected records: %v", output["records"])
	}

	// Незавершённый department не попадает в upstream
	if got := state.UpstreamOutputs([]domain.Department{domain.DeptQuantitative}); len(got) != 0 {
		t.Errorf("expected no outputs for incomplete department, got %v", got)
	}
}

func TestRequestState_RestoreFromTasks(t *testing.T) {
	state := newTestState(t, "full_analysis")

	completed := taskFor(state, domain.DeptDataRetrieval)
	completed.Status = domain.TaskStatusCompleted
	completed.Output = map[string]any{"records": []any{}}

	running := taskFor(state, domain.DeptQuantitative)
	running.Status = domain.TaskStatusRunning

	// PENDING с подтверждённой диспетчеризацией — ждём результат
	pendingDispatched := taskFor(state, domain.DeptQualitative)
	state.Checkpoint.RecordDispatch(pendingDispatched.ID)

	// PENDING без подтверждения — публикация могла потеряться
	pendingLost := taskFor(state, domain.DeptComparative)

	state.RestoreFromTasks([]domain.Task{*completed, *running, *pendingDispatched, *pendingLost})

	stats := state.Stats()
	if stats.CompletedTasks != 1 {
		t.Errorf("expected 1 completed, got %d", stats.CompletedTasks)
	}
	if stats.InflightTasks != 2 {
		t.Errorf("expected 2 inflight (running + dispatched pending), got %d", stats.InflightTasks)
	}

	// Потерянная задача должна быть предложена к повторной диспетчеризации
	var offered bool
	for _, assignment := range state.Ready() {
		if assignment.Department == domain.DeptComparative {
			offered = true
		}
		if assignment.Department == domain.DeptQualitative {
			t.Error("dispatched pending task must not be re-offered")
		}
	}
	if !offered {
		t.Error("lost pending task must be re-offered for dispatch")
	}
}

func TestRequestState_RestoreCompletedFillsContext(t *testing.T) {
	state := newTestState(t, "quantitative")

	completed := taskFor(state, domain.DeptDataRetrieval)
	completed.Status = domain.TaskStatusCompleted
	completed.Output = map[string]any{"count": 7}

	state.RestoreFromTasks([]domain.Task{*completed})

	upstream := state.UpstreamOutputs([]domain.Department{domain.DeptDataRetrieval})
	if output, ok := upstream["data_retrieval"].(map[string]any); !ok || output["count"] != 7 {
		t.Errorf("restored output must be visible to downstream tasks, got %v", upstream)
	}
}

func TestBuildSummary(t *testing.T) {
	state := newTestState(t, "quantitative")

	for _, assignment := range state.Plan().Assignments {
		state.MarkDispatched(taskFor(state, assignment.Department))
		state.MarkCompleted(assignment.Department, map[string]any{})
	}

	summary := buildSummary(state, 2)
	if !strings.Contains(summary, "3 of 3 departments completed") {
		t.Errorf("unexpected summary: %q", summary)
	}
	if !strings.Contains(summary, "2 actions proposed") {
		t.Errorf("summary must mention proposals: %q", summary)
	}

	if summary := buildSummary(state, 0); strings.Contains(summary, "proposed") {
		t.Errorf("summary without proposals must omit them: %q", summary)
	}
}

func TestExpectedClaimFailure(t *testing.T) {
	if !expectedClaimFailure(ErrRequestNotClaimable) {
		t.Error("ErrRequestNotClaimable is an expected claim failure")
	}
	if !expectedClaimFailure(ErrRequestAlreadyActive) {
		t.Error("ErrRequestAlreadyActive is an expected claim failure")
	}
	if expectedClaimFailure(errors.New("connection refused")) {
		t.Error("infrastructure errors are not expected claim failures")
	}
}
