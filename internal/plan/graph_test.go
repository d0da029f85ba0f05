package plan

import (
	"errors"
	"testing"

	"github.com/shaiso/Hivemind/internal/domain"
)

func chainPlan() *domain.Plan {
	return &domain.Plan{
		Assignments: []domain.Assignment{
			{Department: domain.DeptDataRetrieval, Sequence: 0},
			{Department: domain.DeptQuantitative, Sequence: 1, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
			{Department: domain.DeptRecommendation, Sequence: 2, DependsOn: []domain.Department{domain.DeptQuantitative}},
		},
	}
}

func TestBuildGraph_SimpleChain(t *testing.T) {
	g, err := BuildGraph(chainPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}

	if len(g.RootNodes) != 1 {
		t.Errorf("expected 1 root node, got %d", len(g.RootNodes))
	}
	if g.RootNodes[0].Department != domain.DeptDataRetrieval {
		t.Errorf("expected root node data_retrieval, got %s", g.RootNodes[0].Department)
	}

	quant := g.GetNode(domain.DeptQuantitative)
	if len(quant.DependsOn) != 1 || quant.DependsOn[0].Department != domain.DeptDataRetrieval {
		t.Error("quantitative_analysis should depend on data_retrieval")
	}

	rec := g.GetNode(domain.DeptRecommendation)
	if len(rec.DependsOn) != 1 || rec.DependsOn[0].Department != domain.DeptQuantitative {
		t.Error("recommendation_generation should depend on quantitative_analysis")
	}
}

func TestBuildGraph_Diamond(t *testing.T) {
	// data_retrieval → quantitative → recommendation
	// data_retrieval → qualitative  → recommendation
	p := &domain.Plan{
		Assignments: []domain.Assignment{
			{Department: domain.DeptDataRetrieval, Sequence: 0},
			{Department: domain.DeptQuantitative, Sequence: 1, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
			{Department: domain.DeptQualitative, Sequence: 2, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
			{Department: domain.DeptRecommendation, Sequence: 3, DependsOn: []domain.Department{domain.DeptQuantitative, domain.DeptQualitative}},
		},
	}

	g, err := BuildGraph(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 4 {
		t.Errorf("expected 4 nodes, got %d", g.Size())
	}

	if g.GetNode(domain.DeptDataRetrieval).InDegree != 0 {
		t.Error("data_retrieval should have inDegree 0")
	}
	if g.GetNode(domain.DeptQuantitative).InDegree != 1 {
		t.Error("quantitative_analysis should have inDegree 1")
	}
	if g.GetNode(domain.DeptRecommendation).InDegree != 2 {
		t.Error("recommendation_generation should have inDegree 2")
	}
}

func TestBuildGraph_Validation(t *testing.T) {
	tests := []struct {
		name    string
		plan    *domain.Plan
		wantErr error
	}{
		{
			name:    "empty plan",
			plan:    &domain.Plan{},
			wantErr: ErrEmptyPlan,
		},
		{
			name:    "nil plan",
			plan:    nil,
			wantErr: ErrEmptyPlan,
		},
		{
			name: "unknown department",
			plan: &domain.Plan{
				Assignments: []domain.Assignment{
					{Department: "astrology", Sequence: 0},
				},
			},
			wantErr: ErrUnknownDepartment,
		},
		{
			name: "duplicate department",
			plan: &domain.Plan{
				Assignments: []domain.Assignment{
					{Department: domain.DeptDataRetrieval, Sequence: 0},
					{Department: domain.DeptDataRetrieval, Sequence: 1},
				},
			},
			wantErr: ErrDuplicateDepartment,
		},
		{
			name: "missing dependency",
			plan: &domain.Plan{
				Assignments: []domain.Assignment{
					{Department: domain.DeptQuantitative, Sequence: 0, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
				},
			},
			wantErr: ErrMissingDependency,
		},
		{
			name: "self dependency",
			plan: &domain.Plan{
				Assignments: []domain.Assignment{
					{Department: domain.DeptDataRetrieval, Sequence: 0, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
				},
			},
			wantErr: ErrSelfDependency,
		},
		{
			name: "cyclic dependency",
			plan: &domain.Plan{
				Assignments: []domain.Assignment{
					{Department: domain.DeptDataRetrieval, Sequence: 0, DependsOn: []domain.Department{domain.DeptQuantitative}},
					{Department: domain.DeptQuantitative, Sequence: 1, DependsOn: []domain.Department{domain.DeptQualitative}},
					{Department: domain.DeptQualitative, Sequence: 2, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
				},
			},
			wantErr: ErrCyclicDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.plan)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGraph_Ready(t *testing.T) {
	p := &domain.Plan{
		Assignments: []domain.Assignment{
			{Department: domain.DeptDataRetrieval, Sequence: 0},
			{Department: domain.DeptQuantitative, Sequence: 1, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
			{Department: domain.DeptQualitative, Sequence: 2, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
			{Department: domain.DeptRecommendation, Sequence: 3, DependsOn: []domain.Department{domain.DeptQuantitative, domain.DeptQualitative}},
		},
	}

	g, err := BuildGraph(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Изначально готов только data_retrieval
	ready := g.Ready(nil, nil)
	if len(ready) != 1 || ready[0].Department != domain.DeptDataRetrieval {
		t.Fatalf("expected only data_retrieval ready, got %v", ready)
	}

	// После завершения data_retrieval готовы оба аналитических
	completed := map[domain.Department]bool{domain.DeptDataRetrieval: true}
	ready = g.Ready(completed, nil)
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready assignments, got %d", len(ready))
	}
	// Детерминированный порядок: по Sequence
	if ready[0].Department != domain.DeptQuantitative || ready[1].Department != domain.DeptQualitative {
		t.Errorf("expected [quantitative, qualitative], got [%s, %s]", ready[0].Department, ready[1].Department)
	}

	// Задачи в полёте не предлагаются повторно
	inflight := map[domain.Department]bool{domain.DeptQuantitative: true}
	ready = g.Ready(completed, inflight)
	if len(ready) != 1 || ready[0].Department != domain.DeptQualitative {
		t.Errorf("expected only qualitative ready, got %v", ready)
	}

	// Recommendation ждёт завершения обоих анализов
	completed[domain.DeptQuantitative] = true
	ready = g.Ready(completed, nil)
	for _, a := range ready {
		if a.Department == domain.DeptRecommendation {
			t.Error("recommendation should not be ready until qualitative completes")
		}
	}

	completed[domain.DeptQualitative] = true
	ready = g.Ready(completed, nil)
	if len(ready) != 1 || ready[0].Department != domain.DeptRecommendation {
		t.Errorf("expected only recommendation ready, got %v", ready)
	}
}

func TestGraph_IsComplete(t *testing.T) {
	g, err := BuildGraph(chainPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.IsComplete(nil) {
		t.Error("should not be complete with no completed nodes")
	}

	partial := map[domain.Department]bool{domain.DeptDataRetrieval: true}
	if g.IsComplete(partial) {
		t.Error("should not be complete with only data_retrieval completed")
	}

	all := map[domain.Department]bool{
		domain.DeptDataRetrieval:  true,
		domain.DeptQuantitative:   true,
		domain.DeptRecommendation: true,
	}
	if !g.IsComplete(all) {
		t.Error("should be complete with all nodes completed")
	}
}

func TestGraph_TopologicalOrder(t *testing.T) {
	p := &domain.Plan{
		Assignments: []domain.Assignment{
			{Department: domain.DeptRecommendation, Sequence: 3, DependsOn: []domain.Department{domain.DeptQuantitative, domain.DeptQualitative}},
			{Department: domain.DeptQualitative, Sequence: 2, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
			{Department: domain.DeptQuantitative, Sequence: 1, DependsOn: []domain.Department{domain.DeptDataRetrieval}},
			{Department: domain.DeptDataRetrieval, Sequence: 0},
		},
	}

	g, err := BuildGraph(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	positions := make(map[domain.Department]int)
	for i, node := range g.Order {
		positions[node.Department] = i
	}

	if positions[domain.DeptDataRetrieval] > positions[domain.DeptQuantitative] {
		t.Error("data_retrieval should come before quantitative_analysis")
	}
	if positions[domain.DeptQuantitative] > positions[domain.DeptRecommendation] {
		t.Error("quantitative_analysis should come before recommendation_generation")
	}
	if positions[domain.DeptQualitative] > positions[domain.DeptRecommendation] {
		t.Error("qualitative_analysis should come before recommendation_generation")
	}
}
