package plan

import (
	"testing"

	"github.com/shaiso/Hivemind/internal/domain"
)

func TestPlanner_Kinds(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		depts []domain.Department
	}{
		{
			name: "quantitative",
			kind: KindQuantitative,
			depts: []domain.Department{
				domain.DeptDataRetrieval,
				domain.DeptQuantitative,
				domain.DeptRecommendation,
			},
		},
		{
			name: "qualitative",
			kind: KindQualitative,
			depts: []domain.Department{
				domain.DeptDataRetrieval,
				domain.DeptQualitative,
				domain.DeptRecommendation,
			},
		},
		{
			name: "comparative",
			kind: KindComparative,
			depts: []domain.Department{
				domain.DeptDataRetrieval,
				domain.DeptQuantitative,
				domain.DeptComparative,
				domain.DeptRecommendation,
			},
		},
		{
			name: "forecast",
			kind: KindForecast,
			depts: []domain.Department{
				domain.DeptDataRetrieval,
				domain.DeptQuantitative,
				domain.DeptPredictive,
				domain.DeptRecommendation,
			},
		},
		{
			name:  "full",
			kind:  KindFull,
			depts: domain.AllDepartments,
		},
		{
			name:  "unknown kind falls back to full pipeline",
			kind:  "some_future_kind",
			depts: domain.AllDepartments,
		},
	}

	planner := NewPlanner()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &domain.Request{Kind: tt.kind}

			p, err := planner.Plan(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(p.Assignments) != len(tt.depts) {
				t.Fatalf("expected %d assignments, got %d", len(tt.depts), len(p.Assignments))
			}

			for i, want := range tt.depts {
				if p.Assignments[i].Department != want {
					t.Errorf("assignment %d: expected %s, got %s", i, want, p.Assignments[i].Department)
				}
				if p.Assignments[i].Sequence != i {
					t.Errorf("assignment %d: expected sequence %d, got %d", i, i, p.Assignments[i].Sequence)
				}
			}
		})
	}
}

func TestPlanner_Dependencies(t *testing.T) {
	planner := NewPlanner()

	p, err := planner.Plan(&domain.Request{Kind: KindFull})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, a := range p.Assignments {
		switch a.Department {
		case domain.DeptDataRetrieval:
			if len(a.DependsOn) != 0 {
				t.Errorf("data_retrieval should have no dependencies, got %v", a.DependsOn)
			}

		case domain.DeptRecommendation:
			if len(a.DependsOn) != 4 {
				t.Errorf("recommendation should depend on all 4 analysis departments, got %v", a.DependsOn)
			}

		default:
			if len(a.DependsOn) != 1 || a.DependsOn[0] != domain.DeptDataRetrieval {
				t.Errorf("%s should depend only on data_retrieval, got %v", a.Department, a.DependsOn)
			}
		}
	}
}

func TestPlanner_ParamsCopiedPerAssignment(t *testing.T) {
	planner := NewPlanner()

	req := &domain.Request{
		Kind:   KindQuantitative,
		Params: map[string]any{"period": "2026-08"},
	}

	p, err := planner.Plan(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Каждое назначение получает собственную копию параметров
	p.Assignments[0].Input["extra"] = "value"
	if _, ok := p.Assignments[1].Input["extra"]; ok {
		t.Error("mutating one assignment's input should not affect another")
	}

	for i, a := range p.Assignments {
		if a.Input["period"] != "2026-08" {
			t.Errorf("assignment %d: expected period param to be propagated", i)
		}
	}
}

func TestPlanner_PlanIsBuildable(t *testing.T) {
	planner := NewPlanner()

	for kind := range pipelines {
		p, err := planner.Plan(&domain.Request{Kind: kind})
		if err != nil {
			t.Fatalf("kind %s: unexpected error: %v", kind, err)
		}

		if _, err := BuildGraph(p); err != nil {
			t.Errorf("kind %s: plan should produce a valid graph: %v", kind, err)
		}
	}
}
