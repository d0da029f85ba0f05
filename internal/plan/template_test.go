package plan

import (
	"errors"
	"testing"

	"github.com/shaiso/Hivemind/internal/domain"
)

func TestRender_Plain(t *testing.T) {
	ctx := NewContext(nil)

	result, err := Render("no templates here", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "no templates here" {
		t.Errorf("expected passthrough, got %q", result)
	}
}

func TestRender_Params(t *testing.T) {
	ctx := NewContext(map[string]any{
		"period": "2026-08",
		"limit":  100,
	})

	tests := []struct {
		tmpl string
		want string
	}{
		{"{{ .Params.period }}", "2026-08"},
		{"{{ .Params.limit }}", "100"},
		{"period={{ .Params.period }}", "period=2026-08"},
		{`{{ .Params.missing | default "fallback" }}`, "fallback"},
		{"{{ upper .Params.period }}", "2026-08"},
	}

	for _, tt := range tests {
		result, err := Render(tt.tmpl, ctx)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.tmpl, err)
			continue
		}
		if result != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.tmpl, tt.want, result)
		}
	}
}

func TestRender_TaskOutputs(t *testing.T) {
	ctx := NewContext(nil)
	ctx.AddTaskResult(domain.DeptDataRetrieval, map[string]any{
		"record_count": 42,
		"source":       "warehouse",
	}, domain.TaskStatusCompleted)

	result, err := Render("{{ .Tasks.data_retrieval.Output.source }}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "warehouse" {
		t.Errorf("expected warehouse, got %q", result)
	}

	result, err = Render("{{ .Tasks.data_retrieval.Status }}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "COMPLETED" {
		t.Errorf("expected COMPLETED, got %q", result)
	}
}

func TestRender_ParseError(t *testing.T) {
	ctx := NewContext(nil)

	_, err := Render("{{ .Params.x", ctx)
	if !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
}

func TestRenderValue_Recursive(t *testing.T) {
	ctx := NewContext(map[string]any{"name": "acme"})

	value := map[string]any{
		"tenant": "{{ .Params.name }}",
		"nested": map[string]any{
			"greeting": "hello {{ .Params.name }}",
		},
		"list":   []any{"{{ .Params.name }}", 7},
		"number": 42,
	}

	rendered, err := RenderValue(value, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := rendered.(map[string]any)
	if m["tenant"] != "acme" {
		t.Errorf("expected acme, got %v", m["tenant"])
	}

	nested := m["nested"].(map[string]any)
	if nested["greeting"] != "hello acme" {
		t.Errorf("expected greeting rendered, got %v", nested["greeting"])
	}

	list := m["list"].([]any)
	if list[0] != "acme" || list[1] != 7 {
		t.Errorf("expected list rendered, got %v", list)
	}

	if m["number"] != 42 {
		t.Errorf("numbers should pass through, got %v", m["number"])
	}
}

func TestRenderInput(t *testing.T) {
	ctx := NewContext(map[string]any{"period": "Q3"})

	input, err := RenderInput(map[string]any{"period": "{{ .Params.period }}"}, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input["period"] != "Q3" {
		t.Errorf("expected Q3, got %v", input["period"])
	}

	// nil input не является ошибкой
	input, err = RenderInput(nil, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(input) != 0 {
		t.Errorf("expected empty map, got %v", input)
	}
}
