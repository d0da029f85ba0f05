package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/faults"
)

// invocationWithRecords строит invocation с готовым output data_retrieval.
func invocationWithRecords(records []any) *Invocation {
	return &Invocation{
		TaskID:    uuid.New(),
		RequestID: uuid.New(),
		TenantID:  uuid.New(),
		Input: map[string]any{
			"upstream": map[string]any{
				domain.DeptDataRetrieval.String(): map[string]any{
					"records": records,
				},
			},
		},
		Attempt: 1,
	}
}

func valueRecords(values ...float64) []any {
	records := make([]any, len(values))
	for i, v := range values {
		records[i] = map[string]any{"index": i, "value": v}
	}
	return records
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	if r.Count() != 7 {
		t.Errorf("expected 7 capabilities, got %d", r.Count())
	}

	// Каждый department должен быть обслужен
	for _, dept := range domain.AllDepartments {
		c, err := r.ForDepartment(dept)
		if err != nil {
			t.Errorf("department %s: %v", dept, err)
			continue
		}
		want, _ := CapabilityForDepartment(dept)
		if c.Name() != want {
			t.Errorf("department %s: expected %s, got %s", dept, want, c.Name())
		}
	}

	if _, err := r.Get("unknown"); !errors.Is(err, ErrCapabilityNotFound) {
		t.Errorf("expected ErrCapabilityNotFound, got %v", err)
	}
}

func TestFetch_Synthetic(t *testing.T) {
	c := NewFetchCapability()
	tenant := uuid.New()

	inv := &Invocation{
		TenantID: tenant,
		Input:    map[string]any{"period": "2026-08"},
	}

	res, err := c.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Output["source"] != "synthetic" {
		t.Errorf("expected synthetic source, got %v", res.Output["source"])
	}

	records := res.Output["records"].([]any)
	if len(records) != defaultRecordCount {
		t.Errorf("expected %d records, got %d", defaultRecordCount, len(records))
	}

	// Одинаковый tenant и период → одинаковые данные
	res2, err := c.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := records[0].(map[string]any)
	second := res2.Output["records"].([]any)[0].(map[string]any)
	if first["value"] != second["value"] {
		t.Error("synthetic records should be deterministic for the same tenant and period")
	}
}

func TestFetch_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant-ID") == "" {
			t.Error("expected X-Tenant-ID header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"value": 1.5}, {"value": 2.5}]`))
	}))
	defer srv.Close()

	c := NewFetchCapability()
	inv := &Invocation{
		TenantID: uuid.New(),
		Input:    map[string]any{"source_url": srv.URL},
	}

	res, err := c.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Output["record_count"] != 2 {
		t.Errorf("expected 2 records, got %v", res.Output["record_count"])
	}
	if res.Output["source"] != "http" {
		t.Errorf("expected http source, got %v", res.Output["source"])
	}
}

func TestFetch_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantClass faults.Class
	}{
		{"server error is transient", http.StatusInternalServerError, faults.ClassTransient},
		{"rate limit is transient", http.StatusTooManyRequests, faults.ClassTransient},
		{"not found is permanent", http.StatusNotFound, faults.ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewFetchCapability()
			inv := &Invocation{
				TenantID: uuid.New(),
				Input:    map[string]any{"source_url": srv.URL},
			}

			_, err := c.Invoke(context.Background(), inv)
			if err == nil {
				t.Fatal("expected error")
			}
			if faults.Classify(err) != tt.wantClass {
				t.Errorf("expected class %s, got %s", tt.wantClass, faults.Classify(err))
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	c := NewAggregateCapability()

	res, err := c.Invoke(context.Background(), invocationWithRecords(valueRecords(10, 20, 30, 40)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Output["count"] != 4 {
		t.Errorf("expected count 4, got %v", res.Output["count"])
	}
	if res.Output["sum"] != 100.0 {
		t.Errorf("expected sum 100, got %v", res.Output["sum"])
	}
	if res.Output["mean"] != 25.0 {
		t.Errorf("expected mean 25, got %v", res.Output["mean"])
	}
	if res.Output["min"] != 10.0 || res.Output["max"] != 40.0 {
		t.Errorf("expected min 10 max 40, got %v/%v", res.Output["min"], res.Output["max"])
	}
	// Первая половина: mean 15, вторая: mean 35 → рост 133.33%
	if res.Output["growth_pct"] != 133.33 {
		t.Errorf("expected growth 133.33, got %v", res.Output["growth_pct"])
	}
}

func TestAggregate_NoRecords(t *testing.T) {
	c := NewAggregateCapability()

	_, err := c.Invoke(context.Background(), invocationWithRecords(nil))
	if !errors.Is(err, ErrNoRecords) {
		t.Errorf("expected ErrNoRecords, got %v", err)
	}

	// Без upstream вообще
	_, err = c.Invoke(context.Background(), &Invocation{Input: map[string]any{}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestThemes(t *testing.T) {
	records := []any{
		map[string]any{"note": "churn spike after pricing change"},
		map[string]any{"note": "churn complaints rising"},
		map[string]any{"note": "revenue growth steady"},
	}

	c := NewThemesCapability()
	res, err := c.Invoke(context.Background(), invocationWithRecords(records))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	themes := res.Output["themes"].([]any)
	if len(themes) == 0 {
		t.Fatal("expected at least one theme")
	}

	top := themes[0].(map[string]any)
	if top["theme"] != "churn" {
		t.Errorf("expected top theme churn, got %v", top["theme"])
	}
	if top["mentions"] != 2 {
		t.Errorf("expected 2 mentions, got %v", top["mentions"])
	}
}

func TestCompare_LabelledPeriods(t *testing.T) {
	records := []any{
		map[string]any{"value": 10.0, "period": "2026-08:previous"},
		map[string]any{"value": 20.0, "period": "2026-08:previous"},
		map[string]any{"value": 30.0, "period": "2026-08:current"},
		map[string]any{"value": 40.0, "period": "2026-08:current"},
	}

	c := NewCompareCapability()
	res, err := c.Invoke(context.Background(), invocationWithRecords(records))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Output["previous_mean"] != 15.0 {
		t.Errorf("expected previous_mean 15, got %v", res.Output["previous_mean"])
	}
	if res.Output["current_mean"] != 35.0 {
		t.Errorf("expected current_mean 35, got %v", res.Output["current_mean"])
	}
	if res.Output["direction"] != "up" {
		t.Errorf("expected direction up, got %v", res.Output["direction"])
	}
}

func TestForecast(t *testing.T) {
	// Точная прямая y = 2x + 1
	c := NewForecastCapability()
	res, err := c.Invoke(context.Background(), invocationWithRecords(valueRecords(1, 3, 5, 7)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Output["slope"] != 2.0 {
		t.Errorf("expected slope 2, got %v", res.Output["slope"])
	}
	if res.Output["trend"] != "up" {
		t.Errorf("expected trend up, got %v", res.Output["trend"])
	}

	projection := res.Output["projection"].([]any)
	if len(projection) != defaultHorizon {
		t.Fatalf("expected %d projected points, got %d", defaultHorizon, len(projection))
	}
	// Следующая точка: x=4 → y=9
	if projection[0] != 9.0 {
		t.Errorf("expected first projection 9, got %v", projection[0])
	}
}

func TestRecommend(t *testing.T) {
	inv := &Invocation{
		Input: map[string]any{
			"upstream": map[string]any{
				domain.DeptQuantitative.String(): map[string]any{
					"count": 10, "mean": 50.0, "growth_pct": -20.0,
				},
				domain.DeptPredictive.String(): map[string]any{
					"trend": "down", "slope": -1.5,
				},
			},
		},
	}

	c := NewRecommendCapability()
	res, err := c.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	findings := res.Output["findings"].([]any)
	if len(findings) != 2 {
		t.Errorf("expected 2 findings, got %d", len(findings))
	}

	// Падение метрик и нисходящий тренд → два предлагаемых действия
	actions := res.Output["proposed_actions"].([]any)
	if len(actions) != 2 {
		t.Fatalf("expected 2 proposed actions, got %d", len(actions))
	}

	first := actions[0].(map[string]any)
	if first["action_type"] != ActionTypeNotify {
		t.Errorf("expected notify_owner action, got %v", first["action_type"])
	}
}

func TestRecommend_NoUpstream(t *testing.T) {
	c := NewRecommendCapability()

	_, err := c.Invoke(context.Background(), &Invocation{Input: map[string]any{}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAction_UnknownType(t *testing.T) {
	c := NewActionCapability()

	_, err := c.Invoke(context.Background(), &Invocation{
		Input: map[string]any{"action_type": "format_disk"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if faults.Classify(err) != faults.ClassPermanent {
		t.Errorf("unknown action should be permanent, got %s", faults.Classify(err))
	}
}

func TestAction_Webhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		got = map[string]any{"called": true}
	}))
	defer srv.Close()

	c := NewActionCapability()
	res, err := c.Invoke(context.Background(), &Invocation{
		Input: map[string]any{
			"action_type": ActionTypeWebhook,
			"parameters":  map[string]any{"url": srv.URL, "slope": -1.5},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got == nil {
		t.Error("webhook was not called")
	}
	if res.Output["status_code"] != http.StatusAccepted {
		t.Errorf("expected 202, got %v", res.Output["status_code"])
	}
}
