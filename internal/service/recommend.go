package service

import (
	"context"
	"fmt"

	"github.com/shaiso/Hivemind/internal/domain"
)

// Типы предлагаемых действий.
const (
	ActionTypeNotify  = "notify_owner"
	ActionTypeWebhook = "trigger_webhook"
	ActionTypeReview  = "schedule_review"
)

// RecommendCapability — синтез выводов и предлагаемых действий.
//
// Работает поверх output'ов аналитических departments. Отсутствие
// какого-то анализа не ошибка: рекомендации строятся по тому,
// что есть в конвейере данного kind.
//
// Output:
//
//	{
//	    "findings": ["...", ...],
//	    "proposed_actions": [
//	        {"description": "...", "action_type": "notify_owner", "parameters": {...}},
//	    ]
//	}
//
// Предлагаемые действия не исполняются здесь: они становятся
// proposals и ждут одобрения человеком.
type RecommendCapability struct{}

// NewRecommendCapability создаёт новую RecommendCapability.
func NewRecommendCapability() *RecommendCapability {
	return &RecommendCapability{}
}

// Name возвращает имя capability.
func (c *RecommendCapability) Name() string {
	return CapabilityRecommend
}

// Invoke собирает выводы и предлагаемые действия.
func (c *RecommendCapability) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	findings := make([]any, 0, 4)
	actions := make([]any, 0, 2)

	if quant := inv.Upstream(domain.DeptQuantitative); quant != nil {
		growth, _ := InputFloat(quant, "growth_pct")
		findings = append(findings, fmt.Sprintf(
			"mean value %.2f over %d records, growth %.1f%%",
			floatOf(quant, "mean"), InputInt(quant, "count"), growth,
		))

		if growth < -10 {
			actions = append(actions, proposedAction(
				fmt.Sprintf("metrics dropped %.1f%%, notify the account owner", growth),
				ActionTypeNotify,
				map[string]any{"growth_pct": growth},
			))
		}
	}

	if qual := inv.Upstream(domain.DeptQualitative); qual != nil {
		if themes := InputSlice(qual, "themes"); len(themes) > 0 {
			if top, ok := themes[0].(map[string]any); ok {
				findings = append(findings, fmt.Sprintf(
					"dominant theme: %q (%d mentions)",
					InputString(top, "theme"), InputInt(top, "mentions"),
				))
			}
		}
	}

	if comp := inv.Upstream(domain.DeptComparative); comp != nil {
		deltaPct, _ := InputFloat(comp, "delta_pct")
		direction := InputString(comp, "direction")
		findings = append(findings, fmt.Sprintf(
			"period-over-period: %s %.1f%%", direction, deltaPct,
		))

		if direction == "down" && deltaPct < -15 {
			actions = append(actions, proposedAction(
				fmt.Sprintf("period decline of %.1f%%, schedule a review", deltaPct),
				ActionTypeReview,
				map[string]any{"delta_pct": deltaPct},
			))
		}
	}

	if pred := inv.Upstream(domain.DeptPredictive); pred != nil {
		trend := InputString(pred, "trend")
		findings = append(findings, fmt.Sprintf(
			"projected trend: %s (slope %.2f)", trend, floatOf(pred, "slope"),
		))

		if trend == "down" {
			actions = append(actions, proposedAction(
				"projected downward trend, trigger the mitigation webhook",
				ActionTypeWebhook,
				map[string]any{"slope": floatOf(pred, "slope")},
			))
		}
	}

	if len(findings) == 0 {
		return nil, fmt.Errorf("%w: no analysis outputs to summarize", ErrInvalidInput)
	}

	return NewResult(map[string]any{
		"findings":         findings,
		"proposed_actions": actions,
	}), nil
}

func proposedAction(description, actionType string, params map[string]any) map[string]any {
	return map[string]any{
		"description": description,
		"action_type": actionType,
		"parameters":  params,
	}
}

func floatOf(m map[string]any, key string) float64 {
	v, _ := InputFloat(m, key)
	return v
}
