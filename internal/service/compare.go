package service

import (
	"context"
	"math"
	"strings"
)

// CompareCapability — сравнение текущего периода с предыдущим.
//
// Записи с полем period, оканчивающимся на ":previous", относятся
// к предыдущему периоду; остальные — к текущему. Если меток нет,
// ряд делится пополам по порядку записей.
//
// Output:
//
//	{
//	    "previous_mean": 45.2,
//	    "current_mean": 51.4,
//	    "delta": 6.2,
//	    "delta_pct": 13.7,
//	    "direction": "up" | "down" | "flat"
//	}
type CompareCapability struct{}

// NewCompareCapability создаёт новую CompareCapability.
func NewCompareCapability() *CompareCapability {
	return &CompareCapability{}
}

// Name возвращает имя capability.
func (c *CompareCapability) Name() string {
	return CapabilityCompare
}

// Invoke сравнивает периоды по записям data_retrieval.
func (c *CompareCapability) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	records, err := upstreamRecords(inv)
	if err != nil {
		return nil, err
	}

	previous, current := splitPeriods(records)
	if len(previous) == 0 || len(current) == 0 {
		return nil, ErrNoRecords
	}

	prevMean := meanOf(previous)
	currMean := meanOf(current)
	delta := currMean - prevMean

	deltaPct := 0.0
	if prevMean != 0 {
		deltaPct = delta / math.Abs(prevMean) * 100
	}

	direction := "flat"
	switch {
	case delta > 0.005:
		direction = "up"
	case delta < -0.005:
		direction = "down"
	}

	return NewResult(map[string]any{
		"previous_mean": round2(prevMean),
		"current_mean":  round2(currMean),
		"delta":         round2(delta),
		"delta_pct":     round2(deltaPct),
		"direction":     direction,
	}), nil
}

// splitPeriods делит значения записей на предыдущий и текущий периоды.
func splitPeriods(records []any) (previous, current []float64) {
	labelled := false

	for _, r := range records {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if strings.HasSuffix(InputString(m, "period"), "previous") {
			labelled = true
			break
		}
	}

	if labelled {
		for _, r := range records {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			v, ok := InputFloat(m, "value")
			if !ok {
				continue
			}
			if strings.HasSuffix(InputString(m, "period"), "previous") {
				previous = append(previous, v)
			} else {
				current = append(current, v)
			}
		}
		return previous, current
	}

	// Без меток делим ряд пополам
	values := recordValues(records)
	mid := len(values) / 2
	return values[:mid], values[mid:]
}
