package service

import (
	"context"
	"math"
)

// AggregateCapability — числовые агрегаты по записям.
//
// Output:
//
//	{
//	    "count": 24,
//	    "sum": 1234.5,
//	    "mean": 51.4,
//	    "min": 3.1,
//	    "max": 98.7,
//	    "stddev": 12.3,
//	    "growth_pct": 4.2
//	}
type AggregateCapability struct{}

// NewAggregateCapability создаёт новую AggregateCapability.
func NewAggregateCapability() *AggregateCapability {
	return &AggregateCapability{}
}

// Name возвращает имя capability.
func (c *AggregateCapability) Name() string {
	return CapabilityAggregate
}

// Invoke вычисляет агрегаты по записям data_retrieval.
func (c *AggregateCapability) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	records, err := upstreamRecords(inv)
	if err != nil {
		return nil, err
	}

	values := recordValues(records)
	if len(values) == 0 {
		return nil, ErrNoRecords
	}

	sum := 0.0
	minV := values[0]
	maxV := values[0]
	for _, v := range values {
		sum += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return NewResult(map[string]any{
		"count":      len(values),
		"sum":        round2(sum),
		"mean":       round2(mean),
		"min":        round2(minV),
		"max":        round2(maxV),
		"stddev":     round2(math.Sqrt(variance)),
		"growth_pct": round2(growthPct(values)),
	}), nil
}

// growthPct — рост среднего второй половины ряда к первой, в процентах.
func growthPct(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	mid := len(values) / 2
	first := meanOf(values[:mid])
	second := meanOf(values[mid:])

	if first == 0 {
		return 0
	}
	return (second - first) / math.Abs(first) * 100
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
