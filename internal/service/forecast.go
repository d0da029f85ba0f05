package service

import (
	"context"
)

const defaultHorizon = 3

// ForecastCapability — проекция тренда на будущие периоды.
//
// Строит линейную регрессию по значениям записей (метод наименьших
// квадратов, индекс записи как ось времени) и проецирует её на
// horizon шагов вперёд.
//
// Output:
//
//	{
//	    "slope": 1.02,
//	    "intercept": 42.0,
//	    "projection": [66.5, 67.5, 68.5],
//	    "trend": "up" | "down" | "flat"
//	}
type ForecastCapability struct{}

// NewForecastCapability создаёт новую ForecastCapability.
func NewForecastCapability() *ForecastCapability {
	return &ForecastCapability{}
}

// Name возвращает имя capability.
func (c *ForecastCapability) Name() string {
	return CapabilityForecast
}

// Invoke строит прогноз по записям data_retrieval.
func (c *ForecastCapability) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	records, err := upstreamRecords(inv)
	if err != nil {
		return nil, err
	}

	values := recordValues(records)
	if len(values) < 2 {
		return nil, ErrNoRecords
	}

	slope, intercept := linearFit(values)

	horizon := InputInt(inv.Input, "horizon")
	if horizon <= 0 {
		horizon = defaultHorizon
	}

	projection := make([]any, horizon)
	for i := 0; i < horizon; i++ {
		x := float64(len(values) + i)
		projection[i] = round2(slope*x + intercept)
	}

	trend := "flat"
	switch {
	case slope > 0.005:
		trend = "up"
	case slope < -0.005:
		trend = "down"
	}

	return NewResult(map[string]any{
		"slope":      round2(slope),
		"intercept":  round2(intercept),
		"projection": projection,
		"trend":      trend,
	}), nil
}

// linearFit — линейная регрессия методом наименьших квадратов.
func linearFit(values []float64) (slope, intercept float64) {
	n := float64(len(values))

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
