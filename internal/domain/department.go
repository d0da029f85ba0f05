package domain

// Department — именованная функциональная группа со своей очередью
// и пулом supervisor'ов.
type Department string

const (
	// DeptDataRetrieval — выборка данных tenant'а из внешнего источника.
	DeptDataRetrieval Department = "data_retrieval"

	// DeptQuantitative — числовые агрегаты: суммы, средние, рост.
	DeptQuantitative Department = "quantitative_analysis"

	// DeptQualitative — анализ текстовых данных: темы, частоты.
	DeptQualitative Department = "qualitative_analysis"

	// DeptComparative — сравнение текущего периода с предыдущим.
	DeptComparative Department = "comparative_analysis"

	// DeptPredictive — проекция тренда на будущие периоды.
	DeptPredictive Department = "predictive_analysis"

	// DeptRecommendation — синтез выводов и предлагаемых действий.
	DeptRecommendation Department = "recommendation_generation"
)

// AllDepartments — полный набор известных departments
// в каноническом порядке назначения.
var AllDepartments = []Department{
	DeptDataRetrieval,
	DeptQuantitative,
	DeptQualitative,
	DeptComparative,
	DeptPredictive,
	DeptRecommendation,
}

// IsKnown возвращает true, если department известен системе.
func (d Department) IsKnown() bool {
	for _, known := range AllDepartments {
		if d == known {
			return true
		}
	}
	return false
}

// String возвращает строковое представление Department.
func (d Department) String() string {
	return string(d)
}
