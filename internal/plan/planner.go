package plan

import (
	"github.com/shaiso/Hivemind/internal/domain"
)

// Виды requests, известные planner'у.
const (
	KindQuantitative = "quantitative" // числовые метрики и агрегаты
	KindQualitative  = "qualitative"  // тематический анализ
	KindComparative  = "comparative"  // сравнение периодов
	KindForecast     = "forecast"     // прогнозирование трендов
	KindFull         = "full"         // полный конвейер
)

// pipelines — какие аналитические departments участвуют в каждом kind.
// data_retrieval и recommendation_generation добавляются всегда.
var pipelines = map[string][]domain.Department{
	KindQuantitative: {domain.DeptQuantitative},
	KindQualitative:  {domain.DeptQualitative},
	KindComparative:  {domain.DeptQuantitative, domain.DeptComparative},
	KindForecast:     {domain.DeptQuantitative, domain.DeptPredictive},
	KindFull: {
		domain.DeptQuantitative,
		domain.DeptQualitative,
		domain.DeptComparative,
		domain.DeptPredictive,
	},
}

// Planner строит план декомпозиции request'а на задачи departments.
type Planner struct{}

// NewPlanner создаёт новый Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan строит план для request'а.
//
// Структура плана детерминирована и зависит только от kind:
//   - data_retrieval всегда первый и ни от чего не зависит
//   - аналитические departments зависят от data_retrieval
//   - recommendation_generation зависит от всех аналитических departments
//
// Неизвестный kind получает полный конвейер — лучше избыточный анализ,
// чем молчаливый отказ.
//
// Sequence нумеруется по порядку добавления: именно в этом порядке
// результаты departments сливаются в итоговый отчёт.
func (p *Planner) Plan(req *domain.Request) (*domain.Plan, error) {
	analytical, ok := pipelines[req.Kind]
	if !ok {
		analytical = pipelines[KindFull]
	}

	assignments := make([]domain.Assignment, 0, len(analytical)+2)
	seq := 0

	add := func(dept domain.Department, deps []domain.Department) {
		assignments = append(assignments, domain.Assignment{
			Department: dept,
			Sequence:   seq,
			DependsOn:  deps,
			Input:      cloneParams(req.Params),
		})
		seq++
	}

	// Источник данных для всего конвейера
	add(domain.DeptDataRetrieval, nil)

	// Аналитические departments работают поверх извлечённых данных
	for _, dept := range analytical {
		add(dept, []domain.Department{domain.DeptDataRetrieval})
	}

	// Рекомендации строятся на результатах всего анализа
	add(domain.DeptRecommendation, analytical)

	plan := &domain.Plan{Assignments: assignments}

	// Построение графа валидирует план (в т.ч. защищает от ошибок
	// в таблице pipelines)
	if _, err := BuildGraph(plan); err != nil {
		return nil, err
	}

	return plan, nil
}

// cloneParams делает неглубокую копию параметров request'а.
// Каждое назначение получает собственную map, чтобы рендеринг
// и обогащение input'а одного department не задевали соседей.
func cloneParams(params map[string]any) map[string]any {
	input := make(map[string]any, len(params))
	for k, v := range params {
		input[k] = v
	}
	return input
}
