package domain

// Plan — результат фазы PLANNING: набор назначений по departments.
//
// План записывается в checkpoint до диспетчеризации (write-ahead),
// чтобы после падения orchestrator не планировал заново, а только
// дослал недиспетчеризованные назначения.
type Plan struct {
	// Assignments — назначения в порядке sequence.
	Assignments []Assignment `json:"assignments"`
}

// Assignment — одно назначение департаменту внутри плана.
type Assignment struct {
	// Department — кому назначена работа.
	Department Department `json:"department"`

	// Sequence — порядковый номер назначения (с нуля).
	// Определяет порядок слияния результатов в финальный ответ.
	Sequence int `json:"sequence"`

	// DependsOn — departments, результаты которых нужны до старта.
	DependsOn []Department `json:"depends_on,omitempty"`

	// Input — входные данные задачи. Строковые значения могут содержать
	// шаблоны вида {{ .Tasks.data_retrieval.Output.records }},
	// подставляемые при диспетчеризации.
	Input map[string]any `json:"input,omitempty"`
}

// Get возвращает назначение для department или nil.
func (p *Plan) Get(dept Department) *Assignment {
	for i := range p.Assignments {
		if p.Assignments[i].Department == dept {
			return &p.Assignments[i]
		}
	}
	return nil
}

// Departments возвращает departments плана в порядке sequence.
func (p *Plan) Departments() []Department {
	depts := make([]Department, len(p.Assignments))
	for i, a := range p.Assignments {
		depts[i] = a.Department
	}
	return depts
}
