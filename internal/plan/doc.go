// Package plan содержит планировщик декомпозиции requests.
//
// Включает:
//   - planner.go  — построение плана (kind → набор назначений departments)
//   - graph.go    — построение и обход графа зависимостей назначений
//   - template.go — рендеринг Go templates ({{ .Params.x }})
//
// Plan отвечает за понимание структуры request'а и определение
// порядка диспетчеризации задач на основе зависимостей departments.
package plan
