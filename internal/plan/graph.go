package plan

import (
	"fmt"
	"sort"

	"github.com/shaiso/Hivemind/internal/domain"
)

// Node — узел в графе зависимостей плана.
type Node struct {
	// Assignment — назначение department'у из плана.
	Assignment *domain.Assignment

	// Department — идентификатор узла.
	Department domain.Department

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// Graph — направленный ациклический граф назначений плана.
type Graph struct {
	// Nodes — все узлы графа (department → Node).
	Nodes map[domain.Department]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildGraph строит граф зависимостей из плана.
//
// Валидирует план целиком:
// - план не пуст
// - каждый department известен и назначен не более одного раза
// - зависимости указывают на departments внутри плана
// - зависимости не образуют цикл
func BuildGraph(p *domain.Plan) (*Graph, error) {
	if p == nil || len(p.Assignments) == 0 {
		return nil, ErrEmptyPlan
	}

	g := &Graph{
		Nodes:     make(map[domain.Department]*Node),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for i := range p.Assignments {
		a := &p.Assignments[i]

		if !a.Department.IsKnown() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDepartment, a.Department)
		}
		if _, exists := g.Nodes[a.Department]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDepartment, a.Department)
		}

		g.Nodes[a.Department] = &Node{
			Assignment: a,
			Department: a.Department,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range p.Assignments {
		a := &p.Assignments[i]
		node := g.Nodes[a.Department]

		for _, dep := range a.DependsOn {
			if dep == a.Department {
				return nil, fmt.Errorf("%w: %s", ErrSelfDependency, dep)
			}

			depNode, exists := g.Nodes[dep]
			if !exists {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrMissingDependency, a.Department, dep)
			}

			g.addEdge(depNode, node)
		}
	}

	// Находим корневые узлы
	g.findRootNodes()

	// Проверяем на циклы и строим топологический порядок
	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.Department == from.Department {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
// Сортировка по Sequence даёт детерминированный порядок обхода.
func (g *Graph) findRootNodes() {
	g.RootNodes = make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.RootNodes = append(g.RootNodes, node)
		}
	}
	sort.Slice(g.RootNodes, func(i, j int) bool {
		return g.RootNodes[i].Assignment.Sequence < g.RootNodes[j].Assignment.Sequence
	})
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	// Копируем inDegree, чтобы не модифицировать оригинал
	inDegree := make(map[domain.Department]int)
	for dept, node := range g.Nodes {
		inDegree[dept] = node.InDegree
	}

	// Очередь узлов с inDegree = 0
	queue := make([]*Node, len(g.RootNodes))
	copy(queue, g.RootNodes)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.Department]--
			if inDegree[dependent.Department] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// Ready возвращает назначения, готовые к диспетчеризации.
//
// Назначение готово, если:
// - Все его зависимости завершены (в completed)
// - Само назначение ещё не завершено и не в полёте (не в completed и не в inflight)
//
// Порядок результата детерминирован: по Sequence назначения.
func (g *Graph) Ready(completed, inflight map[domain.Department]bool) []*domain.Assignment {
	if completed == nil {
		completed = make(map[domain.Department]bool)
	}
	if inflight == nil {
		inflight = make(map[domain.Department]bool)
	}

	ready := make([]*domain.Assignment, 0)

	// Обходим по топологическому порядку, чтобы результат был стабильным
	for _, node := range g.Order {
		if completed[node.Department] || inflight[node.Department] {
			continue
		}

		allDepsCompleted := true
		for _, dep := range node.DependsOn {
			if !completed[dep.Department] {
				allDepsCompleted = false
				break
			}
		}

		if allDepsCompleted {
			ready = append(ready, node.Assignment)
		}
	}

	return ready
}

// GetNode возвращает узел по department.
func (g *Graph) GetNode(dept domain.Department) *Node {
	return g.Nodes[dept]
}

// Size возвращает количество узлов в графе.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// IsComplete проверяет, все ли узлы завершены.
func (g *Graph) IsComplete(completed map[domain.Department]bool) bool {
	for dept := range g.Nodes {
		if !completed[dept] {
			return false
		}
	}
	return true
}
