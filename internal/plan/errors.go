package plan

import "errors"

// Ошибки валидации плана.
var (
	// ErrEmptyPlan — план не содержит назначений.
	ErrEmptyPlan = errors.New("plan has no assignments")

	// ErrUnknownDepartment — назначение неизвестному department.
	ErrUnknownDepartment = errors.New("unknown department")

	// ErrDuplicateDepartment — несколько назначений одному department.
	ErrDuplicateDepartment = errors.New("duplicate department assignment")

	// ErrMissingDependency — назначение зависит от department вне плана.
	ErrMissingDependency = errors.New("assignment depends on department outside plan")

	// ErrSelfDependency — назначение зависит от самого себя.
	ErrSelfDependency = errors.New("assignment depends on itself")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)
