package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Hivemind/internal/domain"
)

// Имена стандартных capabilities.
const (
	CapabilityFetchRecords = "fetch_records"
	CapabilityAggregate    = "aggregate_metrics"
	CapabilityThemes       = "extract_themes"
	CapabilityCompare      = "compare_periods"
	CapabilityForecast     = "project_trend"
	CapabilityRecommend    = "compose_recommendations"
	CapabilityRunAction    = "run_action"
)

// departmentCapabilities — какая capability обслуживает каждый department.
var departmentCapabilities = map[domain.Department]string{
	domain.DeptDataRetrieval:  CapabilityFetchRecords,
	domain.DeptQuantitative:   CapabilityAggregate,
	domain.DeptQualitative:    CapabilityThemes,
	domain.DeptComparative:    CapabilityCompare,
	domain.DeptPredictive:     CapabilityForecast,
	domain.DeptRecommendation: CapabilityRecommend,
}

// CapabilityForDepartment возвращает имя capability для department'а.
func CapabilityForDepartment(dept domain.Department) (string, error) {
	name, ok := departmentCapabilities[dept]
	if !ok {
		return "", fmt.Errorf("%w: no capability for department %s", ErrCapabilityNotFound, dept)
	}
	return name, nil
}

// Registry — реестр capabilities.
//
// Позволяет регистрировать и получать реализации Capability по имени.
// Потокобезопасен.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]Capability),
	}
}

// DefaultRegistry создаёт реестр со всеми стандартными capabilities.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(NewFetchCapability())
	r.Register(NewAggregateCapability())
	r.Register(NewThemesCapability())
	r.Register(NewCompareCapability())
	r.Register(NewForecastCapability())
	r.Register(NewRecommendCapability())
	r.Register(NewActionCapability())

	return r
}

// Register регистрирует capability в реестре.
// Если capability с таким именем уже существует, она будет перезаписана.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[c.Name()] = c
}

// Get возвращает capability по имени.
// Возвращает ErrCapabilityNotFound, если capability не найдена.
func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.capabilities[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, name)
	}

	return c, nil
}

// ForDepartment возвращает capability, обслуживающую department.
func (r *Registry) ForDepartment(dept domain.Department) (Capability, error) {
	name, err := CapabilityForDepartment(dept)
	if err != nil {
		return nil, err
	}
	return r.Get(name)
}

// Has проверяет, зарегистрирована ли capability.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.capabilities[name]
	return exists
}

// Names возвращает список всех зарегистрированных capabilities.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count возвращает количество зарегистрированных capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.capabilities)
}
