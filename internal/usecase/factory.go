package usecase

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

// ConditionBuilder constructs one condition type from its definition.
type ConditionBuilder func(def domain.ConditionDefinition, backend domain.SearchBackend, opts ConditionOptions) (domain.AlertCondition, error)

// ConditionFactory builds conditions by type name.
type ConditionFactory struct {
	builders map[string]ConditionBuilder
}

// NewConditionFactory returns a factory with the built-in condition types registered.
func NewConditionFactory() *ConditionFactory {
	f := &ConditionFactory{builders: make(map[string]ConditionBuilder)}
	f.Register(AggregationCountType, func(def domain.ConditionDefinition, backend domain.SearchBackend, opts ConditionOptions) (domain.AlertCondition, error) {
		return NewAggregationCount(def, backend, opts)
	})
	return f
}

// Register adds or replaces the builder for a type name.
func (f *ConditionFactory) Register(conditionType string, builder ConditionBuilder) {
	f.builders[conditionType] = builder
}

// Types lists the registered type names.
func (f *ConditionFactory) Types() []string {
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build constructs a condition. A missing ID is generated and a missing type
// defaults to aggregation-count.
func (f *ConditionFactory) Build(def domain.ConditionDefinition, backend domain.SearchBackend, opts ConditionOptions) (domain.AlertCondition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Type == "" {
		def.Type = AggregationCountType
	}
	builder, ok := f.builders[def.Type]
	if !ok {
		return nil, &domain.ConfigurationError{Key: "type", Reason: fmt.Sprintf("unknown condition type %q", def.Type)}
	}
	return builder(def, backend, opts)
}

// BuildAll constructs every definition, failing on the first invalid one or on duplicate IDs.
func (f *ConditionFactory) BuildAll(defs []domain.ConditionDefinition, backend domain.SearchBackend, opts ConditionOptions) ([]domain.AlertCondition, error) {
	seen := make(map[string]struct{}, len(defs))
	conditions := make([]domain.AlertCondition, 0, len(defs))
	for i, def := range defs {
		cond, err := f.Build(def, backend, opts)
		if err != nil {
			return nil, fmt.Errorf("condition #%d: %w", i+1, err)
		}
		id := cond.Summary().ID
		if _, dup := seen[id]; dup {
			return nil, &domain.ConfigurationError{Key: "id", Reason: fmt.Sprintf("duplicate condition id %q", id)}
		}
		seen[id] = struct{}{}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}
