// Package registry maps action kinds to their factories and validates
// action params against each factory's JSON schema before instantiation.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		actionFactories: make(map[string]ActionFactory),
	}
}

func (r *Registry) RegisterAction(actionFactory ActionFactory) {
	r.actionFactories[actionFactory.ID()] = actionFactory
}

// CreateAction validates the params against the factory's schema and builds
// the action. Unknown kinds and schema violations are both errors.
func (r *Registry) CreateAction(kind string, params map[string]any) (Action, error) {
	factory, ok := r.actionFactories[kind]
	if !ok {
		return nil, fmt.Errorf("action kind '%s' not registered", kind)
	}

	if err := r.validateParams(factory, params); err != nil {
		return nil, fmt.Errorf("invalid params for action kind '%s': %w", kind, err)
	}

	return factory.Create(params)
}

// ValidateActionConfig checks action params against the registered schema
// without instantiating the action. Used at workflow save time.
func (r *Registry) ValidateActionConfig(kind string, params map[string]any) error {
	factory, ok := r.actionFactories[kind]
	if !ok {
		return fmt.Errorf("action kind '%s' not registered", kind)
	}

	return r.validateParams(factory, params)
}

// AvailableActions returns the registered action kinds, sorted.
func (r *Registry) AvailableActions() []string {
	kinds := make([]string, 0, len(r.actionFactories))
	for kind := range r.actionFactories {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)

	return kinds
}

// ActionSchemas returns the JSON schema per registered action kind.
func (r *Registry) ActionSchemas() map[string]map[string]any {
	schemas := make(map[string]map[string]any, len(r.actionFactories))
	for kind, factory := range r.actionFactories {
		schemas[kind] = factory.Schema()
	}

	return schemas
}

func (r *Registry) validateParams(factory ActionFactory, params map[string]any) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if params == nil {
		params = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(descriptions, "; "))
	}

	return nil
}
