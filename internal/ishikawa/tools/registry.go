// Package tools defines the bounded set of data tools the model may invoke.
//
// The model never executes anything: it proposes a tool call, and every
// proposal is checked against this registry before any SQL runs. A tool name
// outside the registry is rejected outright; a parameter that fails its
// schema is dropped so the query layer falls back to its default.
package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool names the model is allowed to propose.
const (
	SearchRows       = "search_rows"
	AggregateStats   = "aggregate_stats"
	LookupDefinition = "lookup_definition"
)

// ErrUnknownTool is returned when a proposed tool name is not registered.
var ErrUnknownTool = errors.New("tools: unknown tool")

// ErrUnknownParameter is returned by ValidateParam for a parameter the tool's
// schema does not declare.
var ErrUnknownParameter = errors.New("tools: unknown parameter")

// Spec describes one registered tool: its name, a model-facing description,
// and the JSON schema its parameters are validated against.
type Spec struct {
	Name        string
	Description string

	schema *jsonschema.Schema
}

// Parameters returns the declared parameter names in sorted order.
func (s *Spec) Parameters() []string {
	names := make([]string, 0, len(s.schema.Properties))
	for name := range s.schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParamType returns the declared JSON type of a parameter ("string",
// "number", "integer"), or "" when the schema does not declare it.
func (s *Spec) ParamType(name string) string {
	prop, ok := s.schema.Properties[name]
	if !ok || len(prop.Types) == 0 {
		return ""
	}
	return prop.Types[0]
}

// ValidateParam checks a single parameter value against its property schema.
// Returns ErrUnknownParameter for names the schema does not declare. Checking
// parameters one at a time lets the caller drop only the offending values
// instead of rejecting the whole call.
func (s *Spec) ValidateParam(name string, value any) error {
	prop, ok := s.schema.Properties[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownParameter, s.Name, name)
	}
	if err := prop.Validate(value); err != nil {
		return fmt.Errorf("tools: %s.%s: %w", s.Name, name, err)
	}
	return nil
}

// Registry holds the fixed set of tools. It is immutable after construction.
type Registry struct {
	specs map[string]*Spec
	order []string
}

const searchRowsSchema = `{
	"type": "object",
	"properties": {
		"category":   {"type": "string", "minLength": 1},
		"min_value":  {"type": "number", "minimum": 0},
		"max_value":  {"type": "number", "minimum": 0},
		"limit":      {"type": "integer", "minimum": 1},
		"sort_by":    {"type": "string", "minLength": 1},
		"sort_order": {"type": "string", "enum": ["ASC", "DESC", "asc", "desc"]}
	}
}`

const aggregateStatsSchema = `{
	"type": "object",
	"properties": {
		"group_by":   {"type": "string", "minLength": 1},
		"target_col": {"type": "string", "minLength": 1},
		"agg_type":   {"type": "string", "minLength": 1}
	}
}`

const lookupDefinitionSchema = `{
	"type": "object",
	"properties": {
		"term": {"type": "string", "minLength": 1}
	},
	"required": ["term"]
}`

// NewRegistry compiles the built-in tool specs. Compilation failure is a
// programming error, so this only fails when a schema constant is broken.
func NewRegistry() (*Registry, error) {
	r := &Registry{specs: make(map[string]*Spec)}

	defs := []struct {
		name, description, schema string
	}{
		{
			name: SearchRows,
			description: "Retrieve matching rows from the dataset. Parameters: " +
				"category (filter on the categorical column), min_value / max_value " +
				"(bounds on the value column), limit (row count), sort_by (column to " +
				"order by), sort_order (ASC or DESC).",
			schema: searchRowsSchema,
		},
		{
			name: AggregateStats,
			description: "Compute a grouped statistic over the dataset. Parameters: " +
				"group_by (column to group on), target_col (numeric column to aggregate), " +
				"agg_type (avg, sum, count, min, or max).",
			schema: aggregateStatsSchema,
		},
		{
			name: LookupDefinition,
			description: "Look up what a column or term means in this dataset. " +
				"Parameters: term (the word or column name to define).",
			schema: lookupDefinitionSchema,
		},
	}

	for _, d := range defs {
		compiled, err := jsonschema.CompileString(d.name+".schema.json", d.schema)
		if err != nil {
			return nil, fmt.Errorf("tools: compile %s schema: %w", d.name, err)
		}
		r.specs[d.name] = &Spec{Name: d.name, Description: d.description, schema: compiled}
		r.order = append(r.order, d.name)
	}
	return r, nil
}

// MustRegistry is NewRegistry for initialization paths where a broken
// built-in schema should stop the process.
func MustRegistry() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// Spec returns the named tool spec.
func (r *Registry) Spec(name string) (*Spec, error) {
	s, ok := r.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return s, nil
}

// Known reports whether name is a registered tool.
func (r *Registry) Known(name string) bool {
	_, ok := r.specs[name]
	return ok
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Catalogue renders the tool list for the system prompt: one block per tool
// with its description and parameter names.
func (r *Registry) Catalogue() string {
	var b strings.Builder
	for _, name := range r.order {
		s := r.specs[name]
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		fmt.Fprintf(&b, "  parameters: %s\n", strings.Join(s.Parameters(), ", "))
	}
	return b.String()
}
