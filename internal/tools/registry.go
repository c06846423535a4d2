// Package tools implements the tool registry and runner: registration,
// JSON-Schema validation, security interposition, timeout/retry-bounded
// execution, and result normalization.
package tools

import (
	"fmt"
	"sync"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// ErrToolAlreadyRegistered is returned by Register when a definition
// with the same name already exists in the registry.
var ErrToolAlreadyRegistered = fmt.Errorf("tools: tool already registered")

// Registry holds ToolDefinitions keyed by their unique dotted name.
// Unlike a naive registry that silently replaces on re-registration,
// Register here fails on a duplicate name so construction errors
// surface immediately rather than masking a misconfigured toolset.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*compiledTool
}

type compiledTool struct {
	def    agentmodel.ToolDefinition
	schema *compiledSchema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*compiledTool)}
}

// Register adds def to the registry, compiling its parameter schema
// once up front. It returns ErrToolAlreadyRegistered if a tool of the
// same name is already present.
func (r *Registry) Register(def agentmodel.ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, def.Name)
	}

	schema, err := compileSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("tools: compiling schema for %s: %w", def.Name, err)
	}

	r.tools[def.Name] = &compiledTool{def: def, schema: schema}
	return nil
}

// Unregister removes a tool by name. It is a no-op if the name is not
// present, so that unregister-then-register always succeeds.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Lookup returns a tool's definition and whether it was found.
func (r *Registry) Lookup(name string) (agentmodel.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.tools[name]
	if !ok {
		return agentmodel.ToolDefinition{}, false
	}
	return ct.def, true
}

// List returns every registered tool definition.
func (r *Registry) List() []agentmodel.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agentmodel.ToolDefinition, 0, len(r.tools))
	for _, ct := range r.tools {
		out = append(out, ct.def)
	}
	return out
}

// ListByRisk returns every registered tool at exactly the given risk
// level.
func (r *Registry) ListByRisk(level agentmodel.RiskLevel) []agentmodel.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []agentmodel.ToolDefinition
	for _, ct := range r.tools {
		if ct.def.Risk == level {
			out = append(out, ct.def)
		}
	}
	return out
}

// ListByPlugin returns every registered tool owned by the given plugin.
func (r *Registry) ListByPlugin(plugin string) []agentmodel.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []agentmodel.ToolDefinition
	for _, ct := range r.tools {
		if ct.def.Plugin == plugin {
			out = append(out, ct.def)
		}
	}
	return out
}

// SchemaFunctions exports every registered tool in OpenAI-style
// function-calling shape.
func (r *Registry) SchemaFunctions() []agentmodel.ToolSchemaFunction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agentmodel.ToolSchemaFunction, 0, len(r.tools))
	for _, ct := range r.tools {
		out = append(out, agentmodel.ToolSchemaFunction{
			Type: "function",
			Function: agentmodel.ToolSchemaFunctionOf{
				Name:        ct.def.Name,
				Description: ct.def.Description,
				Parameters:  ct.def.Parameters,
			},
		})
	}
	return out
}

// SchemaInputs exports every registered tool in Anthropic-style
// input_schema shape.
func (r *Registry) SchemaInputs() []agentmodel.ToolSchemaInput {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agentmodel.ToolSchemaInput, 0, len(r.tools))
	for _, ct := range r.tools {
		out = append(out, agentmodel.ToolSchemaInput{
			Name:        ct.def.Name,
			Description: ct.def.Description,
			InputSchema: ct.def.Parameters,
		})
	}
	return out
}

func (r *Registry) get(name string) (*compiledTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.tools[name]
	return ct, ok
}
