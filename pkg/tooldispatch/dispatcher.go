// Package tooldispatch resolves model-requested tool invocations
// against a fixed capability registry. Failures are always normalized
// to textual results so the loop can feed them back to the model.
package tooldispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calder/inkwell/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, input map[string]interface{}) (string, error)

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Definition defines a tool's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Observer receives pre- and post-execution notifications
type Observer interface {
	ToolStarting(name string, input map[string]interface{})
	ToolFinished(name string, result string)
}

// Dispatcher manages the capability registry and executes tools
type Dispatcher struct {
	tools     map[string]*Definition
	schemas   map[string]*gojsonschema.Schema
	observers []Observer
	mu        sync.RWMutex
}

// New creates a new Dispatcher
func New() *Dispatcher {
	observability.EnsureRegistered()

	return &Dispatcher{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register registers a new tool
func (d *Dispatcher) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := buildSchema(def)
	if err != nil {
		return fmt.Errorf("failed to build schema for %s: %w", def.Name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	d.tools[def.Name] = &def
	d.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// AddObserver attaches an execution observer
func (d *Dispatcher) AddObserver(obs Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, obs)
}

// Get returns a tool definition by name, or nil
func (d *Dispatcher) Get(name string) *Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tools[name]
}

// List returns all registered tool definitions
func (d *Dispatcher) List() []*Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()

	defs := make([]*Definition, 0, len(d.tools))
	for _, def := range d.tools {
		defs = append(defs, def)
	}
	return defs
}

// Dispatch executes the named tool with structured input and returns a
// textual result plus a success flag. Dispatch never returns an error:
// unknown tools and handler failures are surfaced as text for the
// model to adapt to.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input map[string]interface{}) (string, bool) {
	start := time.Now()

	d.mu.RLock()
	def := d.tools[name]
	schema := d.schemas[name]
	observers := make([]Observer, len(d.observers))
	copy(observers, d.observers)
	d.mu.RUnlock()

	if def == nil {
		log.Warn().Str("tool", name).Msg("Unknown tool requested")
		observability.RecordToolDispatch(name, time.Since(start), false)
		return fmt.Sprintf("unknown tool: %s", name), false
	}

	for _, obs := range observers {
		obs.ToolStarting(name, input)
	}

	result, ok := d.run(ctx, def, schema, input)

	for _, obs := range observers {
		obs.ToolFinished(name, result)
	}

	duration := time.Since(start)
	observability.RecordToolDispatch(name, duration, ok)

	log.Debug().
		Str("tool", name).
		Dur("duration", duration).
		Bool("success", ok).
		Msg("Tool dispatched")

	return result, ok
}

func (d *Dispatcher) run(ctx context.Context, def *Definition, schema *gojsonschema.Schema, input map[string]interface{}) (result string, ok bool) {
	if input == nil {
		input = map[string]interface{}{}
	}

	if err := validateInput(schema, input); err != nil {
		return fmt.Sprintf("error executing tool: %v", err), false
	}

	// Handler panics are recovered like any other failure
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("tool", def.Name).Interface("panic", r).Msg("Tool handler panicked")
			result = fmt.Sprintf("error executing tool: %v", r)
			ok = false
		}
	}()

	out, err := def.Handler(ctx, input)
	if err != nil {
		return fmt.Sprintf("error executing tool: %v", err), false
	}
	return out, true
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}
	return nil
}

// buildSchema generates a JSON Schema from tool parameters
func buildSchema(def Definition) (*gojsonschema.Schema, error) {
	schemaMap := SchemaMap(def)
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// SchemaMap returns the JSON-schema form of a tool's parameters, also
// used as the input_schema sent to the provider.
func SchemaMap(def Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func validateInput(schema *gojsonschema.Schema, input map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("input validation failed: %v", errs)
	}
	return nil
}
