// Package tools is the trusted boundary between the model and the user's
// data. The registry catalogs the callable tools and exports their schemas;
// the executor validates model-proposed arguments, injects the authenticated
// identity and dispatches to the handlers.
package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apollohq/apollo/internal/llm"
)

// Result statuses and error classifications.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	CodeValidation = "validation-error"
	CodeNotFound   = "not-found"
	CodeExecution  = "execution-error"
)

// Result is the structured outcome of one tool invocation. Every invocation
// produces exactly one, failures included.
type Result struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Tool is one callable operation. Handle receives the authenticated user id
// out-of-band and the already-parsed argument object.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, userID string, args map[string]any) (any, error)
}

// Registry is the static tool catalog. Register rejects duplicates and
// nameless definitions; the exported schemas are the only representation the
// model ever sees.
type Registry struct {
	order  []string
	byName map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Register adds a tool, enforcing unique non-empty names.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("registering tool: empty name")
	}
	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("registering tool %q: duplicate name", def.Name)
	}
	r.byName[def.Name] = t
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister panics on registration failure; used at composition time where
// a duplicate name is a programming error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns all registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Schemas exports the catalog in the shape the model provider consumes.
func (r *Registry) Schemas() []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		def := r.byName[name].Definition()
		params := map[string]any{
			"type":       def.InputSchema.Type,
			"properties": def.InputSchema.Properties,
		}
		if len(def.InputSchema.Required) > 0 {
			params["required"] = def.InputSchema.Required
		}
		schemas = append(schemas, llm.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return schemas
}
