// Package tools defines the tools available to the dialogue loop and
// the closed registry that dispatches calls to them.
package tools

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Handler runs a tool. Handlers validate their own arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Spec is the model-facing declaration of a tool.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry is a closed table of tools, fixed at construction. It is
// read-only afterwards and may be shared by concurrent dialogue loops.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry builds a registry from tools. Duplicate or empty names
// and missing handlers are rejected.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for i, t := range tools {
		switch {
		case t == nil:
			return nil, fmt.Errorf("tool %d is nil", i)
		case t.Name == "":
			return nil, fmt.Errorf("tool %d has no name", i)
		case t.Handler == nil:
			return nil, fmt.Errorf("tool %q has no handler", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Specs returns the declaration of every tool in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Spec{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return out
}

// List returns all tools in the OpenAI function-calling shape the llm
// package consumes.
func (r *Registry) List() []map[string]any {
	return Definitions(r.Specs())
}

// Definitions renders specs in the OpenAI function-calling shape.
func Definitions(specs []Spec) []map[string]any {
	if len(specs) == 0 {
		return nil
	}
	defs := make([]map[string]any, 0, len(specs))
	for _, s := range specs {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  params,
			},
		})
	}
	return defs
}

// Invoke runs the named tool. It returns *UnknownToolError when no
// such tool is registered and *ExecutionError when the handler fails
// or panics.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result string, err error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &UnknownToolError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			result = ""
			err = &ExecutionError{
				Name:  name,
				Cause: fmt.Errorf("panic: %v", p),
				Stack: string(debug.Stack()),
			}
		}
	}()

	out, herr := tool.Handler(ctx, args)
	if herr != nil {
		return "", &ExecutionError{Name: name, Cause: herr}
	}
	return out, nil
}
