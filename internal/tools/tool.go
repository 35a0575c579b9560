// Package tools defines the callable capabilities exposed to analyst agents
// and the caching fetch layer behind them.
package tools

import (
	"context"
	"encoding/json"

	"minerva/internal/adapters/ai"
	"minerva/pkg/errors"
)

// Source tells where a tool result came from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceConditional Source = "conditional_304"
	SourceTTLCache    Source = "ttl_cache"
)

// Result is the outcome of a tool execution.
type Result struct {
	Payload     json.RawMessage `json:"payload"`
	Fingerprint string          `json:"fingerprint"`
	Source      Source          `json:"source"`
}

// Tool represents a callable capability exposed to agents.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string
	// Description returns a short human-readable summary.
	Description() string
	// Definition returns the schema advertised to the chat model.
	Definition() ai.ToolDefinition
	// Execute performs the tool's idempotent fetch using the provided arguments.
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// HandlerFunc is the function signature for tool handlers.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (*Result, error)

// FunctionTool is a simple Tool implementation backed by a handler function.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]interface{}
	handler     HandlerFunc
}

// New creates a new function-backed Tool. parameters is the JSON schema of
// the tool arguments.
func New(name, description string, parameters map[string]interface{}, handler HandlerFunc) Tool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		handler:     handler,
	}
}

// Name returns the tool identifier.
func (t *FunctionTool) Name() string { return t.name }

// Description returns a human description of the tool.
func (t *FunctionTool) Description() string { return t.description }

// Definition returns the chat-API function definition.
func (t *FunctionTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Type: "function",
		Function: ai.FunctionDefinition{
			Name:        t.name,
			Description: t.description,
			Parameters:  t.parameters,
		},
	}
}

// Execute runs the underlying handler.
func (t *FunctionTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	if t.handler == nil {
		return nil, errors.Wrapf(errors.ErrInternal, "tool %s has no handler", t.name)
	}

	return t.handler(ctx, args)
}

// StringArg reads a required string argument.
func StringArg(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", errors.Wrapf(errors.ErrInvalidInput, "missing argument %q", name)
	}
	return v, nil
}

// IntArg reads an optional integer argument with a fallback. Models send
// numbers as JSON floats.
func IntArg(args map[string]interface{}, name string, fallback int) int {
	switch v := args[name].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if int(v) > 0 {
			return int(v)
		}
	}
	return fallback
}
