package gateway

import (
	"context"
	"fmt"

	"github.com/hupe1980/taskmesh/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// gateway tool.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like parameter specification
//   - Validates supplied arguments against that schema before execution
//   - Normalizes error handling so callers receive *ToolError with consistent
//     codes:
//     VALIDATION_ERROR -> schema / argument mismatch
//     EXECUTION_ERROR  -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// Concurrency:
//
//	A FunctionTool has no internal mutable state after construction and is
//	safe for concurrent use by multiple goroutines.
type FunctionTool struct {
	name         string
	description  string
	parameters   map[string]any
	irreversible bool
	fn           func(ctx context.Context, args map[string]any) (any, error)
}

// FunctionToolOption customizes a FunctionTool.
type FunctionToolOption func(*FunctionTool)

// WithIrreversible marks the tool as performing an irreversible external
// effect, subjecting its operations to confirmation gating.
func WithIrreversible() FunctionToolOption {
	return func(t *FunctionTool) { t.irreversible = true }
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sendTool := NewFunctionTool(
//	  "send_email",
//	  "Send an email on the user's behalf",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "to":   map[string]any{"type": "string"},
//	      "body": map[string]any{"type": "string"},
//	    },
//	    "required": []any{"to", "body"},
//	  },
//	  sendFn,
//	  WithIrreversible(),
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...FunctionToolOption,
) *FunctionTool {
	t := &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
	for _, o := range optFns {
		o(t)
	}
	return t
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection. It is a convenience for simple argument containers and produces
// a schema equivalent to util.CreateSchema(structType).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...FunctionToolOption,
) *FunctionTool {
	schema := util.CreateSchema(structType)
	return NewFunctionTool(name, description, schema, fn, optFns...)
}

// Name returns the unique tool name used in operation routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to oracles.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Irreversible reports whether the tool's effect cannot be undone.
func (t *FunctionTool) Irreversible() bool { return t.irreversible }

// Call validates the provided args against the declared schema then invokes
// the underlying function. Validation or execution failures are wrapped (or
// passed through) as *ToolError for uniform downstream handling.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}

	return result, nil
}
