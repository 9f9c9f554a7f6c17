// Package gateway implements the uniform tool-invocation surface of the
// orchestration core: a registry of named tools with schema validated
// arguments, per-provider concurrency caps, deadlines and a typed failure
// taxonomy. The gateway executes each call exactly once and reports exactly
// one outcome; retry policy belongs to the caller so irreversible effects
// are never silently re-executed.
package gateway

import (
	"context"
	"fmt"
)

// Tool defines a named capability invocable through the gateway.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
//   - Follow consistent naming conventions (snake_case recommended)
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// It is surfaced to the decision oracle to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// The schema is used for argument validation and oracle tool declarations.
	Parameters() map[string]any

	// Call executes the tool with already-validated structured arguments.
	// Implementations must respect ctx cancellation.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// IrreversibleTool is implemented by tools whose external effect cannot be
// undone (sending a message, forwarding an email). The orchestrator refuses
// to execute such operations without a prior confirmed draft.
type IrreversibleTool interface {
	Tool
	Irreversible() bool
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
