package core

// Part represents a polymorphic segment of event content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         // Plain UTF-8 text
	Metadata map[string]any // Optional producer-provided metadata
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map). External
// feed payloads (email notifications, reminder firings) arrive as DataParts.
type DataPart struct {
	Data     map[string]any // Structured key/value payload
	Metadata map[string]any
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// ToolCall describes a requested tool invocation. The ID doubles as the
// correlation id that the matching ToolResult must carry.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // Serialized JSON argument payload
}

// ToolCallPart wraps a ToolCall as a content part.
type ToolCallPart struct {
	ToolCall ToolCall
	Metadata map[string]any
}

// isPart implements the Part interface for ToolCallPart.
func (ToolCallPart) isPart() {}

// ToolResult describes the single outcome of a tool invocation. Exactly one
// of Response or Failure is meaningful; a nil Failure means success.
type ToolResult struct {
	ID       string            `json:"id,omitempty"` // Matches originating ToolCall ID
	Name     string            `json:"name"`
	Response any               `json:"response,omitempty"`
	Failure  *OperationFailure `json:"failure,omitempty"`
}

// Failed reports whether the invocation produced a failure outcome.
func (r ToolResult) Failed() bool { return r.Failure != nil }

// ToolResultPart wraps a ToolResult as a content part.
type ToolResultPart struct {
	ToolResult ToolResult
	Metadata   map[string]any
}

// isPart implements the Part interface for ToolResultPart.
func (ToolResultPart) isPart() {}

// Content holds role + ordered parts. Role follows conversation conventions
// (user, assistant, tool, system) so model transports can map it directly.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Text concatenates all text parts in order. Non-text parts are skipped.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
