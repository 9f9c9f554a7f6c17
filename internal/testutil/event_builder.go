package testutil

import (
	"github.com/hupe1980/taskmesh/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder("conv-1").AssistantOutput("hello").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	conversationID string
	author         string
	id             string
	correlation    string
	kind           core.EventKind
	role           string
	textParts      []string
	toolCalls      []core.ToolCall
	toolResults    []core.ToolResult
	customParts    []core.Part
	metadata       map[string]string
}

// NewEventBuilder creates a builder bound to a conversation with default
// author "scheduler".
func NewEventBuilder(conversationID string) *EventBuilder {
	return &EventBuilder{conversationID: conversationID, author: "scheduler", kind: core.KindThought}
}

// Author sets the author name for the event (chainable).
func (b *EventBuilder) Author(a string) *EventBuilder { b.author = a; return b }

// ID overrides the auto-generated event ID (chainable).
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Correlation sets the correlation id (chainable).
func (b *EventBuilder) Correlation(c string) *EventBuilder { b.correlation = c; return b }

// Meta sets a metadata key (chainable).
func (b *EventBuilder) Meta(key, val string) *EventBuilder {
	if b.metadata == nil {
		b.metadata = map[string]string{}
	}
	b.metadata[key] = val
	return b
}

// UserMessage shapes the event as an inbound user message (chainable).
func (b *EventBuilder) UserMessage(text string) *EventBuilder {
	b.kind = core.KindUserMessage
	b.author = "user"
	b.role = "user"
	b.textParts = append(b.textParts, text)
	return b
}

// AssistantOutput shapes the event as user-visible output (chainable).
func (b *EventBuilder) AssistantOutput(text string) *EventBuilder {
	b.kind = core.KindAssistantOutput
	b.role = "assistant"
	b.textParts = append(b.textParts, text)
	return b
}

// Thought shapes the event as an internal note (chainable).
func (b *EventBuilder) Thought(text string) *EventBuilder {
	b.kind = core.KindThought
	b.role = "assistant"
	b.textParts = append(b.textParts, text)
	return b
}

// ToolCall adds a tool call part with the provided id, name and JSON
// argument string (chainable).
func (b *EventBuilder) ToolCall(id, name, args string) *EventBuilder {
	b.kind = core.KindToolCall
	b.role = "assistant"
	b.correlation = id
	b.toolCalls = append(b.toolCalls, core.ToolCall{ID: id, Name: name, Arguments: args})
	return b
}

// ToolResult adds a successful tool result part (chainable).
func (b *EventBuilder) ToolResult(id, name string, response any) *EventBuilder {
	b.kind = core.KindToolResult
	b.role = "tool"
	b.correlation = id
	b.toolResults = append(b.toolResults, core.ToolResult{ID: id, Name: name, Response: response})
	return b
}

// FailedToolResult adds a tool result carrying a failure (chainable).
func (b *EventBuilder) FailedToolResult(id, name string, failure *core.OperationFailure) *EventBuilder {
	b.kind = core.KindToolResult
	b.role = "tool"
	b.correlation = id
	b.toolResults = append(b.toolResults, core.ToolResult{ID: id, Name: name, Failure: failure})
	return b
}

// External shapes the event as a feed trigger with a dedup correlation id
// (chainable).
func (b *EventBuilder) External(feed, correlation string, payload map[string]any) *EventBuilder {
	b.kind = core.KindExternalEvent
	b.author = feed
	b.role = "user"
	b.correlation = correlation
	b.customParts = append(b.customParts, core.DataPart{Data: payload})
	return b
}

// AddPart appends a custom content part (chainable).
func (b *EventBuilder) AddPart(p core.Part) *EventBuilder {
	b.customParts = append(b.customParts, p)
	return b
}

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.conversationID, b.author, b.kind)
	if b.id != "" {
		ev.ID = b.id
	}
	ev.Correlation = b.correlation
	ev.Metadata = b.metadata

	parts := make([]core.Part, 0, len(b.textParts)+len(b.toolCalls)+len(b.toolResults)+len(b.customParts))
	for _, t := range b.textParts {
		parts = append(parts, core.TextPart{Text: t})
	}
	for _, tc := range b.toolCalls {
		parts = append(parts, core.ToolCallPart{ToolCall: tc})
	}
	for _, tr := range b.toolResults {
		parts = append(parts, core.ToolResultPart{ToolResult: tr})
	}
	parts = append(parts, b.customParts...)
	if len(parts) > 0 {
		role := b.role
		if role == "" {
			role = "assistant"
		}
		ev.Content = &core.Content{Role: role, Parts: parts}
	}
	return ev
}
