package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies an event log entry. The kind is set once at
// construction and is the sole discriminator higher layers may rely on;
// payload shape follows the kind.
type EventKind string

const (
	// KindUserMessage is an inbound message typed by the user.
	KindUserMessage EventKind = "user_message"
	// KindToolCall records that an operation was issued to the gateway or a worker.
	KindToolCall EventKind = "tool_call"
	// KindToolResult records the single outcome of a previously issued operation.
	KindToolResult EventKind = "tool_result"
	// KindExternalEvent is a non-user trigger delivered by a feed (email,
	// reminder, webhook). Internal only; never shown to the user verbatim.
	KindExternalEvent EventKind = "external_event"
	// KindAssistantOutput is user-visible output. It is the only kind
	// delivered over the external channel.
	KindAssistantOutput EventKind = "assistant_output"
	// KindThought is internal reasoning or bookkeeping (wait notes, forced
	// finalization markers). Never user-visible.
	KindThought EventKind = "thought"
)

// Event is the immutable unit of the append-only log. After Append it must
// be treated as read-only; ordering in the log is the sole source of truth
// for what has been communicated and what is still pending.
//
// Content may be nil for control entries. Correlation carries the operation
// correlation id for tool_call / tool_result kinds and the feed-supplied
// dedup id for external events.
type Event struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Kind           EventKind         `json:"kind"`
	Author         string            `json:"author"`
	Correlation    string            `json:"correlation,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Content        *Content          `json:"content,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates a bare event of the given kind bound to a conversation.
// Prefer the kind-specific constructors below.
func NewEvent(conversationID, author string, kind EventKind) Event {
	return Event{
		ID:             NewID(),
		ConversationID: conversationID,
		Kind:           kind,
		Author:         author,
		Timestamp:      time.Now().UTC(),
	}
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(conversationID, message string) Event {
	e := NewEvent(conversationID, "user", KindUserMessage)
	e.Content = &Content{Role: "user", Parts: []Part{TextPart{Text: message}}}
	return e
}

// NewAssistantOutputEvent creates a user-visible output event authored by the
// orchestrator (or a workflow terminal).
func NewAssistantOutputEvent(conversationID, author, message string) Event {
	e := NewEvent(conversationID, author, KindAssistantOutput)
	e.Content = &Content{Role: "assistant", Parts: []Part{TextPart{Text: message}}}
	return e
}

// NewThoughtEvent creates an internal note event. Thoughts are fed back to
// the oracle but never delivered externally.
func NewThoughtEvent(conversationID, author, note string) Event {
	e := NewEvent(conversationID, author, KindThought)
	e.Content = &Content{Role: "assistant", Parts: []Part{TextPart{Text: note}}}
	return e
}

// NewToolCallEvent records an issued operation. The call's ID becomes the
// event correlation so the eventual result can be matched back.
func NewToolCallEvent(conversationID, author string, call ToolCall) Event {
	e := NewEvent(conversationID, author, KindToolCall)
	e.Correlation = call.ID
	e.Content = &Content{Role: "assistant", Parts: []Part{ToolCallPart{ToolCall: call}}}
	return e
}

// NewToolResultEvent records the single outcome of an operation, success or
// failure alike.
func NewToolResultEvent(conversationID, author string, result ToolResult) Event {
	e := NewEvent(conversationID, author, KindToolResult)
	e.Correlation = result.ID
	e.Content = &Content{Role: "tool", Parts: []Part{ToolResultPart{ToolResult: result}}}
	return e
}

// NewExternalEvent creates a feed-delivered trigger. correlation is the
// feed-supplied id used to deduplicate redelivery.
func NewExternalEvent(conversationID, feed, correlation string, payload map[string]any) Event {
	e := NewEvent(conversationID, feed, KindExternalEvent)
	e.Correlation = correlation
	e.Content = &Content{Role: "user", Parts: []Part{DataPart{Data: payload}}}
	return e
}

// NewID generates a new unique identifier for events and operations.
func NewID() string { return uuid.NewString() }

// Text returns the concatenated text content, empty when Content is nil.
func (e Event) Text() string {
	if e.Content == nil {
		return ""
	}
	return e.Content.Text()
}

// IsUserVisible reports whether the event is delivered over the external
// channel. Only assistant output is.
func (e Event) IsUserVisible() bool { return e.Kind == KindAssistantOutput }

// GetToolCalls returns any ToolCall parts preserving their original order.
func (e Event) GetToolCalls() []ToolCall {
	if e.Content == nil {
		return nil
	}
	var calls []ToolCall
	for _, p := range e.Content.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc.ToolCall)
		}
	}
	return calls
}

// GetToolResults returns any ToolResult parts preserving their original order.
func (e Event) GetToolResults() []ToolResult {
	if e.Content == nil {
		return nil
	}
	var results []ToolResult
	for _, p := range e.Content.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			results = append(results, tr.ToolResult)
		}
	}
	return results
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
// Useful for metrics & numeric serialization paths.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
