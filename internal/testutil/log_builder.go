package testutil

import (
	"github.com/hupe1980/taskmesh/core"
)

// LogBuilder constructs event sequences for tests and optionally seeds a
// LogStore with them.
// Example:
//
//	events := NewLogBuilder("conv-1").
//		User("email bob").
//		Assistant("Draft: hi bob. Send?").
//		User("yes").
//		Events()
type LogBuilder struct {
	conversationID string
	events         []core.Event
}

// NewLogBuilder creates a builder for the given conversation.
func NewLogBuilder(conversationID string) *LogBuilder {
	return &LogBuilder{conversationID: conversationID}
}

// User appends a user message event (chainable).
func (b *LogBuilder) User(text string) *LogBuilder {
	return b.Event(NewEventBuilder(b.conversationID).UserMessage(text).Build())
}

// Assistant appends a user-visible output event (chainable).
func (b *LogBuilder) Assistant(text string) *LogBuilder {
	return b.Event(NewEventBuilder(b.conversationID).AssistantOutput(text).Build())
}

// Thought appends an internal note event (chainable).
func (b *LogBuilder) Thought(text string) *LogBuilder {
	return b.Event(NewEventBuilder(b.conversationID).Thought(text).Build())
}

// Call appends a tool call event (chainable).
func (b *LogBuilder) Call(id, name, args string) *LogBuilder {
	return b.Event(NewEventBuilder(b.conversationID).ToolCall(id, name, args).Build())
}

// Result appends a successful tool result event (chainable).
func (b *LogBuilder) Result(id, name string, response any) *LogBuilder {
	return b.Event(NewEventBuilder(b.conversationID).ToolResult(id, name, response).Build())
}

// Event appends an arbitrary pre-built event (chainable).
func (b *LogBuilder) Event(ev core.Event) *LogBuilder {
	b.events = append(b.events, ev)
	return b
}

// Events returns the accumulated sequence.
func (b *LogBuilder) Events() []core.Event {
	out := make([]core.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Seed appends the accumulated sequence to a store.
func (b *LogBuilder) Seed(store core.LogStore) error {
	for _, ev := range b.events {
		if err := store.AppendEvent(b.conversationID, ev); err != nil {
			return err
		}
	}
	return nil
}
