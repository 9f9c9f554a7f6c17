// Package profile holds ambient user/context data per conversation. The
// orchestrator injects the profile into every oracle consultation so output
// can be personalized without replaying old conversations, and exposes
// update tools so the assistant can maintain the profile itself.
package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/taskmesh/gateway"
)

// Note is a free-form remembered fact attached to a conversation.
type Note struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Store is the profile persistence abstraction.
type Store interface {
	// Profile returns a copy of the conversation's key/value profile.
	Profile(conversationID string) (map[string]any, error)
	// Update merges delta into the conversation's profile.
	Update(conversationID string, delta map[string]any) error
	// Remember appends a free-form note.
	Remember(conversationID, content string, metadata map[string]any) error
	// Recall returns notes containing query, up to limit. An empty query
	// matches everything.
	Recall(conversationID, query string, limit int) ([]Note, error)
}

// InMemoryStore is a process-local Store guarded by an RWMutex. Recall is a
// linear substring scan; swap for an indexed backend when note volume grows.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]map[string]any // conversationID -> key -> value
	notes    map[string][]Note         // conversationID -> appended notes
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory profile store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]map[string]any),
		notes:    make(map[string][]Note),
	}
}

// Profile implements Store.
func (s *InMemoryStore) Profile(conversationID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.profiles[conversationID]
	if !ok {
		return map[string]any{}, nil
	}

	out := make(map[string]any, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// Update implements Store.
func (s *InMemoryStore) Update(conversationID string, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[conversationID]; !ok {
		s.profiles[conversationID] = make(map[string]any)
	}
	for k, v := range delta {
		s.profiles[conversationID][k] = v
	}
	return nil
}

// Remember implements Store.
func (s *InMemoryStore) Remember(conversationID, content string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("note_%d", len(s.notes[conversationID]))
	s.notes[conversationID] = append(s.notes[conversationID], Note{ID: id, Content: content, Metadata: metadata})
	return nil
}

// Recall implements Store.
func (s *InMemoryStore) Recall(conversationID, query string, limit int) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Note
	for _, note := range s.notes[conversationID] {
		if limit > 0 && len(out) >= limit {
			break
		}
		if query == "" || strings.Contains(strings.ToLower(note.Content), strings.ToLower(query)) {
			out = append(out, note)
		}
	}
	return out, nil
}

// UpdateTool returns a gateway tool letting the assistant merge facts into a
// conversation's profile.
func UpdateTool(store Store, conversationID string) *gateway.FunctionTool {
	return gateway.NewFunctionTool(
		"update_profile",
		"Merge key/value facts about the user into their profile. Existing keys are overwritten.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"facts": map[string]any{
					"type":        "object",
					"description": "Key/value facts to merge, e.g. {\"home_city\": \"Berlin\"}",
				},
			},
			"required": []string{"facts"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			facts, ok := args["facts"].(map[string]any)
			if !ok {
				return nil, gateway.NewToolError("update_profile", "facts must be an object", "VALIDATION_ERROR")
			}
			if err := store.Update(conversationID, facts); err != nil {
				return nil, err
			}
			return map[string]any{"updated": len(facts)}, nil
		},
	)
}

// RememberTool returns a gateway tool letting the assistant store a
// free-form note for later recall.
func RememberTool(store Store, conversationID string) *gateway.FunctionTool {
	return gateway.NewFunctionTool(
		"remember",
		"Store a free-form note about the user or an ongoing task for later recall.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{"type": "string", "description": "The note to remember"},
			},
			"required": []string{"content"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			content, _ := args["content"].(string)
			if content == "" {
				return nil, gateway.NewToolError("remember", "content must not be empty", "VALIDATION_ERROR")
			}
			if err := store.Remember(conversationID, content, nil); err != nil {
				return nil, err
			}
			return map[string]any{"stored": true}, nil
		},
	)
}
