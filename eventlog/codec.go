package eventlog

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// partEnvelope is the serialization shape for the polymorphic core.Part set.
// Only one payload field is populated according to Type.
type partEnvelope struct {
	Type       string           `json:"type"`
	Text       string           `json:"text,omitempty"`
	Data       map[string]any   `json:"data,omitempty"`
	ToolCall   *core.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *core.ToolResult `json:"tool_result,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// contentEnvelope serializes core.Content for storage.
type contentEnvelope struct {
	Role  string         `json:"role,omitempty"`
	Parts []partEnvelope `json:"parts"`
}

// encodeContent converts content into its storable JSON form.
func encodeContent(c *core.Content) ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	env := contentEnvelope{Role: c.Role, Parts: make([]partEnvelope, 0, len(c.Parts))}
	for _, p := range c.Parts {
		switch v := p.(type) {
		case core.TextPart:
			env.Parts = append(env.Parts, partEnvelope{Type: "text", Text: v.Text, Metadata: v.Metadata})
		case core.DataPart:
			env.Parts = append(env.Parts, partEnvelope{Type: "data", Data: v.Data, Metadata: v.Metadata})
		case core.ToolCallPart:
			tc := v.ToolCall
			env.Parts = append(env.Parts, partEnvelope{Type: "tool_call", ToolCall: &tc, Metadata: v.Metadata})
		case core.ToolResultPart:
			tr := v.ToolResult
			env.Parts = append(env.Parts, partEnvelope{Type: "tool_result", ToolResult: &tr, Metadata: v.Metadata})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}
	return json.Marshal(env)
}

// decodeContent restores content from its stored JSON form.
func decodeContent(data []byte) (*core.Content, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env contentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	c := &core.Content{Role: env.Role, Parts: make([]core.Part, 0, len(env.Parts))}
	for _, p := range env.Parts {
		switch p.Type {
		case "text":
			c.Parts = append(c.Parts, core.TextPart{Text: p.Text, Metadata: p.Metadata})
		case "data":
			c.Parts = append(c.Parts, core.DataPart{Data: p.Data, Metadata: p.Metadata})
		case "tool_call":
			if p.ToolCall == nil {
				return nil, fmt.Errorf("tool_call part without payload")
			}
			c.Parts = append(c.Parts, core.ToolCallPart{ToolCall: *p.ToolCall, Metadata: p.Metadata})
		case "tool_result":
			if p.ToolResult == nil {
				return nil, fmt.Errorf("tool_result part without payload")
			}
			c.Parts = append(c.Parts, core.ToolResultPart{ToolResult: *p.ToolResult, Metadata: p.Metadata})
		default:
			return nil, fmt.Errorf("unknown part type %q", p.Type)
		}
	}
	return c, nil
}
