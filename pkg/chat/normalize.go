package chat

import (
	"github.com/pkg/errors"
)

// ErrUnsupportedMessageKind is returned when a node message carries a role
// outside the four recognized kinds. Callers decide whether to surface or
// swallow it.
var ErrUnsupportedMessageKind = errors.New("unsupported message kind")

// Turn is the canonical chat message shape sent over the wire. Field names
// follow the SSE protocol contract.
type Turn struct {
	Role             Role           `json:"type"`
	Text             string         `json:"content"`
	ToolCalls        []ToolCall     `json:"tool_calls"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	RunID            string         `json:"run_id,omitempty"`
	ResponseMetadata map[string]any `json:"response_metadata"`
	Extra            map[string]any `json:"additional_kwargs"`
	CustomPayload    map[string]any `json:"custom_data"`
}

// Normalize converts a node message into one canonical Turn. Structured
// content is flattened to a single string; tool-call entries are copied
// through unchanged.
func Normalize(m *NodeMessage) (*Turn, error) {
	if m == nil {
		return nil, errors.New("nil node message")
	}

	text := m.Text
	if m.Parts != nil {
		text = FlattenParts(m.Parts)
	}

	t := &Turn{
		Text:             text,
		ToolCalls:        []ToolCall{},
		ResponseMetadata: map[string]any{},
		Extra:            map[string]any{},
		CustomPayload:    map[string]any{},
	}
	if m.Extra != nil {
		t.Extra = m.Extra
	}

	switch m.Role {
	case RoleHuman:
		t.Role = RoleHuman
	case RoleAI:
		t.Role = RoleAI
		if len(m.ToolCalls) > 0 {
			t.ToolCalls = m.ToolCalls
		}
		if m.ResponseMetadata != nil {
			t.ResponseMetadata = m.ResponseMetadata
		}
	case RoleTool:
		t.Role = RoleTool
		t.ToolCallID = m.ToolCallID
	case RoleCustom:
		t.Role = RoleCustom
		t.Text = ""
		if m.CustomPayload != nil {
			t.CustomPayload = m.CustomPayload
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedMessageKind, "role %q", m.Role)
	}

	return t, nil
}

// Synthesize builds a complete AI node message from a run of accumulated
// (field, value) fragments. Unknown fields are dropped rather than failing,
// mirroring how partially structured node output is best-effort reassembled.
func Synthesize(fields map[string]any) *NodeMessage {
	m := NewAIMessage("")
	for key, value := range fields {
		switch key {
		case "content", "text":
			if s, ok := value.(string); ok {
				m.Text = s
			}
		case "tool_calls":
			m.ToolCalls = coerceToolCalls(value)
		case "response_metadata":
			if md, ok := value.(map[string]any); ok {
				m.ResponseMetadata = md
			}
		case "additional_kwargs":
			if kw, ok := value.(map[string]any); ok {
				for k, v := range kw {
					m.Extra[k] = v
				}
			}
		}
	}
	return m
}

func coerceToolCalls(value any) []ToolCall {
	switch v := value.(type) {
	case []ToolCall:
		return v
	case []any:
		out := make([]ToolCall, 0, len(v))
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			tc := ToolCall{}
			if name, ok := entry["name"].(string); ok {
				tc.Name = name
			}
			if id, ok := entry["id"].(string); ok {
				tc.ID = id
			}
			if args, ok := entry["args"].(map[string]any); ok {
				tc.Args = args
			}
			out = append(out, tc)
		}
		return out
	}
	return nil
}
