package chat

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Emission wire encoding: a small header discriminates complete messages from
// fragments so transcripts survive a JSON round trip through the event
// transport and the checkpoint store.

type emissionKind string

const (
	emissionKindMessage  emissionKind = "message"
	emissionKindFragment emissionKind = "fragment"
)

type nodeMessageJSON struct {
	Kind             emissionKind   `json:"kind"`
	Role             Role           `json:"role"`
	Text             string         `json:"text,omitempty"`
	Parts            []Part         `json:"parts,omitempty"`
	ToolCalls        []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	ResponseMetadata map[string]any `json:"response_metadata,omitempty"`
	Extra            map[string]any `json:"additional_kwargs,omitempty"`
	CustomPayload    map[string]any `json:"custom_data,omitempty"`
}

type fragmentJSON struct {
	Kind  emissionKind `json:"kind"`
	Key   string       `json:"key"`
	Value any          `json:"value"`
}

func MarshalEmission(e Emission) ([]byte, error) {
	switch v := e.(type) {
	case *NodeMessage:
		return json.Marshal(nodeMessageJSON{
			Kind:             emissionKindMessage,
			Role:             v.Role,
			Text:             v.Text,
			Parts:            v.Parts,
			ToolCalls:        v.ToolCalls,
			ToolCallID:       v.ToolCallID,
			ResponseMetadata: v.ResponseMetadata,
			Extra:            v.Extra,
			CustomPayload:    v.CustomPayload,
		})
	case Fragment:
		return json.Marshal(fragmentJSON{Kind: emissionKindFragment, Key: v.Key, Value: v.Value})
	}
	return nil, errors.Errorf("unknown emission type %T", e)
}

func UnmarshalEmission(b []byte) (Emission, error) {
	var hdr struct {
		Kind emissionKind `json:"kind"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "decode emission header")
	}

	switch hdr.Kind {
	case emissionKindMessage:
		var m nodeMessageJSON
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, errors.Wrap(err, "decode message emission")
		}
		return &NodeMessage{
			Role:             m.Role,
			Text:             m.Text,
			Parts:            m.Parts,
			ToolCalls:        m.ToolCalls,
			ToolCallID:       m.ToolCallID,
			ResponseMetadata: m.ResponseMetadata,
			Extra:            m.Extra,
			CustomPayload:    m.CustomPayload,
		}, nil
	case emissionKindFragment:
		var f fragmentJSON
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, errors.Wrap(err, "decode fragment emission")
		}
		return Fragment{Key: f.Key, Value: f.Value}, nil
	}
	return nil, errors.Errorf("unknown emission kind %q", hdr.Kind)
}

// MarshalEmissions encodes an ordered transcript slice.
func MarshalEmissions(es []Emission) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(es))
	for _, e := range es {
		b, err := MarshalEmission(e)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

func UnmarshalEmissions(b []byte) ([]Emission, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "decode emission list")
	}
	out := make([]Emission, 0, len(raw))
	for _, r := range raw {
		e, err := UnmarshalEmission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
