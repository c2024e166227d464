package chat

import (
	"time"
)

type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
	RoleCustom Role = "custom"
)

// ToolCall is a request emitted by the model to invoke a named tool.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	ID   string         `json:"id"`
}

// PartKind discriminates elements of multi-part message content.
type PartKind string

const (
	// PartRaw is a bare string element inside structured content.
	PartRaw     PartKind = "raw"
	PartText    PartKind = "text"
	PartToolUse PartKind = "tool_use"
)

// Part is one element of multi-part message content.
type Part struct {
	Kind PartKind `json:"type"`
	Text string   `json:"text,omitempty"`
}

// FlattenParts concatenates the textual elements of structured content in
// order, discarding everything else.
func FlattenParts(parts []Part) string {
	out := ""
	for _, p := range parts {
		switch p.Kind {
		case PartRaw, PartText:
			out += p.Text
		}
	}
	return out
}

// StripToolUse removes tool-use elements from structured content.
func StripToolUse(parts []Part) []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		if p.Kind == PartToolUse {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Extra keys used as rendering hints on node messages. The attachment kind
// and media URLs travel to the client inside additional_kwargs.
const (
	ExtraKeyType      = "type"
	ExtraKeyCreatedAt = "created_at"
	ExtraKeyImageURLs = "image_urls"
	ExtraKeyMetadata  = "metadata"

	AttachmentText  = "text"
	AttachmentImage = "image"
)

// NodeMessage is the internal message representation produced by graph nodes.
// Turns sent over the wire are derived from it through the normalizer; nothing
// outside the factory functions below should construct one by hand.
type NodeMessage struct {
	Role             Role
	Text             string
	Parts            []Part
	ToolCalls        []ToolCall
	ToolCallID       string
	ResponseMetadata map[string]any
	Extra            map[string]any
	CustomPayload    map[string]any
}

// Emission is one item appended to the transcript by a graph node: either a
// complete message or a single (field, value) fragment of a message streamed
// field by field.
type Emission interface {
	isEmission()
}

func (*NodeMessage) isEmission() {}

// Fragment is one (field, value) pair of a message emitted incrementally.
// A contiguous run of fragments is reassembled into one message downstream.
type Fragment struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (Fragment) isEmission() {}

// Chunk is an incremental generation fragment from a streaming model call.
// It is structurally distinct from NodeMessage so that non-generation
// messages flowing through the token channel can be told apart and dropped.
type Chunk struct {
	Parts []Part `json:"parts"`
}

// Text returns the textual content of the chunk with tool-use elements
// stripped out.
func (c *Chunk) Text() string {
	return FlattenParts(StripToolUse(c.Parts))
}

func newExtra(attachment string) map[string]any {
	return map[string]any{
		ExtraKeyType:      attachment,
		ExtraKeyCreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func NewHumanMessage(text string) *NodeMessage {
	return &NodeMessage{
		Role:  RoleHuman,
		Text:  text,
		Extra: newExtra(AttachmentText),
	}
}

func NewAIMessage(text string) *NodeMessage {
	return &NodeMessage{
		Role:  RoleAI,
		Text:  text,
		Extra: newExtra(AttachmentText),
	}
}

// NewImageMessage builds an AI message carrying an image attachment hint and
// the ordered media URLs for the client to render.
func NewImageMessage(text string, imageURLs []string, metadata map[string]any) *NodeMessage {
	extra := newExtra(AttachmentImage)
	extra[ExtraKeyImageURLs] = imageURLs
	if metadata != nil {
		extra[ExtraKeyMetadata] = metadata
	}
	return &NodeMessage{
		Role:  RoleAI,
		Text:  text,
		Extra: extra,
	}
}

func NewToolMessage(text string, toolCallID string) *NodeMessage {
	return &NodeMessage{
		Role:       RoleTool,
		Text:       text,
		ToolCallID: toolCallID,
		Extra:      newExtra(AttachmentText),
	}
}

func NewCustomMessage(payload map[string]any) *NodeMessage {
	return &NodeMessage{
		Role:          RoleCustom,
		CustomPayload: payload,
		Extra:         newExtra(AttachmentText),
	}
}
