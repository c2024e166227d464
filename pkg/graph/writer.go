package graph

import (
	"github.com/google/uuid"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/events"
)

// RunConfig carries the correlation and resumption identifiers for one
// invocation.
type RunConfig struct {
	RunID    uuid.UUID
	ThreadID string
	UserID   string
	Model    string
	// Extra is the validated agent_config passthrough from the request.
	Extra map[string]any
}

// Writer is the side-channel handed to node functions. Custom payloads and
// generation chunks published here are interleaved with state updates on the
// invocation's event stream.
type Writer struct {
	publish func(events.StreamEvent)
}

// NewWriter wraps a publish function. The streaming runtime builds writers
// over its pubsub topic; tests pass a capturing function.
func NewWriter(publish func(events.StreamEvent)) *Writer {
	return &Writer{publish: publish}
}

// NopWriter discards everything; used by non-streaming invocations.
func NopWriter() *Writer {
	return &Writer{publish: func(events.StreamEvent) {}}
}

// Custom emits an arbitrary typed payload on the custom channel.
func (w *Writer) Custom(p events.CustomPayload) {
	w.publish(events.CustomEvent{Payload: p})
}

// Chunk emits a genuine incremental generation unit on the token channel.
func (w *Writer) Chunk(c *chat.Chunk, tags ...string) {
	w.publish(events.TokenEvent{Chunk: c, Tags: tags})
}

// TokenMessage emits a non-generation message on the token channel. The
// multiplexer drops these; the method exists because engines echo complete
// messages through the same channel as their deltas.
func (w *Writer) TokenMessage(m *chat.NodeMessage, tags ...string) {
	w.publish(events.TokenEvent{Message: m, Tags: tags})
}
