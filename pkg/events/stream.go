package events

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/stylemuse/stylemuse/pkg/chat"
)

// ErrMalformedEvent marks a single event that could not be decoded. The
// multiplexer recovers from it with one error envelope and keeps the stream
// alive.
var ErrMalformedEvent = errors.New("malformed stream event")

// Channel identifies which of the three per-invocation event channels an
// event came from. Events are interleaved across channels as the graph
// scheduler produces them; each channel is internally ordered per node.
type Channel string

const (
	ChannelUpdates Channel = "updates"
	ChannelTokens  Channel = "messages"
	ChannelCustom  Channel = "custom"
)

// StreamEvent is one tagged event read from a graph execution.
type StreamEvent interface {
	Channel() Channel
}

// StateUpdateEvent carries the transcript delta each node appended, keyed by
// node name.
type StateUpdateEvent struct {
	Updates map[string][]chat.Emission
}

func (StateUpdateEvent) Channel() Channel { return ChannelUpdates }

// TokenEvent is one item observed on the token channel. Chunk is set for
// genuine incremental generation units; non-generation messages that flow
// through the same channel arrive with Message set instead and are dropped
// downstream.
type TokenEvent struct {
	Chunk   *chat.Chunk
	Message *chat.NodeMessage
	Tags    []string
}

func (TokenEvent) Channel() Channel { return ChannelTokens }

// CustomEvent is an arbitrary typed payload emitted by node code through the
// side-channel writer.
type CustomEvent struct {
	Payload CustomPayload
}

func (CustomEvent) Channel() Channel { return ChannelCustom }

// --- wire codec ----------------------------------------------------------
//
// Stream events cross the in-process transport as JSON payloads; a header
// field carries the channel tag, mirroring the emission codec in pkg/chat.

type streamEventHeader struct {
	Channel Channel `json:"channel"`
}

type stateUpdateJSON struct {
	Channel Channel                      `json:"channel"`
	Updates map[string][]json.RawMessage `json:"updates"`
}

type tokenEventJSON struct {
	Channel Channel         `json:"channel"`
	Chunk   *chat.Chunk     `json:"chunk,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Tags    []string        `json:"tags,omitempty"`
}

type customEventJSON struct {
	Channel Channel       `json:"channel"`
	Payload CustomPayload `json:"payload"`
}

func MarshalStreamEvent(ev StreamEvent) ([]byte, error) {
	switch v := ev.(type) {
	case StateUpdateEvent:
		updates := make(map[string][]json.RawMessage, len(v.Updates))
		for node, emissions := range v.Updates {
			encoded := make([]json.RawMessage, 0, len(emissions))
			for _, e := range emissions {
				b, err := chat.MarshalEmission(e)
				if err != nil {
					return nil, err
				}
				encoded = append(encoded, b)
			}
			updates[node] = encoded
		}
		return json.Marshal(stateUpdateJSON{Channel: ChannelUpdates, Updates: updates})
	case TokenEvent:
		out := tokenEventJSON{Channel: ChannelTokens, Chunk: v.Chunk, Tags: v.Tags}
		if v.Message != nil {
			b, err := chat.MarshalEmission(v.Message)
			if err != nil {
				return nil, err
			}
			out.Message = b
		}
		return json.Marshal(out)
	case CustomEvent:
		return json.Marshal(customEventJSON{Channel: ChannelCustom, Payload: v.Payload})
	}
	return nil, errors.Errorf("unknown stream event type %T", ev)
}

func UnmarshalStreamEvent(b []byte) (StreamEvent, error) {
	var hdr streamEventHeader
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "decode stream event header")
	}

	switch hdr.Channel {
	case ChannelUpdates:
		var raw stateUpdateJSON
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, errors.Wrap(err, "decode state update event")
		}
		updates := make(map[string][]chat.Emission, len(raw.Updates))
		for node, encoded := range raw.Updates {
			emissions := make([]chat.Emission, 0, len(encoded))
			for _, eb := range encoded {
				e, err := chat.UnmarshalEmission(eb)
				if err != nil {
					return nil, err
				}
				emissions = append(emissions, e)
			}
			updates[node] = emissions
		}
		return StateUpdateEvent{Updates: updates}, nil
	case ChannelTokens:
		var raw tokenEventJSON
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, errors.Wrap(err, "decode token event")
		}
		ev := TokenEvent{Chunk: raw.Chunk, Tags: raw.Tags}
		if len(raw.Message) > 0 {
			e, err := chat.UnmarshalEmission(raw.Message)
			if err != nil {
				return nil, err
			}
			msg, ok := e.(*chat.NodeMessage)
			if !ok {
				return nil, errors.New("token event message is not a node message")
			}
			ev.Message = msg
		}
		return ev, nil
	case ChannelCustom:
		var raw customEventJSON
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, errors.Wrap(err, "decode custom event")
		}
		return CustomEvent{Payload: raw.Payload}, nil
	}
	return nil, errors.Errorf("unknown stream event channel %q", hdr.Channel)
}
