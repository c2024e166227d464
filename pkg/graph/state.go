package graph

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/expertloop"
)

// State is the shared record a graph execution mutates. It is exclusively
// owned by the single invocation that created it.
type State struct {
	// Messages is the running transcript, append-only through node deltas.
	Messages []chat.Emission
	// UserMessage is the caller-supplied input text for this invocation.
	UserMessage string
	// Experts drives the expert-loop agents; unused by simple graphs.
	Experts expertloop.State
}

// LastMessage returns the trailing complete message of the transcript, or nil.
func (s *State) LastMessage() *chat.NodeMessage {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if m, ok := s.Messages[i].(*chat.NodeMessage); ok {
			return m
		}
	}
	return nil
}

// CompleteMessages returns the transcript restricted to complete messages,
// skipping unreassembled fragments.
func (s *State) CompleteMessages() []*chat.NodeMessage {
	out := make([]*chat.NodeMessage, 0, len(s.Messages))
	for _, e := range s.Messages {
		if m, ok := e.(*chat.NodeMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

type stateSnapshot struct {
	Messages    json.RawMessage  `json:"messages"`
	UserMessage string           `json:"user_message"`
	Experts     expertloop.State `json:"experts"`
}

// MarshalState encodes a state snapshot for the checkpoint store.
func MarshalState(s *State) ([]byte, error) {
	messages, err := chat.MarshalEmissions(s.Messages)
	if err != nil {
		return nil, errors.Wrap(err, "marshal transcript")
	}
	return json.Marshal(stateSnapshot{
		Messages:    messages,
		UserMessage: s.UserMessage,
		Experts:     s.Experts,
	})
}

func UnmarshalState(b []byte) (*State, error) {
	var snap stateSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, errors.Wrap(err, "decode state snapshot")
	}
	messages, err := chat.UnmarshalEmissions(snap.Messages)
	if err != nil {
		return nil, errors.Wrap(err, "decode transcript")
	}
	return &State{
		Messages:    messages,
		UserMessage: snap.UserMessage,
		Experts:     snap.Experts,
	}, nil
}
