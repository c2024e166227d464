package expertloop

import "github.com/pkg/errors"

// ErrEmptyQueue is returned when an expert is popped off an exhausted queue.
// Routing must send the loop to Done instead of popping again.
var ErrEmptyQueue = errors.New("expert queue is empty")

// Phase is the controller's position in the pop -> analyze -> search cycle.
type Phase string

const (
	PhaseAwaitingExpert Phase = "awaiting_expert"
	PhaseAnalyzing      Phase = "analyzing"
	PhaseSearching      Phase = "searching"
	PhaseDone           Phase = "done"
)

// State drives one expert loop. Initialized with a caller-supplied ordered
// expert list, mutated once per cycle and discarded at graph completion.
type State struct {
	// Pending is consumed front to back.
	Pending []string `json:"pending_experts"`
	// Current is the expert most recently popped.
	Current string `json:"current_expert"`
	// LastOpinion is the text produced by the most recent analysis call.
	LastOpinion string `json:"last_opinion"`
}

// Pop moves the front of the pending queue into Current.
func (s *State) Pop() (string, error) {
	if len(s.Pending) == 0 {
		return "", ErrEmptyQueue
	}
	s.Current = s.Pending[0]
	s.Pending = s.Pending[1:]
	return s.Current, nil
}

// Exhausted reports whether the loop should terminate after the current
// cycle.
func (s *State) Exhausted() bool {
	return len(s.Pending) == 0
}
