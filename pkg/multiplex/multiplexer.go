package multiplex

import (
	"context"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/events"
)

// Source is the pull-based iterator over one graph execution's tagged
// events. Next returns io.EOF on clean exhaustion; an error wrapping
// events.ErrMalformedEvent marks a single undecodable event and is
// recoverable; any other error is the invocation's terminal failure.
type Source interface {
	Next(ctx context.Context) (events.StreamEvent, error)
}

// NodeFilter controls how a node's state updates contribute to the wire.
type NodeFilter int

const (
	// FilterAll forwards every emission of the node.
	FilterAll NodeFilter = iota
	// FilterTrailing forwards only the node's trailing chat turn
	// (pass-through nodes such as a supervisor hand-off).
	FilterTrailing
	// FilterNone drops the node's output entirely (internal plumbing).
	FilterNone
)

// SkipStreamTag suppresses token forwarding for chunks produced by model
// calls whose output is internal (intent classification and the like).
const SkipStreamTag = "skip_stream"

// Options configure one multiplexed stream.
type Options struct {
	// StreamTokens gates the token channel; when false no token envelope is
	// emitted regardless of what the source produces.
	StreamTokens bool
	// UserInput is the caller-supplied prompt text. A human message echoing
	// it verbatim is suppressed.
	UserInput string
	// RunID is stamped onto every outgoing turn.
	RunID string
	// NodeFilters maps node names to their update filter; absent nodes
	// default to FilterAll.
	NodeFilters map[string]NodeFilter
}

// Multiplexer merges the three event channels of one graph execution into a
// single ordered envelope sequence. It holds no state across events beyond
// the fragment accumulator and the tool-result lookahead.
type Multiplexer struct {
	opts Options
}

func New(opts Options) *Multiplexer {
	return &Multiplexer{opts: opts}
}

// runState is the per-invocation mutable state of one Run.
type runState struct {
	// fragments accumulates a contiguous run of (field, value) pairs until a
	// non-pair item or stream exhaustion flushes them as one synthesized turn.
	fragments    map[string]any
	accumulating bool

	// expectTool holds the call ids an AI turn borrowed from the stream: the
	// next len(expectTool) message items must be the matching tool results,
	// in call order.
	expectTool []string

	emitted func(events.Envelope) bool
}

// Run consumes the source until exhaustion and returns the ordered envelope
// channel. The channel always terminates with exactly one done envelope,
// even on the error path; it is closed afterwards.
func (m *Multiplexer) Run(ctx context.Context, src Source) <-chan events.Envelope {
	out := make(chan events.Envelope, 16)
	go m.run(ctx, src, out)
	return out
}

func (m *Multiplexer) run(ctx context.Context, src Source, out chan<- events.Envelope) {
	defer close(out)

	st := &runState{fragments: map[string]any{}}
	st.emitted = func(env events.Envelope) bool {
		select {
		case out <- env:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		ev, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				m.flushFragments(st)
				if len(st.expectTool) > 0 {
					log.Warn().Int("missing", len(st.expectTool)).Msg("multiplex: stream ended with unmatched tool calls")
					st.emitted(events.NewErrorEnvelope())
				}
			case errors.Is(err, events.ErrMalformedEvent):
				log.Error().Err(err).Msg("multiplex: dropping malformed event")
				st.emitted(events.NewErrorEnvelope())
				continue
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				// Client went away; nothing left to deliver.
			default:
				log.Error().Err(err).Msg("multiplex: upstream stream failed")
				st.emitted(events.NewErrorEnvelope())
			}
			st.emitted(events.NewDoneEnvelope())
			return
		}

		switch e := ev.(type) {
		case events.StateUpdateEvent:
			m.handleUpdate(e, st)
		case events.TokenEvent:
			m.handleToken(e, st)
		case events.CustomEvent:
			m.handleCustom(e, st)
		default:
			log.Error().Str("channel", string(ev.Channel())).Msg("multiplex: unknown event type")
			st.emitted(events.NewErrorEnvelope())
		}
	}
}

func (m *Multiplexer) filterFor(node string) NodeFilter {
	if f, ok := m.opts.NodeFilters[node]; ok {
		return f
	}
	return FilterAll
}

func (m *Multiplexer) handleUpdate(ev events.StateUpdateEvent, st *runState) {
	nodes := make([]string, 0, len(ev.Updates))
	for node := range ev.Updates {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	for _, node := range nodes {
		emissions := ev.Updates[node]
		switch m.filterFor(node) {
		case FilterNone:
			continue
		case FilterTrailing:
			if len(emissions) > 1 {
				emissions = emissions[len(emissions)-1:]
			}
		}

		for _, emission := range emissions {
			switch v := emission.(type) {
			case chat.Fragment:
				st.fragments[v.Key] = v.Value
				st.accumulating = true
			case *chat.NodeMessage:
				m.flushFragments(st)
				m.emitMessage(v, st)
			default:
				log.Error().Str("node", node).Msgf("multiplex: unknown emission type %T", emission)
				st.emitted(events.NewErrorEnvelope())
			}
		}
	}
}

// flushFragments synthesizes at most one turn from the accumulated run of
// pairs, positioned where the run ended.
func (m *Multiplexer) flushFragments(st *runState) {
	if !st.accumulating {
		return
	}
	msg := chat.Synthesize(st.fragments)
	st.fragments = map[string]any{}
	st.accumulating = false
	m.emitMessage(msg, st)
}

func (m *Multiplexer) emitMessage(msg *chat.NodeMessage, st *runState) {
	turn, err := chat.Normalize(msg)
	if err != nil {
		log.Error().Err(err).Msg("multiplex: failed to normalize message")
		st.emitted(events.NewErrorEnvelope())
		return
	}
	turn.RunID = m.opts.RunID

	// An AI turn with tool calls borrows exactly one subsequent item per
	// call; anything else arriving in the window is a decode error.
	if len(st.expectTool) > 0 {
		if turn.Role == chat.RoleTool && turn.ToolCallID == st.expectTool[0] {
			st.expectTool = st.expectTool[1:]
		} else {
			log.Error().
				Str("expected_tool_call_id", st.expectTool[0]).
				Str("role", string(turn.Role)).
				Msg("multiplex: tool result misaligned with pending tool calls")
			st.expectTool = nil
			st.emitted(events.NewErrorEnvelope())
		}
	}

	// The caller's own prompt echoed back is not new information.
	if turn.Role == chat.RoleHuman && turn.Text == m.opts.UserInput {
		return
	}

	if !st.emitted(events.NewMessageEnvelope(turn)) {
		return
	}

	if turn.Role == chat.RoleAI && len(turn.ToolCalls) > 0 {
		for _, tc := range turn.ToolCalls {
			st.expectTool = append(st.expectTool, tc.ID)
		}
	}
}

func (m *Multiplexer) handleToken(ev events.TokenEvent, st *runState) {
	if !m.opts.StreamTokens {
		return
	}
	for _, tag := range ev.Tags {
		if tag == SkipStreamTag {
			return
		}
	}
	// Non-generation messages flow through the token channel too; only
	// genuine incremental chunks are forwarded.
	if ev.Chunk == nil {
		return
	}
	// Empty post-tool-call-stripped content usually means the model is
	// asking for a tool invocation.
	text := ev.Chunk.Text()
	if text == "" {
		return
	}
	st.emitted(events.NewTokenEnvelope(text))
}

func (m *Multiplexer) handleCustom(ev events.CustomEvent, st *runState) {
	env, err := ev.Payload.Envelope()
	if err != nil {
		log.Error().Err(err).Str("tag", ev.Payload.Type).Msg("multiplex: rejecting custom event")
		st.emitted(events.NewErrorEnvelope())
		return
	}
	if env.Kind == events.KindToken && !m.opts.StreamTokens {
		return
	}
	st.emitted(env)
}
