package graph

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/checkpoint"
	"github.com/stylemuse/stylemuse/pkg/expertloop"
)

// Reserved node names marking graph entry and exit.
const (
	Start = "__start__"
	End   = "__end__"
)

// Safety cap on node executions per invocation; a routing bug must not spin
// forever.
const maxSteps = 64

// Delta is the state update one node contributes.
type Delta struct {
	// Messages are appended to the transcript.
	Messages []chat.Emission
	// Experts, when set, replaces the expert-loop state.
	Experts *expertloop.State
}

// NodeFunc is one async node. Recoverable external-call failures are handled
// inside the node (fallback message or status); a returned error is fatal to
// the invocation.
type NodeFunc func(ctx context.Context, s *State, rc RunConfig, w *Writer) (*Delta, error)

// RouteFunc inspects the state after a node and names the outgoing edge.
type RouteFunc func(s *State) string

// Initializer seeds invocation-scoped state (for example the pending expert
// queue) before the first node runs.
type Initializer func(s *State, rc RunConfig)

type conditionalEdge struct {
	route   RouteFunc
	targets map[string]string
}

// Builder assembles a graph definition.
type Builder struct {
	name         string
	nodes        map[string]NodeFunc
	edges        map[string]string
	conditionals map[string]conditionalEdge
	initializer  Initializer
}

func NewBuilder(name string) *Builder {
	return &Builder{
		name:         name,
		nodes:        map[string]NodeFunc{},
		edges:        map[string]string{},
		conditionals: map[string]conditionalEdge{},
	}
}

func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	b.nodes[name] = fn
	return b
}

func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges[from] = to
	return b
}

// AddConditionalEdges routes from a node through a decision function whose
// result is mapped to a target node.
func (b *Builder) AddConditionalEdges(from string, route RouteFunc, targets map[string]string) *Builder {
	b.conditionals[from] = conditionalEdge{route: route, targets: targets}
	return b
}

func (b *Builder) WithInitializer(init Initializer) *Builder {
	b.initializer = init
	return b
}

// Compile validates the definition and binds it to a checkpoint store.
func (b *Builder) Compile(store checkpoint.Store) (*Graph, error) {
	if _, ok := b.edges[Start]; !ok {
		return nil, errors.New("graph has no entry edge")
	}
	checkTarget := func(from, to string) error {
		if to == End {
			return nil
		}
		if _, ok := b.nodes[to]; !ok {
			return errors.Errorf("edge %s -> %s targets unknown node", from, to)
		}
		return nil
	}
	for from, to := range b.edges {
		if err := checkTarget(from, to); err != nil {
			return nil, err
		}
	}
	for from, ce := range b.conditionals {
		for _, to := range ce.targets {
			if err := checkTarget(from, to); err != nil {
				return nil, err
			}
		}
	}
	return &Graph{
		name:         b.name,
		nodes:        b.nodes,
		edges:        b.edges,
		conditionals: b.conditionals,
		initializer:  b.initializer,
		store:        store,
	}, nil
}

// Graph is a compiled, runnable graph bound to a checkpoint store.
type Graph struct {
	name         string
	nodes        map[string]NodeFunc
	edges        map[string]string
	conditionals map[string]conditionalEdge
	initializer  Initializer
	store        checkpoint.Store
}

func (g *Graph) Name() string { return g.name }

// loadState resumes the thread's checkpointed state or starts fresh.
func (g *Graph) loadState(ctx context.Context, rc RunConfig) (*State, error) {
	if rc.ThreadID == "" {
		return &State{}, nil
	}
	snapshot, err := g.store.Get(ctx, rc.ThreadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return &State{}, nil
	}
	if err != nil {
		return nil, err
	}
	return UnmarshalState(snapshot)
}

func (g *Graph) saveState(ctx context.Context, rc RunConfig, s *State) error {
	if rc.ThreadID == "" {
		return nil
	}
	snapshot, err := MarshalState(s)
	if err != nil {
		return err
	}
	return g.store.Put(ctx, rc.ThreadID, snapshot)
}

// GetState returns the persisted state snapshot for a thread.
func (g *Graph) GetState(ctx context.Context, threadID string) (*State, error) {
	snapshot, err := g.store.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return UnmarshalState(snapshot)
}

// DeleteThread drops the persisted state for a thread.
func (g *Graph) DeleteThread(ctx context.Context, threadID string) error {
	return g.store.Delete(ctx, threadID)
}

func (g *Graph) prepare(ctx context.Context, input string, rc RunConfig) (*State, error) {
	s, err := g.loadState(ctx, rc)
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}
	s.UserMessage = input
	s.Messages = append(s.Messages, chat.NewHumanMessage(input))
	if g.initializer != nil {
		g.initializer(s, rc)
	}
	return s, nil
}

// run executes nodes from the entry edge until End, applying each node's
// delta and reporting it through onUpdate.
func (g *Graph) run(ctx context.Context, s *State, rc RunConfig, w *Writer, onUpdate func(node string, delta *Delta)) error {
	node := g.edges[Start]
	for steps := 0; node != End; steps++ {
		if steps >= maxSteps {
			return errors.Errorf("graph %s exceeded %d steps", g.name, maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fn, ok := g.nodes[node]
		if !ok {
			return errors.Errorf("graph %s routed to unknown node %s", g.name, node)
		}

		log.Debug().Str("graph", g.name).Str("node", node).Msg("graph: running node")
		delta, err := fn(ctx, s, rc, w)
		if err != nil {
			return errors.Wrapf(err, "node %s", node)
		}
		if delta == nil {
			delta = &Delta{}
		}
		s.Messages = append(s.Messages, delta.Messages...)
		if delta.Experts != nil {
			s.Experts = *delta.Experts
		}
		if onUpdate != nil {
			onUpdate(node, delta)
		}

		if ce, ok := g.conditionals[node]; ok {
			decision := ce.route(s)
			next, ok := ce.targets[decision]
			if !ok {
				return errors.Errorf("node %s routed to unmapped decision %q", node, decision)
			}
			node = next
			continue
		}
		next, ok := g.edges[node]
		if !ok {
			return errors.Errorf("node %s has no outgoing edge", node)
		}
		node = next
	}
	return nil
}

// Invoke runs the graph to completion and returns the final state.
func (g *Graph) Invoke(ctx context.Context, input string, rc RunConfig) (*State, error) {
	s, err := g.prepare(ctx, input, rc)
	if err != nil {
		return nil, err
	}
	if err := g.run(ctx, s, rc, NopWriter(), nil); err != nil {
		return nil, err
	}
	if err := g.saveState(ctx, rc, s); err != nil {
		return nil, errors.Wrap(err, "save checkpoint")
	}
	return s, nil
}
