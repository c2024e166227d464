package agents

import (
	"context"

	"github.com/pkg/errors"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/checkpoint"
	"github.com/stylemuse/stylemuse/pkg/expertloop"
	"github.com/stylemuse/stylemuse/pkg/graph"
	"github.com/stylemuse/stylemuse/pkg/multiplex"
)

// Node names of the stylist graph.
const (
	nodePopNextExpert = "pop_next_expert"
	nodeExternalLLM   = "external_llm"
	nodeSearch        = "search"
)

// NewStylistAgent builds the expert-loop agent: every registered persona is
// consulted in turn, each cycle producing one recommendation turn backed by
// an image search. Controllers are created per node call; the loop state
// itself lives on the graph state.
func NewStylistAgent(analyzer expertloop.Analyzer, searcher expertloop.Searcher, personas []Persona, store checkpoint.Store) (*Agent, error) {
	if len(personas) == 0 {
		return nil, errors.New("stylist agent needs at least one persona")
	}

	roster := make([]string, 0, len(personas))
	for _, p := range personas {
		roster = append(roster, p.Key)
	}

	// Every invocation consults the full roster, regardless of where a
	// previous turn on the same thread left off.
	initializer := func(s *graph.State, _ graph.RunConfig) {
		s.Experts = expertloop.State{Pending: append([]string(nil), roster...)}
	}

	popNext := func(_ context.Context, s *graph.State, _ graph.RunConfig, _ *graph.Writer) (*graph.Delta, error) {
		st := s.Experts
		if _, err := expertloop.New(analyzer, searcher).PopNext(&st); err != nil {
			return nil, errors.Wrap(err, "pop next expert")
		}
		return &graph.Delta{Experts: &st}, nil
	}

	analyze := func(ctx context.Context, s *graph.State, _ graph.RunConfig, w *graph.Writer) (*graph.Delta, error) {
		st := s.Experts
		expertloop.New(analyzer, searcher).Analyze(ctx, &st, s.UserMessage, w.Custom)
		return &graph.Delta{Experts: &st}, nil
	}

	search := func(ctx context.Context, s *graph.State, _ graph.RunConfig, w *graph.Writer) (*graph.Delta, error) {
		st := s.Experts
		msg := expertloop.New(analyzer, searcher).Search(ctx, &st, w.Custom)
		return &graph.Delta{Messages: []chat.Emission{msg}, Experts: &st}, nil
	}

	route := func(s *graph.State) string {
		st := s.Experts
		return string(expertloop.New(analyzer, searcher).Route(&st))
	}

	g, err := graph.NewBuilder("stylist").
		WithInitializer(initializer).
		AddNode(nodePopNextExpert, popNext).
		AddNode(nodeExternalLLM, analyze).
		AddNode(nodeSearch, search).
		AddEdge(graph.Start, nodePopNextExpert).
		AddEdge(nodePopNextExpert, nodeExternalLLM).
		AddEdge(nodeExternalLLM, nodeSearch).
		AddConditionalEdges(nodeSearch, route, map[string]string{
			string(expertloop.DecisionContinue): nodePopNextExpert,
			string(expertloop.DecisionEnd):      graph.End,
		}).
		Compile(store)
	if err != nil {
		return nil, err
	}

	return &Agent{
		Key:         "stylist",
		Description: "전문가 패널이 순서대로 의류 조합을 분석하고 이미지 검색 결과를 제시하는 스타일리스트",
		Graph:       g,
		NodeFilters: map[string]multiplex.NodeFilter{
			nodePopNextExpert: multiplex.FilterNone,
			nodeExternalLLM:   multiplex.FilterNone,
		},
	}, nil
}
