package agents

import (
	"context"

	"github.com/pkg/errors"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/checkpoint"
	"github.com/stylemuse/stylemuse/pkg/graph"
	"github.com/stylemuse/stylemuse/pkg/llm"
)

// NewChatbotAgent builds the plain conversational agent: one generation node
// streaming straight from the model.
func NewChatbotAgent(engine llm.Engine, store checkpoint.Store) (*Agent, error) {
	generate := func(ctx context.Context, s *graph.State, rc graph.RunConfig, w *graph.Writer) (*graph.Delta, error) {
		msg, err := engine.Generate(ctx, rc.Model, s.CompleteMessages(), w)
		if err != nil {
			return nil, errors.Wrap(err, "chatbot generation")
		}
		return &graph.Delta{Messages: []chat.Emission{msg}}, nil
	}

	g, err := graph.NewBuilder("chatbot").
		AddNode("chatbot", generate).
		AddEdge(graph.Start, "chatbot").
		AddEdge("chatbot", graph.End).
		Compile(store)
	if err != nil {
		return nil, err
	}

	return &Agent{
		Key:         "chatbot",
		Description: "일상 대화와 패션 관련 질문에 답하는 기본 챗봇",
		Graph:       g,
	}, nil
}
