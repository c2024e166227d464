package expertloop

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/events"
)

// EmitFunc forwards a custom side-channel payload to the stream.
type EmitFunc func(events.CustomPayload)

// Analyzer produces one expert's opinion on the user input. Implementations
// stream their own progress through emit while the call is underway.
type Analyzer interface {
	Analyze(ctx context.Context, userInput string, expert string, emit EmitFunc) (string, error)
}

// Searcher runs a downstream similarity search for an opinion and returns the
// matching media URLs.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// User-facing fallback texts substituted when an external call fails. The
// loop continues; no single expert's failure aborts the others.
const (
	fallbackOpinion      = "의류 분석 중 오류가 발생했습니다."
	fallbackSearchResult = "이미지 검색 중 오류가 발생했습니다."
	searchTaskID         = "search"
)

// Controller drives the pop -> analyze -> search cycle until the pending
// queue is exhausted. One controller belongs to one invocation.
type Controller struct {
	analyzer Analyzer
	searcher Searcher
	phase    Phase
}

func New(analyzer Analyzer, searcher Searcher) *Controller {
	return &Controller{
		analyzer: analyzer,
		searcher: searcher,
		phase:    PhaseAwaitingExpert,
	}
}

func (c *Controller) Phase() Phase { return c.phase }

// PopNext pops the front of the pending queue into Current and moves the
// controller into Analyzing.
func (c *Controller) PopNext(s *State) (string, error) {
	expert, err := s.Pop()
	if err != nil {
		return "", err
	}
	log.Debug().Str("expert", expert).Int("remaining", len(s.Pending)).Msg("expert loop: popped next expert")
	c.phase = PhaseAnalyzing
	return expert, nil
}

// Analyze runs the external analysis call for the current expert and stores
// the opinion on the state. A failed call is substituted with a fallback
// opinion; the transition to Searching happens unconditionally.
func (c *Controller) Analyze(ctx context.Context, s *State, userInput string, emit EmitFunc) {
	expert := s.Current

	emit(events.NewStatusPayload(events.NewStatus(expert, events.StatusStart, fmt.Sprintf("%s 의류 조합 분석 시작", expert))))

	opinion, err := c.analyzer.Analyze(ctx, userInput, expert, emit)
	if err != nil {
		log.Error().Err(err).Str("expert", expert).Msg("expert loop: analysis call failed")
		opinion = fallbackOpinion
		emit(events.NewStatusPayload(events.NewErrorStatus(expert, fmt.Sprintf("%s 분석 오류", expert), err.Error())))
	} else {
		emit(events.NewStatusPayload(events.NewStatus(expert, events.StatusEnd, fmt.Sprintf("%s 분석 완료", expert))))
	}

	s.LastOpinion = opinion
	c.phase = PhaseSearching
}

// Search runs the downstream similarity search on the last opinion and
// returns the single transcript turn for this cycle, tagged with the expert
// that produced the opinion. A failed search yields a fallback turn.
func (c *Controller) Search(ctx context.Context, s *State, emit EmitFunc) *chat.NodeMessage {
	emit(events.NewStatusPayload(events.NewStatus(searchTaskID, events.StatusStart, "이미지 검색 시작")))

	urls, err := c.searcher.Search(ctx, s.LastOpinion)
	if err != nil {
		log.Error().Err(err).Str("expert", s.Current).Msg("expert loop: search call failed")
		emit(events.NewStatusPayload(events.NewErrorStatus(searchTaskID, "이미지 검색 오류", err.Error())))
		return chat.NewAIMessage(fallbackSearchResult)
	}

	emit(events.NewStatusPayload(events.NewStatus(searchTaskID, events.StatusEnd, "이미지 검색 완료!")))
	return chat.NewImageMessage(s.LastOpinion, urls, map[string]any{"expert_type": s.Current})
}

// Decision routes the loop after one full cycle.
type Decision string

const (
	DecisionContinue Decision = "continue_loop"
	DecisionEnd      Decision = "end_loop"
)

// Route decides whether to loop back for the next expert or terminate.
func (c *Controller) Route(s *State) Decision {
	if s.Exhausted() {
		c.phase = PhaseDone
		return DecisionEnd
	}
	c.phase = PhaseAwaitingExpert
	return DecisionContinue
}
