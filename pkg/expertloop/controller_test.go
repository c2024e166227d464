package expertloop

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/events"
)

type stubAnalyzer struct {
	opinion string
	err     error
}

func (a *stubAnalyzer) Analyze(_ context.Context, _ string, _ string, _ EmitFunc) (string, error) {
	return a.opinion, a.err
}

type stubSearcher struct {
	urls []string
	err  error
}

func (s *stubSearcher) Search(_ context.Context, _ string) ([]string, error) {
	return s.urls, s.err
}

func collectEmit(payloads *[]events.CustomPayload) EmitFunc {
	return func(p events.CustomPayload) { *payloads = append(*payloads, p) }
}

func statusOf(t *testing.T, p events.CustomPayload) events.Status {
	t.Helper()
	require.Equal(t, events.CustomTagStatus, p.Type)
	env, err := p.Envelope()
	require.NoError(t, err)
	s, ok := env.Payload.(events.Status)
	require.True(t, ok)
	return s
}

func TestStatePop(t *testing.T) {
	s := &State{Pending: []string{"color_expert", "style_anal"}}

	expert, err := s.Pop()
	require.NoError(t, err)
	assert.Equal(t, "color_expert", expert)
	assert.Equal(t, "color_expert", s.Current)
	assert.False(t, s.Exhausted())

	_, err = s.Pop()
	require.NoError(t, err)
	assert.True(t, s.Exhausted())

	_, err = s.Pop()
	require.ErrorIs(t, err, ErrEmptyQueue)
}

func TestFullCycle(t *testing.T) {
	c := New(&stubAnalyzer{opinion: "블랙 조합"}, &stubSearcher{urls: []string{"https://img/1.jpg"}})
	s := &State{Pending: []string{"color_expert"}}

	_, err := c.PopNext(s)
	require.NoError(t, err)
	assert.Equal(t, PhaseAnalyzing, c.Phase())

	var payloads []events.CustomPayload
	c.Analyze(context.Background(), s, "오늘 뭐 입지?", collectEmit(&payloads))
	assert.Equal(t, PhaseSearching, c.Phase())
	assert.Equal(t, "블랙 조합", s.LastOpinion)
	require.Len(t, payloads, 2)
	assert.Equal(t, events.StatusStart, statusOf(t, payloads[0]).State)
	assert.Equal(t, events.StatusEnd, statusOf(t, payloads[1]).State)

	payloads = nil
	msg := c.Search(context.Background(), s, collectEmit(&payloads))
	assert.Equal(t, "블랙 조합", msg.Text)
	assert.Equal(t, []string{"https://img/1.jpg"}, msg.Extra[chat.ExtraKeyImageURLs])
	meta, ok := msg.Extra[chat.ExtraKeyMetadata].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "color_expert", meta["expert_type"])

	assert.Equal(t, DecisionEnd, c.Route(s))
	assert.Equal(t, PhaseDone, c.Phase())
}

func TestAnalyzeFailureFallsBackAndContinues(t *testing.T) {
	c := New(&stubAnalyzer{err: errors.New("backend down")}, &stubSearcher{})
	s := &State{Pending: []string{"color_expert", "style_anal"}}
	_, err := c.PopNext(s)
	require.NoError(t, err)

	var payloads []events.CustomPayload
	c.Analyze(context.Background(), s, "입력", collectEmit(&payloads))

	assert.Equal(t, "의류 분석 중 오류가 발생했습니다.", s.LastOpinion)
	assert.Equal(t, PhaseSearching, c.Phase())
	require.Len(t, payloads, 2)
	errStatus := statusOf(t, payloads[1])
	assert.Equal(t, events.StatusError, errStatus.State)
	assert.Equal(t, "backend down", errStatus.ErrorDetail)

	// Still an expert pending, so the loop goes around.
	assert.Equal(t, DecisionContinue, c.Route(s))
	assert.Equal(t, PhaseAwaitingExpert, c.Phase())
}

func TestSearchFailureYieldsFallbackTurn(t *testing.T) {
	c := New(&stubAnalyzer{opinion: "의견"}, &stubSearcher{err: errors.New("search down")})
	s := &State{Pending: []string{"color_expert"}}
	_, err := c.PopNext(s)
	require.NoError(t, err)

	var payloads []events.CustomPayload
	c.Analyze(context.Background(), s, "입력", collectEmit(&payloads))

	payloads = nil
	msg := c.Search(context.Background(), s, collectEmit(&payloads))
	assert.Equal(t, "이미지 검색 중 오류가 발생했습니다.", msg.Text)
	require.Len(t, payloads, 2)
	assert.Equal(t, events.StatusError, statusOf(t, payloads[1]).State)
}
