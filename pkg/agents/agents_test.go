package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/checkpoint"
	"github.com/stylemuse/stylemuse/pkg/expertloop"
	"github.com/stylemuse/stylemuse/pkg/graph"
)

type fakeEngine struct {
	reply string
}

func (e *fakeEngine) Generate(_ context.Context, _ string, _ []*chat.NodeMessage, _ *graph.Writer, _ ...string) (*chat.NodeMessage, error) {
	return chat.NewAIMessage(e.reply), nil
}

type fakeAnalyzer struct {
	opinions map[string]string
	failFor  string
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ string, expert string, _ expertloop.EmitFunc) (string, error) {
	if expert == a.failFor {
		return "", errors.New("analysis backend down")
	}
	return a.opinions[expert], nil
}

type fakeSearcher struct {
	urls []string
}

func (s *fakeSearcher) Search(_ context.Context, _ string) ([]string, error) {
	return s.urls, nil
}

func TestChatbotAgentAppendsGeneration(t *testing.T) {
	agent, err := NewChatbotAgent(&fakeEngine{reply: "반가워요"}, checkpoint.NewMemoryStore())
	require.NoError(t, err)

	state, err := agent.Graph.Invoke(context.Background(), "안녕", graph.RunConfig{ThreadID: "t-1", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	last := state.LastMessage()
	require.NotNil(t, last)
	assert.Equal(t, chat.RoleAI, last.Role)
	assert.Equal(t, "반가워요", last.Text)
}

func TestStylistAgentConsultsEveryExpert(t *testing.T) {
	personas := []Persona{
		{Key: "color_expert"},
		{Key: "style_anal"},
	}
	analyzer := &fakeAnalyzer{opinions: map[string]string{
		"color_expert": "블랙 위주의 조합",
		"style_anal":   "미니멀한 실루엣",
	}}
	agent, err := NewStylistAgent(analyzer, &fakeSearcher{urls: []string{"https://img/1.jpg"}}, personas, checkpoint.NewMemoryStore())
	require.NoError(t, err)

	state, err := agent.Graph.Invoke(context.Background(), "오늘 뭐 입지?", graph.RunConfig{ThreadID: "t-2"})
	require.NoError(t, err)
	assert.True(t, state.Experts.Exhausted())

	// One human turn plus one recommendation per expert, in roster order.
	msgs := state.CompleteMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, chat.RoleHuman, msgs[0].Role)
	assert.Equal(t, "블랙 위주의 조합", msgs[1].Text)
	assert.Equal(t, "미니멀한 실루엣", msgs[2].Text)

	meta, ok := msgs[1].Extra[chat.ExtraKeyMetadata].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "color_expert", meta["expert_type"])
	assert.Equal(t, []string{"https://img/1.jpg"}, msgs[1].Extra[chat.ExtraKeyImageURLs])
}

func TestStylistAgentSurvivesSingleExpertFailure(t *testing.T) {
	personas := []Persona{{Key: "color_expert"}, {Key: "style_anal"}}
	analyzer := &fakeAnalyzer{
		opinions: map[string]string{"style_anal": "정상 의견"},
		failFor:  "color_expert",
	}
	agent, err := NewStylistAgent(analyzer, &fakeSearcher{}, personas, checkpoint.NewMemoryStore())
	require.NoError(t, err)

	state, err := agent.Graph.Invoke(context.Background(), "추천해줘", graph.RunConfig{ThreadID: "t-3"})
	require.NoError(t, err)

	msgs := state.CompleteMessages()
	require.Len(t, msgs, 3)
	// The failed expert contributes its fallback opinion; the loop goes on.
	assert.Equal(t, "의류 분석 중 오류가 발생했습니다.", msgs[1].Text)
	assert.Equal(t, "정상 의견", msgs[2].Text)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry("stylist")
	r.Register(&Agent{Key: "stylist", Description: "expert panel"})
	r.Register(&Agent{Key: "chatbot", Description: "plain chat"})

	a, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "stylist", a.Key)

	_, err = r.Get("missing")
	require.ErrorIs(t, err, ErrUnknownAgent)

	infos := r.All()
	require.Len(t, infos, 2)
	assert.Equal(t, "chatbot", infos[0].Key)
	assert.Equal(t, "stylist", infos[1].Key)
}

func TestLoadPersonas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "experts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
experts:
  - key: color_expert
    description: 색상 전문가
  - key: style_anal
    description: 스타일 전문가
`), 0o600))

	personas, err := LoadPersonas(path)
	require.NoError(t, err)
	require.Len(t, personas, 2)
	assert.Equal(t, "color_expert", personas[0].Key)

	// Missing file falls back to the built-in roster.
	fallback, err := LoadPersonas(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPersonas(), fallback)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.yaml"), []byte("experts: []"), 0o600))
	_, err = LoadPersonas(filepath.Join(dir, "empty.yaml"))
	require.Error(t, err)
}
