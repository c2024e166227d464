package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/events"
	"github.com/stylemuse/stylemuse/pkg/graph"
)

func fakeCompletionServer(t *testing.T, deltas []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func testEngine(srv *httptest.Server, options ...OpenAIOption) *OpenAIEngine {
	cfg := go_openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	options = append(options, WithClient(go_openai.NewClientWithConfig(cfg)))
	return NewOpenAIEngine("test-key", options...)
}

func TestGenerateStreamsDeltasAndReturnsFullTurn(t *testing.T) {
	srv := fakeCompletionServer(t, []string{"반가", "워요"})
	defer srv.Close()

	var published []events.StreamEvent
	w := graph.NewWriter(func(ev events.StreamEvent) { published = append(published, ev) })

	e := testEngine(srv)
	msg, err := e.Generate(context.Background(), "gpt-4o-mini", []*chat.NodeMessage{chat.NewHumanMessage("안녕")}, w)
	require.NoError(t, err)
	assert.Equal(t, chat.RoleAI, msg.Role)
	assert.Equal(t, "반가워요", msg.Text)

	// Two chunk events plus the completed-message echo.
	require.Len(t, published, 3)
	first, ok := published[0].(events.TokenEvent)
	require.True(t, ok)
	require.NotNil(t, first.Chunk)
	assert.Equal(t, "반가", first.Chunk.Text())
	last, ok := published[2].(events.TokenEvent)
	require.True(t, ok)
	require.NotNil(t, last.Message)
	assert.Equal(t, "반가워요", last.Message.Text)
}

func TestGenerateTagsPropagateToChunks(t *testing.T) {
	srv := fakeCompletionServer(t, []string{"internal"})
	defer srv.Close()

	var published []events.StreamEvent
	w := graph.NewWriter(func(ev events.StreamEvent) { published = append(published, ev) })

	e := testEngine(srv)
	_, err := e.Generate(context.Background(), "gpt-4o-mini", nil, w, "skip_stream")
	require.NoError(t, err)
	require.NotEmpty(t, published)
	ev, ok := published[0].(events.TokenEvent)
	require.True(t, ok)
	assert.Equal(t, []string{"skip_stream"}, ev.Tags)
}

func TestRequestMessagesRoleMapping(t *testing.T) {
	e := NewOpenAIEngine("key", WithSystemPrompt("You are a stylist."))
	aiMsg := chat.NewAIMessage("도구 호출")
	aiMsg.ToolCalls = []chat.ToolCall{{Name: "search", ID: "call-1", Args: map[string]any{"q": "코디"}}}

	msgs := e.requestMessages([]*chat.NodeMessage{
		chat.NewHumanMessage("안녕"),
		aiMsg,
		chat.NewToolMessage("검색 결과", "call-1"),
		chat.NewCustomMessage(map[string]any{"type": "token"}),
	})

	require.Len(t, msgs, 4) // system + human + ai + tool, custom skipped
	assert.Equal(t, go_openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, "You are a stylist.", msgs[0].Content)
	assert.Equal(t, go_openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, go_openai.ChatMessageRoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "call-1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, go_openai.ChatMessageRoleTool, msgs[3].Role)
	assert.Equal(t, "call-1", msgs[3].ToolCallID)
}
