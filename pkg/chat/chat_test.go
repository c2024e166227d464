package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoles(t *testing.T) {
	human, err := Normalize(NewHumanMessage("안녕"))
	require.NoError(t, err)
	assert.Equal(t, RoleHuman, human.Role)
	assert.Equal(t, "안녕", human.Text)
	assert.Equal(t, AttachmentText, human.Extra[ExtraKeyType])

	ai := NewAIMessage("답변")
	ai.ToolCalls = []ToolCall{{Name: "search", ID: "call-1"}}
	ai.ResponseMetadata = map[string]any{"finish_reason": "stop"}
	turn, err := Normalize(ai)
	require.NoError(t, err)
	assert.Equal(t, RoleAI, turn.Role)
	assert.Equal(t, ai.ToolCalls, turn.ToolCalls)
	assert.Equal(t, "stop", turn.ResponseMetadata["finish_reason"])

	tool, err := Normalize(NewToolMessage("결과", "call-1"))
	require.NoError(t, err)
	assert.Equal(t, RoleTool, tool.Role)
	assert.Equal(t, "call-1", tool.ToolCallID)

	custom, err := Normalize(NewCustomMessage(map[string]any{"progress": 0.5}))
	require.NoError(t, err)
	assert.Equal(t, RoleCustom, custom.Role)
	assert.Empty(t, custom.Text)
	assert.Equal(t, 0.5, custom.CustomPayload["progress"])
}

func TestNormalizeFlattensStructuredContent(t *testing.T) {
	m := NewAIMessage("")
	m.Parts = []Part{
		{Kind: PartText, Text: "첫 번째 "},
		{Kind: PartToolUse, Text: "ignored"},
		{Kind: PartRaw, Text: "두 번째"},
	}
	turn, err := Normalize(m)
	require.NoError(t, err)
	assert.Equal(t, "첫 번째 두 번째", turn.Text)
}

func TestNormalizeRejectsUnknownRole(t *testing.T) {
	_, err := Normalize(&NodeMessage{Role: Role("system")})
	require.ErrorIs(t, err, ErrUnsupportedMessageKind)

	_, err = Normalize(nil)
	require.Error(t, err)
}

func TestSynthesizeFromFragments(t *testing.T) {
	m := Synthesize(map[string]any{
		"content": "오늘의 추천",
		"tool_calls": []any{
			map[string]any{"name": "search", "id": "call-1", "args": map[string]any{"q": "코디"}},
			"garbage entry",
		},
		"additional_kwargs": map[string]any{"source": "stream"},
		"unknown_field":     "dropped",
	})

	assert.Equal(t, RoleAI, m.Role)
	assert.Equal(t, "오늘의 추천", m.Text)
	require.Len(t, m.ToolCalls, 1)
	assert.Equal(t, "call-1", m.ToolCalls[0].ID)
	assert.Equal(t, "stream", m.Extra["source"])
	// The factory-provided rendering hints survive the kwargs merge.
	assert.Equal(t, AttachmentText, m.Extra[ExtraKeyType])
}

func TestChunkTextStripsToolUse(t *testing.T) {
	c := &Chunk{Parts: []Part{
		{Kind: PartText, Text: "블랙"},
		{Kind: PartToolUse, Text: "search(...)"},
	}}
	assert.Equal(t, "블랙", c.Text())
}

func TestEmissionRoundTrip(t *testing.T) {
	msg := NewToolMessage("검색 결과", "call-1")
	frag := Fragment{Key: "content", Value: "부분"}

	encoded, err := MarshalEmissions([]Emission{msg, frag})
	require.NoError(t, err)

	decoded, err := UnmarshalEmissions(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	gotMsg, ok := decoded[0].(*NodeMessage)
	require.True(t, ok)
	assert.Equal(t, RoleTool, gotMsg.Role)
	assert.Equal(t, "call-1", gotMsg.ToolCallID)

	gotFrag, ok := decoded[1].(Fragment)
	require.True(t, ok)
	assert.Equal(t, "content", gotFrag.Key)
	assert.Equal(t, "부분", gotFrag.Value)
}

func TestUnmarshalEmissionRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalEmission([]byte(`{"kind":"hologram"}`))
	require.Error(t, err)
}
