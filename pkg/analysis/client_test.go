package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylemuse/stylemuse/pkg/events"
)

func sseFrame(v any) string {
	b, _ := json.Marshal(v)
	return fmt.Sprintf("data: %s\n\n", b)
}

func TestAnalyzeAccumulatesContentAndForwardsProgress(t *testing.T) {
	var gotReq analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrame(analyzeFrame{Type: "status", Message: "분석 진행 중"}))
		fmt.Fprint(w, sseFrame(analyzeFrame{Type: "content", Chunk: "블랙 "}))
		fmt.Fprint(w, sseFrame(analyzeFrame{Type: "content", Chunk: "코디 추천"}))
		fmt.Fprint(w, sseFrame(analyzeFrame{Type: "complete"}))
	}))
	defer srv.Close()

	var emitted []events.CustomPayload
	c := NewClient(srv.URL, 5*time.Second)
	opinion, err := c.Analyze(context.Background(), "오늘 뭐 입지?", "style_analyst", func(p events.CustomPayload) {
		emitted = append(emitted, p)
	})
	require.NoError(t, err)
	assert.Equal(t, "블랙 코디 추천", opinion)
	assert.Equal(t, "오늘 뭐 입지?", gotReq.UserInput)
	assert.Equal(t, "style_analyst", gotReq.ExpertType)

	require.Len(t, emitted, 3)
	assert.Equal(t, events.CustomTagStatus, emitted[0].Type)
	assert.Equal(t, events.CustomTagToken, emitted[1].Type)
	assert.Equal(t, events.CustomTagToken, emitted[2].Type)
}

func TestAnalyzeSkipsUndecodableFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, sseFrame(analyzeFrame{Type: "content", Chunk: "결과"}))
		fmt.Fprint(w, sseFrame(analyzeFrame{Type: "complete"}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	opinion, err := c.Analyze(context.Background(), "input", "color_expert", func(events.CustomPayload) {})
	require.NoError(t, err)
	assert.Equal(t, "결과", opinion)
}

func TestAnalyzeNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Analyze(context.Background(), "input", "color_expert", func(events.CustomPayload) {})
	require.Error(t, err)
}

func TestAnalyzeStreamEndingWithoutContentIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sseFrame(analyzeFrame{Type: "status", Message: "시작"}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Analyze(context.Background(), "input", "color_expert", func(events.CustomPayload) {})
	require.Error(t, err)
}
