package llm

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/graph"
)

const defaultSystemPrompt = "You are a helpful assistant."

func marshalArgs(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// OpenAIEngine streams chat completions from the OpenAI API.
type OpenAIEngine struct {
	client       *go_openai.Client
	systemPrompt string
}

type OpenAIOption func(*OpenAIEngine)

func WithSystemPrompt(prompt string) OpenAIOption {
	return func(e *OpenAIEngine) { e.systemPrompt = prompt }
}

// WithClient overrides the API client, mainly for tests pointing at a fake
// server.
func WithClient(client *go_openai.Client) OpenAIOption {
	return func(e *OpenAIEngine) { e.client = client }
}

func NewOpenAIEngine(apiKey string, options ...OpenAIOption) *OpenAIEngine {
	e := &OpenAIEngine{
		client:       go_openai.NewClient(apiKey),
		systemPrompt: defaultSystemPrompt,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// requestMessages maps the transcript onto the OpenAI wire roles. Custom
// messages carry no model-facing content and are skipped.
func (e *OpenAIEngine) requestMessages(msgs []*chat.NodeMessage) []go_openai.ChatCompletionMessage {
	out := make([]go_openai.ChatCompletionMessage, 0, len(msgs)+1)
	out = append(out, go_openai.ChatCompletionMessage{
		Role:    go_openai.ChatMessageRoleSystem,
		Content: e.systemPrompt,
	})
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleHuman:
			out = append(out, go_openai.ChatCompletionMessage{
				Role:    go_openai.ChatMessageRoleUser,
				Content: m.Text,
			})
		case chat.RoleAI:
			msg := go_openai.ChatCompletionMessage{
				Role:    go_openai.ChatMessageRoleAssistant,
				Content: m.Text,
			}
			for _, tc := range m.ToolCalls {
				args := "{}"
				if tc.Args != nil {
					args = marshalArgs(tc.Args)
				}
				msg.ToolCalls = append(msg.ToolCalls, go_openai.ToolCall{
					ID:   tc.ID,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, msg)
		case chat.RoleTool:
			out = append(out, go_openai.ChatCompletionMessage{
				Role:       go_openai.ChatMessageRoleTool,
				Content:    m.Text,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

// Generate streams one completion, forwarding each delta through the writer,
// and returns the assembled turn.
func (e *OpenAIEngine) Generate(ctx context.Context, model string, msgs []*chat.NodeMessage, w *graph.Writer, tags ...string) (*chat.NodeMessage, error) {
	req := go_openai.ChatCompletionRequest{
		Model:    model,
		Messages: e.requestMessages(msgs),
		Stream:   true,
	}

	log.Debug().Str("model", model).Int("messages", len(req.Messages)).Msg("openai generation started")
	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create completion stream")
	}
	defer stream.Close()

	var full strings.Builder
	chunkCount := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "receive completion chunk")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		chunkCount++
		w.Chunk(&chat.Chunk{Parts: []chat.Part{{Kind: chat.PartText, Text: delta}}}, tags...)
	}
	log.Debug().Int("chunks", chunkCount).Msg("openai generation completed")

	msg := chat.NewAIMessage(full.String())
	w.TokenMessage(msg, tags...)
	return msg, nil
}
