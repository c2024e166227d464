package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stylemuse/stylemuse/pkg/events"
	"github.com/stylemuse/stylemuse/pkg/expertloop"
)

// Frame types spoken by the expert analysis service.
const (
	frameStatus   = "status"
	frameContent  = "content"
	frameComplete = "complete"
)

const ssePrefix = "data: "

// Client streams one expert analysis from the external service. It implements
// expertloop.Analyzer.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	UserInput   string         `json:"user_input"`
	RoomID      int            `json:"room_id"`
	ExpertType  string         `json:"expert_type"`
	UserProfile map[string]any `json:"user_profile"`
	ContextInfo map[string]any `json:"context_info"`
	JSONData    map[string]any `json:"json_data"`
}

type analyzeFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Chunk   string `json:"chunk,omitempty"`
}

// Analyze posts the user input to the analysis service and consumes its SSE
// response: status frames are forwarded as progress notifications, content
// frames are forwarded as tokens and accumulated into the opinion, and the
// complete frame ends the stream.
func (c *Client) Analyze(ctx context.Context, userInput string, expert string, emit expertloop.EmitFunc) (string, error) {
	body, err := json.Marshal(analyzeRequest{
		UserInput:   userInput,
		ExpertType:  expert,
		UserProfile: map[string]any{},
		ContextInfo: map[string]any{},
		JSONData:    map[string]any{},
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal analysis request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build analysis request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "call analysis service")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("analysis service returned status %d", resp.StatusCode)
	}

	var opinion strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}

		var frame analyzeFrame
		if err := json.Unmarshal([]byte(line[len(ssePrefix):]), &frame); err != nil {
			log.Warn().Err(err).Str("expert", expert).Msg("analysis: skipping undecodable frame")
			continue
		}

		switch frame.Type {
		case frameStatus:
			emit(events.NewStatusPayload(events.NewStatus(expert, events.StatusProgress, frame.Message)))
		case frameContent:
			opinion.WriteString(frame.Chunk)
			emit(events.NewTokenPayload(frame.Chunk))
		case frameComplete:
			return opinion.String(), nil
		default:
			log.Warn().Str("expert", expert).Str("frame_type", frame.Type).Msg("analysis: unknown frame type")
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "read analysis stream")
	}
	if opinion.Len() == 0 {
		return "", errors.New("analysis stream ended without content")
	}
	return opinion.String(), nil
}
