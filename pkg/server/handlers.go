package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stylemuse/stylemuse/pkg/agents"
	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/checkpoint"
	"github.com/stylemuse/stylemuse/pkg/graph"
	"github.com/stylemuse/stylemuse/pkg/multiplex"
)

// userInput is the request body shared by invoke and stream.
type userInput struct {
	Message     string         `json:"message"`
	Model       string         `json:"model,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	AgentConfig map[string]any `json:"agent_config,omitempty"`
}

// streamInput adds the token-streaming switch; it defaults to on.
type streamInput struct {
	userInput
	StreamTokens *bool `json:"stream_tokens,omitempty"`
}

func (in *streamInput) streamTokens() bool {
	return in.StreamTokens == nil || *in.StreamTokens
}

// reservedConfigKeys are claimed by the run configuration itself and may not
// be shadowed through agent_config.
var reservedConfigKeys = []string{"thread_id", "user_id", "model"}

// buildRunConfig validates the request against the configured model set and
// the reserved key space, and mints the run id.
func (s *Server) buildRunConfig(in userInput) (graph.RunConfig, error) {
	if !s.settings.ValidModel(in.Model) {
		return graph.RunConfig{}, errors.Errorf("unknown model %q", in.Model)
	}
	model := in.Model
	if model == "" {
		model = s.settings.DefaultModel
	}

	var overlap []string
	for _, key := range reservedConfigKeys {
		if _, ok := in.AgentConfig[key]; ok {
			overlap = append(overlap, key)
		}
	}
	if len(overlap) > 0 {
		sort.Strings(overlap)
		return graph.RunConfig{}, errors.Errorf("overlapping keys in agent_config: [%s]", strings.Join(overlap, ", "))
	}

	return graph.RunConfig{
		RunID:    uuid.New(),
		ThreadID: in.ThreadID,
		UserID:   in.UserID,
		Model:    model,
		Extra:    in.AgentConfig,
	}, nil
}

func (s *Server) resolveAgent(w http.ResponseWriter, r *http.Request) (*agents.Agent, bool) {
	agent, err := s.registry.Get(chi.URLParam(r, "agent"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return agent, true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.resolveAgent(w, r)
	if !ok {
		return
	}

	var in streamInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rc, err := s.buildRunConfig(in.userInput)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := agent.Graph.Stream(r.Context(), in.Message, rc)
	if err != nil {
		log.Error().Err(err).Str("agent", agent.Key).Msg("failed to start stream")
		s.metrics.streamFailures.WithLabelValues(agent.Key).Inc()
		writeError(w, http.StatusInternalServerError, "Unexpected error")
		return
	}
	defer func() { _ = stream.Close() }()
	s.metrics.streamsStarted.WithLabelValues(agent.Key).Inc()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	mux := multiplex.New(multiplex.Options{
		StreamTokens: in.streamTokens(),
		UserInput:    in.Message,
		RunID:        rc.RunID.String(),
		NodeFilters:  agent.NodeFilters,
	})
	for env := range mux.Run(r.Context(), stream) {
		if err := env.WriteSSE(w); err != nil {
			log.Debug().Err(err).Msg("client went away mid-stream")
			return
		}
		flusher.Flush()
		s.metrics.envelopesSent.WithLabelValues(agent.Key, string(env.Kind)).Inc()
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.resolveAgent(w, r)
	if !ok {
		return
	}

	var in userInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rc, err := s.buildRunConfig(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := agent.Graph.Invoke(r.Context(), in.Message, rc)
	if err != nil {
		log.Error().Err(err).Str("agent", agent.Key).Msg("invocation failed")
		writeError(w, http.StatusInternalServerError, "Unexpected error")
		return
	}

	last := state.LastMessage()
	if last == nil {
		writeError(w, http.StatusInternalServerError, "Unexpected error")
		return
	}
	turn, err := chat.Normalize(last)
	if err != nil {
		log.Error().Err(err).Msg("failed to normalize final message")
		writeError(w, http.StatusInternalServerError, "Unexpected error")
		return
	}
	turn.RunID = rc.RunID.String()
	writeJSON(w, http.StatusOK, turn)
}

type chatHistory struct {
	Messages []*chat.Turn `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.resolveAgent(w, r)
	if !ok {
		return
	}
	threadID := chi.URLParam(r, "thread_id")

	state, err := agent.Graph.GetState(r.Context(), threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		writeJSON(w, http.StatusOK, chatHistory{Messages: []*chat.Turn{}})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("failed to load history")
		writeError(w, http.StatusInternalServerError, "Unexpected error")
		return
	}

	history := chatHistory{Messages: []*chat.Turn{}}
	for _, m := range state.CompleteMessages() {
		turn, err := chat.Normalize(m)
		if err != nil {
			log.Warn().Err(err).Msg("skipping unconvertible history message")
			continue
		}
		history.Messages = append(history.Messages, turn)
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")

	for _, info := range s.registry.All() {
		agent, err := s.registry.Get(info.Key)
		if err != nil {
			continue
		}
		if err := agent.Graph.DeleteThread(r.Context(), threadID); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			log.Error().Err(err).Str("thread_id", threadID).Str("agent", info.Key).Msg("failed to delete thread")
			writeError(w, http.StatusInternalServerError, "Unexpected error")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// serviceMetadata is the /info response.
type serviceMetadata struct {
	Agents       []agents.AgentInfo `json:"agents"`
	Models       []string           `json:"models"`
	DefaultAgent string             `json:"default_agent"`
	DefaultModel string             `json:"default_model"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, serviceMetadata{
		Agents:       s.registry.All(),
		Models:       s.settings.AvailableModels,
		DefaultAgent: s.registry.DefaultKey(),
		DefaultModel: s.settings.DefaultModel,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Addr formats the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)
}
