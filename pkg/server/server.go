package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/stylemuse/stylemuse/pkg/agents"
	"github.com/stylemuse/stylemuse/pkg/config"
)

// Server is the HTTP surface over the agent registry.
type Server struct {
	settings *config.Settings
	registry *agents.Registry
	metrics  *metrics
}

func New(settings *config.Settings, registry *agents.Registry) *Server {
	return &Server{
		settings: settings,
		registry: registry,
		metrics:  newMetrics(),
	}
}

// Handler builds the router. Streaming responses bypass the timeout
// middleware on purpose; an expert loop can legitimately run for minutes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/info", s.handleInfo)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Post("/{agent}/stream", s.handleStream)
	r.Post("/{agent}/invoke", s.handleInvoke)
	r.Get("/{agent}/{thread_id}/history", s.handleHistory)
	r.Delete("/{thread_id}/history", s.handleDeleteHistory)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// writeJSON writes a JSON response; encode failures are logged, the status
// line is already committed at that point.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
