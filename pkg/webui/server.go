// Package webui exposes the orchestrator over HTTP and WebSocket.
package webui

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	llmmetrics "conductor/pkg/agent/middleware/metrics"
	"conductor/pkg/config"
	"conductor/pkg/events"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/orchestrator"
	"conductor/pkg/proto"
)

// DefaultUsername is used for Basic auth when Options.Username is empty.
const DefaultUsername = "conductor"

const defaultPingInterval = 30 * time.Second

// Conversations is the orchestrator surface served by the API.
type Conversations interface {
	Handle(ctx context.Context, req proto.Request) proto.Response
	Get(id string) (*proto.ConversationSnapshot, bool)
	ConversationStats(id string) (orchestrator.ConversationStats, bool)
	Clear(ctx context.Context, id string) bool
	SystemStats() orchestrator.SystemStats
}

// UsageSource reports in-process oracle usage per conversation.
type UsageSource interface {
	ConversationUsage(conversationID string) (llmmetrics.Usage, bool)
	Forget(conversationID string)
}

// Options configures a Server. Zero values are usable.
type Options struct {
	// Password returns the Basic auth password. An empty password
	// disables auth. Defaults to config.GetProjectPassword.
	Password     func() string
	Gatherer     prometheus.Gatherer
	Query        *metrics.QueryService
	Usage        UsageSource
	Username     string
	SecretsDir   string
	PingInterval time.Duration
}

// Server serves the conversation API.
type Server struct {
	conversations Conversations
	hub           *events.Hub
	logger        *logx.Logger
	upgrader      *websocket.Upgrader
	opts          Options
}

// NewServer creates a new API server.
func NewServer(conversations Conversations, hub *events.Hub, opts Options) *Server {
	if opts.Password == nil {
		opts.Password = config.GetProjectPassword
	}
	if opts.Username == "" {
		opts.Username = DefaultUsername
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	s := &Server{
		conversations: conversations,
		hub:           hub,
		logger:        logx.NewLogger("webui"),
		opts:          opts,
	}
	s.upgrader = s.newUpgrader()
	return s
}

// requireAuth wraps an HTTP handler with Basic Authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expectedPassword := s.opts.Password()
		if expectedPassword == "" {
			next(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Conductor"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.opts.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(expectedPassword)) == 1
		if !userOK || !passOK {
			s.logger.Warn("Failed authentication attempt from %s (username: %s)", r.RemoteAddr, username)
			w.Header().Set("WWW-Authenticate", `Basic realm="Conductor"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/message", s.requireAuth(s.handleMessage))
	mux.HandleFunc("GET /api/conversations/{id}", s.requireAuth(s.handleConversationGet))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.requireAuth(s.handleConversationDelete))
	mux.HandleFunc("GET /api/conversations/{id}/stats", s.requireAuth(s.handleConversationStats))
	mux.HandleFunc("GET /api/stats", s.requireAuth(s.handleSystemStats))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleLogs))
	mux.HandleFunc("GET /ws", s.requireAuth(s.handleWebSocket))
	mux.Handle("GET /metrics", s.requireAuth(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}).ServeHTTP))

	// Encrypted secrets management.
	mux.HandleFunc("GET /api/secrets", s.requireAuth(s.handleSecretsList))
	mux.HandleFunc("POST /api/secrets", s.requireAuth(s.handleSecretsSet))
	mux.HandleFunc("DELETE /api/secrets/{name}", s.requireAuth(s.handleSecretsDelete))
}

// Handler returns the routed handler, mainly for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// StartServer starts the HTTP server in the background. It shuts down
// gracefully when ctx is cancelled.
func (s *Server) StartServer(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	if s.opts.Password() == "" {
		s.logger.Warn("No project password set - API is unauthenticated")
	}
	s.logger.Info("Starting API server on %s", addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown failed: %v", err)
		}
	}()

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.SubscriberCount(),
		"timestamp":   time.Now().UTC(),
	})
}

// handleMessage implements POST /api/message.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req proto.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	resp := s.conversations.Handle(r.Context(), req)

	status := http.StatusOK
	switch resp.Error {
	case orchestrator.ErrEmptyMessage.Error():
		status = http.StatusBadRequest
	case orchestrator.ErrTurnInProgress.Error():
		status = http.StatusConflict
	}
	s.writeJSON(w, status, resp)
}

// handleConversationGet implements GET /api/conversations/{id}.
func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.conversations.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleConversationDelete implements DELETE /api/conversations/{id}.
func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.conversations.Clear(r.Context(), id) {
		s.logger.Info("Cleared conversation %s", id)
	}
	if s.opts.Usage != nil {
		s.opts.Usage.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

type conversationStatsResponse struct {
	Stats      orchestrator.ConversationStats `json:"stats"`
	Usage      *llmmetrics.Usage              `json:"usage,omitempty"`
	Prometheus *metrics.ConversationMetrics   `json:"prometheus,omitempty"`
}

// handleConversationStats implements GET /api/conversations/{id}/stats.
func (s *Server) handleConversationStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, ok := s.conversations.ConversationStats(id)
	if !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	out := conversationStatsResponse{Stats: stats}
	if s.opts.Usage != nil {
		if usage, found := s.opts.Usage.ConversationUsage(id); found {
			out.Usage = &usage
		}
	}
	if s.opts.Query != nil {
		m, err := s.opts.Query.GetConversationMetrics(r.Context(), id)
		if err != nil {
			s.logger.Warn("Prometheus query for %s failed: %v", id, err)
		} else {
			out.Prometheus = m
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

type systemStatsResponse struct {
	TokensByStage map[string]int64         `json:"tokens_by_stage,omitempty"`
	Stats         orchestrator.SystemStats `json:"stats"`
	Subscribers   int                      `json:"subscribers"`
	DroppedEvents uint64                   `json:"dropped_events"`
}

// handleSystemStats implements GET /api/stats.
func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	out := systemStatsResponse{
		Stats:         s.conversations.SystemStats(),
		Subscribers:   s.hub.SubscriberCount(),
		DroppedEvents: s.hub.Dropped(),
	}
	if s.opts.Query != nil {
		tokens, err := s.opts.Query.GetTokensByStage(r.Context())
		if err != nil {
			s.logger.Warn("Prometheus token query failed: %v", err)
		} else {
			out.TokensByStage = tokens
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleLogs implements GET /api/logs?domain=&since=.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid since timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	s.writeJSON(w, http.StatusOK, logx.GetRecentLogEntries(domain, since))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}
