package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/model"
	"github.com/nstogner/lazymcp/pkg/store"
	"github.com/nstogner/lazymcp/pkg/tools"
)

// maxToolSteps bounds the model/tool round trips of a single user message.
const maxToolSteps = 8

// Server serves the REST API and chat channel of the agent backend.
type Server struct {
	store        store.Store
	provider     model.Provider
	tools        *tools.Registry
	instructions string
	srv          *http.Server
}

// New creates a new Server.
func New(st store.Store, provider model.Provider, registry *tools.Registry, instructions string) *Server {
	return &Server{
		store:        st,
		provider:     provider,
		tools:        registry,
		instructions: instructions,
	}
}

// Init makes sure the default agent exists.
func (s *Server) Init(ctx context.Context) error {
	if _, err := s.store.EnsureAgent(ctx, domain.DefaultAgent, s.template()); err != nil {
		return fmt.Errorf("ensure default agent: %w", err)
	}
	return nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("DELETE /agent", s.handleDeleteAgent)

	mux.HandleFunc("GET /history", s.handleGetHistory)
	mux.HandleFunc("POST /clear_history", s.handleClearHistory)
	mux.HandleFunc("GET /logs", s.handleGetLogs)

	mux.HandleFunc("GET /agent_config", s.handleGetAgentConfig)
	mux.HandleFunc("PATCH /agent_config/update_flag", s.handleUpdateFlag)
	mux.HandleFunc("POST /reset_default", s.handleResetDefault)

	// WebSocket
	mux.HandleFunc("GET /chat", s.handleChatWebSocket)

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting backend server", "addr", addr, "provider", s.provider.Name())
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) template() domain.AgentConfig {
	return s.tools.Template("")
}

// agent loads the configuration of name, creating the agent on first use.
func (s *Server) agent(ctx context.Context, name string) (domain.AgentConfig, error) {
	return s.store.EnsureAgent(ctx, name, s.template())
}

// record writes a log entry for agent to both slog and the agent's log buffer.
func (s *Server) record(ctx context.Context, agent string, level domain.LogLevel, msg string) {
	switch level {
	case domain.LevelError:
		slog.Error(msg, "agent", agent)
	case domain.LevelWarn:
		slog.Warn(msg, "agent", agent)
	case domain.LevelDebug:
		slog.Debug(msg, "agent", agent)
	default:
		slog.Info(msg, "agent", agent)
	}
	if err := s.store.AppendLog(ctx, agent, domain.NewLogEntry(level, msg)); err != nil {
		slog.Error("Failed to buffer agent log", "agent", agent, "error", err)
	}
}

func agentParam(r *http.Request) (string, error) {
	agent := strings.TrimSpace(r.URL.Query().Get("agent"))
	if agent == "" {
		return "", fmt.Errorf("missing agent query parameter")
	}
	return agent, nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"detail": err.Error()})
}
