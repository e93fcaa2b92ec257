package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mitchellh/mapstructure"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/store"
)

// --- Agents ---

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if _, err := s.agent(r.Context(), domain.DefaultAgent); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, agents)
}

type deleteAgentResponse struct {
	Success bool     `json:"success"`
	Agents  []string `json:"agents,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := agentParam(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if agent == domain.DefaultAgent {
		s.jsonResponse(w, http.StatusBadRequest, deleteAgentResponse{Detail: "the default agent cannot be deleted"})
		return
	}

	if err := s.store.DeleteAgent(r.Context(), agent); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Errorf("failed to delete agent: %w", err))
		return
	}
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, deleteAgentResponse{Success: true, Agents: agents})
}

// --- History ---

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	agent, err := agentParam(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.agent(r.Context(), agent); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	msgs, err := s.store.Messages(r.Context(), agent)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	agent, err := agentParam(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.ClearMessages(r.Context(), agent); err != nil {
		s.record(r.Context(), agent, domain.LevelError, "Failed to clear history: "+err.Error())
		s.jsonResponse(w, http.StatusOK, map[string]any{"success": false, "detail": err.Error()})
		return
	}
	s.record(r.Context(), agent, domain.LevelInfo, "History cleared")
	s.jsonResponse(w, http.StatusOK, map[string]any{"success": true})
}

// --- Logs ---

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	agent, err := agentParam(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	logs, err := s.store.DrainLogs(r.Context(), agent)
	if err != nil {
		logs = []domain.LogEntry{domain.NewLogEntry(domain.LevelError, "Error fetching logs: "+err.Error())}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"logs": logs})
}

// --- Permissions ---

func (s *Server) handleGetAgentConfig(w http.ResponseWriter, r *http.Request) {
	agent, err := agentParam(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := s.agent(r.Context(), agent)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, cfg)
}

type updateFlagResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	agent, err := agentParam(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	var upd domain.FlagUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	cfg, err := s.agent(r.Context(), agent)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if err := applyFlag(&cfg, upd); err != nil {
		s.jsonResponse(w, http.StatusOK, updateFlagResponse{Detail: err.Error()})
		return
	}
	if err := s.store.SaveAgent(r.Context(), agent, cfg); err != nil {
		s.jsonResponse(w, http.StatusOK, updateFlagResponse{Detail: err.Error()})
		return
	}

	target := upd.ServerName
	if upd.FunctionName != "" {
		target += "." + upd.FunctionName
	}
	s.record(r.Context(), agent, domain.LevelInfo, fmt.Sprintf("Set %s of %s to %v", upd.FlagName, target, upd.Value))
	s.jsonResponse(w, http.StatusOK, updateFlagResponse{Success: true})
}

func (s *Server) handleResetDefault(w http.ResponseWriter, r *http.Request) {
	cfg := s.template()
	if err := s.store.SaveAgent(r.Context(), domain.DefaultAgent, cfg); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.record(r.Context(), domain.DefaultAgent, domain.LevelInfo, "Default configuration restored")
	s.jsonResponse(w, http.StatusOK, cfg)
}

// applyFlag sets a single server or function flag. An empty function name
// targets the server.
func applyFlag(cfg *domain.AgentConfig, upd domain.FlagUpdate) error {
	srv, ok := cfg.Servers[upd.ServerName]
	if !ok {
		return errors.New("server not found")
	}
	input := map[string]any{upd.FlagName: upd.Value}

	if upd.FunctionName == "" {
		if err := decodeFlag(input, &srv); err != nil {
			return err
		}
		cfg.Servers[upd.ServerName] = srv
		return nil
	}

	fn, ok := srv.Functions[upd.FunctionName]
	if !ok {
		return errors.New("function not found")
	}
	if err := decodeFlag(input, &fn); err != nil {
		return err
	}
	if _, err := domain.ParsePolicy(string(fn.Confirmed)); err != nil {
		return err
	}
	srv.Functions[upd.FunctionName] = fn
	return nil
}

func decodeFlag(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
