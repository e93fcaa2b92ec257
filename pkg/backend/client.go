// Package backend is the HTTP client for the agent backend's REST surface.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/protocol"
)

// ErrMalformedResponse is returned when a response body has an unexpected shape.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

// Client talks to the backend at a base URL such as http://localhost:8000.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. A zero timeout means no timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// ListAgents returns the names of all agents known to the backend.
func (c *Client) ListAgents(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/agents", nil, nil, &raw); err != nil {
		return nil, err
	}
	var agents []string
	if err := json.Unmarshal(raw, &agents); err != nil || agents == nil {
		return nil, fmt.Errorf("%w: agents is not a list of names", ErrMalformedResponse)
	}
	return agents, nil
}

// History returns the full conversation of agent.
func (c *Client) History(ctx context.Context, agent string) ([]domain.Message, error) {
	var resp struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/history", agentQuery(agent), nil, &resp); err != nil {
		return nil, err
	}
	var msgs []domain.Message
	if err := json.Unmarshal(resp.Messages, &msgs); err != nil || msgs == nil {
		return nil, fmt.Errorf("%w: messages is not a list", ErrMalformedResponse)
	}
	return msgs, nil
}

// Logs returns the log entries the backend has buffered for agent.
func (c *Client) Logs(ctx context.Context, agent string) ([]domain.LogEntry, error) {
	var resp struct {
		Logs json.RawMessage `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/logs", agentQuery(agent), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Logs) == 0 || string(resp.Logs) == "null" {
		return nil, fmt.Errorf("%w: logs missing", ErrMalformedResponse)
	}
	logs, err := protocol.DecodeLogs(resp.Logs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return logs, nil
}

// ClearHistory erases the conversation of agent.
func (c *Client) ClearHistory(ctx context.Context, agent string) error {
	var resp struct {
		Success bool   `json:"success"`
		Detail  string `json:"detail"`
	}
	if err := c.do(ctx, http.MethodPost, "/clear_history", agentQuery(agent), nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("clear history for %s rejected: %s", agent, resp.Detail)
	}
	return nil
}

// DeleteAgent removes agent. It returns the remaining agents when the backend
// reports them, or nil when the response omits the list.
func (c *Client) DeleteAgent(ctx context.Context, agent string) ([]string, error) {
	var resp struct {
		Success *bool           `json:"success"`
		Agents  json.RawMessage `json:"agents"`
		Detail  string          `json:"detail"`
	}
	if err := c.do(ctx, http.MethodDelete, "/agent", agentQuery(agent), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Success != nil && !*resp.Success {
		return nil, fmt.Errorf("delete agent %s rejected: %s", agent, resp.Detail)
	}
	var agents []string
	if len(resp.Agents) > 0 {
		if err := json.Unmarshal(resp.Agents, &agents); err != nil {
			agents = nil
		}
	}
	return agents, nil
}

// AgentConfig returns the permission configuration of agent.
func (c *Client) AgentConfig(ctx context.Context, agent string) (domain.AgentConfig, error) {
	var cfg domain.AgentConfig
	if err := c.do(ctx, http.MethodGet, "/agent_config", agentQuery(agent), nil, &cfg); err != nil {
		return domain.AgentConfig{}, err
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

// UpdateFlag persists a single permission edit for agent.
func (c *Client) UpdateFlag(ctx context.Context, agent string, upd domain.FlagUpdate) error {
	var resp struct {
		Success *bool  `json:"success"`
		Detail  string `json:"detail"`
	}
	if err := c.do(ctx, http.MethodPatch, "/agent_config/update_flag", agentQuery(agent), upd, &resp); err != nil {
		return err
	}
	if resp.Success != nil && !*resp.Success {
		return fmt.Errorf("update %s rejected: %s", upd.FlagName, resp.Detail)
	}
	return nil
}

// ResetDefault restores the default agent's configuration and returns it.
func (c *Client) ResetDefault(ctx context.Context) (domain.AgentConfig, error) {
	var cfg domain.AgentConfig
	if err := c.do(ctx, http.MethodPost, "/reset_default", nil, nil, &cfg); err != nil {
		return domain.AgentConfig{}, err
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Detail: errorDetail(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}
	return nil
}

func agentQuery(agent string) url.Values {
	return url.Values{"agent": []string{agent}}
}

// errorDetail extracts {"detail": ...} or {"error": ...} from an error body.
func errorDetail(data []byte) string {
	var body struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	if s, ok := body.Detail.(string); ok && s != "" {
		return s
	}
	return body.Error
}

func normalizeConfig(cfg *domain.AgentConfig) {
	if cfg.Servers == nil {
		cfg.Servers = map[string]domain.ServerPermission{}
	}
	for name, srv := range cfg.Servers {
		if srv.Functions == nil {
			srv.Functions = map[string]domain.FunctionPermission{}
			cfg.Servers[name] = srv
		}
	}
}
