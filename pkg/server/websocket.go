package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/model"
	"github.com/nstogner/lazymcp/pkg/protocol"
	"github.com/nstogner/lazymcp/pkg/tools"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// chatConn is one client connection. Frames are read and written only by
// the handler goroutine.
type chatConn struct {
	ws *websocket.Conn
	// backlog holds chat frames that arrived while a confirmation was awaited.
	backlog []protocol.ClientFrame
}

func (c *chatConn) next() (protocol.ClientFrame, error) {
	if len(c.backlog) > 0 {
		f := c.backlog[0]
		c.backlog = c.backlog[1:]
		return f, nil
	}
	var f protocol.ClientFrame
	err := c.ws.ReadJSON(&f)
	return f, err
}

func (c *chatConn) send(frame protocol.ServerFrame) error {
	return c.ws.WriteJSON(frame)
}

// awaitDecision reads frames until the client answers the pending tool call.
func (c *chatConn) awaitDecision() (domain.ConfirmationDecision, error) {
	for {
		var f protocol.ClientFrame
		if err := c.ws.ReadJSON(&f); err != nil {
			return "", err
		}
		switch {
		case f.IsConfirmation():
			d, err := domain.ParseDecision(f.ToolCallConfirmed)
			if err != nil {
				slog.Warn("Ignoring invalid confirmation", "error", err)
				continue
			}
			return d, nil
		case f.IsChat():
			c.backlog = append(c.backlog, f)
		}
	}
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	conn := &chatConn{ws: ws}
	ctx := r.Context()
	for {
		frame, err := conn.next()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("WebSocket read error", "error", err)
			}
			return
		}

		switch {
		case frame.IsChat():
			agent := frame.Agent
			if agent == "" {
				agent = domain.DefaultAgent
			}
			if strings.TrimSpace(*frame.Message) == "" {
				continue
			}
			if err := s.runTurn(ctx, conn, agent, *frame.Message); err != nil {
				slog.Error("Chat turn failed", "agent", agent, "error", err)
				return
			}
		case frame.IsConfirmation():
			slog.Warn("Confirmation received with no tool call pending", "decision", frame.ToolCallConfirmed)
		default:
			slog.Warn("Ignoring unrecognized chat frame")
		}
	}
}

// runTurn answers one user message. It returns an error only when the
// connection can no longer be used.
func (s *Server) runTurn(ctx context.Context, conn *chatConn, agent, text string) error {
	cfg, err := s.agent(ctx, agent)
	if err != nil {
		s.record(ctx, agent, domain.LevelError, "Failed to load agent: "+err.Error())
		return conn.send(protocol.ServerFrame{Reply: []string{"Error: " + err.Error()}})
	}
	if err := s.store.AppendMessage(ctx, agent, domain.Message{Role: domain.RoleUser, Content: text}); err != nil {
		s.record(ctx, agent, domain.LevelError, "Failed to store message: "+err.Error())
	}

	history, err := s.store.Messages(ctx, agent)
	if err != nil {
		s.record(ctx, agent, domain.LevelError, "Failed to load history: "+err.Error())
		history = []domain.Message{{Role: domain.RoleUser, Content: text}}
	}
	turns := make([]model.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, model.Turn{Role: m.Role, Text: m.Content})
	}

	var (
		replies []string
		tokens  int
	)
	reply := func(fragments ...string) {
		for _, f := range fragments {
			if err := s.store.AppendMessage(ctx, agent, domain.Message{Role: domain.RoleAssistant, Content: f}); err != nil {
				s.record(ctx, agent, domain.LevelError, "Failed to store reply: "+err.Error())
			}
			replies = append(replies, f)
		}
	}

	specs := s.toolSpecs()
	for step := 0; step < maxToolSteps; step++ {
		resp, err := s.provider.Generate(ctx, s.instructions, turns, specs)
		if err != nil {
			s.record(ctx, agent, domain.LevelError, "Model request failed: "+err.Error())
			reply("Error: " + err.Error())
			break
		}
		tokens += resp.TokensUsed
		reply(resp.Text...)
		if len(resp.ToolCalls) == 0 {
			break
		}

		turns = append(turns, model.Turn{
			Role:      domain.RoleAssistant,
			Text:      strings.Join(resp.Text, "\n"),
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result, err := s.callTool(ctx, conn, agent, &cfg, call, &replies)
			if err != nil {
				return err
			}
			turns = append(turns, model.Turn{
				Role:   domain.RoleUser,
				Result: &model.ToolResult{CallID: call.ID, Name: call.Name, Content: result},
			})
		}
	}

	return conn.send(protocol.ServerFrame{Reply: replies, TokensUsed: &tokens})
}

// callTool applies the agent's policy to call and runs it when permitted.
// Reply fragments gathered so far are flushed with a confirmation request.
// The returned text is what the model sees as the outcome.
func (s *Server) callTool(ctx context.Context, conn *chatConn, agent string, cfg *domain.AgentConfig, call model.ToolCall, replies *[]string) (string, error) {
	tool, server, ok := s.tools.Get(call.Name)
	if !ok {
		s.record(ctx, agent, domain.LevelWarn, "Unknown tool requested: "+call.Name)
		return "error: unknown tool " + call.Name, nil
	}

	srv := cfg.Servers[server]
	fn, known := srv.Functions[call.Name]
	if !srv.Allowed || !known || !fn.Allowed {
		s.record(ctx, agent, domain.LevelWarn, fmt.Sprintf("Tool %s is not allowed", call.Name))
		return "rejected: tool is not allowed", nil
	}

	switch fn.Confirmed {
	case domain.PolicyAlwaysConfirmed:
	case domain.PolicyAlwaysRejected:
		s.record(ctx, agent, domain.LevelInfo, fmt.Sprintf("Tool %s rejected by policy", call.Name))
		return "rejected: tool calls are always rejected", nil
	default:
		args, _ := json.Marshal(call.Args)
		pending := &domain.ToolCallRequest{
			Name:        call.Name,
			Description: fn.Description,
			Args:        protocol.ArgsText(args),
		}
		if err := conn.send(protocol.ServerFrame{Reply: *replies, ToolCallPending: pending}); err != nil {
			return "", fmt.Errorf("send tool call: %w", err)
		}
		*replies = nil

		decision, err := conn.awaitDecision()
		if err != nil {
			return "", fmt.Errorf("await confirmation: %w", err)
		}
		s.record(ctx, agent, domain.LevelInfo, fmt.Sprintf("Tool %s answered with %s", call.Name, decision))

		if policy, ok := decision.Policy(); ok && policy != fn.Confirmed {
			fn.Confirmed = policy
			srv.Functions[call.Name] = fn
			cfg.Servers[server] = srv
			if err := s.store.SaveAgent(ctx, agent, *cfg); err != nil {
				s.record(ctx, agent, domain.LevelError, "Failed to save tool policy: "+err.Error())
			}
		}
		if !decision.Approves() {
			return "rejected: the user declined this call", nil
		}
	}

	s.record(ctx, agent, domain.LevelInfo, fmt.Sprintf("Running tool %s", call.Name))
	out, err := tool.Execute(ctx, tools.Env{Agent: agent, Config: *cfg}, call.Args)
	if err != nil {
		s.record(ctx, agent, domain.LevelError, fmt.Sprintf("Tool %s failed: %v", call.Name, err))
		return "error: " + err.Error(), nil
	}
	return resultText(out), nil
}

func resultText(out any) string {
	if str, ok := out.(string); ok {
		return str
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprint(out)
	}
	return string(b)
}

func (s *Server) toolSpecs() []model.ToolSpec {
	var specs []model.ToolSpec
	for _, t := range s.tools.List() {
		spec := model.ToolSpec{Name: t.Name(), Description: t.Description(), Params: map[string]string{}}
		schema := t.InputSchema()
		if props, ok := schema["properties"].(map[string]any); ok {
			for name, p := range props {
				desc := ""
				if m, ok := p.(map[string]any); ok {
					desc, _ = m["description"].(string)
				}
				spec.Params[name] = desc
			}
		}
		if req, ok := schema["required"].([]string); ok {
			spec.Required = req
		}
		specs = append(specs, spec)
	}
	return specs
}
