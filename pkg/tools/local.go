package tools

import (
	"context"
	"fmt"
)

// --- List Available MCPs Tool ---

type ListAvailableMCPsTool struct {
	registry *Registry
}

func (t *ListAvailableMCPsTool) Name() string { return "list_available_mcps" }

func (t *ListAvailableMCPsTool) Description() string {
	return "List the tool servers available to this agent and whether each is allowed."
}

func (t *ListAvailableMCPsTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ListAvailableMCPsTool) Execute(ctx context.Context, env Env, input map[string]any) (any, error) {
	var lines []string
	for _, name := range t.registry.Servers() {
		state := "not configured"
		if srv, ok := env.Config.Servers[name]; ok {
			state = "disallowed"
			if srv.Allowed {
				state = "allowed"
			}
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", name, state))
	}
	return lines, nil
}
