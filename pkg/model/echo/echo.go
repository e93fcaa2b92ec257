// Package echo is a deterministic provider for local runs and tests.
//
// A user message of the form "/tool <name> <json args>" makes it request that
// tool; any other message is echoed back.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/model"
)

const toolPrefix = "/tool "

// Provider implements model.Provider without any remote model.
type Provider struct{}

var _ model.Provider = (*Provider)(nil)

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "echo" }

func (p *Provider) Generate(ctx context.Context, instructions string, turns []model.Turn, tools []model.ToolSpec) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}
	if len(turns) == 0 {
		return model.Response{}, fmt.Errorf("no turns to answer")
	}

	resp := model.Response{TokensUsed: countTokens(instructions, turns)}
	last := turns[len(turns)-1]

	switch {
	case last.Result != nil:
		resp.Text = []string{fmt.Sprintf("%s returned: %s", last.Result.Name, last.Result.Content)}
	case last.Role == domain.RoleUser && strings.HasPrefix(last.Text, toolPrefix):
		call, err := parseToolCommand(strings.TrimPrefix(last.Text, toolPrefix), tools)
		if err != nil {
			resp.Text = []string{err.Error()}
			break
		}
		resp.Text = []string{"Calling " + call.Name + "."}
		resp.ToolCalls = []model.ToolCall{call}
	default:
		resp.Text = []string{"echo: " + last.Text}
	}
	return resp, nil
}

func parseToolCommand(cmd string, tools []model.ToolSpec) (model.ToolCall, error) {
	name, rawArgs, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	known := false
	for _, t := range tools {
		if t.Name == name {
			known = true
			break
		}
	}
	if !known {
		return model.ToolCall{}, fmt.Errorf("unknown tool %q", name)
	}

	args := map[string]any{}
	if rawArgs = strings.TrimSpace(rawArgs); rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return model.ToolCall{}, fmt.Errorf("invalid arguments for %s: %v", name, err)
		}
	}
	return model.ToolCall{ID: "call-" + uuid.New().String(), Name: name, Args: args}, nil
}

// countTokens approximates usage as the number of whitespace separated words.
func countTokens(instructions string, turns []model.Turn) int {
	n := len(strings.Fields(instructions))
	for _, t := range turns {
		n += len(strings.Fields(t.Text))
		if t.Result != nil {
			n += len(strings.Fields(t.Result.Content))
		}
	}
	return n
}
