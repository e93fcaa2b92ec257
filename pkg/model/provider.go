package model

import (
	"context"

	"github.com/nstogner/lazymcp/pkg/domain"
)

// ToolCall is a request from the model to run a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is the outcome of a ToolCall fed back to the model.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Turn is one entry of the context sent to the model.
type Turn struct {
	// Role indicates the sender (user or assistant).
	Role domain.Role
	// Text is the plain text of the turn, if any.
	Text string
	// ToolCalls are the calls an assistant turn made.
	ToolCalls []ToolCall
	// Result is set on the user turn that answers a tool call.
	Result *ToolResult
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	// Params maps each string parameter to its description.
	Params   map[string]string
	Required []string
}

// Response is a complete model answer.
type Response struct {
	// Text holds the reply fragments in order.
	Text       []string
	ToolCalls  []ToolCall
	TokensUsed int
}

// Provider represents a service that produces assistant replies.
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "echo").
	Name() string

	// Generate sends the conversation to the model and waits for the full answer.
	// instructions is the system prompt.
	Generate(ctx context.Context, instructions string, turns []Turn, tools []ToolSpec) (Response, error)
}
