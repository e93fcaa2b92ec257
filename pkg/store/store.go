package store

import (
	"context"
	"errors"

	"github.com/nstogner/lazymcp/pkg/domain"
)

// ErrNotFound is returned when an agent does not exist.
var ErrNotFound = errors.New("not found")

// AgentStore persists agent permission configurations.
type AgentStore interface {
	// ListAgents returns the names of all stored agents in creation order.
	ListAgents(ctx context.Context) ([]string, error)
	// GetAgent returns the configuration of name or ErrNotFound.
	GetAgent(ctx context.Context, name string) (domain.AgentConfig, error)
	// EnsureAgent returns the configuration of name, creating it from tmpl
	// when it does not exist yet.
	EnsureAgent(ctx context.Context, name string, tmpl domain.AgentConfig) (domain.AgentConfig, error)
	// SaveAgent creates or replaces the configuration of name.
	SaveAgent(ctx context.Context, name string, cfg domain.AgentConfig) error
	// DeleteAgent removes name along with its history and logs.
	DeleteAgent(ctx context.Context, name string) error
}

// HistoryStore persists the conversation of each agent.
type HistoryStore interface {
	AppendMessage(ctx context.Context, agent string, msg domain.Message) error
	Messages(ctx context.Context, agent string) ([]domain.Message, error)
	ClearMessages(ctx context.Context, agent string) error
}

// LogStore buffers backend log entries until the client collects them.
type LogStore interface {
	AppendLog(ctx context.Context, agent string, entry domain.LogEntry) error
	// DrainLogs returns and removes all buffered entries of agent, oldest first.
	DrainLogs(ctx context.Context, agent string) ([]domain.LogEntry, error)
}

// Store is everything the server needs from persistence.
type Store interface {
	AgentStore
	HistoryStore
	LogStore
	Close() error
}
