package tools

import (
	"context"
	"sort"

	"github.com/nstogner/lazymcp/pkg/domain"
)

// LocalServer is the built-in server that is always present.
const LocalServer = "local"

// Env is what a tool can see of the agent invoking it.
type Env struct {
	Agent  string
	Config domain.AgentConfig
}

// Tool defines the interface that all agent tools must implement.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any // Simple representation of JSON schema
	Execute(ctx context.Context, env Env, input map[string]any) (any, error)
}

// Registry manages the available tools, grouped by the server that exposes them.
type Registry struct {
	tools   map[string]Tool
	servers map[string]string // tool name -> server
}

// NewRegistry creates a registry holding the built-in local tools.
func NewRegistry() *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		servers: make(map[string]string),
	}
	r.Register(LocalServer, &ListAvailableMCPsTool{registry: r})
	return r
}

// Register adds a tool under server. Tool names are unique across servers.
func (r *Registry) Register(server string, t Tool) {
	r.tools[t.Name()] = t
	r.servers[t.Name()] = server
}

// Get returns a tool by name along with its server.
func (r *Registry) Get(name string) (Tool, string, bool) {
	t, ok := r.tools[name]
	return t, r.servers[name], ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Servers returns the sorted names of all servers with at least one tool.
func (r *Registry) Servers() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range r.servers {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Template builds the configuration new agents start from: every server and
// function allowed, every function asking for confirmation.
func (r *Registry) Template(description string) domain.AgentConfig {
	cfg := domain.AgentConfig{
		Description: description,
		Servers:     make(map[string]domain.ServerPermission),
	}
	for name, t := range r.tools {
		server := r.servers[name]
		srv, ok := cfg.Servers[server]
		if !ok {
			srv = domain.ServerPermission{Allowed: true, Functions: map[string]domain.FunctionPermission{}}
		}
		srv.Functions[name] = domain.FunctionPermission{
			Allowed:     true,
			Confirmed:   domain.PolicyAlwaysAsk,
			Description: t.Description(),
		}
		cfg.Servers[server] = srv
	}
	return cfg
}
