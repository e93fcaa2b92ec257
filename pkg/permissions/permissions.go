// Package permissions caches an agent's tool permissions and applies
// single-field edits optimistically, rolling back when the backend refuses.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nstogner/lazymcp/pkg/domain"
)

var (
	// ErrNotLoaded is returned when editing before the config was fetched.
	ErrNotLoaded = errors.New("permissions not loaded")
	// ErrUnknownTarget is returned when an edit names a missing server or function.
	ErrUnknownTarget = errors.New("unknown permission target")
)

// Persister reads and writes agent configuration on the backend.
type Persister interface {
	AgentConfig(ctx context.Context, agent string) (domain.AgentConfig, error)
	UpdateFlag(ctx context.Context, agent string, upd domain.FlagUpdate) error
	ResetDefault(ctx context.Context) (domain.AgentConfig, error)
}

// Store holds the permission config of one agent at a time.
type Store struct {
	p Persister

	mu     sync.Mutex
	agent  string
	cfg    domain.AgentConfig
	loaded bool
	gen    uint64
}

// New creates a Store for agent. Nothing is fetched until Load.
func New(p Persister, agent string) *Store {
	return &Store{p: p, agent: agent}
}

// Agent returns the agent whose permissions are held.
func (s *Store) Agent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// Loaded reports whether the config is fresh for the current agent.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Invalidate drops the cached config and retargets the store at agent.
// The next Load fetches again.
func (s *Store) Invalidate(agent string) {
	s.mu.Lock()
	s.agent = agent
	s.cfg = domain.AgentConfig{}
	s.loaded = false
	s.gen++
	s.mu.Unlock()
}

// Load fetches the config if it is not already fresh.
func (s *Store) Load(ctx context.Context) error {
	if s.Loaded() {
		return nil
	}
	return s.Reload(ctx)
}

// Reload fetches the config unconditionally. A result that arrives after the
// store was retargeted at another agent is discarded.
func (s *Store) Reload(ctx context.Context) error {
	agent := s.Agent()
	cfg, err := s.p.AgentConfig(ctx, agent)
	if err != nil {
		return fmt.Errorf("load permissions for %s: %w", agent, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent != agent {
		return nil
	}
	s.cfg = cfg
	s.loaded = true
	s.gen++
	return nil
}

// Config returns a copy of the cached config.
func (s *Store) Config() domain.AgentConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// Policy returns the confirmation policy of a function.
func (s *Store) Policy(server, function string) (domain.ConfirmationPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.cfg.Servers[server].Functions[function]
	if !ok {
		return "", false
	}
	return fn.Confirmed, true
}

// SetServerAllowed enables or disables a whole server.
func (s *Store) SetServerAllowed(ctx context.Context, server string, allowed bool) error {
	upd := domain.FlagUpdate{ServerName: server, FlagName: domain.FlagAllowed, Value: allowed}
	return s.edit(ctx, upd, func(cfg *domain.AgentConfig) (func(), error) {
		srv, ok := cfg.Servers[server]
		if !ok {
			return nil, fmt.Errorf("%w: server %q", ErrUnknownTarget, server)
		}
		prev := srv.Allowed
		srv.Allowed = allowed
		cfg.Servers[server] = srv
		return func() {
			srv := cfg.Servers[server]
			srv.Allowed = prev
			cfg.Servers[server] = srv
		}, nil
	})
}

// SetFunctionAllowed enables or disables one function.
func (s *Store) SetFunctionAllowed(ctx context.Context, server, function string, allowed bool) error {
	upd := domain.FlagUpdate{ServerName: server, FunctionName: function, FlagName: domain.FlagAllowed, Value: allowed}
	return s.editFunction(ctx, upd, func(fn *domain.FunctionPermission) func(*domain.FunctionPermission) {
		prev := fn.Allowed
		fn.Allowed = allowed
		return func(fn *domain.FunctionPermission) { fn.Allowed = prev }
	})
}

// SetConfirmation sets the confirmation policy of one function.
func (s *Store) SetConfirmation(ctx context.Context, server, function string, policy domain.ConfirmationPolicy) error {
	if _, err := domain.ParsePolicy(string(policy)); err != nil {
		return err
	}
	upd := domain.FlagUpdate{ServerName: server, FunctionName: function, FlagName: domain.FlagConfirmed, Value: string(policy)}
	return s.editFunction(ctx, upd, func(fn *domain.FunctionPermission) func(*domain.FunctionPermission) {
		prev := fn.Confirmed
		fn.Confirmed = policy
		return func(fn *domain.FunctionPermission) { fn.Confirmed = prev }
	})
}

// CycleConfirmation advances a function's policy one step around the ring and
// returns the new policy.
func (s *Store) CycleConfirmation(ctx context.Context, server, function string) (domain.ConfirmationPolicy, error) {
	cur, ok := s.Policy(server, function)
	if !ok {
		if !s.Loaded() {
			return "", ErrNotLoaded
		}
		return "", fmt.Errorf("%w: function %q on %q", ErrUnknownTarget, function, server)
	}
	next := cur.Next()
	if err := s.SetConfirmation(ctx, server, function, next); err != nil {
		return cur, err
	}
	return next, nil
}

// ResetDefault restores the default agent's configuration on the backend.
// The cache is replaced when it holds the default agent.
func (s *Store) ResetDefault(ctx context.Context) error {
	cfg, err := s.p.ResetDefault(ctx)
	if err != nil {
		return fmt.Errorf("reset default: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent == domain.DefaultAgent {
		s.cfg = cfg
		s.loaded = true
		s.gen++
	}
	return nil
}

func (s *Store) editFunction(ctx context.Context, upd domain.FlagUpdate, set func(*domain.FunctionPermission) func(*domain.FunctionPermission)) error {
	return s.edit(ctx, upd, func(cfg *domain.AgentConfig) (func(), error) {
		srv, ok := cfg.Servers[upd.ServerName]
		if !ok {
			return nil, fmt.Errorf("%w: server %q", ErrUnknownTarget, upd.ServerName)
		}
		fn, ok := srv.Functions[upd.FunctionName]
		if !ok {
			return nil, fmt.Errorf("%w: function %q on %q", ErrUnknownTarget, upd.FunctionName, upd.ServerName)
		}
		undo := set(&fn)
		srv.Functions[upd.FunctionName] = fn
		return func() {
			fn := cfg.Servers[upd.ServerName].Functions[upd.FunctionName]
			undo(&fn)
			cfg.Servers[upd.ServerName].Functions[upd.FunctionName] = fn
		}, nil
	})
}

// edit applies a change locally, persists it, and rolls it back on failure.
func (s *Store) edit(ctx context.Context, upd domain.FlagUpdate, apply func(*domain.AgentConfig) (func(), error)) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	agent, gen := s.agent, s.gen
	undo, err := apply(&s.cfg)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.p.UpdateFlag(ctx, agent, upd); err != nil {
		s.mu.Lock()
		if s.gen == gen {
			undo()
		}
		s.mu.Unlock()
		return fmt.Errorf("update %s on %s for %s: %w", upd.FlagName, target(upd), agent, err)
	}
	return nil
}

func target(upd domain.FlagUpdate) string {
	if upd.FunctionName == "" {
		return upd.ServerName
	}
	return upd.ServerName + "." + upd.FunctionName
}
