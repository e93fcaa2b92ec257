package session

import (
	"slices"
	"sync"

	"github.com/nstogner/lazymcp/pkg/domain"
)

// State is the session's owned context: the active agent, the known agents,
// and an epoch that advances on every agent switch. Work issued under an older
// epoch is discarded when it completes.
type State struct {
	mu       sync.RWMutex
	active   string
	agents   []string
	epoch    uint64
	deleting string
}

func newState(active string) *State {
	return &State{active: active, agents: []string{active}}
}

// Active returns the active agent.
func (s *State) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Snapshot returns the active agent together with the current epoch.
func (s *State) Snapshot() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.epoch
}

// Current reports whether epoch is still the live one.
func (s *State) Current(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch == epoch
}

// Agents returns the known agents.
func (s *State) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.agents)
}

// Known reports whether name is in the known agents.
func (s *State) Known(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.agents, name)
}

func (s *State) switchTo(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = name
	s.epoch++
	return s.epoch
}

// setAgents replaces the known agents. The active agent is always listed.
func (s *State) setAgents(agents []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := slices.Clone(agents)
	if !slices.Contains(list, s.active) {
		list = append([]string{s.active}, list...)
	}
	s.agents = list
}

func (s *State) addAgent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.agents, name) {
		s.agents = append(s.agents, name)
	}
}

// beginDelete marks name as awaiting deletion confirmation. It fails if that
// deletion is already in progress.
func (s *State) beginDelete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleting == name {
		return false
	}
	s.deleting = name
	return true
}

func (s *State) endDelete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleting == name {
		s.deleting = ""
	}
}

// fallbackAgent picks the agent to activate after deleting name.
func fallbackAgent(remaining []string, deleted string) string {
	for _, a := range remaining {
		if a != deleted {
			return a
		}
	}
	return domain.DefaultAgent
}
