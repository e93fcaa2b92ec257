// Package conversation holds the ordered message log of the active agent.
package conversation

import (
	"sync"

	"github.com/nstogner/lazymcp/pkg/domain"
)

// State is append-only between agent switches, when it is replaced wholesale.
type State struct {
	mu       sync.RWMutex
	agent    string
	messages []domain.Message
}

// New returns an empty conversation for agent.
func New(agent string) *State {
	return &State{agent: agent}
}

// Agent returns the agent whose conversation is held.
func (s *State) Agent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agent
}

// AppendUser appends a locally typed message and returns the new length.
func (s *State) AppendUser(content string) int {
	return s.append(domain.Message{Role: domain.RoleUser, Content: content})
}

// AppendAssistant appends each reply fragment as its own message, in order.
func (s *State) AppendAssistant(fragments ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fragments {
		s.messages = append(s.messages, domain.Message{Role: domain.RoleAssistant, Content: f})
	}
	return len(s.messages)
}

func (s *State) append(m domain.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return len(s.messages)
}

// Replace swaps in a fetched history for agent. Nothing is merged.
func (s *State) Replace(agent string, history []domain.Message) {
	msgs := make([]domain.Message, len(history))
	copy(msgs, history)
	s.mu.Lock()
	s.agent = agent
	s.messages = msgs
	s.mu.Unlock()
}

// Clear empties the conversation, keeping the agent.
func (s *State) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// Len returns the number of messages.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns a copy of the log.
func (s *State) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
