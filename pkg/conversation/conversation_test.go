package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nstogner/lazymcp/pkg/domain"
)

func TestAppendOrder(t *testing.T) {
	s := New("default")
	assert.Equal(t, 1, s.AppendUser("hi"))
	assert.Equal(t, 3, s.AppendAssistant("Hello!", "How can I help?"))

	want := []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "Hello!"},
		{Role: domain.RoleAssistant, Content: "How can I help?"},
	}
	assert.Equal(t, want, s.Messages())
}

func TestReplaceDoesNotMerge(t *testing.T) {
	s := New("default")
	s.AppendUser("old")

	history := []domain.Message{{Role: domain.RoleUser, Content: "x"}}
	s.Replace("research", history)
	s.Replace("research", history)

	assert.Equal(t, "research", s.Agent())
	assert.Equal(t, history, s.Messages())

	// The fetched slice is not aliased.
	history[0].Content = "mutated"
	assert.Equal(t, "x", s.Messages()[0].Content)
}

func TestClear(t *testing.T) {
	s := New("default")
	s.AppendUser("a")
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "default", s.Agent())
}
