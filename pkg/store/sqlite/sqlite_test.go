package sqlite

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpFile := t.TempDir() + "/test.db"
	s, err := New(tmpFile)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(tmpFile)
	})
	return s
}

func testConfig() domain.AgentConfig {
	return domain.AgentConfig{
		Description: "test agent",
		Servers: map[string]domain.ServerPermission{
			"local": {
				Allowed: true,
				Functions: map[string]domain.FunctionPermission{
					"list_available_mcps": {Allowed: true, Confirmed: domain.PolicyAlwaysAsk, Description: "List servers"},
				},
			},
		},
	}
}

func TestAgentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Ensure creates from the template.
	cfg, err := s.EnsureAgent(ctx, "default", testConfig())
	if err != nil {
		t.Fatalf("EnsureAgent: %v", err)
	}
	if cfg.Description != "test agent" {
		t.Errorf("Description = %q, want %q", cfg.Description, "test agent")
	}

	// Save an edit.
	cfg.Servers["local"].Functions["list_available_mcps"] = domain.FunctionPermission{
		Allowed: true, Confirmed: domain.PolicyAlwaysConfirmed,
	}
	if err := s.SaveAgent(ctx, "default", cfg); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	// Ensure keeps the stored config.
	got, err := s.EnsureAgent(ctx, "default", testConfig())
	if err != nil {
		t.Fatalf("EnsureAgent again: %v", err)
	}
	if p := got.Servers["local"].Functions["list_available_mcps"].Confirmed; p != domain.PolicyAlwaysConfirmed {
		t.Errorf("Confirmed = %q, want %q", p, domain.PolicyAlwaysConfirmed)
	}

	// List preserves creation order.
	if _, err := s.EnsureAgent(ctx, "writer", testConfig()); err != nil {
		t.Fatalf("EnsureAgent writer: %v", err)
	}
	if err := s.SaveAgent(ctx, "default", testConfig()); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}
	names, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(names) != 2 || names[0] != "default" || names[1] != "writer" {
		t.Errorf("ListAgents = %v, want [default writer]", names)
	}

	// Delete.
	if err := s.DeleteAgent(ctx, "writer"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, err := s.GetAgent(ctx, "writer"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAgent after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteAgent(ctx, "writer"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteAgent: err = %v, want ErrNotFound", err)
	}
}

func TestListAgentsEmpty(t *testing.T) {
	s := newTestStore(t)

	names, err := s.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Errorf("ListAgents = %#v, want empty non-nil", names)
	}
}

func TestMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
		{Role: domain.RoleUser, Content: "bye"},
	} {
		if err := s.AppendMessage(ctx, "default", m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	s.AppendMessage(ctx, "other", domain.Message{Role: domain.RoleUser, Content: "elsewhere"})

	msgs, err := s.Messages(ctx, "default")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Messages len = %d, want 3", len(msgs))
	}
	if msgs[1].Role != domain.RoleAssistant || msgs[1].Content != "hello" {
		t.Errorf("msgs[1] = %+v, want assistant hello", msgs[1])
	}

	if err := s.ClearMessages(ctx, "default"); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}
	msgs, _ = s.Messages(ctx, "default")
	if len(msgs) != 0 {
		t.Errorf("after clear len = %d, want 0", len(msgs))
	}
	other, _ := s.Messages(ctx, "other")
	if len(other) != 1 {
		t.Errorf("other agent len = %d, want 1", len(other))
	}
}

func TestDeleteAgentDropsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.EnsureAgent(ctx, "writer", testConfig())
	s.AppendMessage(ctx, "writer", domain.Message{Role: domain.RoleUser, Content: "draft"})
	s.AppendLog(ctx, "writer", domain.NewLogEntry(domain.LevelInfo, "started"))

	if err := s.DeleteAgent(ctx, "writer"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	msgs, _ := s.Messages(ctx, "writer")
	if len(msgs) != 0 {
		t.Errorf("messages after delete = %d, want 0", len(msgs))
	}
	logs, _ := s.DrainLogs(ctx, "writer")
	if len(logs) != 0 {
		t.Errorf("logs after delete = %d, want 0", len(logs))
	}
}

func TestDrainLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AppendLog(ctx, "default", domain.LogEntry{Level: domain.LevelInfo, Message: "one"})
	s.AppendLog(ctx, "default", domain.LogEntry{Level: domain.LevelError, Time: "2024-01-01 00:00:00", Message: "two"})
	s.AppendLog(ctx, "other", domain.LogEntry{Level: domain.LevelWarn, Message: "three"})

	logs, err := s.DrainLogs(ctx, "default")
	if err != nil {
		t.Fatalf("DrainLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("DrainLogs len = %d, want 2", len(logs))
	}
	if logs[0].Message != "one" || logs[0].Time == "" {
		t.Errorf("logs[0] = %+v, want stamped entry \"one\"", logs[0])
	}
	if logs[1].Level != domain.LevelError || logs[1].Time != "2024-01-01 00:00:00" {
		t.Errorf("logs[1] = %+v", logs[1])
	}

	again, err := s.DrainLogs(ctx, "default")
	if err != nil {
		t.Fatalf("DrainLogs again: %v", err)
	}
	if again == nil || len(again) != 0 {
		t.Errorf("second drain = %#v, want empty non-nil", again)
	}

	other, _ := s.DrainLogs(ctx, "other")
	if len(other) != 1 {
		t.Errorf("other agent logs = %d, want 1", len(other))
	}
}
