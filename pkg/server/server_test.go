package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/lazymcp/pkg/backend"
	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/model/echo"
	"github.com/nstogner/lazymcp/pkg/store/sqlite"
	"github.com/nstogner/lazymcp/pkg/tools"
)

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := tools.NewRegistry()
	tools.RegisterFiles(reg, t.TempDir())

	srv := New(st, echo.New(), reg, "")
	require.NoError(t, srv.Init(context.Background()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func newTestClient(t *testing.T) (*backend.Client, *sqlite.Store) {
	ts, st := newTestServer(t)
	return backend.New(ts.URL, 5*time.Second), st
}

func TestListAgents(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	agents, err := c.ListAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, agents)

	// Fetching history acknowledges a new agent.
	history, err := c.History(ctx, "writer")
	require.NoError(t, err)
	assert.Empty(t, history)

	agents, err = c.ListAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "writer"}, agents)
}

func TestDeleteAgent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.History(ctx, "writer")
	require.NoError(t, err)

	remaining, err := c.DeleteAgent(ctx, "writer")
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, remaining)

	// Unknown agents delete cleanly.
	remaining, err = c.DeleteAgent(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, remaining)

	_, err = c.DeleteAgent(ctx, "default")
	var se *backend.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestAgentConfigTemplate(t *testing.T) {
	c, _ := newTestClient(t)

	cfg, err := c.AgentConfig(context.Background(), "default")
	require.NoError(t, err)

	require.Contains(t, cfg.Servers, tools.LocalServer)
	require.Contains(t, cfg.Servers, tools.FilesServer)
	fn := cfg.Servers[tools.LocalServer].Functions["list_available_mcps"]
	assert.True(t, fn.Allowed)
	assert.Equal(t, domain.PolicyAlwaysAsk, fn.Confirmed)
	assert.NotEmpty(t, fn.Description)
}

func TestUpdateFlag(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	err := c.UpdateFlag(ctx, "default", domain.FlagUpdate{
		ServerName: "files", FunctionName: "write_file", FlagName: domain.FlagConfirmed, Value: "always_rejected",
	})
	require.NoError(t, err)
	err = c.UpdateFlag(ctx, "default", domain.FlagUpdate{
		ServerName: "files", FlagName: domain.FlagAllowed, Value: false,
	})
	require.NoError(t, err)
	err = c.UpdateFlag(ctx, "default", domain.FlagUpdate{
		ServerName: "files", FunctionName: "ls", FlagName: domain.FlagAllowed, Value: false,
	})
	require.NoError(t, err)

	cfg, err := c.AgentConfig(ctx, "default")
	require.NoError(t, err)
	files := cfg.Servers["files"]
	assert.False(t, files.Allowed)
	assert.Equal(t, domain.PolicyAlwaysRejected, files.Functions["write_file"].Confirmed)
	assert.False(t, files.Functions["ls"].Allowed)
	assert.True(t, files.Functions["read_file"].Allowed)
}

func TestUpdateFlagRejections(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	tests := []struct {
		name string
		upd  domain.FlagUpdate
		want string
	}{
		{
			name: "unknown server",
			upd:  domain.FlagUpdate{ServerName: "nope", FlagName: domain.FlagAllowed, Value: true},
			want: "server not found",
		},
		{
			name: "unknown function",
			upd:  domain.FlagUpdate{ServerName: "files", FunctionName: "nope", FlagName: domain.FlagAllowed, Value: true},
			want: "function not found",
		},
		{
			name: "unknown policy",
			upd:  domain.FlagUpdate{ServerName: "files", FunctionName: "ls", FlagName: domain.FlagConfirmed, Value: "sometimes"},
			want: "invalid confirmation decision",
		},
		{
			name: "unknown flag",
			upd:  domain.FlagUpdate{ServerName: "files", FlagName: "bogus", Value: true},
			want: "bogus",
		},
		{
			name: "wrong type",
			upd:  domain.FlagUpdate{ServerName: "files", FlagName: domain.FlagAllowed, Value: "yes"},
			want: "allowed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.UpdateFlag(ctx, "default", tt.upd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	// Nothing was persisted.
	cfg, err := c.AgentConfig(ctx, "default")
	require.NoError(t, err)
	assert.True(t, cfg.Servers["files"].Allowed)
	assert.Equal(t, domain.PolicyAlwaysAsk, cfg.Servers["files"].Functions["ls"].Confirmed)
}

func TestResetDefault(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.UpdateFlag(ctx, "default", domain.FlagUpdate{
		ServerName: "local", FlagName: domain.FlagAllowed, Value: false,
	}))

	cfg, err := c.ResetDefault(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.Servers["local"].Allowed)

	stored, err := c.AgentConfig(ctx, "default")
	require.NoError(t, err)
	assert.True(t, stored.Servers["local"].Allowed)
}

func TestLogsAreDrained(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.UpdateFlag(ctx, "default", domain.FlagUpdate{
		ServerName: "local", FlagName: domain.FlagAllowed, Value: false,
	}))

	logs, err := c.Logs(ctx, "default")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.LevelInfo, logs[0].Level)
	assert.Contains(t, logs[0].Message, "Set allowed of local")

	logs, err = c.Logs(ctx, "default")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestClearHistory(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, st.AppendMessage(ctx, "default", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	require.NoError(t, c.ClearHistory(ctx, "default"))

	history, err := c.History(ctx, "default")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMissingAgentParam(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/history", "/logs", "/agent_config"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}
