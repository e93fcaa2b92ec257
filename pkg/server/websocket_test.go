package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/protocol"
)

func dialChat(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func chat(t *testing.T, ws *websocket.Conn, agent, msg string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(protocol.ChatFrame{Agent: agent, Message: msg}))
}

func confirm(t *testing.T, ws *websocket.Conn, d domain.ConfirmationDecision) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(protocol.ConfirmFrame{ToolCallConfirmed: d}))
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f protocol.ServerFrame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func TestChatEcho(t *testing.T) {
	ts, st := newTestServer(t)
	ws := dialChat(t, ts)

	chat(t, ws, "default", "hello world")
	f := readFrame(t, ws)
	assert.Equal(t, []string{"echo: hello world"}, f.Reply)
	require.NotNil(t, f.TokensUsed)
	assert.Equal(t, 2, *f.TokensUsed)
	assert.Nil(t, f.ToolCallPending)

	msgs, err := st.Messages(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, []domain.Message{
		{Role: domain.RoleUser, Content: "hello world"},
		{Role: domain.RoleAssistant, Content: "echo: hello world"},
	}, msgs)
}

func TestChatCreatesAgent(t *testing.T) {
	ts, st := newTestServer(t)
	ws := dialChat(t, ts)

	chat(t, ws, "writer", "draft")
	readFrame(t, ws)

	agents, err := st.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "writer"}, agents)
}

func TestToolCallAskThenAlwaysConfirmed(t *testing.T) {
	ts, st := newTestServer(t)
	ws := dialChat(t, ts)
	ctx := context.Background()

	chat(t, ws, "default", "/tool list_available_mcps {}")
	f := readFrame(t, ws)
	assert.Equal(t, []string{"Calling list_available_mcps."}, f.Reply)
	require.NotNil(t, f.ToolCallPending)
	assert.Equal(t, "list_available_mcps", f.ToolCallPending.Name)
	assert.Equal(t, "{}", f.ToolCallPending.Args)
	assert.NotEmpty(t, f.ToolCallPending.Description)

	confirm(t, ws, domain.DecisionAlwaysConfirmed)
	f = readFrame(t, ws)
	require.Len(t, f.Reply, 1)
	assert.Equal(t, `list_available_mcps returned: ["files (allowed)","local (allowed)"]`, f.Reply[0])
	require.NotNil(t, f.TokensUsed)

	cfg, err := st.GetAgent(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyAlwaysConfirmed, cfg.Servers["local"].Functions["list_available_mcps"].Confirmed)

	// The standing policy skips the confirmation.
	chat(t, ws, "default", "/tool list_available_mcps {}")
	f = readFrame(t, ws)
	assert.Nil(t, f.ToolCallPending)
	assert.Len(t, f.Reply, 2)
}

func TestToolCallOneShotReject(t *testing.T) {
	ts, st := newTestServer(t)
	ws := dialChat(t, ts)

	chat(t, ws, "default", "/tool list_available_mcps {}")
	f := readFrame(t, ws)
	require.NotNil(t, f.ToolCallPending)

	confirm(t, ws, domain.DecisionReject)
	f = readFrame(t, ws)
	assert.Equal(t, []string{"list_available_mcps returned: rejected: the user declined this call"}, f.Reply)

	cfg, err := st.GetAgent(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyAlwaysAsk, cfg.Servers["local"].Functions["list_available_mcps"].Confirmed)
}

func TestToolCallAlwaysRejectedPersists(t *testing.T) {
	ts, _ := newTestServer(t)
	ws := dialChat(t, ts)

	chat(t, ws, "default", "/tool list_available_mcps {}")
	readFrame(t, ws)
	confirm(t, ws, domain.DecisionAlwaysRejected)
	readFrame(t, ws)

	chat(t, ws, "default", "/tool list_available_mcps {}")
	f := readFrame(t, ws)
	assert.Nil(t, f.ToolCallPending)
	assert.Contains(t, f.Reply[len(f.Reply)-1], "rejected: tool calls are always rejected")
}

func TestToolCallNotAllowed(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	cfg, err := st.GetAgent(ctx, "default")
	require.NoError(t, err)
	srv := cfg.Servers["local"]
	srv.Allowed = false
	cfg.Servers["local"] = srv
	require.NoError(t, st.SaveAgent(ctx, "default", cfg))

	ws := dialChat(t, ts)
	chat(t, ws, "default", "/tool list_available_mcps {}")
	f := readFrame(t, ws)
	assert.Nil(t, f.ToolCallPending)
	assert.Contains(t, f.Reply[len(f.Reply)-1], "rejected: tool is not allowed")
}

func TestChatDuringConfirmationIsQueued(t *testing.T) {
	ts, _ := newTestServer(t)
	ws := dialChat(t, ts)

	chat(t, ws, "default", "/tool list_available_mcps {}")
	f := readFrame(t, ws)
	require.NotNil(t, f.ToolCallPending)

	chat(t, ws, "default", "later")
	confirm(t, ws, domain.DecisionAlwaysAsk)

	f = readFrame(t, ws)
	assert.Contains(t, f.Reply[0], "list_available_mcps returned")
	f = readFrame(t, ws)
	assert.Equal(t, []string{"echo: later"}, f.Reply)
}

func TestStrayConfirmationIsIgnored(t *testing.T) {
	ts, _ := newTestServer(t)
	ws := dialChat(t, ts)

	confirm(t, ws, domain.DecisionAlwaysAsk)
	chat(t, ws, "default", "still here")
	f := readFrame(t, ws)
	assert.Equal(t, []string{"echo: still here"}, f.Reply)
}
