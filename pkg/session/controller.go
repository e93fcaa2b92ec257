// Package session orchestrates a chat session with an agent backend: the
// message channel, the tool call confirmation gate, the conversation, token
// usage, permissions and the log panel.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nstogner/lazymcp/pkg/backend"
	"github.com/nstogner/lazymcp/pkg/channel"
	"github.com/nstogner/lazymcp/pkg/conversation"
	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/gate"
	"github.com/nstogner/lazymcp/pkg/logpanel"
	"github.com/nstogner/lazymcp/pkg/permissions"
	"github.com/nstogner/lazymcp/pkg/protocol"
	"github.com/nstogner/lazymcp/pkg/usage"
)

// Backend is the REST surface of the agent backend.
type Backend interface {
	ListAgents(ctx context.Context) ([]string, error)
	History(ctx context.Context, agent string) ([]domain.Message, error)
	Logs(ctx context.Context, agent string) ([]domain.LogEntry, error)
	ClearHistory(ctx context.Context, agent string) error
	DeleteAgent(ctx context.Context, agent string) ([]string, error)
	permissions.Persister
}

// Confirmer asks the human whether an agent should really be deleted.
type Confirmer interface {
	ConfirmDelete(ctx context.Context, agent string) (bool, error)
}

// ConfirmFunc adapts a function to a Confirmer.
type ConfirmFunc func(ctx context.Context, agent string) (bool, error)

func (f ConfirmFunc) ConfirmDelete(ctx context.Context, agent string) (bool, error) {
	return f(ctx, agent)
}

// Options configures a Controller.
type Options struct {
	// DefaultAgent is the agent active at start. Defaults to "default".
	DefaultAgent string
	// LogPollInterval is how often backend logs are fetched. Defaults to 3s.
	LogPollInterval time.Duration
	// ConfirmationTimeout auto-rejects unanswered tool calls. Zero waits forever.
	ConfirmationTimeout time.Duration
	// MaxLogEntries bounds the log panel.
	MaxLogEntries int
	// PanelLevel is the lowest level of the controller's own records that are
	// mirrored into the log panel. Defaults to INFO.
	PanelLevel slog.Leveler
	// Logger receives the controller's records. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.DefaultAgent == "" {
		o.DefaultAgent = domain.DefaultAgent
	}
	if o.LogPollInterval <= 0 {
		o.LogPollInterval = 3 * time.Second
	}
	if o.PanelLevel == nil {
		o.PanelLevel = slog.LevelInfo
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Controller owns one session. Create it with New, start it with Run, and
// release it with Close.
type Controller struct {
	backend Backend
	ch      channel.Channel
	opts    Options
	logger  *slog.Logger

	state *State
	gate  *gate.Gate
	conv  *conversation.State
	perms *permissions.Store
	usage *usage.Tracker
	logs  *logpanel.Buffer

	subMu       sync.RWMutex
	subscribers []chan Update
	closed      bool

	closeOnce sync.Once
}

// New creates a Controller over an open channel.
func New(b Backend, ch channel.Channel, opts Options) *Controller {
	opts.setDefaults()

	c := &Controller{
		backend: b,
		ch:      ch,
		opts:    opts,
		state:   newState(opts.DefaultAgent),
		conv:    conversation.New(opts.DefaultAgent),
		perms:   permissions.New(b, opts.DefaultAgent),
		usage:   usage.New(),
		logs:    logpanel.New(opts.MaxLogEntries),
	}
	c.logger = slog.New(logpanel.Tee(
		opts.Logger.Handler(),
		logpanel.NewHandler(c.logs, opts.PanelLevel),
	))
	c.logs.OnChange(func() { c.publish(UpdateLogs) })
	c.gate = gate.New(ch,
		gate.WithTimeout(opts.ConfirmationTimeout),
		gate.WithLogger(c.logger),
		gate.WithNotify(func() { c.publish(UpdateToolCall) }),
	)
	return c
}

// Run loads the initial agent list and history, then applies inbound events
// and polls backend logs until ctx ends or the channel closes.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.RefreshAgents(ctx)
	agent, epoch := c.state.Snapshot()
	c.loadHistory(ctx, agent, epoch)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pollLogs(ctx)
	}()

	err := c.consume(ctx)
	cancel()
	wg.Wait()
	return err
}

// Close tears the session down: pending confirmations are abandoned, the
// channel is closed, and subscriber channels are closed.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.gate.Abort(gate.ErrAborted)
		err = c.ch.Close()
		c.closeSubscribers()
	})
	return err
}

// --- Accessors ---

// ActiveAgent returns the active agent.
func (c *Controller) ActiveAgent() string { return c.state.Active() }

// Agents returns the known agents.
func (c *Controller) Agents() []string { return c.state.Agents() }

// Messages returns the active agent's conversation.
func (c *Controller) Messages() []domain.Message { return c.conv.Messages() }

// Usage returns the token counters of the active agent.
func (c *Controller) Usage() domain.UsageCounters { return c.usage.Snapshot() }

// Logs returns the log panel entries.
func (c *Controller) Logs() []domain.LogEntry { return c.logs.Entries() }

// PendingToolCall returns the tool call awaiting a decision, if any.
func (c *Controller) PendingToolCall() (domain.ToolCallRequest, bool) { return c.gate.Pending() }

// Logger returns the logger whose records appear in the log panel.
func (c *Controller) Logger() *slog.Logger { return c.logger }

// --- Operations ---

// SendMessage appends text to the conversation and sends it to the active
// agent. Blank input is ignored. The reply arrives asynchronously.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	agent := c.state.Active()
	c.conv.AppendUser(text)
	c.publish(UpdateMessages)

	if err := c.ch.Send(ctx, protocol.ChatFrame{Agent: agent, Message: text}); err != nil {
		c.logger.Error("Failed to send message", "agent", agent, "error", err)
		return err
	}
	return nil
}

// ResolveToolCall answers the pending tool call. It returns false when nothing
// was pending.
func (c *Controller) ResolveToolCall(ctx context.Context, d domain.ConfirmationDecision) (bool, error) {
	ok, err := c.gate.Resolve(ctx, d)
	if err != nil {
		c.logger.Error("Failed to send tool call decision", "decision", d, "error", err)
	}
	return ok, err
}

// SwitchAgent makes name the active agent. The conversation is replaced by the
// agent's history, usage is reset and permissions are reloaded on next use.
// Selecting the active agent again only re-fetches its history.
func (c *Controller) SwitchAgent(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if agent, epoch := c.state.Snapshot(); agent == name {
		return c.loadHistory(ctx, agent, epoch)
	}

	epoch := c.activate(name, nil)
	c.logger.Debug("Switched agent", "agent", name)
	return c.loadHistory(ctx, name, epoch)
}

// CreateAgent switches to a new agent once the backend has acknowledged it.
// Known names are simply switched to.
func (c *Controller) CreateAgent(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if c.state.Known(name) {
		return c.SwitchAgent(ctx, name)
	}

	history, err := c.backend.History(ctx, name)
	if err != nil {
		c.logger.Error("Failed to create agent", "agent", name, "error", err)
		return err
	}
	c.activate(name, history)
	c.state.addAgent(name)
	c.logger.Info("Created agent", "agent", name)
	c.RefreshAgents(ctx)
	return nil
}

// DeleteAgent deletes name after the confirmer agrees. Deleting the default
// agent, or an agent whose deletion is already awaiting confirmation, is
// silently ignored. When the active agent is deleted the session falls back to
// another agent.
func (c *Controller) DeleteAgent(ctx context.Context, name string, confirm Confirmer) error {
	name = strings.TrimSpace(name)
	if name == "" || name == domain.DefaultAgent {
		return nil
	}
	if !c.state.beginDelete(name) {
		return nil
	}
	defer c.state.endDelete(name)

	ok, err := confirm.ConfirmDelete(ctx, name)
	if err != nil || !ok {
		return err
	}

	remaining, err := c.backend.DeleteAgent(ctx, name)
	if err != nil {
		c.logger.Error("Failed to delete agent", "agent", name, "error", err)
		return err
	}
	c.logger.Info("Deleted agent", "agent", name)

	if remaining == nil {
		remaining, err = c.backend.ListAgents(ctx)
		if err != nil {
			c.logger.Error("Failed to fetch agents", "error", err)
			remaining = without(c.state.Agents(), name)
		}
	}

	if c.state.Active() == name {
		next := fallbackAgent(remaining, name)
		epoch := c.activate(next, nil)
		c.state.setAgents(remaining)
		c.publish(UpdateAgents)
		return c.loadHistory(ctx, next, epoch)
	}
	c.state.setAgents(remaining)
	c.publish(UpdateAgents)
	return nil
}

// ClearHistory erases the active agent's conversation on the backend and then
// locally. On failure the conversation is left untouched.
func (c *Controller) ClearHistory(ctx context.Context) error {
	agent, epoch := c.state.Snapshot()
	if err := c.backend.ClearHistory(ctx, agent); err != nil {
		c.logger.Error("Failed to clear history", "agent", agent, "error", err)
		return err
	}
	if !c.state.Current(epoch) {
		c.logger.Debug("Dropping stale clear", "agent", agent)
		return nil
	}
	c.conv.Clear()
	c.publish(UpdateMessages)
	return nil
}

// RefreshAgents re-reads the agent list. The active agent is always kept in
// the list. On failure the list falls back to the default agent.
func (c *Controller) RefreshAgents(ctx context.Context) error {
	agents, err := c.backend.ListAgents(ctx)
	if err != nil {
		c.logger.Error("Failed to fetch agents", "error", err)
		c.state.setAgents([]string{domain.DefaultAgent})
		c.publish(UpdateAgents)
		return err
	}
	c.state.setAgents(agents)
	c.publish(UpdateAgents)
	return nil
}

// --- Permissions ---

// Permissions returns the active agent's permission config, fetching it if it
// is not cached.
func (c *Controller) Permissions(ctx context.Context) (domain.AgentConfig, error) {
	if err := c.perms.Load(ctx); err != nil {
		c.logger.Error("Failed to load permissions", "agent", c.perms.Agent(), "error", err)
		return domain.AgentConfig{}, err
	}
	return c.perms.Config(), nil
}

// SetServerAllowed toggles a server for the active agent.
func (c *Controller) SetServerAllowed(ctx context.Context, server string, allowed bool) error {
	return c.permissionEdit(ctx, func(ctx context.Context) error {
		return c.perms.SetServerAllowed(ctx, server, allowed)
	})
}

// SetFunctionAllowed toggles a function for the active agent.
func (c *Controller) SetFunctionAllowed(ctx context.Context, server, function string, allowed bool) error {
	return c.permissionEdit(ctx, func(ctx context.Context) error {
		return c.perms.SetFunctionAllowed(ctx, server, function, allowed)
	})
}

// CycleConfirmation advances a function's confirmation policy.
func (c *Controller) CycleConfirmation(ctx context.Context, server, function string) (domain.ConfirmationPolicy, error) {
	var next domain.ConfirmationPolicy
	err := c.permissionEdit(ctx, func(ctx context.Context) error {
		var err error
		next, err = c.perms.CycleConfirmation(ctx, server, function)
		return err
	})
	return next, err
}

// ResetDefault restores the default agent's permissions on the backend.
func (c *Controller) ResetDefault(ctx context.Context) error {
	if err := c.perms.ResetDefault(ctx); err != nil {
		c.logger.Error("Failed to reset default agent", "error", err)
		return err
	}
	c.logger.Info("Reset default agent")
	c.publish(UpdatePermissions)
	return nil
}

func (c *Controller) permissionEdit(ctx context.Context, edit func(context.Context) error) error {
	if err := c.perms.Load(ctx); err != nil {
		c.logger.Error("Failed to load permissions", "agent", c.perms.Agent(), "error", err)
		return err
	}
	err := edit(ctx)
	if err != nil {
		c.logger.Error("Failed to update permissions", "agent", c.perms.Agent(), "error", err)
	}
	// Published either way so views re-read the rolled back value.
	c.publish(UpdatePermissions)
	return err
}

// --- Internals ---

// activate makes name the active agent with the given conversation and
// returns the new epoch.
func (c *Controller) activate(name string, history []domain.Message) uint64 {
	epoch := c.state.switchTo(name)
	c.usage.Reset()
	c.perms.Invalidate(name)
	c.conv.Replace(name, history)
	c.publish(UpdateAgents, UpdateUsage, UpdateMessages, UpdatePermissions)
	return epoch
}

func (c *Controller) loadHistory(ctx context.Context, agent string, epoch uint64) error {
	history, err := c.backend.History(ctx, agent)
	if !c.state.Current(epoch) {
		c.logger.Debug("Dropping stale history", "agent", agent)
		return nil
	}
	if err != nil {
		c.logger.Error("Failed to fetch history", "agent", agent, "error", err)
		return err
	}
	c.conv.Replace(agent, history)
	c.publish(UpdateMessages)
	return nil
}

func (c *Controller) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.ch.Events():
			if !ok {
				err := c.ch.Err()
				if err != nil {
					c.logger.Error("Session channel closed", "error", err)
				}
				c.gate.Abort(channel.ErrClosed)
				c.publish(UpdateClosed)
				return err
			}
			if err := c.apply(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// apply processes one inbound event: replies, then usage, then the tool call.
// A tool call blocks until it is resolved.
func (c *Controller) apply(ctx context.Context, ev protocol.Event) error {
	for _, p := range ev.Problems {
		c.logger.Error("Malformed message from agent", "error", p)
	}
	if len(ev.Replies) > 0 {
		c.conv.AppendAssistant(ev.Replies...)
		c.publish(UpdateMessages)
	}
	if ev.HasUsage {
		c.usage.Record(ev.TokensUsed)
		c.publish(UpdateUsage)
	}
	if ev.ToolCall != nil {
		c.logger.Info("Tool call awaiting confirmation", "tool", ev.ToolCall.Name)
		c.gate.Request(*ev.ToolCall)
		return c.awaitDecision(ctx)
	}
	return nil
}

func (c *Controller) awaitDecision(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.ch.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err := c.gate.Wait(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.gate.Abort(channel.ErrClosed)
	if !errors.Is(err, gate.ErrAborted) {
		c.logger.Warn("Tool call confirmation abandoned", "error", err)
	}
	return nil
}

func (c *Controller) pollLogs(ctx context.Context) {
	ticker := time.NewTicker(c.opts.LogPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fetchLogs(ctx)
		}
	}
}

func (c *Controller) fetchLogs(ctx context.Context) {
	agent, epoch := c.state.Snapshot()
	entries, err := c.backend.Logs(ctx, agent)
	if ctx.Err() != nil || !c.state.Current(epoch) {
		return
	}
	switch {
	case errors.Is(err, backend.ErrMalformedResponse):
		c.logs.Add(domain.LevelError, "Backend logs not available")
	case err != nil:
		c.logs.Add(domain.LevelError, "Error fetching logs: "+err.Error())
	default:
		c.logs.Append(entries...)
	}
}

func without(list []string, name string) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a != name {
			out = append(out, a)
		}
	}
	return out
}
