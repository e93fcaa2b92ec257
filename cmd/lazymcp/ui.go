package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/session"
)

const logPanelHeight = 6

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1) // Red
	dimStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	modalStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("205")).Padding(0, 1)

	usageStyles = map[domain.UsageLevel]lipgloss.Style{
		domain.UsageLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		domain.UsageMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		domain.UsageHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}

	logStyles = map[domain.LogLevel]lipgloss.Style{
		domain.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		domain.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		domain.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		domain.LevelDebug: dimStyle,
	}
)

type state int

const (
	stateChatting state = iota
	stateSelectingAgent
	statePermissions
	stateConfirmToolCall
	stateConfirmDelete
)

type errMsg struct{ err error }
type updateMsg session.Update
type permsMsg struct{ cfg domain.AgentConfig }
type confirmRequestMsg confirmRequest

// confirmRequest asks the UI whether agent may be deleted.
type confirmRequest struct {
	agent string
	reply chan bool
}

// uiConfirmer routes delete confirmations through the UI.
type uiConfirmer struct {
	requests chan confirmRequest
}

func (u *uiConfirmer) ConfirmDelete(ctx context.Context, agent string) (bool, error) {
	req := confirmRequest{agent: agent, reply: make(chan bool, 1)}
	select {
	case u.requests <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-req.reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// permRow is one line of the permissions editor. An empty function is the
// server itself.
type permRow struct {
	server   string
	function string
}

type model struct {
	ctx       context.Context
	ctrl      *session.Controller
	updates   <-chan session.Update
	confirmer *uiConfirmer

	// State
	state    state
	prev     state
	cursor   int
	width    int
	height   int
	err      error
	closed   bool
	help     bool
	deleting confirmRequest

	perms    domain.AgentConfig
	permRows []permRow

	// UI Components
	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer
}

func initialModel(ctx context.Context, ctrl *session.Controller) model {
	ta := textarea.New()
	ta.Placeholder = "Send a message or /help..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 4000

	ta.SetWidth(80)
	ta.SetHeight(3)

	// Remove cursor line styling
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	return model{
		ctx:       ctx,
		ctrl:      ctrl,
		updates:   ctrl.Subscribe(),
		confirmer: &uiConfirmer{requests: make(chan confirmRequest)},
		state:     stateChatting,
		viewport:  vp,
		textarea:  ta,
		renderer:  r,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		waitForUpdate(m.updates),
		waitForConfirm(m.confirmer.requests),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys only reach the textarea while chatting.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - logPanelHeight - 4
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.viewport.YPosition = 2

		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(m.width-4),
		)
		m.refreshMessages()

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.state {
		case stateConfirmToolCall:
			return m.updateToolCall(msg)
		case stateConfirmDelete:
			return m.updateConfirmDelete(msg)
		case stateSelectingAgent:
			return m.updateAgentList(msg)
		case statePermissions:
			return m.updatePermissions(msg)
		}
		switch msg.Type {
		case tea.KeyEsc:
			if m.help {
				m.help = false
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			m.help = false
			m.err = nil
			return m.submit()
		}

	case updateMsg:
		cmds = append(cmds, m.applyUpdate(session.Update(msg))...)
		if !m.closed {
			cmds = append(cmds, waitForUpdate(m.updates))
		}

	case confirmRequestMsg:
		m.deleting = confirmRequest(msg)
		m.prev = m.state
		m.state = stateConfirmDelete
		cmds = append(cmds, waitForConfirm(m.confirmer.requests))

	case permsMsg:
		m.perms = msg.cfg
		m.permRows = buildPermRows(msg.cfg)
		if m.cursor >= len(m.permRows) {
			m.cursor = len(m.permRows) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m *model) applyUpdate(u session.Update) []tea.Cmd {
	var cmds []tea.Cmd
	switch u.Kind {
	case session.UpdateMessages, session.UpdateLogs, session.UpdateUsage, session.UpdateAgents:
		m.refreshMessages()
	case session.UpdateToolCall:
		if _, ok := m.ctrl.PendingToolCall(); ok {
			if m.state != stateConfirmToolCall {
				m.prev = m.state
				m.state = stateConfirmToolCall
			}
		} else if m.state == stateConfirmToolCall {
			m.state = m.prev
		}
	case session.UpdatePermissions:
		if m.state == statePermissions {
			cmds = append(cmds, m.loadPermissions())
		}
	case session.UpdateClosed:
		m.closed = true
		m.err = fmt.Errorf("connection to the agent backend was lost")
	}
	return cmds
}

// --- Chat input ---

func (m model) submit() (tea.Model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	m.textarea.Reset()
	if v == "" {
		return m, nil
	}

	cmd, ok := parseCommand(v)
	if !ok {
		return m, m.run(func(ctx context.Context) error { return m.ctrl.SendMessage(ctx, v) })
	}

	switch cmd.name {
	case "exit", "quit":
		return m, tea.Quit
	case "help":
		m.help = true
	case "agents":
		m.state = stateSelectingAgent
		m.cursor = 0
	case "agent":
		if len(cmd.args) != 1 {
			m.err = fmt.Errorf("usage: /agent <name>")
			return m, nil
		}
		return m, m.run(func(ctx context.Context) error { return m.ctrl.SwitchAgent(ctx, cmd.args[0]) })
	case "new":
		if len(cmd.args) != 1 {
			m.err = fmt.Errorf("usage: /new <name>")
			return m, nil
		}
		return m, m.run(func(ctx context.Context) error { return m.ctrl.CreateAgent(ctx, cmd.args[0]) })
	case "delete":
		name := m.ctrl.ActiveAgent()
		if len(cmd.args) == 1 {
			name = cmd.args[0]
		}
		return m, m.deleteAgent(name)
	case "clear":
		return m, m.run(m.ctrl.ClearHistory)
	case "refresh":
		return m, m.run(m.ctrl.RefreshAgents)
	case "perms":
		m.state = statePermissions
		m.cursor = 0
		return m, m.loadPermissions()
	case "allow":
		server, fn, allowed, err := allowArgs(cmd.args)
		if err != nil {
			m.err = err
			return m, nil
		}
		return m, m.run(func(ctx context.Context) error {
			if fn == "" {
				return m.ctrl.SetServerAllowed(ctx, server, allowed)
			}
			return m.ctrl.SetFunctionAllowed(ctx, server, fn, allowed)
		})
	case "cycle":
		if len(cmd.args) != 2 {
			m.err = fmt.Errorf("usage: /cycle <server> <function>")
			return m, nil
		}
		return m, m.run(func(ctx context.Context) error {
			_, err := m.ctrl.CycleConfirmation(ctx, cmd.args[0], cmd.args[1])
			return err
		})
	case "reset-default":
		return m, m.run(m.ctrl.ResetDefault)
	default:
		m.err = fmt.Errorf("unknown command /%s, try /help", cmd.name)
	}
	return m, nil
}

// run executes a controller operation off the UI goroutine.
func (m model) run(op func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := op(m.ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) deleteAgent(name string) tea.Cmd {
	return m.run(func(ctx context.Context) error { return m.ctrl.DeleteAgent(ctx, name, m.confirmer) })
}

func (m model) loadPermissions() tea.Cmd {
	return func() tea.Msg {
		cfg, err := m.ctrl.Permissions(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return permsMsg{cfg}
	}
}

// --- Modal states ---

func (m model) updateToolCall(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	d, ok := decisionForKey(msg.String())
	if !ok {
		return m, nil
	}
	return m, m.run(func(ctx context.Context) error {
		_, err := m.ctrl.ResolveToolCall(ctx, d)
		return err
	})
}

func (m model) updateConfirmDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.deleting.reply <- true
	case "n", "N", "esc":
		m.deleting.reply <- false
	default:
		return m, nil
	}
	m.state = m.prev
	return m, nil
}

func (m model) updateAgentList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	agents := m.ctrl.Agents()
	switch msg.Type {
	case tea.KeyEsc:
		m.state = stateChatting
	case tea.KeyUp:
		if m.cursor > 0 {
			m.cursor--
		}
	case tea.KeyDown:
		if m.cursor < len(agents)-1 {
			m.cursor++
		}
	case tea.KeyEnter:
		if m.cursor < len(agents) {
			name := agents[m.cursor]
			m.state = stateChatting
			return m, m.run(func(ctx context.Context) error { return m.ctrl.SwitchAgent(ctx, name) })
		}
	default:
		if msg.String() == "d" && m.cursor < len(agents) {
			return m, m.deleteAgent(agents[m.cursor])
		}
	}
	return m, nil
}

func (m model) updatePermissions(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.state = stateChatting
		return m, nil
	case tea.KeyUp:
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case tea.KeyDown:
		if m.cursor < len(m.permRows)-1 {
			m.cursor++
		}
		return m, nil
	}
	if m.cursor >= len(m.permRows) {
		return m, nil
	}
	row := m.permRows[m.cursor]

	switch msg.String() {
	case " ", "enter":
		srv := m.perms.Servers[row.server]
		if row.function == "" {
			return m, m.editThen(func(ctx context.Context) error {
				return m.ctrl.SetServerAllowed(ctx, row.server, !srv.Allowed)
			})
		}
		fn := srv.Functions[row.function]
		return m, m.editThen(func(ctx context.Context) error {
			return m.ctrl.SetFunctionAllowed(ctx, row.server, row.function, !fn.Allowed)
		})
	case "c":
		if row.function == "" {
			return m, nil
		}
		return m, m.editThen(func(ctx context.Context) error {
			_, err := m.ctrl.CycleConfirmation(ctx, row.server, row.function)
			return err
		})
	case "r":
		return m, m.editThen(m.ctrl.ResetDefault)
	}
	return m, nil
}

// editThen applies a permission edit and reloads the editor either way, so a
// rolled back edit is shown as well.
func (m model) editThen(edit func(context.Context) error) tea.Cmd {
	return tea.Sequence(m.run(edit), m.loadPermissions())
}

func buildPermRows(cfg domain.AgentConfig) []permRow {
	servers := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		servers = append(servers, name)
	}
	sort.Strings(servers)

	var rows []permRow
	for _, s := range servers {
		rows = append(rows, permRow{server: s})
		fns := make([]string, 0, len(cfg.Servers[s].Functions))
		for fn := range cfg.Servers[s].Functions {
			fns = append(fns, fn)
		}
		sort.Strings(fns)
		for _, fn := range fns {
			rows = append(rows, permRow{server: s, function: fn})
		}
	}
	return rows
}

// --- Rendering ---

func (m *model) refreshMessages() {
	var sb strings.Builder
	for _, msg := range m.ctrl.Messages() {
		content := msg.Content
		if msg.Role == domain.RoleAssistant && m.renderer != nil {
			if rendered, err := m.renderer.Render(content); err == nil {
				content = rendered
			}
		}

		if msg.Role == domain.RoleUser {
			sb.WriteString(userStyle.Render("You: "))
		} else {
			sb.WriteString(senderStyle.Render("Agent: "))
		}
		sb.WriteString("\n")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m model) header() string {
	u := m.ctrl.Usage()
	usage := usageStyles[u.Level()].Render(fmt.Sprintf("tokens: %d (total %d)", u.LastTokensUsed, u.AccumTokens))
	return lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("lazymcp · "+m.ctrl.ActiveAgent()),
		" ",
		usage,
	)
}

func (m model) logPanel() string {
	entries := m.ctrl.Logs()
	if len(entries) > logPanelHeight {
		entries = entries[len(entries)-logPanelHeight:]
	}
	lines := make([]string, 0, logPanelHeight)
	for _, e := range entries {
		style, ok := logStyles[e.Level]
		if !ok {
			style = dimStyle
		}
		line := fmt.Sprintf("%s %-5s %s", e.Time, e.Level, strings.ReplaceAll(e.Message, "\n", " "))
		if m.width > 0 && len(line) > m.width {
			line = line[:m.width]
		}
		lines = append(lines, style.Render(line))
	}
	for len(lines) < logPanelHeight {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	switch m.state {
	case stateSelectingAgent:
		return m.agentListView(errorView)
	case statePermissions:
		return m.permissionsView(errorView)
	}

	body := m.viewport.View()
	if m.help {
		body = modalStyle.Render(helpText + "\n\nEsc to close.")
	}
	switch m.state {
	case stateConfirmToolCall:
		body = m.toolCallView()
	case stateConfirmDelete:
		body = modalStyle.Render(fmt.Sprintf("Delete agent %q? (y/n)", m.deleting.agent))
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.header(),
		"",
		body,
		dimStyle.Render(strings.Repeat("─", max(m.width, 1))),
		m.logPanel(),
		errorView,
		m.textarea.View(),
	)
}

func (m model) toolCallView() string {
	req, ok := m.ctrl.PendingToolCall()
	if !ok {
		return m.viewport.View()
	}
	lines := []string{
		selectedItemStyle.Render("Tool call: " + req.Name),
	}
	if req.Description != "" {
		lines = append(lines, req.Description)
	}
	if req.Args != "" {
		lines = append(lines, "", "Arguments:", req.Args)
	}
	lines = append(lines, "",
		"[1/y] allow once   [2/a] always allow",
		"[3/n] reject once  [4/x] always reject",
	)
	return modalStyle.Render(strings.Join(lines, "\n"))
}

func (m model) agentListView(errorView string) string {
	header := titleStyle.Render("Select Agent")
	active := m.ctrl.ActiveAgent()

	var optionsView []string
	for i, name := range m.ctrl.Agents() {
		cursor := " "
		line := name
		if name == active {
			line += dimStyle.Render(" (active)")
		}
		if m.cursor == i {
			cursor = ">"
			line = selectedItemStyle.Render(name)
		}
		optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
	}

	list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
	footer := "Enter to switch, d to delete, Esc to go back."

	return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)
}

func (m model) permissionsView(errorView string) string {
	header := titleStyle.Render("Permissions · " + m.ctrl.ActiveAgent())

	var optionsView []string
	for i, row := range m.permRows {
		srv := m.perms.Servers[row.server]
		var line string
		if row.function == "" {
			line = fmt.Sprintf("%s %s", checkbox(srv.Allowed), row.server)
		} else {
			fn := srv.Functions[row.function]
			line = fmt.Sprintf("    %s %-24s %s", checkbox(fn.Allowed), row.function, dimStyle.Render(string(fn.Confirmed)))
		}
		cursor := " "
		if m.cursor == i {
			cursor = ">"
			line = selectedItemStyle.Render(line)
		}
		optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
	}

	list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
	footer := "Space to toggle, c to cycle confirmation, r to reset default, Esc to go back."

	return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView, "", m.logPanel())
}

func checkbox(on bool) string {
	if on {
		return "[x]"
	}
	return "[ ]"
}

// --- Subscriptions ---

func waitForUpdate(sub <-chan session.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-sub
		if !ok {
			return updateMsg{Kind: session.UpdateClosed}
		}
		return updateMsg(u)
	}
}

func waitForConfirm(requests <-chan confirmRequest) tea.Cmd {
	return func() tea.Msg {
		return confirmRequestMsg(<-requests)
	}
}
