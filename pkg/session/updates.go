package session

// UpdateKind says which part of the session changed.
type UpdateKind int

const (
	UpdateMessages UpdateKind = iota
	UpdateUsage
	UpdateToolCall
	UpdateLogs
	UpdateAgents
	UpdatePermissions
	// UpdateClosed is sent once when the session channel ends.
	UpdateClosed
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateMessages:
		return "messages"
	case UpdateUsage:
		return "usage"
	case UpdateToolCall:
		return "tool_call"
	case UpdateLogs:
		return "logs"
	case UpdateAgents:
		return "agents"
	case UpdatePermissions:
		return "permissions"
	case UpdateClosed:
		return "closed"
	}
	return "unknown"
}

// Update notifies subscribers that part of the session changed. Subscribers
// read the new values from the Controller.
type Update struct {
	Kind UpdateKind
}

// Subscribe returns a channel of session updates. Updates are dropped for
// subscribers that fall behind. The channel is closed by Close.
func (c *Controller) Subscribe() <-chan Update {
	ch := make(chan Update, 64)
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subscribers = append(c.subscribers, ch)
	return ch
}

func (c *Controller) publish(kinds ...UpdateKind) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.closed {
		return
	}
	for _, k := range kinds {
		for _, ch := range c.subscribers {
			select {
			case ch <- Update{Kind: k}:
			default:
				// Drop if subscriber is not consuming fast enough.
			}
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
}
