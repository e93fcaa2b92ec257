// Package gate implements the tool call confirmation handshake.
//
// A Gate is Idle until the agent requests a tool call, then Pending until a
// human decision has been sent back over the channel. While Pending, the
// session's inbound pipeline blocks in Wait. Requests that arrive while one is
// already pending are queued and surface one at a time.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/protocol"
)

// ErrAborted is returned from Wait when the gate was torn down.
var ErrAborted = errors.New("confirmation gate aborted")

// State of the gate.
type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

// Sender transmits a frame over the session channel.
type Sender interface {
	Send(ctx context.Context, frame any) error
}

// cycle spans one Idle -> Pending -> Idle round, including queued requests.
type cycle struct {
	done chan struct{}
	err  error
}

// Gate is a single-slot rendezvous between the inbound pipeline and the human.
type Gate struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
	notify  func()

	mu        sync.Mutex
	pending   *domain.ToolCallRequest
	queue     []domain.ToolCallRequest
	seq       uint64
	resolving bool
	cur       *cycle
	timer     *time.Timer
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout auto-rejects a pending request after d. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) { g.timeout = d }
}

// WithLogger sets the logger used for timeout reports.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithNotify registers a callback run after every state change.
func WithNotify(fn func()) Option {
	return func(g *Gate) { g.notify = fn }
}

// New creates an idle Gate that answers over sender.
func New(sender Sender, opts ...Option) *Gate {
	g := &Gate{sender: sender, logger: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Request makes req pending, or queues it if another request is pending.
func (g *Gate) Request(req domain.ToolCallRequest) {
	g.mu.Lock()
	if g.pending != nil {
		g.queue = append(g.queue, req)
		g.mu.Unlock()
		g.logger.Debug("Queued tool call request", "tool", req.Name, "queued", len(g.queue))
		return
	}
	g.cur = &cycle{done: make(chan struct{})}
	g.setPendingLocked(req)
	g.mu.Unlock()
	g.changed()
}

// Wait blocks until the gate is Idle again. It returns nil once every pending
// request has been resolved, ErrAborted (or the abort cause) on teardown, or
// ctx.Err().
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	c := g.cur
	g.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve answers the pending request with decision. With nothing pending it
// is a no-op and returns false. If the decision cannot be sent the request
// stays pending and the error is returned.
func (g *Gate) Resolve(ctx context.Context, decision domain.ConfirmationDecision) (bool, error) {
	if _, err := domain.ParseDecision(string(decision)); err != nil {
		return false, err
	}
	g.mu.Lock()
	if g.pending == nil || g.resolving {
		g.mu.Unlock()
		return false, nil
	}
	return g.resolveLocked(ctx, decision, g.seq)
}

// resolveLocked is entered with g.mu held and releases it.
func (g *Gate) resolveLocked(ctx context.Context, decision domain.ConfirmationDecision, seq uint64) (bool, error) {
	req := *g.pending
	g.resolving = true
	g.mu.Unlock()

	err := g.sender.Send(ctx, protocol.ConfirmFrame{ToolCallConfirmed: decision})

	g.mu.Lock()
	g.resolving = false
	if seq != g.seq {
		// Aborted while sending.
		g.mu.Unlock()
		return false, nil
	}
	if err != nil {
		g.mu.Unlock()
		return false, fmt.Errorf("sending decision for %s: %w", req.Name, err)
	}
	g.advanceLocked(nil)
	g.mu.Unlock()

	g.logger.Debug("Resolved tool call", "tool", req.Name, "decision", decision)
	g.changed()
	return true, nil
}

// Abort drops all pending and queued requests and releases Wait with err.
func (g *Gate) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	g.mu.Lock()
	if g.cur == nil {
		g.mu.Unlock()
		return
	}
	g.queue = nil
	g.pending = nil
	g.advanceLocked(err)
	g.mu.Unlock()
	g.changed()
}

// Pending returns the request awaiting a decision.
func (g *Gate) Pending() (domain.ToolCallRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return domain.ToolCallRequest{}, false
	}
	return *g.pending, true
}

// State returns Idle or Pending.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Idle
	}
	return Pending
}

// Queued returns the number of requests waiting behind the pending one.
func (g *Gate) Queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

func (g *Gate) setPendingLocked(req domain.ToolCallRequest) {
	g.seq++
	g.pending = &req
	if g.timeout > 0 {
		seq := g.seq
		g.timer = time.AfterFunc(g.timeout, func() { g.expire(seq) })
	}
}

// advanceLocked moves to the next queued request, or closes the cycle.
func (g *Gate) advanceLocked(abortErr error) {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if abortErr == nil && len(g.queue) > 0 {
		next := g.queue[0]
		g.queue = g.queue[1:]
		g.setPendingLocked(next)
		return
	}
	g.seq++
	g.pending = nil
	g.cur.err = abortErr
	close(g.cur.done)
	g.cur = nil
}

func (g *Gate) expire(seq uint64) {
	g.mu.Lock()
	if g.pending == nil || g.seq != seq || g.resolving {
		g.mu.Unlock()
		return
	}
	name := g.pending.Name
	g.logger.Warn("Tool call confirmation timed out, rejecting", "tool", name, "timeout", g.timeout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := g.resolveLocked(ctx, domain.DecisionReject, seq); err != nil {
		g.logger.Error("Failed to reject timed out tool call", "tool", name, "error", err)
	}
}

func (g *Gate) changed() {
	if g.notify != nil {
		g.notify()
	}
}
