package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstogner/lazymcp/pkg/channel"
	"github.com/nstogner/lazymcp/pkg/protocol"
)

const writeWait = 10 * time.Second

// Conn implements channel.Channel over a gorilla websocket connection.
type Conn struct {
	ws     *websocket.Conn
	events chan protocol.Event
	done   chan struct{}
	ended  chan struct{}
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Verify interface compliance at compile time.
var _ channel.Channel = (*Conn)(nil)

type options struct {
	pingInterval time.Duration
	logger       *slog.Logger
	dialer       *websocket.Dialer
}

// Option configures Dial.
type Option func(*options)

// WithPingInterval sets how often keepalive pings are sent. Zero disables them.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// WithLogger sets the connection logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Dial opens the chat channel at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	o := options{
		pingInterval: 30 * time.Second,
		logger:       slog.Default(),
		dialer:       websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ws, _, err := o.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		ws:     ws,
		events: make(chan protocol.Event, 64),
		done:   make(chan struct{}),
		ended:  make(chan struct{}),
		logger: o.logger,
	}
	go c.readLoop()
	if o.pingInterval > 0 {
		go c.pingLoop(o.pingInterval)
	}
	o.logger.Debug("Session channel open", "url", url)
	return c, nil
}

// Send writes frame as a JSON text message.
func (c *Conn) Send(ctx context.Context, frame any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return channel.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Events returns the inbound event stream.
func (c *Conn) Events() <-chan protocol.Event {
	return c.events
}

// Done is closed when the read loop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.ended
}

// Err reports why the event stream ended.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.ended)
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed locally.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setErr(channel.ErrClosed)
				} else {
					c.logger.Error("WebSocket read error", "error", err)
					c.setErr(fmt.Errorf("%w: %v", channel.ErrClosed, err))
				}
			}
			return
		}

		ev, err := protocol.DecodeServerFrame(data)
		if err != nil {
			ev = protocol.Event{Problems: []error{err}}
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("Keepalive ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}
