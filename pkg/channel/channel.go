package channel

import (
	"context"
	"errors"

	"github.com/nstogner/lazymcp/pkg/protocol"
)

// ErrClosed is returned when sending on, or reading from, a closed channel.
var ErrClosed = errors.New("session channel closed")

// Channel is the persistent bidirectional connection to the agent backend.
type Channel interface {
	// Send transmits one frame. Concurrent calls are serialized.
	Send(ctx context.Context, frame any) error

	// Events delivers decoded inbound frames in arrival order. The channel is
	// closed when the connection ends; Err then reports why.
	Events() <-chan protocol.Event

	// Done is closed once the connection has stopped reading.
	Done() <-chan struct{}

	// Err returns the error that terminated the event stream, or nil if the
	// stream ended because Close was called.
	Err() error

	// Close tears the connection down. It is safe to call more than once.
	Close() error
}
