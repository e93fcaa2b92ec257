// Package logpanel keeps the bounded list of log entries shown next to the
// conversation, and mirrors the client's own slog records into it.
package logpanel

import (
	"sync"

	"github.com/nstogner/lazymcp/pkg/domain"
)

// DefaultMaxEntries bounds a Buffer created with a non-positive size.
const DefaultMaxEntries = 500

// Buffer is a bounded, ordered list of log entries. When full, the oldest
// entries are discarded.
type Buffer struct {
	mu      sync.Mutex
	entries []domain.LogEntry
	max     int
	notify  func()
}

// New creates a Buffer holding at most max entries.
func New(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Buffer{max: max}
}

// OnChange registers a callback run after every change.
func (b *Buffer) OnChange(fn func()) {
	b.mu.Lock()
	b.notify = fn
	b.mu.Unlock()
}

// Append adds entries in order.
func (b *Buffer) Append(entries ...domain.LogEntry) {
	if len(entries) == 0 {
		return
	}
	b.mu.Lock()
	b.entries = append(b.entries, entries...)
	if over := len(b.entries) - b.max; over > 0 {
		b.entries = append([]domain.LogEntry(nil), b.entries[over:]...)
	}
	fn := b.notify
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Add appends a single entry stamped with the current time.
func (b *Buffer) Add(level domain.LogLevel, msg string) {
	b.Append(domain.NewLogEntry(level, msg))
}

// Entries returns a copy of the buffered entries, oldest first.
func (b *Buffer) Entries() []domain.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Clear drops all entries.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.entries = nil
	fn := b.notify
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}
