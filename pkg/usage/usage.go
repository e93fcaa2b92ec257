// Package usage tracks token consumption for the active agent.
package usage

import (
	"sync"

	"github.com/nstogner/lazymcp/pkg/domain"
)

// Tracker keeps the last and cumulative token counts.
type Tracker struct {
	mu       sync.Mutex
	counters domain.UsageCounters
}

// New returns a zeroed Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Record applies a usage report. Negative values are ignored.
func (t *Tracker) Record(tokens int) domain.UsageCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tokens >= 0 {
		t.counters.LastTokensUsed = tokens
		t.counters.AccumTokens += tokens
	}
	return t.counters
}

// Reset zeroes both counters. Called when the active agent changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.counters = domain.UsageCounters{}
	t.mu.Unlock()
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() domain.UsageCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}
