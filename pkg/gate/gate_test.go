package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/protocol"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []any
	err    error
}

func (f *fakeSender) Send(ctx context.Context, frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.frames...)
}

func writeFile() domain.ToolCallRequest {
	return domain.ToolCallRequest{Name: "write_file", Description: "Writes a file", Args: `{"path":"/tmp/x"}`}
}

func TestResolveSendsDecisionAndReleases(t *testing.T) {
	for _, d := range []domain.ConfirmationDecision{
		domain.DecisionAlwaysAsk, domain.DecisionAlwaysConfirmed,
		domain.DecisionAlwaysRejected, domain.DecisionReject,
	} {
		t.Run(string(d), func(t *testing.T) {
			s := &fakeSender{}
			g := New(s)
			assert.Equal(t, Idle, g.State())

			g.Request(writeFile())
			assert.Equal(t, Pending, g.State())
			req, ok := g.Pending()
			require.True(t, ok)
			assert.Equal(t, "write_file", req.Name)

			waitErr := make(chan error, 1)
			go func() { waitErr <- g.Wait(context.Background()) }()

			ok, err := g.Resolve(context.Background(), d)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, Idle, g.State())
			assert.Equal(t, []any{protocol.ConfirmFrame{ToolCallConfirmed: d}}, s.sent())

			select {
			case err := <-waitErr:
				assert.NoError(t, err)
			case <-time.After(time.Second):
				t.Fatal("Wait did not return after Resolve")
			}
		})
	}
}

func TestResolveWithoutPendingIsNoop(t *testing.T) {
	s := &fakeSender{}
	g := New(s)
	ok, err := g.Resolve(context.Background(), domain.DecisionReject)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.sent())
	assert.NoError(t, g.Wait(context.Background()))
}

func TestResolveRejectsUnknownDecision(t *testing.T) {
	g := New(&fakeSender{})
	g.Request(writeFile())
	_, err := g.Resolve(context.Background(), "perhaps")
	assert.ErrorIs(t, err, domain.ErrInvalidDecision)
	assert.Equal(t, Pending, g.State())
}

func TestSecondRequestIsQueued(t *testing.T) {
	s := &fakeSender{}
	g := New(s)
	g.Request(writeFile())
	g.Request(domain.ToolCallRequest{Name: "delete_file"})
	assert.Equal(t, 1, g.Queued())

	req, _ := g.Pending()
	assert.Equal(t, "write_file", req.Name)

	ok, err := g.Resolve(context.Background(), domain.DecisionAlwaysAsk)
	require.NoError(t, err)
	require.True(t, ok)

	req, ok = g.Pending()
	require.True(t, ok)
	assert.Equal(t, "delete_file", req.Name)
	assert.Equal(t, 0, g.Queued())

	// Wait still blocks while the queued request is pending.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)

	_, err = g.Resolve(context.Background(), domain.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, Idle, g.State())
	assert.Len(t, s.sent(), 2)
}

func TestSendFailureKeepsPending(t *testing.T) {
	s := &fakeSender{err: errors.New("connection reset")}
	g := New(s)
	g.Request(writeFile())

	ok, err := g.Resolve(context.Background(), domain.DecisionAlwaysConfirmed)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, Pending, g.State())

	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	ok, err = g.Resolve(context.Background(), domain.DecisionAlwaysConfirmed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAbortReleasesWait(t *testing.T) {
	g := New(&fakeSender{})
	g.Request(writeFile())
	g.Request(writeFile())

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	cause := errors.New("channel closed")
	g.Abort(cause)

	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, cause)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Abort")
	}
	assert.Equal(t, Idle, g.State())
	assert.Equal(t, 0, g.Queued())
}

func TestTimeoutRejects(t *testing.T) {
	s := &fakeSender{}
	g := New(s, WithTimeout(20*time.Millisecond))
	g.Request(writeFile())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.Wait(ctx))
	assert.Equal(t, []any{protocol.ConfirmFrame{ToolCallConfirmed: domain.DecisionReject}}, s.sent())
}

func TestNotifyOnTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	var g *Gate
	g = New(&fakeSender{}, WithNotify(func() {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, g.State())
	}))

	g.Request(writeFile())
	_, err := g.Resolve(context.Background(), domain.DecisionReject)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Pending, Idle}, states)
}
