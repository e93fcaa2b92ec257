package logpanel

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/lazymcp/pkg/domain"
)

func TestBufferBounded(t *testing.T) {
	b := New(2)
	b.Add(domain.LevelInfo, "a")
	b.Add(domain.LevelInfo, "b")
	b.Add(domain.LevelError, "c")

	got := b.Entries()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
	assert.Equal(t, "c", got[1].Message)
	assert.Equal(t, domain.LevelError, got[1].Level)
}

func TestBufferNotify(t *testing.T) {
	b := New(0)
	calls := 0
	b.OnChange(func() { calls++ })
	b.Append()
	b.Add(domain.LevelInfo, "x")
	b.Clear()
	assert.Equal(t, 2, calls)
	assert.Empty(t, b.Entries())
}

func TestHandler(t *testing.T) {
	b := New(10)
	logger := slog.New(NewHandler(b, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("agent", "default").Error("Failed to clear history", "error", "boom")
	logger.WithGroup("req").Warn("Slow", "ms", 1200)

	got := b.Entries()
	require.Len(t, got, 2)
	assert.Equal(t, domain.LevelError, got[0].Level)
	assert.Equal(t, "Failed to clear history agent=default error=boom", got[0].Message)
	assert.Equal(t, domain.LevelWarn, got[1].Level)
	assert.Equal(t, "Slow req.ms=1200", got[1].Message)
	assert.NotEmpty(t, got[0].Time)
}

func TestTee(t *testing.T) {
	b := New(10)
	var out bytes.Buffer
	text := slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(Tee(text, NewHandler(b, slog.LevelWarn)))

	logger.Info("only text")
	logger.Error("both")

	assert.Contains(t, out.String(), "only text")
	assert.Contains(t, out.String(), "both")
	require.Len(t, b.Entries(), 1)
	assert.Equal(t, "both", b.Entries()[0].Message)
}
