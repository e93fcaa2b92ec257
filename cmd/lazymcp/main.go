package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nstogner/lazymcp/pkg/backend"
	"github.com/nstogner/lazymcp/pkg/channel/websocket"
	"github.com/nstogner/lazymcp/pkg/config"
	"github.com/nstogner/lazymcp/pkg/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup logging. The terminal belongs to the UI, so logs go to a file.
	f, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer f.Close()

	level, _ := config.ParseLevel(cfg.Log.Level)
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})))
	slog.Info("Logging initialized", "level", level)

	chatURL, err := cfg.ChatURL()
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	ch, err := websocket.Dial(ctx, chatURL, websocket.WithLogger(slog.Default()))
	if err != nil {
		slog.Error("Failed to connect to agent backend", "url", chatURL, "error", err)
		fmt.Printf("Error: could not connect to %s: %v\n", chatURL, err)
		os.Exit(1)
	}

	ctrl := session.New(backend.New(cfg.Client.BackendURL, cfg.Client.HTTPTimeout), ch, session.Options{
		DefaultAgent:        cfg.Client.DefaultAgent,
		LogPollInterval:     cfg.Client.LogPollInterval,
		ConfirmationTimeout: cfg.Client.ConfirmationTimeout,
		MaxLogEntries:       cfg.Client.MaxLogEntries,
		Logger:              slog.Default(),
	})
	defer ctrl.Close()

	m := initialModel(ctx, ctrl)

	go func() {
		if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Session ended", "error", err)
		}
	}()

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		slog.Error("Error running program", "error", err)
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}
