package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nstogner/lazymcp/pkg/config"
	"github.com/nstogner/lazymcp/pkg/model"
	"github.com/nstogner/lazymcp/pkg/model/echo"
	"github.com/nstogner/lazymcp/pkg/model/gemini"
	"github.com/nstogner/lazymcp/pkg/server"
	"github.com/nstogner/lazymcp/pkg/store/sqlite"
	"github.com/nstogner/lazymcp/pkg/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger.
	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store.
	os.MkdirAll(filepath.Dir(cfg.Server.DBPath), 0755)
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize model provider.
	var provider model.Provider
	switch cfg.Server.Provider {
	case "gemini":
		if cfg.Server.GeminiAPIKey == "" {
			slog.Error("GEMINI_API_KEY environment variable not set")
			os.Exit(1)
		}
		provider, err = gemini.New(ctx, cfg.Server.GeminiAPIKey, cfg.Server.Model)
		if err != nil {
			slog.Error("Failed to initialize Gemini provider", "error", err)
			os.Exit(1)
		}
	default:
		provider = echo.New()
	}

	// Initialize tools.
	registry := tools.NewRegistry()
	if err := os.MkdirAll(cfg.Server.Workspace, 0755); err != nil {
		slog.Error("Failed to create workspace", "path", cfg.Server.Workspace, "error", err)
		os.Exit(1)
	}
	workspace, _ := filepath.Abs(cfg.Server.Workspace)
	tools.RegisterFiles(registry, workspace)

	srv := server.New(store, provider, registry, cfg.Server.Instructions)
	if err := srv.Init(ctx); err != nil {
		slog.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	if err := srv.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
