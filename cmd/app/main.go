package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trailing_go/internal/api"
	"trailing_go/internal/app"
	"trailing_go/internal/infra/feed"

	_ "net/http/pprof" // For pprof profiling
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. System Bootstrapping
	configPath := defaultConfigPath
	if p := os.Getenv("TRAILING_CONFIG"); p != "" {
		configPath = p
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}
	defer bootstrap.Close()

	cfg := bootstrap.Config
	seq := bootstrap.Sequencer

	// 4. Sequencer (The Hotpath Loop)
	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		seq.Run(ctx)
	}()
	slog.InfoContext(ctx, "✅ Sequencer (Hotpath) started")

	// 5. Venue feed
	if cfg.Feed.WSURL != "" {
		worker := feed.NewWorker(feed.Config{
			URL:     cfg.Feed.WSURL,
			Source:  cfg.Feed.Source,
			Markets: cfg.Feed.Markets,
			Metrics: bootstrap.Metrics,
		}, seq.Inbox())
		if err := worker.Connect(ctx); err != nil {
			slog.Error("Failed to connect feed", slog.Any("error", err))
		}
		defer worker.Disconnect()
		slog.InfoContext(ctx, "✅ Feed worker started", slog.String("url", cfg.Feed.WSURL))
	}

	// 6. HTTP API
	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewServer(api.Config{
			Engine:    bootstrap.Engine,
			Sequencer: seq,
			Venue:     bootstrap.Venue,
			Records:   bootstrap.Records,
			Metrics:   bootstrap.Metrics,
		}).Handler(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", slog.Any("error", err))
			stop()
		}
	}()
	slog.InfoContext(ctx, "✅ HTTP API listening", slog.String("addr", cfg.HTTP.Addr))

	slog.InfoContext(ctx, "✨ Trailing engine fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.Any("error", err))
	}
	<-seqDone
}
