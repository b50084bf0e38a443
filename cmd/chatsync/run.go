package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/api"
	"chatsync/internal/config"
	"chatsync/internal/metrics"
	"chatsync/internal/store"
	"chatsync/internal/syncer"
	"chatsync/internal/throttle"
	"chatsync/internal/transport"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect and keep the local store synchronized",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			logger = newLogger(cfg.General.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDaemon(ctx, cfg)
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	token := func() string {
		// Prefer the live environment so a rotated token is picked up on
		// the next reconnect without a restart.
		if tok := os.Getenv("CHATSYNC_TOKEN"); tok != "" {
			return tok
		}
		return cfg.Server.Token
	}

	st := store.New(cfg.Store.MaxMessagesPerConversation, logger)

	tr := transport.New(transport.Config{
		URL:                  cfg.Server.WebSocketURL,
		Token:                token,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectDelay:       time.Duration(cfg.Reconnect.DelaySeconds) * time.Second,
		Logger:               logger,
	})
	defer tr.Close()

	// Seed history before the live stream starts mutating the store; a
	// failed seed is not fatal, the resync handshake covers the gap.
	if cfg.Server.APIURL != "" {
		seedCtx, cancel := context.WithTimeout(ctx, time.Minute)
		if err := api.New(cfg.Server.APIURL, token, logger).Seed(seedCtx, st); err != nil {
			logger.Warn("initial seed failed, relying on resync", "error", err)
		}
		cancel()
	}

	s := syncer.New(syncer.Config{
		Transport: tr,
		Store:     st,
		Throttle: throttle.Config{
			Defaults: throttle.Limits{
				PerSecond: cfg.Throttle.PerSecond,
				Burst:     cfg.Throttle.Burst,
			},
			PerEvent: cfg.Throttle.PerEvent,
		},
		Logger: logger,
	})
	s.Start(ctx)
	defer s.Close()

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.Addr, st)
	}

	logger.Info("chatsync running", "ws", cfg.Server.WebSocketURL)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func serveMetrics(ctx context.Context, addr string, st *store.Store) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.StoreSize(st.Size())
		metrics.Collector.Handler()(w, r)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
