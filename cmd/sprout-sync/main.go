package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marcus/sprout/internal/api"
	"github.com/marcus/sprout/internal/auth"
	"github.com/marcus/sprout/internal/pgstore"
	"github.com/marcus/sprout/internal/remote"
	"github.com/marcus/sprout/internal/retry"
	"github.com/marcus/sprout/internal/serverlog"
)

func main() {
	// Route to token subcommand if present
	if len(os.Args) > 1 && os.Args[1] == "token" {
		runToken(os.Args[2:])
		return
	}

	cfg := api.LoadConfig()
	slog.SetDefault(slog.New(newHandler(cfg, os.Stderr)))

	signer, err := auth.NewSigner(cfg.JWTSecret)
	if err != nil {
		slog.Error("jwt secret", "err", err, "hint", "set SPROUT_SYNC_JWT_SECRET")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("open store", "backend", cfg.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	srv, err := api.NewServer(cfg, store, signer)
	if err != nil {
		slog.Error("create server", "err", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		slog.Error("start server", "err", err)
		os.Exit(1)
	}
	slog.Info("server started", "addr", cfg.ListenAddr, "backend", cfg.Backend)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}

func newHandler(cfg api.Config, w io.Writer) slog.Handler {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// openStore opens the configured backend. For Postgres it also starts the
// LISTEN loop that feeds realtime subscribers; it stops with ctx.
func openStore(ctx context.Context, cfg api.Config) (remote.Store, func(), error) {
	hub := remote.NewHub(cfg.StreamBuffer)

	switch cfg.Backend {
	case api.BackendSQLite, "":
		store, err := serverlog.Open(cfg.DBPath, hub)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case api.BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, errors.New("SPROUT_SYNC_POSTGRES_DSN is required for the postgres backend")
		}
		pool, err := pgstore.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(pool, hub)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		go func() {
			if err := store.Listen(ctx, retry.Reconnect()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("postgres listener stopped", "err", err)
			}
		}()
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q (want %s or %s)", cfg.Backend, api.BackendSQLite, api.BackendPostgres)
}
