package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/beacon/server/internal/api"
	"github.com/obsidianstack/beacon/server/internal/auth"
	"github.com/obsidianstack/beacon/server/internal/config"
	"github.com/obsidianstack/beacon/server/internal/receiver"
	"github.com/obsidianstack/beacon/server/internal/store"
	"github.com/obsidianstack/beacon/server/internal/ws"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("beacon-server failed", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("beacon-server", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "path to config file")
	debug := flags.Bool("debug", false, "log every received envelope")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("beacon-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"event_ttl", cfg.Server.Events.TTL,
		"rate_limit_rules", len(cfg.Server.RateLimits),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(cfg.Server.Events.TTL, cfg.Server.Events.MaxEvents)
	hub := ws.New(st, cfg.Server.WSInterval)
	prometheus.MustRegister(hub.Collectors()...)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           newMux(cfg.Server, st, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("beacon-server shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newMux mounts ingest, the REST API, the WebSocket hub and /metrics.
func newMux(cfg config.ServerConfig, st *store.Store, hub *ws.Hub) *http.ServeMux {
	rc := receiver.New(st, cfg.RateLimits, cfg.MaxBodyBytes, hub.Notify)
	authn := auth.Middleware(cfg.Auth.Mode, cfg.Auth.Keys())

	mux := http.NewServeMux()
	mux.Handle("/api/", authn(rc))
	mux.Handle("/api/v1/", api.New(st))
	mux.Handle("/ws/stream", hub)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
