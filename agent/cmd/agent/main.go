package main

import (
	"context"
	"errors"
	"fmt"
	"io"
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

	"github.com/obsidianstack/beacon/agent/internal/client"
	"github.com/obsidianstack/beacon/agent/internal/config"
	"github.com/obsidianstack/beacon/agent/internal/metrics"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("beacon-agent failed", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("beacon-agent", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "path to config file")
	inputPath := flags.StringP("input", "i", "-", "JSON-lines telemetry input file, - for stdin")
	flushTimeout := flags.Duration("flush-timeout", 5*time.Second, "how long to wait for delivery on shutdown")
	dumpMetrics := flags.Bool("dump-metrics", false, "write final counters to stderr on exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("beacon-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	level.Set(cfg.Agent.Level())

	opts, err := clientOptions(cfg.Agent, logger)
	if err != nil {
		return err
	}
	c, err := client.New(opts)
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"environment", cfg.Agent.Environment,
		"workers", cfg.Agent.Workers,
		"retry_delays", cfg.Agent.RetryDelays,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(c))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	// Hot reload applies the log level only; everything else needs a restart.
	g.Go(func() error {
		err := config.Watch(gctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Agent.Level())
			if changedBesidesLevel(cfg.Agent, updated.Agent) {
				slog.Warn("config changed; restart the agent to apply settings other than log_level")
			}
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		checkEndpointCert(gctx, opts)
		return nil
	})

	if addr := cfg.Agent.MetricsAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           newMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	in, closeInput, err := openInput(*inputPath)
	if err != nil {
		cancel()
		_ = g.Wait()
		c.Close(*flushTimeout)
		return err
	}
	defer closeInput()

	g.Go(func() error {
		n, err := feed(gctx, in, c)
		slog.Info("input finished", "items", n)
		if err != nil {
			return err
		}
		// The input running dry is a normal way for the agent to stop.
		cancel()
		return nil
	})

	werr := g.Wait()
	// Restore default signal handling so a second Ctrl-C aborts the flush.
	cancel()
	slog.Info("beacon-agent shutting down, flushing", "timeout", *flushTimeout)
	if !c.Close(*flushTimeout) {
		slog.Warn("flush timed out; undelivered telemetry was dropped")
	}
	if *dumpMetrics {
		if err := metrics.WriteText(os.Stderr, reg); err != nil {
			slog.Error("dump metrics", "err", err)
		}
	}
	return werr
}

func newMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" || path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
