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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/app"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/config"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice service with its UI bridge, health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Duration("watch-interval", 5*time.Second, "how often to poll the config file for changes")
	cmd.Flags().String("service-version", "dev", "service version reported in telemetry")
	cmd.Flags().Float64("trace-sample-ratio", 1, "fraction of new traces to sample")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	interval, _ := cmd.Flags().GetDuration("watch-interval")
	version, _ := cmd.Flags().GetString("service-version")
	sampleRatio, _ := cmd.Flags().GetFloat64("trace-sample-ratio")

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Configuration and logger ──────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(path, func(old, new *config.Config) {
		application.ApplyConfig(old, new)
	}, config.WithInterval(interval))
	if err != nil {
		return err
	}
	cfg := watcher.Current()

	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("focusvoice starting",
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    sampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return err
	}

	application, err = app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(level),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           application.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := watcher.Reload(); err != nil {
					slog.Warn("config reload on SIGHUP rejected", "err", err)
				}
			}
		}
	})
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		watcher.Stop()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		return application.Shutdown(sctx)
	})

	slog.Info("server ready; press Ctrl+C to shut down")
	if err := g.Wait(); err != nil {
		slog.Error("focusvoice stopped with error", "err", err)
		return err
	}
	slog.Info("goodbye")
	return nil
}
