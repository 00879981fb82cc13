// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/studybuddy/sentinel/pkg/api"
	"github.com/studybuddy/sentinel/pkg/config"
	"github.com/studybuddy/sentinel/pkg/runtime"
	"github.com/studybuddy/sentinel/pkg/telemetry"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	Addr  string
	Watch bool
}

func serveCmd(flags *globalFlags) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring services and the HTTP API",
		Long: `Run the monitoring services and the HTTP API.

Examples:
  sentinel serve --config config.yaml
  sentinel serve --addr :9090 --set storage.durable=true
  sentinel serve --set telemetry.exporter=prometheus`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default http.addr)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "apply config file changes without a restart")
	return cmd
}

func runServe(cmd *cobra.Command, flags *globalFlags, opts serveOptions) error {
	ctx := cmd.Context()
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	logger := telemetry.ConfigureSlog(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

	shutdownTelemetry, err := telemetry.InitWithConfig("sentinel", version, telemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry.shutdown.failed", slog.String("error", err.Error()))
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	rt, err := runtime.New(cfg,
		runtime.WithLogger(logger),
		runtime.WithMetrics(metrics),
		runtime.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	if err := rt.Start(ctx); err != nil {
		_ = rt.Stop(context.Background())
		return fmt.Errorf("runtime: %w", err)
	}
	defer func() {
		if err := rt.Stop(context.Background()); err != nil {
			logger.Warn("runtime.stop.failed", slog.String("error", err.Error()))
		}
	}()

	if opts.Watch && flags.ConfigPath != "" {
		watcher, _, err := config.WatchConfig(ctx, flags.ConfigPath,
			config.WithProfile(flags.Profile),
			config.WithWatchLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("config watch: %w", err)
		}
		defer watcher.Stop()
		watcher.OnChange(func(next *config.Config) {
			if err := rt.ApplyConfig(next); err != nil {
				logger.Error("config.apply.failed", slog.String("error", err.Error()))
			}
		})
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.HTTP.Addr
	}
	server := api.NewServer(rt,
		api.WithLogger(logger),
		api.WithMetricsHandler(telemetry.MetricsHandler()),
	)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serve.listen", slog.String("addr", addr), slog.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("serve.shutdown", slog.String("addr", addr))
		return httpServer.Shutdown(sctx)
	})
	return g.Wait()
}

func telemetryConfig(cfg config.TelemetryConfig) telemetry.Config {
	return telemetry.Config{
		Exporter:           cfg.Exporter,
		OTLPEndpoint:       cfg.Endpoint,
		OTLPInsecure:       cfg.Insecure,
		OTLPTimeoutSeconds: int(cfg.Timeout / time.Second),
	}
}
