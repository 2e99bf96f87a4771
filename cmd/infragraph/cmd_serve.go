// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	knowledge_graph "github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/config"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/telemetry"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/temporal"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the knowledge graph API server",
		Long: `Start the HTTP API under /v1/graph together with the snapshot
scheduler and the federation health monitor.

Metrics are served on /metrics when the prometheus exporter is enabled.
With governance.policy_watch the rules file is reloaded on change.
SIGINT or SIGTERM triggers a graceful shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	return cmd
}

// =============================================================================
// SERVER
// =============================================================================

// runServe blocks until ctx is cancelled or the listener fails.
func runServe(ctx context.Context, cfg *config.Config) error {
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		_ = shutdownTelemetry(context.Background())
		return err
	}
	logger := a.logger

	hub := knowledge_graph.NewApprovalHub(logger.With(slog.String("component", "approval_stream")))
	hub.Attach(a.governor)

	handlerOpts := []knowledge_graph.HandlerOption{
		knowledge_graph.WithApprovalHub(hub),
		knowledge_graph.WithRetention(cfg.RetentionPolicy()),
		knowledge_graph.WithLogger(logger.With(slog.String("component", "api"))),
	}
	if a.rules != nil {
		handlerOpts = append(handlerOpts, knowledge_graph.WithPolicyRules(a.rules))
	}
	handlers := knowledge_graph.NewHandlers(a.governor, a.snapshots, a.federation, handlerOpts...)

	if a.influx != nil {
		if err := a.influx.Ping(ctx); err != nil {
			logger.Warn("influxdb unreachable, snapshot export will retry per snapshot",
				slog.String("url", cfg.Temporal.Influx.URL),
				slog.String("error", err.Error()),
			)
		}
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if cfg.Server.Mode == gin.DebugMode {
		router.Use(gin.Logger())
	}
	if cfg.Server.RateLimit > 0 {
		limiter := knowledge_graph.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst,
			logger.With(slog.String("component", "ratelimit")))
		router.Use(limiter.Middleware())
	}
	if cfg.Telemetry.MetricExporter == "prometheus" {
		router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	}
	knowledge_graph.RegisterRoutes(router.Group("/v1"), handlers)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var scheduler *temporal.Scheduler
	if cfg.Temporal.Schedule > 0 {
		scheduler, err = temporal.NewScheduler(a.snapshots, cfg.SchedulerConfig(), logger.With(slog.String("component", "scheduler")))
		if err != nil {
			hub.Close()
			_ = a.Close()
			_ = shutdownTelemetry(context.Background())
			return err
		}
		scheduler.Start()
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Governance.PolicyWatch && a.rules != nil {
		if err := a.rules.Start(gctx); err != nil {
			logger.Warn("policy file watch disabled", slog.String("error", err.Error()))
		}
	}

	var monitorDone <-chan struct{}
	if cfg.Federation.HealthInterval > 0 && len(cfg.Federation.Peers) > 0 {
		monitorDone = a.federation.StartHealthMonitor(gctx, cfg.Federation.HealthInterval)
	}

	g.Go(func() error {
		logger.Info("infragraph listening",
			slog.String("address", cfg.Server.Addr),
			slog.String("namespace", cfg.Federation.LocalNamespace),
			slog.String("backend", cfg.Storage.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down infragraph")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		hub.Close()
		errs := []error{srv.Shutdown(shutdownCtx)}
		if scheduler != nil {
			scheduler.Stop()
		}
		if monitorDone != nil {
			<-monitorDone
		}
		if a.rules != nil {
			a.rules.Wait()
		}
		errs = append(errs, a.Close(), shutdownTelemetry(shutdownCtx))
		return errors.Join(errs...)
	})

	return g.Wait()
}
