// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/go-obvious/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cloudzero/cloudzero-syncer/app/build"
	"github.com/cloudzero/cloudzero-syncer/app/domain/healthz"
	"github.com/cloudzero/cloudzero-syncer/app/domain/runs"
	"github.com/cloudzero/cloudzero-syncer/app/domain/source"
	"github.com/cloudzero/cloudzero-syncer/app/handlers"
	"github.com/cloudzero/cloudzero-syncer/app/http/middleware"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane",
		RunE:  serve,
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	a, ctx, err := newApp(cmd)
	if err != nil {
		return err
	}
	logger := a.logger

	port, err := safecast.Convert[uint16](a.settings.Server.Port)
	if err != nil {
		return fmt.Errorf("invalid server port: %w", err)
	}

	store, err := a.reportStore()
	if err != nil {
		return err
	}
	loader, err := source.NewLoader(a.settings.Source)
	if err != nil {
		return err
	}
	manager, err := runs.NewManager(ctx, a.settings.ProcessingConfig(), a.exec,
		runs.WithReportStore(store),
		runs.WithRetention(a.settings.Server.RetainedRuns),
		runs.WithObserver(a.bus),
	)
	if err != nil {
		return err
	}

	checker := healthz.New()
	checker.Register("database", store.Ping)
	checker.Register("runs", manager.Healthy)

	go func() {
		HandleShutdownEvents(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Err(err).Msg("runs did not stop in time")
		}
		if err := a.Close(); err != nil {
			logger.Err(err).Msg("failed to release resources")
		}
		os.Exit(0)
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Panic().Interface("panic", r).Msg("application panicked, exiting")
		}
	}()

	mw := []server.Middleware{
		middleware.ContextLogger(logger),
		middleware.LoggingMiddlewareWrapper,
		middleware.PromHTTPMiddleware,
	}

	apis := []server.API{
		handlers.NewRunsAPI("/runs", manager, loader),
		handlers.NewPromMetricsAPI("/metrics", nil),
		handlers.NewHealthzAPI("/healthz", checker),
	}

	logger.Info().Uint16("port", port).Msg("Starting service")
	server.New(build.Version()).
		WithAddress(fmt.Sprintf(":%d", port)).
		WithMiddleware(mw...).
		WithAPIs(apis...).
		WithListener(server.HTTPListener()).
		Run(ctx)
	logger.Info().Msg("Service stopping")

	return nil
}

// HandleShutdownEvents blocks until SIGINT or SIGTERM.
func HandleShutdownEvents(ctx context.Context) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan

	log.Ctx(ctx).Info().Str("signal", sig.String()).Msg("Received signal, service stopping")
}
