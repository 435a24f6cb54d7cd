// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cloudzero/cloudzero-syncer/app/bus"
	config "github.com/cloudzero/cloudzero-syncer/app/config/syncer"
	"github.com/cloudzero/cloudzero-syncer/app/domain/executor"
	"github.com/cloudzero/cloudzero-syncer/app/logging"
	"github.com/cloudzero/cloudzero-syncer/app/storage/reports"
	"github.com/cloudzero/cloudzero-syncer/app/storage/sqlite"
	"github.com/cloudzero/cloudzero-syncer/app/types"
)

// app holds what every command needs.
type app struct {
	settings *config.Settings
	logger   *zerolog.Logger
	bus      *bus.Bus
	exec     types.Executor
	closers  []func() error
}

func newApp(cmd *cobra.Command) (*app, context.Context, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}

	settings, err := config.NewSettings(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}

	a := &app{settings: settings, bus: bus.New()}

	loggingOpts := []logging.LoggerOpt{
		logging.WithLevel(settings.Logging.Level),
		logging.WithSink(logging.NewFieldFilterWriter(os.Stderr, settings.Logging.Omit)),
	}
	if settings.Logging.Broadcast {
		loggingOpts = append(loggingOpts, logging.WithSink(logging.BusWriter(a.bus)))
	}
	a.logger, err = logging.NewLogger(loggingOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create the logger: %w", err)
	}
	zerolog.DefaultContextLogger = a.logger
	ctx := a.logger.WithContext(cmd.Context())

	if err := a.setupExecutor(ctx); err != nil {
		return nil, nil, err
	}
	return a, ctx, nil
}

func (a *app) setupExecutor(ctx context.Context) error {
	var keys executor.KeyProvider
	if path := a.settings.Remote.APIKeyPath; path != "" {
		fileKey, err := executor.NewFileKey(path)
		if err != nil {
			return err
		}
		if a.settings.Remote.WatchAPIKey {
			if err := fileKey.Watch(ctx); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("API key changes will not be picked up")
			}
		}
		a.closers = append(a.closers, fileKey.Close)
		keys = fileKey
	}

	client := executor.NewHTTPClient(ctx, a.settings)
	a.exec = executor.NewHTTPExecutor(client.StandardClient(), a.settings, keys)
	return nil
}

// reportStore opens the run history database.
func (a *app) reportStore() (*reports.ReportRepoImpl, error) {
	db, err := sqlite.NewSQLiteDriver(a.settings.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open the run history database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlDB.Close)

	return reports.NewReportRepo(db)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
