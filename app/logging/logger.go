// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the zerolog loggers used across the syncer.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudzero/cloudzero-syncer/app/build"
)

type loggerConfig struct {
	level   zerolog.Level
	sinks   []io.Writer
	attrs   []func(zerolog.Context) zerolog.Context
	version string
	omit    []string
}

// LoggerOpt configures NewLogger.
type LoggerOpt func(*loggerConfig) error

// WithLevel sets the minimum level. An empty string keeps the default (info).
func WithLevel(level string) LoggerOpt {
	return func(c *loggerConfig) error {
		if level == "" {
			return nil
		}
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		c.level = lvl
		return nil
	}
}

// WithSink adds a destination. Without any sink the logger writes to stdout.
func WithSink(w io.Writer) LoggerOpt {
	return func(c *loggerConfig) error {
		if w != nil {
			c.sinks = append(c.sinks, w)
		}
		return nil
	}
}

// WithAttrs adds fields to every log line.
func WithAttrs(fn func(zerolog.Context) zerolog.Context) LoggerOpt {
	return func(c *loggerConfig) error {
		c.attrs = append(c.attrs, fn)
		return nil
	}
}

func WithVersion(version string) LoggerOpt {
	return func(c *loggerConfig) error {
		c.version = version
		return nil
	}
}

// WithOmitFields drops the named fields from the default stdout sink.
func WithOmitFields(fields ...string) LoggerOpt {
	return func(c *loggerConfig) error {
		c.omit = append(c.omit, fields...)
		return nil
	}
}

// NewLogger creates a logger writing JSON lines to every configured sink.
func NewLogger(opts ...LoggerOpt) (*zerolog.Logger, error) {
	cfg := &loggerConfig{
		level:   zerolog.InfoLevel,
		version: build.GetVersion(),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.sinks) == 0 {
		var out io.Writer = os.Stdout
		if len(cfg.omit) > 0 {
			out = NewFieldFilterWriter(out, cfg.omit)
		}
		cfg.sinks = append(cfg.sinks, out)
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	ctx := zerolog.New(zerolog.MultiLevelWriter(cfg.sinks...)).
		Level(cfg.level).
		With().
		Timestamp().
		Str("version", cfg.version)
	for _, fn := range cfg.attrs {
		ctx = fn(ctx)
	}

	logger := ctx.Logger()
	return &logger, nil
}
