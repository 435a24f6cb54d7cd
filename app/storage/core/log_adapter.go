// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ZeroLogAdapter sends gorm logs to the zerolog logger carried by the
// context. Statements are logged at debug, failed statements at error.
type ZeroLogAdapter struct{}

var _ logger.Interface = ZeroLogAdapter{}

// LogMode is a no-op, the level comes from the context logger.
func (z ZeroLogAdapter) LogMode(logger.LogLevel) logger.Interface {
	return z
}

func (ZeroLogAdapter) Info(ctx context.Context, msg string, args ...interface{}) {
	zerolog.Ctx(ctx).Info().Msg(fmt.Sprintf(msg, args...))
}

func (ZeroLogAdapter) Warn(ctx context.Context, msg string, args ...interface{}) {
	zerolog.Ctx(ctx).Warn().Msg(fmt.Sprintf(msg, args...))
}

func (ZeroLogAdapter) Error(ctx context.Context, msg string, args ...interface{}) {
	zerolog.Ctx(ctx).Error().Msg(fmt.Sprintf(msg, args...))
}

func (ZeroLogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	l := zerolog.Ctx(ctx)

	var event *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		event = l.Error().Err(err)
	default:
		event = l.Debug()
	}
	if !event.Enabled() {
		return
	}

	sql, rows := fc()
	event.
		Dur("elapsed", time.Since(begin)).
		Str("sql", sql).
		Int64("rows", rows).
		Msg("query")
}
