// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package core holds the gorm plumbing shared by every repository: driver
// setup, context-carried transactions, error translation and logging.
//
// Timestamps written through gorm are UTC truncated to milliseconds so run
// reports sort the same way regardless of the backend.
package core

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// NewDriver opens a gorm database with the syncer defaults applied.
//
//	db, err := core.NewDriver(sqlite.Open("syncer.db"))
func NewDriver(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		NowFunc:        DatabaseNow,
		Logger:         &ZeroLogAdapter{},
		TranslateError: true,
	})
}

// DatabaseNow is the clock used for gorm managed timestamps.
func DatabaseNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
