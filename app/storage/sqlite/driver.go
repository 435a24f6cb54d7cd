// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite opens the sqlite database holding run history.
package sqlite

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cloudzero/cloudzero-syncer/app/storage/core"
)

const (
	// InMemoryDSN is private to a single connection.
	InMemoryDSN = ":memory:"
	// MemorySharedCached is an in-memory database shared by every
	// connection in the process.
	MemorySharedCached = "file:memory?mode=memory&cache=shared"
)

// NewSQLiteDriver opens dsn with the core driver settings.
func NewSQLiteDriver(dsn string) (*gorm.DB, error) {
	db, err := core.NewDriver(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}

	// sqlite serialises writers; one connection avoids SQLITE_BUSY and keeps
	// :memory: databases from splitting across connections.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}
