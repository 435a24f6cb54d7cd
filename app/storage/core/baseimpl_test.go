// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cloudzero/cloudzero-syncer/app/storage/core"
	"github.com/cloudzero/cloudzero-syncer/app/types"
)

type note struct {
	ID   uint `gorm:"primaryKey"`
	Body string
}

func newNotesRepo(t *testing.T) *core.BaseRepoImpl {
	t.Helper()
	db, err := core.NewDriver(sqlite.Open(":memory:"))
	require.NoError(t, err, "failed to get the new driver")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&note{}))

	repo := core.NewBaseRepoImpl(db, &note{})
	return &repo
}

func TestUnit_Storage_Core_Context(t *testing.T) {
	db := &gorm.DB{}

	from, found := core.FromContext(context.Background())
	assert.Nil(t, from)
	assert.False(t, found)

	ctxTx := core.NewContext(context.Background(), db)
	from, found = core.FromContext(ctxTx)
	assert.Same(t, db, from)
	assert.True(t, found)
}

func TestUnit_Storage_Core_TxCommit(t *testing.T) {
	repo := newNotesRepo(t)
	ctx := t.Context()

	err := repo.Tx(ctx, func(ctxTx context.Context) error {
		_, found := core.FromContext(ctxTx)
		assert.True(t, found)
		return repo.DB(ctxTx).Create(&note{Body: "one"}).Error
	})
	require.NoError(t, err)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnit_Storage_Core_TxRollback(t *testing.T) {
	repo := newNotesRepo(t)
	ctx := t.Context()
	boom := errors.New("boom")

	err := repo.Tx(ctx, func(ctxTx context.Context) error {
		require.NoError(t, repo.DB(ctxTx).Create(&note{Body: "one"}).Error)
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnit_Storage_Core_DeleteAll(t *testing.T) {
	repo := newNotesRepo(t)
	ctx := t.Context()

	require.NoError(t, repo.DB(ctx).Create(&[]note{{Body: "a"}, {Body: "b"}}).Error)
	require.NoError(t, repo.DeleteAll(ctx))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnit_Storage_Core_TranslateError(t *testing.T) {
	assert.NoError(t, core.TranslateError(nil))
	assert.ErrorIs(t, core.TranslateError(gorm.ErrRecordNotFound), types.ErrNotFound)
	assert.ErrorIs(t, core.TranslateError(gorm.ErrDuplicatedKey), types.ErrDuplicateKey)
	assert.ErrorIs(t, core.TranslateError(gorm.ErrMissingWhereClause), types.ErrMissingWhereClause)

	other := errors.New("other")
	assert.Same(t, other, core.TranslateError(other))
}
