// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package reports stores the final report of every finished run.
package reports

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cloudzero/cloudzero-syncer/app/storage/core"
	"github.com/cloudzero/cloudzero-syncer/app/types"
)

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 50

type ReportRepoImpl struct {
	core.BaseRepoImpl
}

var _ types.ReportStore = (*ReportRepoImpl)(nil)

// NewReportRepo migrates the report table and returns the repository.
func NewReportRepo(db *gorm.DB) (*ReportRepoImpl, error) {
	if err := db.AutoMigrate(&types.RunReport{}); err != nil {
		return nil, core.TranslateError(err)
	}
	return &ReportRepoImpl{BaseRepoImpl: core.NewBaseRepoImpl(db, &types.RunReport{})}, nil
}

func (r *ReportRepoImpl) Create(ctx context.Context, it *types.RunReport) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	if it.Errors == nil {
		it.Errors = []string{}
	}
	return core.TranslateError(r.DB(ctx).Create(it).Error)
}

func (r *ReportRepoImpl) Get(ctx context.Context, id uuid.UUID) (*types.RunReport, error) {
	var report types.RunReport
	if err := r.DB(ctx).Where("id = ?", id).First(&report).Error; err != nil {
		return nil, core.TranslateError(err)
	}
	return &report, nil
}

// List returns the most recently finished reports first.
func (r *ReportRepoImpl) List(ctx context.Context, limit int) ([]*types.RunReport, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []*types.RunReport
	err := r.DB(ctx).
		Order("finished_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, core.TranslateError(err)
	}
	return out, nil
}

// Ping checks the database connection.
func (r *ReportRepoImpl) Ping(ctx context.Context) error {
	sqlDB, err := r.DB(ctx).DB()
	if err != nil {
		return core.TranslateError(err)
	}
	return sqlDB.PingContext(ctx)
}
