// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StorageCommon defines the operations every repository built on the core
// storage package provides.
type StorageCommon interface {
	// Tx runs block within a database transaction. If block returns an error
	// the transaction is rolled back, otherwise it is committed.
	Tx(ctx context.Context, block func(ctxTx context.Context) error) error

	// Count returns the total number of records in the repository.
	Count(ctx context.Context) (int, error)

	// DeleteAll removes all records from the repository.
	DeleteAll(ctx context.Context) error
}

// Creator is implemented by repositories whose records can be created.
type Creator[Model any] interface {
	// Create stores a new record. It may modify the input (e.g. to set the ID).
	Create(ctx context.Context, it *Model) error
}

// Reader is implemented by repositories whose records can be read by ID.
type Reader[Model any, ID comparable] interface {
	// Get retrieves a record by ID, returning ErrNotFound when it is missing.
	Get(ctx context.Context, id ID) (*Model, error)
}

// Lister is implemented by repositories that can return their most recent
// records.
type Lister[Model any] interface {
	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]*Model, error)
}

// RunReport is the persisted summary of a finished processing job. It is an
// audit record only; jobs are never resumed from it.
type RunReport struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID            string    `gorm:"index" json:"jobId"`
	Status           Status    `json:"status"`
	TotalRecords     int       `json:"totalRecords"`
	ProcessedRecords int       `json:"processedRecords"`
	TotalChunks      int       `json:"totalChunks"`
	Percentage       int       `json:"percentage"`
	Errors           []string  `gorm:"serializer:json" json:"errors"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `gorm:"index" json:"finishedAt"`
}

// NewRunReport builds a report from the final snapshot of a job.
func NewRunReport(p Progress, finishedAt time.Time) *RunReport {
	final := p.Clone()
	return &RunReport{
		ID:               uuid.New(),
		JobID:            final.JobID,
		Status:           final.Status,
		TotalRecords:     final.TotalRecords,
		ProcessedRecords: final.ProcessedRecords,
		TotalChunks:      final.TotalChunks,
		Percentage:       final.Percentage,
		Errors:           final.Errors,
		StartedAt:        final.StartTime,
		FinishedAt:       finishedAt,
	}
}

// ReportStore persists run reports.
type ReportStore interface {
	StorageCommon
	Creator[RunReport]
	Reader[RunReport, uuid.UUID]
	Lister[RunReport]
}
