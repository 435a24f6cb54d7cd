// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a processing job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress is a point-in-time snapshot of a processing job. Snapshots handed
// out by the processor are copies and never alias live state.
type Progress struct {
	JobID            string    `json:"jobId"`
	TotalRecords     int       `json:"totalRecords"`
	ProcessedRecords int       `json:"processedRecords"`
	CurrentChunk     int       `json:"currentChunk"`
	TotalChunks      int       `json:"totalChunks"`
	Percentage       int       `json:"percentage"`
	Status           Status    `json:"status"`
	Errors           []string  `json:"errors"`
	StartTime        time.Time `json:"startTime"`
	// EstimatedTimeRemainingMs is nil until at least one record was processed.
	EstimatedTimeRemainingMs *int64 `json:"estimatedTimeRemainingMs,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (p Progress) Clone() Progress {
	out := p
	out.Errors = slices.Clone(p.Errors)
	if out.Errors == nil {
		out.Errors = []string{}
	}
	if p.EstimatedTimeRemainingMs != nil {
		eta := *p.EstimatedTimeRemainingMs
		out.EstimatedTimeRemainingMs = &eta
	}
	return out
}

// PartialFailure reports a completed job that still recorded chunk errors.
func (p Progress) PartialFailure() bool {
	return p.Status == StatusCompleted && len(p.Errors) > 0
}
