// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"fmt"
	"sync"
	"time"

	"github.com/cloudzero/cloudzero-syncer/app/types"
)

// Tracker owns the live progress of a job. Every method returns a deep copy
// of the state after the update.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	state types.Progress
}

// NewTracker returns a tracker in the pending state.
func NewTracker(jobID string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now: now,
		state: types.Progress{
			JobID:  jobID,
			Status: types.StatusPending,
			Errors: []string{},
		},
	}
}

// Start moves a pending job to processing. It returns false if the job has
// already left the pending state.
func (t *Tracker) Start(totalRecords, totalChunks int) (types.Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != types.StatusPending {
		return t.snapshotLocked(), false
	}
	t.state.TotalRecords = totalRecords
	t.state.TotalChunks = totalChunks
	t.state.StartTime = t.now()
	t.state.Status = types.StatusProcessing
	return t.snapshotLocked(), true
}

// ChunkStarted records that the chunk with the given index began executing.
// CurrentChunk never decreases.
func (t *Tracker) ChunkStarted(index int) types.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.CurrentChunk = max(t.state.CurrentChunk, index+1)
	return t.snapshotLocked()
}

// ChunkSucceeded adds count to the processed total.
func (t *Tracker) ChunkSucceeded(count int) types.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.ProcessedRecords = min(t.state.ProcessedRecords+count, t.state.TotalRecords)
	return t.snapshotLocked()
}

// ChunkFailed appends the chunk error for the chunk with the given index.
func (t *Tracker) ChunkFailed(index int, msg string) types.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Errors = append(t.state.Errors, fmt.Sprintf("Chunk %d: %s", index+1, msg))
	return t.snapshotLocked()
}

// Pause moves a processing job to paused.
func (t *Tracker) Pause() (types.Progress, bool) {
	return t.move(types.StatusPaused, types.StatusProcessing)
}

// Resume moves a paused job back to processing.
func (t *Tracker) Resume() (types.Progress, bool) {
	return t.move(types.StatusProcessing, types.StatusPaused)
}

// Complete ends a processing or paused job successfully.
func (t *Tracker) Complete() (types.Progress, bool) {
	return t.move(types.StatusCompleted, types.StatusProcessing, types.StatusPaused)
}

// Fail ends any non-terminal job and appends msg to its errors.
func (t *Tracker) Fail(msg string) (types.Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status.Terminal() {
		return t.snapshotLocked(), false
	}
	t.state.Status = types.StatusFailed
	t.state.Errors = append(t.state.Errors, msg)
	return t.snapshotLocked(), true
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() types.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) move(to types.Status, from ...types.Status) (types.Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range from {
		if t.state.Status == s {
			t.state.Status = to
			return t.snapshotLocked(), true
		}
	}
	return t.snapshotLocked(), false
}

func (t *Tracker) snapshotLocked() types.Progress {
	t.state.Percentage = percentage(t.state)
	t.state.EstimatedTimeRemainingMs = t.etaLocked()
	return t.state.Clone()
}

func percentage(p types.Progress) int {
	if p.TotalRecords <= 0 {
		if p.Status == types.StatusCompleted {
			return 100
		}
		return 0
	}
	return p.ProcessedRecords * 100 / p.TotalRecords
}

// etaLocked extrapolates the remaining time from the average rate so far.
func (t *Tracker) etaLocked() *int64 {
	p := t.state
	switch {
	case p.Status.Terminal():
		zero := int64(0)
		return &zero
	case p.ProcessedRecords <= 0 || p.StartTime.IsZero():
		return nil
	}

	elapsed := max(t.now().Sub(p.StartTime).Milliseconds(), 1)
	remaining := int64(p.TotalRecords - p.ProcessedRecords)
	eta := elapsed * remaining / int64(p.ProcessedRecords)
	return &eta
}
