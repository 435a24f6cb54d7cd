// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the payload associated with a single work item. The payload is
// kept opaque; only the remote endpoint interprets it.
type Record struct {
	Serial string          `json:"serial"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// WorkItem pairs a serial with its resolved record, if any.
type WorkItem struct {
	Serial string
	Record *Record
}

// Resolved reports whether the work item has a payload.
func (w WorkItem) Resolved() bool {
	return w.Record != nil
}

// Chunk is an ordered, immutable slice of the overall work-item sequence.
// Serials always contains every planned serial; Records only contains the
// payloads that could be resolved.
type Chunk struct {
	Index   int      `json:"index"`
	Serials []string `json:"serials"`
	Records []Record `json:"records"`
}

// Size is the number of work items the chunk accounts for.
func (c Chunk) Size() int {
	return len(c.Serials)
}

// ChunkResult is the terminal outcome of running the retry policy for one
// chunk.
type ChunkResult struct {
	Index          int    `json:"index"`
	Success        bool   `json:"success"`
	ProcessedCount int    `json:"processedCount"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
	Retryable      bool   `json:"retryable"`
	// Aborted is set when the job was aborted before the chunk could reach
	// success or exhaust its attempts.
	Aborted bool `json:"aborted,omitempty"`
}

// Executor processes one chunk against the remote endpoint. A nil error means
// the chunk was accepted. Errors are classified with IsRetryable: a
// *RemoteError carries an explicit hint, anything else is treated as a
// transport failure and therefore retryable.
type Executor interface {
	Execute(ctx context.Context, chunk Chunk) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, chunk Chunk) error

// Execute calls f(ctx, chunk).
func (f ExecutorFunc) Execute(ctx context.Context, chunk Chunk) error {
	return f(ctx, chunk)
}

// BackoffStrategy selects how the delay between attempts grows.
type BackoffStrategy string

const (
	// BackoffLinear waits base*k after attempt k.
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential waits base*2^(k-1) after attempt k.
	BackoffExponential BackoffStrategy = "exponential"
)

// ProcessingConfig is the immutable configuration of a processing job.
type ProcessingConfig struct {
	ChunkSize          int
	Concurrency        int
	RetryAttempts      int
	RetryDelayBase     time.Duration
	PauseBetweenChunks time.Duration
	Backoff            BackoffStrategy
	// CancelInFlight makes Abort cancel the context of executor calls that
	// are already running. When false, abort only prevents new calls.
	CancelInFlight bool
	// SkipUnresolved drops work items without a record before planning.
	SkipUnresolved bool
}
