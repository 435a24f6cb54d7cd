// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"time"

	"github.com/cloudzero/cloudzero-syncer/app/types"
)

// maxBackoffShift caps the exponent so the exponential delay cannot overflow.
const maxBackoffShift = 30

// RetryPolicy runs a single chunk with a bounded number of attempts.
//
// Attempt k (1-based) that fails with a retryable error is followed by a
// backoff sleep of Delay(k) before attempt k+1. A terminal error ends the
// chunk immediately. Abort is checked before every attempt and the backoff
// sleep returns early when the job is aborted.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Backoff   types.BackoffStrategy

	// Sleep waits for d. It returns an error when the wait was interrupted,
	// which ends the chunk as aborted. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Aborted reports whether the job was aborted. Defaults to never.
	Aborted func() bool
	// OnRetry is called after a retryable failure, before the backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delay is the backoff after the given failed attempt.
func (r RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || r.BaseDelay <= 0 {
		return 0
	}
	if r.Backoff == types.BackoffExponential {
		shift := min(attempt-1, maxBackoffShift)
		return r.BaseDelay * time.Duration(int64(1)<<shift)
	}
	return r.BaseDelay * time.Duration(attempt)
}

// Run executes chunk until it succeeds, fails terminally, exhausts its
// attempts or the job is aborted.
func (r RetryPolicy) Run(ctx context.Context, exec types.Executor, chunk types.Chunk) types.ChunkResult {
	attempts := max(r.Attempts, 1)
	res := types.ChunkResult{Index: chunk.Index}

	for k := 1; k <= attempts; k++ {
		if r.aborted() {
			res.Aborted = true
			res.Error = types.AbortMessage
			return res
		}

		res.Attempts = k
		metricChunkAttemptsTotal.WithLabelValues().Inc()

		err := exec.Execute(ctx, chunk)
		if err == nil {
			res.Success = true
			res.ProcessedCount = chunk.Size()
			res.Error = ""
			res.Retryable = false
			return res
		}

		if r.aborted() {
			// the failure may be the cancelled call itself
			res.Aborted = true
			res.Error = types.AbortMessage
			return res
		}

		res.Error = types.ErrorMessage(err)
		res.Retryable = types.IsRetryable(err)
		if !res.Retryable || k == attempts {
			return res
		}

		delay := r.Delay(k)
		if r.OnRetry != nil {
			r.OnRetry(k, delay, err)
		}
		metricChunkRetriesTotal.WithLabelValues().Inc()

		if err := r.sleep(ctx, delay); err != nil {
			res.Aborted = true
			res.Error = types.ErrorMessage(err)
			return res
		}
	}

	return res
}

func (r RetryPolicy) aborted() bool {
	return r.Aborted != nil && r.Aborted()
}

func (r RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
