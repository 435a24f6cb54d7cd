// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ccoveille/go-safecast"
	"golang.org/x/sync/semaphore"
)

// ErrInvalidPermits is returned when a semaphore is created with fewer than
// one permit.
var ErrInvalidPermits = errors.New("semaphore requires at least one permit")

// Semaphore is a counting concurrency limiter. Waiters are admitted in FIFO
// order, so a released permit always goes to the oldest waiter.
type Semaphore struct {
	max   int64
	sem   *semaphore.Weighted
	inUse atomic.Int64
	peak  atomic.Int64
}

// NewSemaphore creates a semaphore with the given number of permits.
func NewSemaphore(permits int) (*Semaphore, error) {
	if permits <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPermits, permits)
	}
	n, err := safecast.Convert[int64](permits)
	if err != nil {
		return nil, fmt.Errorf("invalid permit count: %w", err)
	}
	return &Semaphore{
		max: n,
		sem: semaphore.NewWeighted(n),
	}, nil
}

// Acquire blocks until a permit is available or ctx is done. On success the
// caller owns one permit and must call Release.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.taken()
	return nil
}

// TryAcquire takes a permit without blocking and reports whether it did.
func (s *Semaphore) TryAcquire() bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	s.taken()
	return true
}

func (s *Semaphore) taken() {
	n := s.inUse.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Release returns a permit to the pool. Releasing a permit that was never
// acquired panics.
func (s *Semaphore) Release() {
	if s.inUse.Add(-1) < 0 {
		panic("parallel: semaphore released more permits than acquired")
	}
	s.sem.Release(1)
}

// Execute acquires a permit, runs fn and releases the permit on every exit
// path, including a panic in fn.
func (s *Semaphore) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn(ctx)
}

// Size is the configured number of permits.
func (s *Semaphore) Size() int {
	return int(s.max)
}

// InUse is the number of permits currently held.
func (s *Semaphore) InUse() int {
	return int(s.inUse.Load())
}

// Available is the number of permits that can be acquired without blocking.
func (s *Semaphore) Available() int {
	return int(s.max - s.inUse.Load())
}

// Peak is the highest number of permits held at the same time.
func (s *Semaphore) Peak() int {
	return int(s.peak.Load())
}
