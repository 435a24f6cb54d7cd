// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package parallel_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudzero/cloudzero-syncer/app/utils/parallel"
)

func TestUnit_Parallel_Semaphore_InvalidPermits(t *testing.T) {
	for _, n := range []int{0, -1} {
		s, err := parallel.NewSemaphore(n)
		require.ErrorIs(t, err, parallel.ErrInvalidPermits)
		require.Nil(t, s)
	}
}

func TestUnit_Parallel_Semaphore_NeverExceedsMax(t *testing.T) {
	const permits = 3
	s, err := parallel.NewSemaphore(permits)
	require.NoError(t, err)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Execute(context.Background(), func(ctx context.Context) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxActive.Load()), permits)
	assert.LessOrEqual(t, s.Peak(), permits)
	assert.Equal(t, permits, s.Available())
	assert.Equal(t, 0, s.InUse())
}

func TestUnit_Parallel_Semaphore_ExecuteReleasesOnError(t *testing.T) {
	s, err := parallel.NewSemaphore(1)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Execute(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.Available())
}

func TestUnit_Parallel_Semaphore_ExecuteReleasesOnPanic(t *testing.T) {
	s, err := parallel.NewSemaphore(2)
	require.NoError(t, err)

	func() {
		defer func() {
			require.NotNil(t, recover())
		}()
		_ = s.Execute(context.Background(), func(context.Context) error { panic("boom") })
	}()

	assert.Equal(t, 2, s.Available())
	assert.Equal(t, 0, s.InUse())
}

func TestUnit_Parallel_Semaphore_AcquireHonoursContext(t *testing.T) {
	s, err := parallel.NewSemaphore(1)
	require.NoError(t, err)
	require.True(t, s.TryAcquire())
	require.False(t, s.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, s.InUse())

	s.Release()
	assert.Equal(t, 1, s.Available())
}

func TestUnit_Parallel_Semaphore_FIFOWakeup(t *testing.T) {
	s, err := parallel.NewSemaphore(1)
	require.NoError(t, err)
	require.NoError(t, s.Acquire(context.Background()))

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			_ = s.Execute(context.Background(), func(context.Context) error {
				order <- i
				return nil
			})
		}(i)
		// let each waiter enqueue before the next one
		time.Sleep(10 * time.Millisecond)
	}

	s.Release()
	for want := 0; want < 3; want++ {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("waiter was never woken")
		}
	}
}

func TestUnit_Parallel_Semaphore_ReleaseWithoutAcquirePanics(t *testing.T) {
	s, err := parallel.NewSemaphore(1)
	require.NoError(t, err)
	assert.Panics(t, func() { s.Release() })
}
