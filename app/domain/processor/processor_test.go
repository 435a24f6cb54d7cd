// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package processor_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cloudzero/cloudzero-syncer/app/domain/processor"
	"github.com/cloudzero/cloudzero-syncer/app/types"
	"github.com/cloudzero/cloudzero-syncer/app/types/mocks"
)

// fakeExecutor counts calls per chunk and tracks how many calls overlap.
type fakeExecutor struct {
	delay time.Duration
	fn    func(ctx context.Context, chunk types.Chunk, attempt int) error

	mu     sync.Mutex
	calls  map[int]int
	sizes  map[int]int
	active atomic.Int32
	peak   atomic.Int32
}

func newFakeExecutor(fn func(ctx context.Context, chunk types.Chunk, attempt int) error) *fakeExecutor {
	return &fakeExecutor{fn: fn, calls: map[int]int{}, sizes: map[int]int{}}
}

func (f *fakeExecutor) Execute(ctx context.Context, chunk types.Chunk) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[chunk.Index]++
	f.sizes[chunk.Index] = len(chunk.Records)
	attempt := f.calls[chunk.Index]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx, chunk, attempt)
}

func (f *fakeExecutor) callsFor(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[index]
}

func (f *fakeExecutor) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// outcome collects every callback invocation.
type outcome struct {
	mu          sync.Mutex
	percentages []int
	completed   []types.Progress
	errs        []error
}

func (o *outcome) callbacks() processor.Callbacks {
	return processor.Callbacks{
		OnProgress: func(pct int) {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.percentages = append(o.percentages, pct)
		},
		OnComplete: func(final types.Progress) {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.completed = append(o.completed, final)
		},
		OnError: func(err error) {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.errs = append(o.errs, err)
		},
	}
}

func baseConfig() types.ProcessingConfig {
	return types.ProcessingConfig{
		ChunkSize:      100,
		Concurrency:    3,
		RetryAttempts:  3,
		RetryDelayBase: time.Millisecond,
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	exec := newFakeExecutor(nil)
	tests := []struct {
		name   string
		mutate func(c *types.ProcessingConfig)
	}{
		{"zero chunk size", func(c *types.ProcessingConfig) { c.ChunkSize = 0 }},
		{"zero concurrency", func(c *types.ProcessingConfig) { c.Concurrency = 0 }},
		{"zero attempts", func(c *types.ProcessingConfig) { c.RetryAttempts = 0 }},
		{"negative delay", func(c *types.ProcessingConfig) { c.RetryDelayBase = -time.Second }},
		{"negative cooldown", func(c *types.ProcessingConfig) { c.PauseBetweenChunks = -time.Second }},
		{"unknown backoff", func(c *types.ProcessingConfig) { c.Backoff = "fibonacci" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			_, err := processor.New(cfg, exec)
			require.ErrorIs(t, err, processor.ErrInvalidConfig)
		})
	}

	_, err := processor.New(baseConfig(), nil)
	require.ErrorIs(t, err, processor.ErrNilExecutor)
}

func TestNew_DefaultsBackoffToLinear(t *testing.T) {
	p, err := processor.New(baseConfig(), newFakeExecutor(nil), processor.WithJobID("job-42"))
	require.NoError(t, err)
	assert.Equal(t, types.BackoffLinear, p.Config().Backoff)
	assert.Equal(t, "job-42", p.JobID())
	assert.Equal(t, types.StatusPending, p.Snapshot().Status)
}

func TestProcess_AllChunksSucceed(t *testing.T) {
	exec := newFakeExecutor(nil)
	p, err := processor.New(baseConfig(), exec)
	require.NoError(t, err)

	serials, records := makeWork(250)
	var out outcome
	final, err := p.Process(context.Background(), serials, records, out.callbacks())
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.Equal(t, 250, final.TotalRecords)
	assert.Equal(t, 250, final.ProcessedRecords)
	assert.Equal(t, 3, final.TotalChunks)
	assert.Equal(t, 3, final.CurrentChunk)
	assert.Equal(t, 100, final.Percentage)
	assert.Empty(t, final.Errors)

	assert.Equal(t, map[int]int{0: 100, 1: 100, 2: 50}, exec.sizes)
	assert.Equal(t, 3, exec.totalCalls())

	require.Len(t, out.completed, 1)
	assert.Empty(t, out.errs)
	assert.Equal(t, final, out.completed[0])
	assert.True(t, slices.IsSorted(out.percentages), "progress must be monotonic: %v", out.percentages)
	assert.Equal(t, 100, out.percentages[len(out.percentages)-1])
}

func TestProcess_ChunkExhaustsRetries(t *testing.T) {
	exec := newFakeExecutor(func(_ context.Context, chunk types.Chunk, _ int) error {
		if chunk.Index == 1 {
			return types.NewRetryableError(503, "service unavailable")
		}
		return nil
	})
	p, err := processor.New(baseConfig(), exec)
	require.NoError(t, err)

	serials, records := makeWork(250)
	var out outcome
	final, err := p.Process(context.Background(), serials, records, out.callbacks())
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.Equal(t, []string{"Chunk 2: service unavailable"}, final.Errors)
	assert.Equal(t, 150, final.ProcessedRecords)
	assert.Equal(t, 60, final.Percentage)
	assert.True(t, final.PartialFailure())
	assert.Equal(t, 3, exec.callsFor(1))
	assert.Equal(t, 1, exec.callsFor(0))
	assert.Len(t, out.completed, 1)
	assert.Empty(t, out.errs)
}

func TestProcess_TerminalErrorAttemptedOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(types.NewTerminalError(422, "unknown serial")).
		Times(1)

	cfg := baseConfig()
	cfg.RetryAttempts = 5
	p, err := processor.New(cfg, exec)
	require.NoError(t, err)

	serials, records := makeWork(10)
	final, err := p.Process(context.Background(), serials, records, processor.Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.Equal(t, []string{"Chunk 1: unknown serial"}, final.Errors)
	assert.Zero(t, final.ProcessedRecords)
}

func TestProcess_RespectsConcurrencyCap(t *testing.T) {
	exec := newFakeExecutor(nil)
	exec.delay = 5 * time.Millisecond

	cfg := baseConfig()
	cfg.ChunkSize = 1
	cfg.Concurrency = 3
	p, err := processor.New(cfg, exec)
	require.NoError(t, err)

	serials, records := makeWork(24)
	final, err := p.Process(context.Background(), serials, records, processor.Callbacks{})
	require.NoError(t, err)

	assert.Equal(t, 24, final.ProcessedRecords)
	assert.LessOrEqual(t, int(exec.peak.Load()), 3)
	assert.LessOrEqual(t, p.PeakConcurrency(), 3)
	assert.GreaterOrEqual(t, p.PeakConcurrency(), 1)
}

func TestProcess_StartsChunksInPlanOrder(t *testing.T) {
	var mu sync.Mutex
	var started []int
	exec := newFakeExecutor(func(_ context.Context, chunk types.Chunk, _ int) error {
		mu.Lock()
		started = append(started, chunk.Index)
		mu.Unlock()
		return nil
	})

	cfg := baseConfig()
	cfg.ChunkSize = 1
	cfg.Concurrency = 1
	p, err := processor.New(cfg, exec)
	require.NoError(t, err)

	serials, records := makeWork(8)
	_, err = p.Process(context.Background(), serials, records, processor.Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, started)
}

func TestProcess_AbortAfterFirstChunk(t *testing.T) {
	exec := newFakeExecutor(nil)
	cfg := baseConfig()
	cfg.Concurrency = 1

	p, err := processor.New(cfg, exec)
	require.NoError(t, err)

	var out outcome
	cb := out.callbacks()
	onProgress := cb.OnProgress
	cb.OnProgress = func(pct int) {
		onProgress(pct)
		if pct > 0 {
			p.Abort()
		}
	}

	serials, records := makeWork(250)
	final, err := p.Process(context.Background(), serials, records, cb)
	require.ErrorIs(t, err, types.ErrAborted)

	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, 100, final.ProcessedRecords)
	assert.Equal(t, []string{types.AbortMessage}, final.Errors)
	assert.Equal(t, 1, exec.totalCalls())

	assert.Empty(t, out.completed)
	require.Len(t, out.errs, 1)
	assert.ErrorIs(t, out.errs[0], types.ErrAborted)

	// abort after the job ended is a no-op
	p.Abort()
	assert.Equal(t, final, p.Snapshot())
}

func TestProcess_AbortDuringBackoff(t *testing.T) {
	exec := newFakeExecutor(func(context.Context, types.Chunk, int) error {
		return errors.New("connection refused")
	})
	cfg := baseConfig()
	cfg.RetryDelayBase = time.Hour

	p, err := processor.New(cfg, exec)
	require.NoError(t, err)

	go func() {
		assert.Eventually(t, func() bool { return exec.totalCalls() == 1 }, time.Second, time.Millisecond)
		p.Abort()
	}()

	serials, records := makeWork(50)
	final, err := p.Process(context.Background(), serials, records, processor.Callbacks{})
	require.ErrorIs(t, err, types.ErrAborted)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, []string{types.AbortMessage}, final.Errors, "aborted chunks add no chunk error")
	assert.Equal(t, 1, exec.totalCalls())
}

func TestProcess_AbortBeforeStart(t *testing.T) {
	exec := newFakeExecutor(nil)
	p, err := processor.New(baseConfig(), exec)
	require.NoError(t, err)

	p.Abort()
	p.Abort()

	var out outcome
	serials, records := makeWork(10)
	final, err := p.Process(context.Background(), serials, records, out.callbacks())
	require.ErrorIs(t, err, types.ErrAborted)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, []string{types.AbortMessage}, final.Errors)
	assert.Zero(t, exec.totalCalls())
	assert.Len(t, out.errs, 1)
}

func TestProcess_CancelInFlight(t *testing.T) {
	for _, attempts := range []int{1, 3} {
		t.Run(fmt.Sprintf("attempts=%d", attempts), func(t *testing.T) {
			exec := newFakeExecutor(func(ctx context.Context, _ types.Chunk, _ int) error {
				<-ctx.Done()
				return ctx.Err()
			})
			cfg := baseConfig()
			cfg.CancelInFlight = true
			cfg.RetryAttempts = attempts

			p, err := processor.New(cfg, exec)
			require.NoError(t, err)

			go func() {
				assert.Eventually(t, func() bool { return exec.active.Load() == 1 }, time.Second, time.Millisecond)
				p.Abort()
			}()

			serials, records := makeWork(10)
			final, err := p.Process(context.Background(), serials, records, processor.Callbacks{})
			require.ErrorIs(t, err, types.ErrAborted)
			assert.Equal(t, types.StatusFailed, final.Status)
			assert.Equal(t, []string{types.AbortMessage}, final.Errors)
		})
	}
}

func TestProcess_ContextCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := newFakeExecutor(func(_ context.Context, chunk types.Chunk, _ int) error {
		if chunk.Index == 0 {
			cancel()
		}
		return nil
	})
	cfg := baseConfig()
	cfg.Concurrency = 1

	p, err := processor.New(cfg, exec)
	require.NoError(t, err)

	serials, records := makeWork(300)
	final, err := p.Process(ctx, serials, records, processor.Callbacks{})
	require.ErrorIs(t, err, types.ErrAborted)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, 1, exec.totalCalls())
}

func TestProcess_PauseGatesNewChunks(t *testing.T) {
	release := make(chan struct{})
	exec := newFakeExecutor(func(_ context.Context, chunk types.Chunk, _ int) error {
		if chunk.Index == 0 {
			<-release
		}
		return nil
	})
	cfg := baseConfig()
	cfg.ChunkSize = 10
	cfg.Concurrency = 1

	p, err := processor.New(cfg, exec)
	require.NoError(t, err)

	type result struct {
		final types.Progress
		err   error
	}
	done := make(chan result, 1)
	go func() {
		serials, records := makeWork(30)
		final, err := p.Process(context.Background(), serials, records, processor.Callbacks{})
		done <- result{final, err}
	}()

	require.Eventually(t, func() bool { return exec.totalCalls() == 1 }, time.Second, time.Millisecond)
	p.Pause()
	p.Pause()
	assert.Equal(t, types.StatusPaused, p.Snapshot().Status)
	close(release)

	// chunk 1 finishes, chunk 2 holds its permit but does not start
	require.Eventually(t, func() bool { return p.Snapshot().ProcessedRecords == 10 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, exec.totalCalls())

	p.Resume()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, types.StatusCompleted, r.final.Status)
		assert.Equal(t, 30, r.final.ProcessedRecords)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish after resume")
	}
	assert.Equal(t, 3, exec.totalCalls())
}

func TestProcess_PauseBeforeStart(t *testing.T) {
	exec := newFakeExecutor(nil)
	p, err := processor.New(baseConfig(), exec)
	require.NoError(t, err)

	p.Pause()

	done := make(chan error, 1)
	go func() {
		serials, records := makeWork(5)
		_, err := p.Process(context.Background(), serials, records, processor.Callbacks{})
		done <- err
	}()

	require.Eventually(t, func() bool { return p.Snapshot().Status == types.StatusPaused }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, exec.totalCalls())

	p.Resume()
	require.NoError(t, <-done)
	assert.Equal(t, 1, exec.totalCalls())
}

func TestProcess_CooldownBetweenChunks(t *testing.T) {
	exec := newFakeExecutor(nil)
	cfg := baseConfig()
	cfg.ChunkSize = 1
	cfg.Concurrency = 1
	cfg.PauseBetweenChunks = 20 * time.Millisecond

	p, err := processor.New(cfg, exec)
	require.NoError(t, err)

	serials, records := makeWork(3)
	start := time.Now()
	_, err = p.Process(context.Background(), serials, records, processor.Callbacks{})
	require.NoError(t, err)
	// two cooldowns, none after the last chunk
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestProcess_EmptyInput(t *testing.T) {
	exec := newFakeExecutor(nil)
	p, err := processor.New(baseConfig(), exec)
	require.NoError(t, err)

	var out outcome
	final, err := p.Process(context.Background(), nil, nil, out.callbacks())
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Percentage)
	assert.Zero(t, final.TotalChunks)
	assert.Len(t, out.completed, 1)
}

func TestProcess_UnresolvedItems(t *testing.T) {
	serials := []string{"a", "b", "c"}
	records := []types.Record{{Serial: "a"}, {Serial: "c"}}

	t.Run("kept", func(t *testing.T) {
		exec := newFakeExecutor(nil)
		p, err := processor.New(baseConfig(), exec)
		require.NoError(t, err)

		final, err := p.Process(context.Background(), serials, records, processor.Callbacks{})
		require.NoError(t, err)
		assert.Equal(t, 3, final.TotalRecords)
		assert.Equal(t, 3, final.ProcessedRecords)
		assert.Equal(t, 2, exec.sizes[0])
	})

	t.Run("skipped", func(t *testing.T) {
		exec := newFakeExecutor(nil)
		cfg := baseConfig()
		cfg.SkipUnresolved = true
		p, err := processor.New(cfg, exec)
		require.NoError(t, err)

		final, err := p.Process(context.Background(), serials, records, processor.Callbacks{})
		require.NoError(t, err)
		assert.Equal(t, 2, final.TotalRecords)
		assert.Equal(t, 2, final.ProcessedRecords)
	})
}

func TestProcess_ExecutorPanicFailsJob(t *testing.T) {
	exec := newFakeExecutor(func(_ context.Context, chunk types.Chunk, _ int) error {
		if chunk.Index == 1 {
			panic("nil map write")
		}
		return nil
	})
	p, err := processor.New(baseConfig(), exec)
	require.NoError(t, err)

	var out outcome
	serials, records := makeWork(250)
	final, err := p.Process(context.Background(), serials, records, out.callbacks())
	require.ErrorIs(t, err, processor.ErrJobFault)
	assert.Equal(t, types.StatusFailed, final.Status)
	require.NotEmpty(t, final.Errors)
	assert.Contains(t, final.Errors[len(final.Errors)-1], "nil map write")
	assert.Empty(t, out.completed)
	assert.Len(t, out.errs, 1)
}

func TestProcess_SingleUse(t *testing.T) {
	p, err := processor.New(baseConfig(), newFakeExecutor(nil))
	require.NoError(t, err)

	_, err = p.Process(context.Background(), []string{"a"}, nil, processor.Callbacks{})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), []string{"a"}, nil, processor.Callbacks{})
	require.ErrorIs(t, err, processor.ErrAlreadyStarted)
}

func TestProcess_NotifiesObserver(t *testing.T) {
	ctrl := gomock.NewController(t)
	obs := mocks.NewMockObserver(ctrl)

	var mu sync.Mutex
	seen := map[types.EventType]int{}
	obs.EXPECT().Notify(gomock.Any()).Do(func(ev types.Event) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "job-obs", ev.JobID)
		seen[ev.Type]++
	}).AnyTimes()

	exec := newFakeExecutor(func(_ context.Context, chunk types.Chunk, attempt int) error {
		if chunk.Index == 0 && attempt == 1 {
			return errors.New("flaky")
		}
		return nil
	})
	initialTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := processor.New(baseConfig(), exec,
		processor.WithObserver(obs),
		processor.WithJobID("job-obs"),
		processor.WithClock(mocks.NewMockClock(initialTime)),
	)
	require.NoError(t, err)

	serials, records := makeWork(200)
	final, err := p.Process(context.Background(), serials, records, processor.Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, initialTime, final.StartTime)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[types.EventJobStarted])
	assert.Equal(t, 2, seen[types.EventChunkStarted])
	assert.Equal(t, 1, seen[types.EventChunkRetry])
	assert.Equal(t, 2, seen[types.EventChunkDone])
	assert.Equal(t, 1, seen[types.EventJobFinished])
}
