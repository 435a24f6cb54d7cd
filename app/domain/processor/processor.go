// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package processor runs a large list of work items against a remote
// executor in fixed-size chunks, with bounded concurrency, per-chunk retries
// and a pause/resume/abort control surface.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudzero/cloudzero-syncer/app/types"
	"github.com/cloudzero/cloudzero-syncer/app/utils/parallel"
)

// Callbacks receive the outcome of a job. All callbacks are invoked
// serially. Exactly one of OnComplete and OnError is invoked per job.
type Callbacks struct {
	// OnProgress receives the percentage after every progress update.
	OnProgress func(percentage int)
	// OnComplete receives the final snapshot of a completed job. The job may
	// still carry chunk errors.
	OnComplete func(final types.Progress)
	// OnError receives ErrAborted or a job fault.
	OnError func(err error)
}

// Processor runs a single job. It is not reusable.
type Processor struct {
	cfg      types.ProcessingConfig
	exec     types.Executor
	observer types.Observer
	now      func() time.Time
	jobID    string

	sem     *parallel.Semaphore
	ctrl    *control
	tracker *Tracker
	started atomic.Bool

	// ctlMu keeps control and tracker transitions in step.
	ctlMu      sync.Mutex
	cancelGate context.CancelFunc

	// notifyMu serializes progress updates with their callbacks.
	notifyMu sync.Mutex
}

// ValidateConfig checks cfg and fills in the default backoff strategy.
func ValidateConfig(cfg *types.ProcessingConfig) error {
	var errs []error
	if cfg.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunk size must be at least 1, got %d", cfg.ChunkSize))
	}
	if cfg.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency))
	}
	if cfg.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be at least 1, got %d", cfg.RetryAttempts))
	}
	if cfg.RetryDelayBase < 0 {
		errs = append(errs, fmt.Errorf("retry delay base must not be negative, got %s", cfg.RetryDelayBase))
	}
	if cfg.PauseBetweenChunks < 0 {
		errs = append(errs, fmt.Errorf("pause between chunks must not be negative, got %s", cfg.PauseBetweenChunks))
	}
	switch cfg.Backoff {
	case "":
		cfg.Backoff = types.BackoffLinear
	case types.BackoffLinear, types.BackoffExponential:
	default:
		errs = append(errs, fmt.Errorf("unknown backoff strategy %q", cfg.Backoff))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// New validates cfg and returns a processor in the pending state.
func New(cfg types.ProcessingConfig, exec types.Executor, opts ...Option) (*Processor, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}

	sem, err := parallel.NewSemaphore(cfg.Concurrency)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	p := &Processor{
		cfg:      cfg,
		exec:     exec,
		observer: types.NopObserver{},
		now:      types.SystemClock{}.GetCurrentTime,
		jobID:    uuid.NewString(),
		sem:      sem,
		ctrl:     newControl(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tracker = NewTracker(p.jobID, p.now)

	return p, nil
}

// JobID returns the identifier of the job.
func (p *Processor) JobID() string {
	return p.jobID
}

// Config returns the validated configuration.
func (p *Processor) Config() types.ProcessingConfig {
	return p.cfg
}

// PeakConcurrency is the highest number of chunks that held a permit at the
// same time.
func (p *Processor) PeakConcurrency() int {
	return p.sem.Peak()
}

// Snapshot returns a copy of the current progress.
func (p *Processor) Snapshot() types.Progress {
	return p.tracker.Snapshot()
}

// Pause stops new chunks from starting. Chunks already executing finish.
func (p *Processor) Pause() {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.tracker.Snapshot().Status.Terminal() {
		return
	}
	if !p.ctrl.pause() {
		return
	}
	snap, _ := p.tracker.Pause()
	p.notify(types.EventJobPaused, -1, "job paused", &snap)
}

// Resume lets paused chunks continue.
func (p *Processor) Resume() {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.tracker.Snapshot().Status.Terminal() {
		return
	}
	if !p.ctrl.resume() {
		return
	}
	snap, _ := p.tracker.Resume()
	p.notify(types.EventJobResumed, -1, "job resumed", &snap)
}

// Abort fails the job. No chunk starts a new executor call afterwards and
// blocked waiters are released.
func (p *Processor) Abort() {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	p.abortLocked()
}

func (p *Processor) abortLocked() {
	if p.tracker.Snapshot().Status.Terminal() {
		return
	}
	if !p.ctrl.abort() {
		return
	}
	snap, _ := p.tracker.Fail(types.AbortMessage)
	if p.cancelGate != nil {
		p.cancelGate()
	}
	p.notify(types.EventJobAborted, -1, types.AbortMessage, &snap)
}

// Process runs every work item through the executor and blocks until the job
// reaches a terminal status. It returns the final snapshot together with
// ErrAborted, a job fault, or nil for a completed job. A completed job may
// still carry chunk errors in its snapshot.
//
// Cancelling ctx aborts the job.
func (p *Processor) Process(ctx context.Context, serials []string, records []types.Record, cb Callbacks) (types.Progress, error) {
	if !p.started.CompareAndSwap(false, true) {
		return p.Snapshot(), ErrAlreadyStarted
	}

	logger := log.Ctx(ctx).With().Str("jobId", p.jobID).Logger()
	ctx = logger.WithContext(ctx)

	if p.cfg.SkipUnresolved {
		serials = ResolvedSerials(serials, records)
	}
	chunks, err := Plan(serials, records, p.cfg.ChunkSize)
	if err != nil {
		return p.Snapshot(), err
	}

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	gateCtx, cancelGate := context.WithCancel(jobCtx)
	defer cancelGate()

	execCtx := context.WithoutCancel(jobCtx)
	if p.cfg.CancelInFlight {
		execCtx = gateCtx
	}

	p.ctlMu.Lock()
	p.cancelGate = cancelGate
	snap, started := p.tracker.Start(len(serials), len(chunks))
	if started && p.ctrl.current() == statePaused {
		snap, _ = p.tracker.Pause()
	}
	p.ctlMu.Unlock()

	if !started {
		// aborted before start
		return p.finish(ctx, cb, nil)
	}

	stop := context.AfterFunc(ctx, p.Abort)
	defer stop()

	logger.Info().
		Int("records", len(serials)).
		Int("chunks", len(chunks)).
		Int("chunkSize", p.cfg.ChunkSize).
		Int("concurrency", p.cfg.Concurrency).
		Msg("starting job")
	p.notify(types.EventJobStarted, -1,
		fmt.Sprintf("processing %d records in %d chunks", len(serials), len(chunks)), &snap)

	policy := RetryPolicy{
		Attempts:  p.cfg.RetryAttempts,
		BaseDelay: p.cfg.RetryDelayBase,
		Backoff:   p.cfg.Backoff,
		Aborted:   p.ctrl.aborted,
		Sleep: func(_ context.Context, d time.Duration) error {
			return p.ctrl.sleep(gateCtx, d)
		},
	}

	// Permits are taken here, in chunk order, so chunks start in plan order
	// even though they may finish out of order.
	group := parallel.NewGroup()
	for _, chunk := range chunks {
		if err := p.sem.Acquire(gateCtx); err != nil {
			logger.Debug().Err(err).Int("chunk", chunk.Index+1).Msg("stopped dispatching chunks")
			break
		}
		group.Go(func() error {
			defer p.sem.Release()
			p.runChunk(gateCtx, execCtx, policy, chunk, len(chunks), cb)
			return nil
		})
	}

	return p.finish(ctx, cb, group.Wait())
}

// runChunk runs one chunk through the retry policy. The caller holds a permit
// for the whole call, including the cooldown that follows the chunk.
func (p *Processor) runChunk(
	gateCtx, execCtx context.Context,
	policy RetryPolicy,
	chunk types.Chunk,
	totalChunks int,
	cb Callbacks,
) {
	logger := log.Ctx(gateCtx).With().Int("chunk", chunk.Index+1).Logger()

	metricChunksInFlight.Inc()
	defer metricChunksInFlight.Dec()

	if p.ctrl.aborted() {
		return
	}
	if err := p.ctrl.waitRunning(gateCtx); err != nil {
		logger.Debug().Err(err).Msg("skipping chunk after pause")
		return
	}

	p.update(cb, func() types.Progress { return p.tracker.ChunkStarted(chunk.Index) })
	p.notify(types.EventChunkStarted, chunk.Index,
		fmt.Sprintf("chunk %d/%d started with %d records", chunk.Index+1, totalChunks, chunk.Size()), nil)

	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying chunk")
		p.notify(types.EventChunkRetry, chunk.Index,
			fmt.Sprintf("chunk %d attempt %d failed, retrying in %s: %s", chunk.Index+1, attempt, delay, types.ErrorMessage(err)), nil)
	}

	res := policy.Run(execCtx, p.exec, chunk)
	switch {
	case res.Success:
		metricChunksTotal.WithLabelValues("success").Inc()
		metricRecordsProcessedTotal.WithLabelValues().Add(float64(res.ProcessedCount))
		snap := p.update(cb, func() types.Progress { return p.tracker.ChunkSucceeded(res.ProcessedCount) })
		logger.Debug().Int("attempts", res.Attempts).Int("processed", res.ProcessedCount).Msg("chunk done")
		p.notify(types.EventChunkDone, chunk.Index,
			fmt.Sprintf("chunk %d done after %d attempt(s)", chunk.Index+1, res.Attempts), &snap)
	case res.Aborted:
		metricChunksTotal.WithLabelValues("aborted").Inc()
		logger.Debug().Int("attempts", res.Attempts).Msg("chunk aborted")
	default:
		metricChunksTotal.WithLabelValues("failed").Inc()
		snap := p.update(cb, func() types.Progress { return p.tracker.ChunkFailed(chunk.Index, res.Error) })
		logger.Error().
			Int("attempts", res.Attempts).
			Bool("retryable", res.Retryable).
			Str("error", res.Error).
			Msg("chunk failed")
		p.notify(types.EventChunkFailed, chunk.Index,
			fmt.Sprintf("chunk %d failed after %d attempt(s): %s", chunk.Index+1, res.Attempts, res.Error), &snap)
	}

	if p.cfg.PauseBetweenChunks > 0 && chunk.Index < totalChunks-1 {
		_ = p.ctrl.sleep(gateCtx, p.cfg.PauseBetweenChunks)
	}
}

// finish moves the job to its terminal status and fires the final callback.
func (p *Processor) finish(ctx context.Context, cb Callbacks, joinErr error) (types.Progress, error) {
	logger := log.Ctx(ctx)

	var (
		final  types.Progress
		result error
	)

	var pe *parallel.PanicError
	if errors.As(joinErr, &pe) {
		logger.Error().Interface("panic", pe.Value).Bytes("stack", pe.Stack).Msg("chunk task panicked")
	}

	p.ctlMu.Lock()
	if ctx.Err() != nil {
		// the caller went away before the abort hook ran
		p.abortLocked()
	}
	switch {
	case joinErr != nil:
		result = errors.Join(ErrJobFault, joinErr)
		if snap, ok := p.tracker.Fail(fmt.Sprintf("%s: %s", ErrJobFault, joinErr)); ok {
			final = snap
		} else {
			final = p.tracker.Snapshot()
		}
	default:
		if snap, ok := p.tracker.Complete(); ok {
			final = snap
		} else {
			final = p.tracker.Snapshot()
			result = types.ErrAborted
		}
	}
	p.ctlMu.Unlock()

	metricJobsTotal.WithLabelValues(string(final.Status)).Inc()
	if !final.StartTime.IsZero() {
		metricJobDurationSeconds.WithLabelValues(string(final.Status)).
			Observe(p.now().Sub(final.StartTime).Seconds())
	}

	level := zerolog.InfoLevel
	if result != nil {
		level = zerolog.ErrorLevel
	} else if final.PartialFailure() {
		level = zerolog.WarnLevel
	}
	logger.WithLevel(level).
		Err(result).
		Str("status", string(final.Status)).
		Int("processed", final.ProcessedRecords).
		Int("total", final.TotalRecords).
		Int("chunkErrors", len(final.Errors)).
		Msg("job finished")
	p.notify(types.EventJobFinished, -1, fmt.Sprintf("job %s", final.Status), &final)

	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	if result != nil {
		if cb.OnError != nil {
			cb.OnError(result)
		}
		return final, result
	}
	if cb.OnComplete != nil {
		cb.OnComplete(final.Clone())
	}
	return final, nil
}

// update applies fn and reports the resulting percentage while holding
// notifyMu, so OnProgress sees updates in the order they were applied.
func (p *Processor) update(cb Callbacks, fn func() types.Progress) types.Progress {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	snap := fn()
	if cb.OnProgress != nil {
		cb.OnProgress(snap.Percentage)
	}
	return snap
}

func (p *Processor) notify(kind types.EventType, chunkIndex int, msg string, snap *types.Progress) {
	ev := types.Event{
		Type:    kind,
		JobID:   p.jobID,
		Message: msg,
		Time:    p.now(),
	}
	if chunkIndex >= 0 {
		ev.Chunk = chunkIndex + 1
	}
	if snap != nil {
		s := snap.Clone()
		ev.Progress = &s
	}
	p.observer.Notify(ev)
}
