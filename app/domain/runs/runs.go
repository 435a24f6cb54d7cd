// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package runs manages the processing jobs started through the HTTP control
// plane. Each run owns one Processor; finished runs are written to the
// report store.
package runs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cloudzero/cloudzero-syncer/app/domain/processor"
	"github.com/cloudzero/cloudzero-syncer/app/domain/source"
	"github.com/cloudzero/cloudzero-syncer/app/types"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrShuttingDown  = errors.New("run manager is shutting down")
	ErrEmptyBatch    = errors.New("batch has no work items")
	ErrInvalidRunID  = errors.New("invalid run id")
	ErrNoReportStore = errors.New("run history is not configured")
)

// DefaultRetainedRuns is the number of finished runs kept addressable.
const DefaultRetainedRuns = 100

// Run is one job started by the manager.
type Run struct {
	ID        string
	StartedAt time.Time
	seq       uint64
	processor *processor.Processor
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// Done is closed once the run reached a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Progress returns a snapshot of the run.
func (r *Run) Progress() types.Progress {
	return r.processor.Snapshot()
}

// Err returns ErrAborted or a job fault once the run is done.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Manager starts runs and keeps them addressable by ID.
type Manager struct {
	cfg      types.ProcessingConfig
	exec     types.Executor
	store    types.ReportStore
	observer types.Observer
	clock    types.Clock

	// runs outlive the request that started them
	ctx context.Context

	retain int

	mu      sync.RWMutex
	runs    map[string]*Run
	seq     uint64
	closed  bool
	running sync.WaitGroup
}

// ManagerOpt configures a Manager.
type ManagerOpt func(*Manager)

func WithReportStore(store types.ReportStore) ManagerOpt {
	return func(m *Manager) { m.store = store }
}

func WithObserver(o types.Observer) ManagerOpt {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithRetention caps the finished runs kept in memory. The oldest are
// dropped when a new run starts; their reports stay in the store.
func WithRetention(n int) ManagerOpt {
	return func(m *Manager) {
		if n >= 0 {
			m.retain = n
		}
	}
}

func WithClock(c types.Clock) ManagerOpt {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewManager validates cfg once so Start only fails on bad input.
func NewManager(ctx context.Context, cfg types.ProcessingConfig, exec types.Executor, opts ...ManagerOpt) (*Manager, error) {
	if err := processor.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, processor.ErrNilExecutor
	}

	m := &Manager{
		cfg:      cfg,
		exec:     exec,
		observer: types.NopObserver{},
		clock:    types.SystemClock{},
		retain:   DefaultRetainedRuns,
		ctx:      context.WithoutCancel(ctx),
		runs:     make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start launches a run for batch in the background and returns its ID.
func (m *Manager) Start(batch source.Batch) (*Run, error) {
	if len(batch.Serials) == 0 {
		return nil, ErrEmptyBatch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShuttingDown
	}

	id := uuid.NewString()
	p, err := processor.New(m.cfg, m.exec,
		processor.WithJobID(id),
		processor.WithObserver(m.observer),
		processor.WithClock(m.clock),
	)
	if err != nil {
		return nil, err
	}

	m.evictLocked()

	m.seq++
	run := &Run{
		ID:        id,
		StartedAt: m.clock.GetCurrentTime(),
		seq:       m.seq,
		processor: p,
		done:      make(chan struct{}),
	}
	m.runs[id] = run
	m.running.Add(1)

	go m.execute(run, batch)

	return run, nil
}

func (m *Manager) execute(run *Run, batch source.Batch) {
	defer m.running.Done()
	defer close(run.done)

	logger := log.Ctx(m.ctx).With().Str("runId", run.ID).Logger()
	ctx := logger.WithContext(m.ctx)

	final, err := run.processor.Process(ctx, batch.Serials, batch.Records, processor.Callbacks{})

	run.mu.Lock()
	run.err = err
	run.mu.Unlock()

	if m.store == nil {
		return
	}
	report := types.NewRunReport(final, m.clock.GetCurrentTime())
	if serr := m.store.Create(ctx, report); serr != nil {
		logger.Err(serr).Msg("failed to store run report")
		return
	}
	logger.Debug().Str("reportId", report.ID.String()).Msg("stored run report")
}

// Get returns the run with the given ID.
func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// List returns the runs known to the manager, oldest first.
func (m *Manager) List() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

func (m *Manager) sortedLocked() []*Run {
	out := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Run) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// evictLocked drops the oldest finished runs beyond the retention limit.
func (m *Manager) evictLocked() {
	var finished []*Run
	for _, r := range m.sortedLocked() {
		if r.finished() {
			finished = append(finished, r)
		}
	}
	for len(finished) > m.retain {
		delete(m.runs, finished[0].ID)
		finished = finished[1:]
	}
}

func (m *Manager) Pause(id string) (types.Progress, error) {
	return m.control(id, (*processor.Processor).Pause)
}

func (m *Manager) Resume(id string) (types.Progress, error) {
	return m.control(id, (*processor.Processor).Resume)
}

func (m *Manager) Abort(id string) (types.Progress, error) {
	return m.control(id, (*processor.Processor).Abort)
}

func (m *Manager) control(id string, op func(*processor.Processor)) (types.Progress, error) {
	run, err := m.Get(id)
	if err != nil {
		return types.Progress{}, err
	}
	op(run.processor)
	return run.processor.Snapshot(), nil
}

// History returns stored reports, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]*types.RunReport, error) {
	if m.store == nil {
		return nil, ErrNoReportStore
	}
	return m.store.List(ctx, limit)
}

// Report returns a stored report by its ID.
func (m *Manager) Report(ctx context.Context, id string) (*types.RunReport, error) {
	if m.store == nil {
		return nil, ErrNoReportStore
	}
	rid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRunID, id)
	}
	return m.store.Get(ctx, rid)
}

// Shutdown stops accepting runs, aborts the active ones and waits for them
// to finish or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	active := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		active = append(active, r)
	}
	m.mu.Unlock()

	for _, r := range active {
		r.processor.Abort()
	}

	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy fails once Shutdown was called.
func (m *Manager) Healthy(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrShuttingDown
	}
	return nil
}
