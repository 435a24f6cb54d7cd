// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"sync"
	"time"

	"github.com/cloudzero/cloudzero-syncer/app/types"
)

type runState int

const (
	stateRunning runState = iota
	statePaused
	stateAborted
)

func (s runState) String() string {
	switch s {
	case statePaused:
		return "paused"
	case stateAborted:
		return "aborted"
	default:
		return "running"
	}
}

// control holds the pause/abort state of a job. Waiters block on a channel
// that is closed on every transition, so no goroutine polls.
type control struct {
	mu      sync.Mutex
	state   runState
	changed chan struct{}
	abortCh chan struct{}
}

func newControl() *control {
	return &control{
		changed: make(chan struct{}),
		abortCh: make(chan struct{}),
	}
}

// transition moves to next and wakes waiters. Aborted is final.
func (c *control) transition(next runState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateAborted || c.state == next {
		return false
	}
	c.state = next
	close(c.changed)
	c.changed = make(chan struct{})
	if next == stateAborted {
		close(c.abortCh)
	}
	return true
}

func (c *control) pause() bool  { return c.transition(statePaused) }
func (c *control) resume() bool { return c.transition(stateRunning) }
func (c *control) abort() bool  { return c.transition(stateAborted) }

func (c *control) current() runState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *control) aborted() bool {
	return c.current() == stateAborted
}

// waitRunning blocks while the job is paused. It returns ErrAborted when the
// job is aborted and the context error when ctx ends first.
func (c *control) waitRunning(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, changed := c.state, c.changed
		c.mu.Unlock()

		switch state {
		case stateRunning:
			return nil
		case stateAborted:
			return types.ErrAborted
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// sleep waits for d, returning early with ErrAborted on abort.
func (c *control) sleep(ctx context.Context, d time.Duration) error {
	if c.aborted() {
		return types.ErrAborted
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.abortCh:
		return types.ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
