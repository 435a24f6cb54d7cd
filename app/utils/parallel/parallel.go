// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package parallel provides utilities for concurrent task execution with controlled parallelism.
//
// This package implements the two primitives the chunk processor is built on:
//
//   - Semaphore: a counting limiter that grants permits in FIFO order and
//     tracks how many are in use, so the concurrency cap can be asserted
//   - Group: a structured join that runs tasks in goroutines, waits for all of
//     them and aggregates their errors, converting panics into errors
//
// Usage patterns:
//  1. Create a Semaphore with the desired number of permits
//  2. Create a Group for result aggregation
//  3. Acquire a permit in submission order, then start the task with Group.Go
//     and release the permit when the task returns (or use Semaphore.Execute)
//  4. Wait() blocks until all tasks complete and returns the joined errors
package parallel

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// ErrPanic wraps a panic recovered from a task.
var ErrPanic = errors.New("task panicked")

// PanicError carries a recovered panic value and the stack of the panicking
// goroutine. It matches ErrPanic with errors.Is.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPanic, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrPanic
}

// Task is a function type for the parallel group.
type Task func() error

// Group runs tasks concurrently and waits for all of them.
type Group struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewGroup creates a new parallel.Group.
func NewGroup() *Group {
	return &Group{}
}

// Go runs fn in a new goroutine. A panic inside fn is recovered and recorded
// as a *PanicError.
func (g *Group) Go(fn Task) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.record(&PanicError{Value: r, Stack: debug.Stack()})
			}
		}()

		if err := fn(); err != nil {
			g.record(err)
		}
	}()
}

func (g *Group) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs = append(g.errs, err)
}

// Wait blocks until every task has returned and joins their errors.
func (g *Group) Wait() error {
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}
