// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// EventType names the kind of message sent on the observability side-channel.
type EventType string

const (
	EventJobStarted   EventType = "job-started"
	EventChunkStarted EventType = "chunk-started"
	EventChunkRetry   EventType = "chunk-retry"
	EventChunkDone    EventType = "chunk-done"
	EventChunkFailed  EventType = "chunk-failed"
	EventJobPaused    EventType = "job-paused"
	EventJobResumed   EventType = "job-resumed"
	EventJobAborted   EventType = "job-aborted"
	EventJobFinished  EventType = "job-finished"
	EventLog          EventType = "log"
)

// Event is a best-effort, human readable notification. Nothing in the
// processor depends on an event being delivered.
type Event struct {
	Type    EventType `json:"type"`
	JobID   string    `json:"jobId,omitempty"`
	Chunk   int       `json:"chunk,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	// Progress is set on events emitted after a progress update.
	Progress *Progress `json:"progress,omitempty"`
	// Fields carries the structured fields of a log event.
	Fields map[string]string `json:"fields,omitempty"`
}

// Observer receives side-channel events. Implementations must not block.
type Observer interface {
	Notify(event Event)
}

// NopObserver discards all events.
type NopObserver struct{}

// Notify implements Observer.
func (NopObserver) Notify(Event) {}
