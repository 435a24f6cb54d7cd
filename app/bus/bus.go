// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package bus is the best-effort observability side-channel. Processors
// publish human readable events through the types.Observer interface and
// any number of subscribers (CLI progress output, log broadcast) read them.
// Nothing depends on delivery.
package bus

import (
	"sync"

	"github.com/wagoodman/go-partybus"

	"github.com/cloudzero/cloudzero-syncer/app/types"
)

// Bus fans events out to subscribers.
type Bus struct {
	bus *partybus.Bus
}

var _ types.Observer = (*Bus)(nil)

// New creates an empty bus.
func New() *Bus {
	return &Bus{bus: partybus.NewBus()}
}

// Notify publishes ev. It never blocks on slow subscribers.
func (b *Bus) Notify(ev types.Event) {
	b.bus.Publish(partybus.Event{
		Type:   partybus.EventType(ev.Type),
		Source: ev.JobID,
		Value:  ev,
	})
}

// Subscribe returns a subscription for the given kinds, or for every kind
// when none are given.
func (b *Bus) Subscribe(kinds ...types.EventType) *Subscription {
	eventTypes := make([]partybus.EventType, 0, len(kinds))
	for _, k := range kinds {
		eventTypes = append(eventTypes, partybus.EventType(k))
	}

	s := &Subscription{
		sub:    b.bus.Subscribe(eventTypes...),
		events: make(chan types.Event),
		done:   make(chan struct{}),
	}
	go s.forward()
	return s
}

// Subscription delivers events in publish order.
type Subscription struct {
	sub    *partybus.Subscription
	events chan types.Event

	once sync.Once
	done chan struct{}
}

// Events is closed after Unsubscribe.
func (s *Subscription) Events() <-chan types.Event {
	return s.events
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		_ = s.sub.Unsubscribe()
	})
}

func (s *Subscription) forward() {
	defer close(s.events)
	in := s.sub.Events()
	for {
		select {
		case <-s.done:
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			ev, ok := e.Value.(types.Event)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// JobFilter wraps an observer and drops events of other jobs.
type JobFilter struct {
	JobID string
	Next  types.Observer
}

// Notify implements types.Observer.
func (f JobFilter) Notify(ev types.Event) {
	if f.Next != nil && (f.JobID == "" || ev.JobID == f.JobID) {
		f.Next.Notify(ev)
	}
}

// Multi notifies every observer in order.
type Multi []types.Observer

// Notify implements types.Observer.
func (m Multi) Notify(ev types.Event) {
	for _, o := range m {
		if o != nil {
			o.Notify(ev)
		}
	}
}
