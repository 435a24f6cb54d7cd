// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package processor

import "github.com/cloudzero/cloudzero-syncer/app/types"

// Option configures a Processor.
type Option func(p *Processor)

// WithObserver sends side-channel events to o.
func WithObserver(o types.Observer) Option {
	return func(p *Processor) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithClock replaces the wall clock used for timestamps and the ETA.
func WithClock(clock types.Clock) Option {
	return func(p *Processor) {
		if clock != nil {
			p.now = clock.GetCurrentTime
		}
	}
}

// WithJobID sets the job identifier reported in progress and events.
func WithJobID(id string) Option {
	return func(p *Processor) {
		if id != "" {
			p.jobID = id
		}
	}
}
