// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// Clock abstracts the wall clock so tests can control time.
type Clock interface {
	GetCurrentTime() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// GetCurrentTime returns time.Now in UTC.
func (SystemClock) GetCurrentTime() time.Time {
	return time.Now().UTC()
}
