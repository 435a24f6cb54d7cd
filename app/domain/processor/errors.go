// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package processor

import "errors"

var (
	// ErrInvalidConfig is returned by New and Plan for unusable settings.
	ErrInvalidConfig = errors.New("invalid processing config")
	// ErrNilExecutor is returned by New when no executor is supplied.
	ErrNilExecutor = errors.New("executor is required")
	// ErrAlreadyStarted is returned when Process is called more than once.
	ErrAlreadyStarted = errors.New("processor already started")
	// ErrJobFault wraps an unexpected fault escaping the chunk join.
	ErrJobFault = errors.New("job fault")
)
