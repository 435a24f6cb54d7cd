// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"
)

// AbortMessage is appended to a job's errors when it is aborted.
const AbortMessage = "Operation aborted by user"

var (
	// ErrAborted is returned once a job has been aborted.
	ErrAborted = errors.New(AbortMessage)

	ErrNotFound            = errors.New("not found")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrNotImplemented      = errors.New("not implemented")
	ErrMissingWhereClause  = errors.New("missing where clause")
	ErrPrimaryKeyRequired  = errors.New("primary key required")
	ErrInvalidData         = errors.New("invalid data")
	ErrInvalidDB           = errors.New("invalid db")
	ErrInvalidValue        = errors.New("invalid value")
)

// RemoteError is returned by an Executor when the remote endpoint answered but
// did not accept the chunk.
type RemoteError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// NewTerminalError returns a RemoteError that must not be retried.
func NewTerminalError(statusCode int, msg string) error {
	return &RemoteError{StatusCode: statusCode, Message: msg, Retryable: false}
}

// NewRetryableError returns a RemoteError that may succeed on a later attempt.
func NewRetryableError(statusCode int, msg string) error {
	return &RemoteError{StatusCode: statusCode, Message: msg, Retryable: true}
}

// IsRetryable classifies an executor error. Errors that are not a
// *RemoteError are transport failures and are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return true
}

// ErrorMessage returns the message used in chunk results for err.
func ErrorMessage(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}
