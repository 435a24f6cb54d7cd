// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package executor

import "errors"

var (
	ErrHTTPRequestFailed = errors.New("HTTP request failed")
	ErrUnauthorized      = errors.New("unauthorized request - possible invalid API key")
	ErrEncodeRequest     = errors.New("failed to encode the chunk request")
	ErrAPIKeyEmpty       = errors.New("API key is empty")
)
