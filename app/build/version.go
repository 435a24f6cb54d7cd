// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package build holds version metadata injected at link time with
// -ldflags "-X github.com/cloudzero/cloudzero-syncer/app/build.Rev=...".
package build

import (
	"fmt"

	"github.com/go-obvious/server"
)

const (
	AuthorName  = "CloudZero"
	AuthorEmail = "support@cloudzero.com"
	Copyright   = "© 2016-2025 CloudZero, Inc."
	PlatformURL = "https://app.cloudzero.com"
)

var (
	Rev  = "local"
	Tag  = "dev"
	Time = "unknown"
)

// GetVersion returns the human readable version string.
func GetVersion() string {
	return fmt.Sprintf("%s-%s", Tag, Rev)
}

// Version returns the version metadata reported by the HTTP server.
func Version() *server.ServerVersion {
	return &server.ServerVersion{
		Revision: Rev,
		Tag:      Tag,
		Time:     Time,
	}
}
