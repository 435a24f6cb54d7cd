// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package types defines the core interfaces and data structures shared by the
// syncer packages.
//
// This package serves as the foundation for the rest of the tree by providing:
//
//   - Data model: work items, records, chunks, chunk results and progress snapshots
//   - Collaborator contracts: the remote Executor and the Observer side-channel
//   - Error taxonomy: RemoteError classification and shared sentinel errors
//   - Storage interfaces: generic CRUD contracts used by the report history
//
// The domain packages (app/domain/...) depend only on this package and on
// each other through these contracts, which keeps every component testable
// with small fakes or generated mocks.
package types

//go:generate mockgen -destination=mocks/executor_mock.go -package=mocks . Executor
//go:generate mockgen -destination=mocks/observer_mock.go -package=mocks . Observer
