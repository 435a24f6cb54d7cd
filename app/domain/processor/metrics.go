// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "syncer"

var (
	metricJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "jobs_total",
			Help:      "Total number of processing jobs by final status",
		},
		[]string{"status"},
	)

	metricJobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of processing jobs from start to final status",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"status"},
	)

	metricChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "chunks_total",
			Help:      "Total number of chunks by outcome",
		},
		[]string{"outcome"},
	)

	metricChunkAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "chunk_attempts_total",
			Help:      "Total number of executor calls",
		},
		[]string{},
	)

	metricChunkRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "chunk_retries_total",
			Help:      "Total number of retries after a retryable chunk failure",
		},
		[]string{},
	)

	metricRecordsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "records_processed_total",
			Help:      "Total number of work items accepted by the remote endpoint",
		},
		[]string{},
	)

	metricChunksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "chunks_in_flight",
			Help:      "Number of chunks currently holding a concurrency permit",
		},
	)
)
