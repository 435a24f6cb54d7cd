// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package executor sends chunks to the remote processing endpoint over HTTP
// and classifies the outcome for the retry policy.
//
// Classification:
//
//   - transport failure: retryable (plain error)
//   - 2xx with an empty or non-JSON body: accepted
//   - 2xx with {"success": false}: rejected, retryable only if the body says so
//   - 401/403: terminal, the API key is wrong
//   - 429 and 5xx: terminal unless retry_server_errors is set
//   - any other status: terminal
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	config "github.com/cloudzero/cloudzero-syncer/app/config/syncer"
	"github.com/cloudzero/cloudzero-syncer/app/types"
)

const (
	HeaderAuthorization   = "Authorization"
	HeaderContentType     = "Content-Type"
	HeaderContentEncoding = "Content-Encoding"
	HeaderChunkIndex      = "X-Chunk-Index"

	ContentTypeJSON = "application/json"
	EncodingBrotli  = "br"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

var (
	metricRemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syncer",
			Name:      "remote_requests_total",
			Help:      "Total number of chunk requests by response class",
		},
		[]string{"class"},
	)

	metricRemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "syncer",
			Name:      "remote_request_duration_seconds",
			Help:      "Duration of chunk requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"class"},
	)
)

// ChunkRequest is the body posted for every chunk.
type ChunkRequest struct {
	ChunkIndex int            `json:"chunkIndex"`
	Serials    []string       `json:"serials"`
	Records    []types.Record `json:"records"`
}

// ChunkResponse is the optional body of a 2xx answer.
type ChunkResponse struct {
	Success      *bool  `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Retryable    *bool  `json:"retryable,omitempty"`
}

// HTTPExecutor implements types.Executor against an HTTP endpoint.
type HTTPExecutor struct {
	client            HTTPClient
	endpoint          string
	keys              KeyProvider
	compress          bool
	retryServerErrors bool
	timeout           time.Duration
}

var _ types.Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates an executor for the remote section of s. keys may
// be nil when the endpoint needs no authentication.
func NewHTTPExecutor(client HTTPClient, s *config.Settings, keys KeyProvider) *HTTPExecutor {
	if keys == nil {
		keys = StaticKey("")
	}
	return &HTTPExecutor{
		client:            client,
		endpoint:          s.Remote.Endpoint,
		keys:              keys,
		compress:          s.Remote.Compress,
		retryServerErrors: s.Remote.RetryServerErrors,
		timeout:           s.Remote.SendTimeout,
	}
}

// Execute posts the chunk and classifies the answer.
func (e *HTTPExecutor) Execute(ctx context.Context, chunk types.Chunk) error {
	logger := log.Ctx(ctx).With().Int("chunk", chunk.Index+1).Logger()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	body, err := e.encode(chunk)
	if err != nil {
		return errors.Join(ErrEncodeRequest, types.NewTerminalError(0, fmt.Sprintf("failed to encode the chunk request: %s", err)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.NewTerminalError(0, fmt.Sprintf("failed to create the chunk request: %s", err))
	}
	req.Header.Set(HeaderContentType, ContentTypeJSON)
	req.Header.Set(HeaderChunkIndex, strconv.Itoa(chunk.Index))
	if e.compress {
		req.Header.Set(HeaderContentEncoding, EncodingBrotli)
	}
	if key := e.keys.APIKey(); key != "" {
		req.Header.Set(HeaderAuthorization, "Bearer "+key)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		observe("transport", start)
		logger.Debug().Err(err).Msg("chunk request failed")
		return errors.Join(ErrHTTPRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		observe("transport", start)
		return errors.Join(ErrHTTPRequestFailed, fmt.Errorf("failed to read the response body: %w", err))
	}

	err = e.classify(resp.StatusCode, raw)
	observe(class(resp.StatusCode, err), start)
	if err != nil {
		logger.Debug().Err(err).Int("status", resp.StatusCode).Msg("chunk rejected")
	}
	return err
}

func (e *HTTPExecutor) encode(chunk types.Chunk) ([]byte, error) {
	payload := ChunkRequest{
		ChunkIndex: chunk.Index,
		Serials:    chunk.Serials,
		Records:    chunk.Records,
	}
	if payload.Serials == nil {
		payload.Serials = []string{}
	}
	if payload.Records == nil {
		payload.Records = []types.Record{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if !e.compress {
		return data, nil
	}

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress the chunk request: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress the chunk request: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *HTTPExecutor) classify(status int, body []byte) error {
	var parsed ChunkResponse
	decoded := len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &parsed) == nil

	switch {
	case status >= 200 && status < 300:
		if !decoded || parsed.Success == nil || *parsed.Success {
			return nil
		}
		msg := parsed.ErrorMessage
		if msg == "" {
			msg = "remote rejected the chunk"
		}
		if parsed.Retryable != nil && *parsed.Retryable {
			return types.NewRetryableError(status, msg)
		}
		return types.NewTerminalError(status, msg)

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewTerminalError(status, ErrUnauthorized.Error())

	case status == http.StatusTooManyRequests || status >= 500:
		msg := responseMessage(status, body, parsed, decoded)
		if e.retryServerErrors {
			return types.NewRetryableError(status, msg)
		}
		return types.NewTerminalError(status, msg)

	default:
		return types.NewTerminalError(status, responseMessage(status, body, parsed, decoded))
	}
}

func responseMessage(status int, body []byte, parsed ChunkResponse, decoded bool) string {
	if decoded && parsed.ErrorMessage != "" {
		return parsed.ErrorMessage
	}
	msg := http.StatusText(status)
	if msg == "" {
		msg = "unexpected status"
	}
	if text := strings.TrimSpace(string(body)); text != "" && !decoded {
		if len(text) > 200 {
			text = text[:200]
		}
		msg += ": " + text
	}
	return msg
}

func class(status int, err error) string {
	switch {
	case err == nil:
		return "accepted"
	case types.IsRetryable(err):
		return "retryable"
	case status >= 200 && status < 300:
		return "rejected"
	default:
		return "terminal"
	}
}

func observe(label string, start time.Time) {
	metricRemoteRequestsTotal.WithLabelValues(label).Inc()
	metricRemoteRequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}
