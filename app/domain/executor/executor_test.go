// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/cloudzero/cloudzero-syncer/app/config/syncer"
	"github.com/cloudzero/cloudzero-syncer/app/domain/executor"
	"github.com/cloudzero/cloudzero-syncer/app/types"
)

func testSettings(endpoint string) *config.Settings {
	return &config.Settings{
		Remote: config.Remote{
			Endpoint:    endpoint,
			SendTimeout: 5 * time.Second,
			HTTPMaxWait: time.Second,
		},
	}
}

func testChunk() types.Chunk {
	return types.Chunk{
		Index:   2,
		Serials: []string{"SN-1", "SN-2", "SN-3"},
		Records: []types.Record{
			{Serial: "SN-1", Data: json.RawMessage(`{"qty":1}`)},
			{Serial: "SN-3", Data: json.RawMessage(`{"qty":3}`)},
		},
	}
}

func newExecutor(t *testing.T, s *config.Settings, keys executor.KeyProvider) *executor.HTTPExecutor {
	t.Helper()
	client := executor.NewHTTPClient(context.Background(), s)
	return executor.NewHTTPExecutor(client.StandardClient(), s, keys)
}

func TestHTTPExecutor_PostsChunk(t *testing.T) {
	var got executor.ChunkRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	exec := newExecutor(t, testSettings(srv.URL), executor.StaticKey("secret"))
	require.NoError(t, exec.Execute(context.Background(), testChunk()))

	assert.Equal(t, 2, got.ChunkIndex)
	assert.Equal(t, []string{"SN-1", "SN-2", "SN-3"}, got.Serials)
	require.Len(t, got.Records, 2)
	assert.JSONEq(t, `{"qty":3}`, string(got.Records[1].Data))

	assert.Equal(t, "Bearer secret", headers.Get(executor.HeaderAuthorization))
	assert.Equal(t, executor.ContentTypeJSON, headers.Get(executor.HeaderContentType))
	assert.Equal(t, "2", headers.Get(executor.HeaderChunkIndex))
	assert.Empty(t, headers.Get(executor.HeaderContentEncoding))
}

func TestHTTPExecutor_CompressesWithBrotli(t *testing.T) {
	var got executor.ChunkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, executor.EncodingBrotli, r.Header.Get(executor.HeaderContentEncoding))
		assert.Empty(t, r.Header.Get(executor.HeaderAuthorization))
		raw, err := io.ReadAll(brotli.NewReader(r.Body))
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	s.Remote.Compress = true
	exec := newExecutor(t, s, nil)
	require.NoError(t, exec.Execute(context.Background(), testChunk()))
	assert.Equal(t, []string{"SN-1", "SN-2", "SN-3"}, got.Serials)
}

func TestHTTPExecutor_Classification(t *testing.T) {
	tests := []struct {
		name              string
		status            int
		body              string
		retryServerErrors bool
		wantErr           bool
		wantRetryable     bool
		wantMessage       string
	}{
		{name: "empty 200", status: http.StatusOK},
		{name: "non-json 200", status: http.StatusOK, body: "ok"},
		{name: "accepted", status: http.StatusAccepted, body: `{"success":true}`},
		{
			name: "rejected retryable", status: http.StatusOK,
			body:    `{"success":false,"errorMessage":"lock timeout","retryable":true}`,
			wantErr: true, wantRetryable: true, wantMessage: "lock timeout",
		},
		{
			name: "rejected terminal", status: http.StatusOK,
			body:    `{"success":false,"errorMessage":"unknown serial"}`,
			wantErr: true, wantMessage: "unknown serial",
		},
		{
			name: "rejected without message", status: http.StatusOK,
			body:    `{"success":false}`,
			wantErr: true, wantMessage: "remote rejected the chunk",
		},
		{
			name: "validation error", status: http.StatusUnprocessableEntity,
			body:    `{"errorMessage":"serial SN-2 is malformed"}`,
			wantErr: true, wantMessage: "serial SN-2 is malformed",
		},
		{
			name: "bad request text body", status: http.StatusBadRequest, body: "nope",
			wantErr: true, wantMessage: "Bad Request: nope",
		},
		{
			name: "unauthorized", status: http.StatusUnauthorized,
			wantErr: true, wantMessage: executor.ErrUnauthorized.Error(),
		},
		{
			name: "server error terminal by default", status: http.StatusServiceUnavailable,
			wantErr: true, wantMessage: "Service Unavailable",
		},
		{
			name: "server error retryable when enabled", status: http.StatusBadGateway,
			retryServerErrors: true,
			wantErr:           true, wantRetryable: true, wantMessage: "Bad Gateway",
		},
		{
			name: "rate limited retryable when enabled", status: http.StatusTooManyRequests,
			retryServerErrors: true,
			wantErr:           true, wantRetryable: true, wantMessage: "Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := testSettings(srv.URL)
			s.Remote.RetryServerErrors = tt.retryServerErrors
			err := newExecutor(t, s, nil).Execute(context.Background(), testChunk())
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			var re *types.RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.status, re.StatusCode)
			assert.Equal(t, tt.wantRetryable, types.IsRetryable(err))
			assert.Equal(t, tt.wantMessage, types.ErrorMessage(err))
		})
	}
}

func TestHTTPExecutor_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newExecutor(t, testSettings(url), nil).Execute(context.Background(), testChunk())
	require.Error(t, err)
	assert.ErrorIs(t, err, executor.ErrHTTPRequestFailed)
	assert.True(t, types.IsRetryable(err))

	var re *types.RemoteError
	assert.False(t, errors.As(err, &re))
}

func TestHTTPExecutor_EncodeFailureIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	chunk := types.Chunk{
		Serials: []string{"SN-1"},
		Records: []types.Record{{Serial: "SN-1", Data: json.RawMessage("{bad")}},
	}
	err := newExecutor(t, testSettings(srv.URL), nil).Execute(context.Background(), chunk)
	require.Error(t, err)
	assert.ErrorIs(t, err, executor.ErrEncodeRequest)
	assert.False(t, types.IsRetryable(err))
	assert.Contains(t, types.ErrorMessage(err), "failed to encode the chunk request")
	assert.Zero(t, calls.Load())
}

func TestHTTPExecutor_TransportRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	s.Remote.HTTPMaxRetries = 3
	s.Remote.HTTPMaxWait = 10 * time.Millisecond
	client := executor.NewHTTPClient(context.Background(), s)
	client.RetryWaitMin = time.Millisecond

	exec := executor.NewHTTPExecutor(client.StandardClient(), s, nil)
	require.NoError(t, exec.Execute(context.Background(), testChunk()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPExecutor_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := newExecutor(t, testSettings(srv.URL), nil).Execute(ctx, testChunk())
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}
