// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	config "github.com/cloudzero/cloudzero-syncer/app/config/syncer"
)

// HTTPClient sends a single request.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ZerologRetryableHTTPAdapter adapts zerolog.Logger to retryablehttp.Logger
type ZerologRetryableHTTPAdapter struct {
	logger *zerolog.Logger
}

// NewZerologRetryableHTTPAdapter creates a new adapter. A nil logger uses the
// global zerolog logger.
func NewZerologRetryableHTTPAdapter(logger *zerolog.Logger) *ZerologRetryableHTTPAdapter {
	if logger == nil {
		defaultLogger := log.Logger
		logger = &defaultLogger
	}
	return &ZerologRetryableHTTPAdapter{logger: logger}
}

func (a *ZerologRetryableHTTPAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error().Fields(retryableHTTPKVsToMap(keysAndValues...)).Msg(msg)
}

func (a *ZerologRetryableHTTPAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info().Fields(retryableHTTPKVsToMap(keysAndValues...)).Msg(msg)
}

func (a *ZerologRetryableHTTPAdapter) Debug(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Fields(retryableHTTPKVsToMap(keysAndValues...)).Msg(msg)
}

func (a *ZerologRetryableHTTPAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn().Fields(retryableHTTPKVsToMap(keysAndValues...)).Msg(msg)
}

// retryableHTTPKVsToMap converts go-retryablehttp's key-value pairs to a map for zerolog.
func retryableHTTPKVsToMap(keysAndValues ...interface{}) map[string]interface{} {
	m := make(map[string]interface{})
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			m[key] = keysAndValues[i+1]
		}
	}
	return m
}

var _ retryablehttp.LeveledLogger = (*ZerologRetryableHTTPAdapter)(nil)

// NewHTTPClient builds the transport used by the executor. Transport level
// retries are off by default; the chunk retry policy owns retries.
//
// When the transport gives up on a response the response is handed back
// unchanged so the executor can classify its status code.
func NewHTTPClient(ctx context.Context, s *config.Settings) *retryablehttp.Client {
	httpClient := retryablehttp.NewClient()
	httpClient.Logger = NewZerologRetryableHTTPAdapter(log.Ctx(ctx))
	httpClient.HTTPClient = &http.Client{
		Timeout: s.Remote.SendTimeout,
	}
	httpClient.RetryMax = s.Remote.HTTPMaxRetries
	httpClient.RetryWaitMax = s.Remote.HTTPMaxWait

	httpClient.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if resp == nil {
			return nil, errors.Join(fmt.Errorf("giving up after %d attempt(s): %w", numTries, err), ErrHTTPRequestFailed)
		}
		return resp, nil
	}

	return httpClient
}
