// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package healthz collects named liveness checks and reports them over HTTP.
//
//	checker := healthz.New()
//	checker.Register("database", sqlDB.PingContext)
//	mux.Get("/healthz", checker.EndpointHandler())
package healthz

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"
)

// DefaultTimeout bounds a full round of checks.
const DefaultTimeout = 2 * time.Second

// HealthCheck returns nil when the component is healthy.
type HealthCheck func(ctx context.Context) error

// Checker is a registry of health checks. The zero value is not usable, use New.
type Checker struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func New() *Checker {
	return &Checker{timeout: DefaultTimeout, checks: make(map[string]HealthCheck)}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, fn HealthCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Check runs every check in name order and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()
	slices.Sort(names)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			return fmt.Errorf("%s failed: %w", name, err)
		}
	}
	return nil
}

// EndpointHandler answers 200 "ok" or 503 with the failing check.
func (c *Checker) EndpointHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Check(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
