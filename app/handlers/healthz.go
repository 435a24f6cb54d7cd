// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-obvious/server"
	"github.com/go-obvious/server/api"

	"github.com/cloudzero/cloudzero-syncer/app/domain/healthz"
)

type HealthzAPI struct {
	api.Service
	checker *healthz.Checker
}

func NewHealthzAPI(base string, checker *healthz.Checker) *HealthzAPI {
	a := &HealthzAPI{
		checker: checker,
		Service: api.Service{
			APIName: "healthz",
			Mounts:  map[string]*chi.Mux{},
		},
	}
	a.Service.Mounts[base] = a.Routes()
	return a
}

func (a *HealthzAPI) Register(app server.Server) error {
	if err := a.Service.Register(app); err != nil {
		return err
	}
	return nil
}

func (a *HealthzAPI) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/", a.checker.EndpointHandler())
	return r
}
