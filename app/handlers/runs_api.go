// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-obvious/server"
	"github.com/go-obvious/server/api"
	"github.com/go-obvious/server/request"
	"github.com/rs/zerolog/log"

	"github.com/cloudzero/cloudzero-syncer/app/domain/runs"
	"github.com/cloudzero/cloudzero-syncer/app/domain/source"
	"github.com/cloudzero/cloudzero-syncer/app/types"
)

// MaxRunBodyBytes caps the size of an input document posted to the API.
const MaxRunBodyBytes = 64 << 20

// RunsAPI exposes the run manager over HTTP.
type RunsAPI struct {
	api.Service
	manager *runs.Manager
	loader  *source.Loader
}

func NewRunsAPI(base string, manager *runs.Manager, loader *source.Loader) *RunsAPI {
	a := &RunsAPI{
		manager: manager,
		loader:  loader,
		Service: api.Service{
			APIName: "runs",
			Mounts:  map[string]*chi.Mux{},
		},
	}
	a.Service.Mounts[base] = a.Routes()
	return a
}

func (a *RunsAPI) Register(app server.Server) error {
	if err := a.Service.Register(app); err != nil {
		return err
	}
	return nil
}

func (a *RunsAPI) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Post("/", a.PostRun)
	r.Get("/", a.ListRuns)
	r.Get("/history", a.GetHistory)
	r.Get("/history/{reportID}", a.GetReport)
	r.Get("/{runID}", a.GetRun)
	r.Post("/{runID}/pause", a.PauseRun)
	r.Post("/{runID}/resume", a.ResumeRun)
	r.Post("/{runID}/abort", a.AbortRun)
	return r
}

// RunResponse describes a run.
type RunResponse struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"startedAt"`
	Progress  types.Progress `json:"progress"`
	Error     string         `json:"error,omitempty"`
}

func newRunResponse(run *runs.Run, snap types.Progress) RunResponse {
	resp := RunResponse{ID: run.ID, StartedAt: run.StartedAt, Progress: snap.Clone()}
	if err := run.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// PostRun starts a run from the posted document. The document is read with
// the configured source queries; the format comes from the Content-Type.
func (a *RunsAPI) PostRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	format := source.FormatJSON
	switch r.Header.Get("Content-Type") {
	case "application/yaml", "application/x-yaml", "text/yaml":
		format = source.FormatYAML
	}

	batch, err := a.loader.Load(ctx, http.MaxBytesReader(w, r.Body, MaxRunBodyBytes), format)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to load run input")
		request.Reply(r, w, "invalid run input: "+err.Error(), http.StatusBadRequest)
		return
	}

	run, err := a.manager.Start(*batch)
	switch {
	case errors.Is(err, runs.ErrEmptyBatch):
		request.Reply(r, w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, runs.ErrShuttingDown):
		request.Reply(r, w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		log.Ctx(ctx).Error().Err(err).Msg("failed to start run")
		request.Reply(r, w, "failed to start run", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).Info().
		Str("runId", run.ID).
		Int("records", len(batch.Serials)).
		Msg("run started")

	w.Header().Set("Location", path.Join(r.URL.Path, run.ID))
	writeJSON(w, r, http.StatusAccepted, newRunResponse(run, run.Progress()))
}

func (a *RunsAPI) ListRuns(w http.ResponseWriter, r *http.Request) {
	all := a.manager.List()
	out := make([]RunResponse, 0, len(all))
	for _, run := range all {
		out = append(out, newRunResponse(run, run.Progress()))
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (a *RunsAPI) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.manager.Get(chi.URLParam(r, "runID"))
	if err != nil {
		request.Reply(r, w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, newRunResponse(run, run.Progress()))
}

func (a *RunsAPI) PauseRun(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, a.manager.Pause)
}

func (a *RunsAPI) ResumeRun(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, a.manager.Resume)
}

func (a *RunsAPI) AbortRun(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, a.manager.Abort)
}

func (a *RunsAPI) control(w http.ResponseWriter, r *http.Request, op func(string) (types.Progress, error)) {
	id := chi.URLParam(r, "runID")
	snap, err := op(id)
	if err != nil {
		request.Reply(r, w, err.Error(), http.StatusNotFound)
		return
	}
	run, err := a.manager.Get(id)
	if err != nil {
		request.Reply(r, w, err.Error(), http.StatusNotFound)
		return
	}
	log.Ctx(r.Context()).Info().Str("runId", id).Str("status", string(snap.Status)).Msg("run control")
	writeJSON(w, r, http.StatusOK, newRunResponse(run, snap))
}

func (a *RunsAPI) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			request.Reply(r, w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history, err := a.manager.History(r.Context(), limit)
	if err != nil {
		a.replyStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, history)
}

func (a *RunsAPI) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.manager.Report(r.Context(), chi.URLParam(r, "reportID"))
	if err != nil {
		a.replyStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (a *RunsAPI) replyStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, runs.ErrNoReportStore):
		request.Reply(r, w, err.Error(), http.StatusNotImplemented)
	case errors.Is(err, runs.ErrInvalidRunID):
		request.Reply(r, w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, types.ErrNotFound):
		request.Reply(r, w, "report not found", http.StatusNotFound)
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to read run history")
		request.Reply(r, w, "failed to read run history", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Ctx(r.Context()).Err(err).Msg("failed to encode response")
	}
}
