// Copyright 2025 FlowGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"flowgate/platform/audit"
	"flowgate/platform/quota"
	"flowgate/platform/store"
)

// handleListRuns returns the tenant's recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	tenant := s.resolveTenant(w, r)
	if tenant == nil {
		return
	}

	limit := queryInt(r, "limit", 50)
	runs, err := s.store.ListRuns(r.Context(), tenant.ID, limit)
	if err != nil {
		s.log.ErrorWithErr(tenant.ID, "", "Failed to list runs", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.respondJSON(w, http.StatusOK, struct {
		OK   bool         `json:"ok"`
		Runs []*store.Run `json:"runs"`
	}{true, runs})
}

// handleGetRun returns one run, scoped to the requesting tenant.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	tenant := s.resolveTenant(w, r)
	if tenant == nil {
		return
	}

	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.ErrorWithErr(tenant.ID, "", "Failed to load run", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if run.TenantID != tenant.ID {
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}

	s.respondJSON(w, http.StatusOK, struct {
		OK  bool       `json:"ok"`
		Run *store.Run `json:"run"`
	}{true, run})
}

// handleUsage reports the tenant's consumption against its daily limits.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	tenant := s.resolveTenant(w, r)
	if tenant == nil {
		return
	}

	usage, err := s.enforcerFor(tenant).GetUsage(r.Context())
	if err != nil {
		s.log.ErrorWithErr(tenant.ID, "", "Failed to read usage", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.respondJSON(w, http.StatusOK, struct {
		OK    bool         `json:"ok"`
		Usage *quota.Usage `json:"usage"`
	}{true, usage})
}

// handleAudit returns the tenant's audit trail, optionally filtered by
// run and action.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	tenant := s.resolveTenant(w, r)
	if tenant == nil {
		return
	}
	if s.auditQuery == nil {
		s.respondError(w, http.StatusNotFound, "audit querying is not enabled")
		return
	}

	entries, err := s.auditQuery.Query(r.Context(), audit.QueryFilter{
		TenantID: tenant.ID,
		RunID:    r.URL.Query().Get("run_id"),
		Action:   r.URL.Query().Get("action"),
		Limit:    queryInt(r, "limit", 100),
	})
	if err != nil {
		s.log.ErrorWithErr(tenant.ID, "", "Failed to query audit log", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.respondJSON(w, http.StatusOK, struct {
		OK      bool           `json:"ok"`
		Entries []*audit.Entry `json:"entries"`
	}{true, entries})
}

// recordIntakeAudit writes the intake-side audit entry. Best effort.
func (s *Server) recordIntakeAudit(ctx context.Context, tenantID, runID, action, workflow string, metadata map[string]interface{}) {
	entry := &audit.Entry{
		TenantID: tenantID,
		RunID:    runID,
		Action:   action,
		Workflow: workflow,
		Step:     "intake",
		Actor:    "webhook",
		Metadata: metadata,
	}
	if err := s.sink.Record(ctx, entry); err != nil {
		s.log.ErrorWithErr(tenantID, runID, "Failed to record intake audit entry", err, nil)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
