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

// Package server exposes the public HTTP API: webhook intake for both
// workflows, run and usage inspection, and the audit trail.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"flowgate/platform/audit"
	"flowgate/platform/queue"
	"flowgate/platform/quota"
	"flowgate/platform/shared/logger"
	"flowgate/platform/store"
)

// tenantHeader carries the tenant slug on every tenant-scoped request.
const tenantHeader = "X-Tenant-Slug"

// Storage is the slice of persistence the API needs.
type Storage interface {
	GetTenantBySlug(ctx context.Context, slug string) (*store.Tenant, error)
	CreateRun(ctx context.Context, r *store.Run) error
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, tenantID string, limit int) ([]*store.Run, error)
	CreateTicket(ctx context.Context, t *store.Ticket) error
	CreateLead(ctx context.Context, l *store.Lead) error
}

// AuditQuerier reads back recorded audit entries.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]*audit.Entry, error)
}

// Server is the public HTTP API.
type Server struct {
	store       Storage
	quotaStore  *quota.Store
	sink        audit.Sink
	auditQuery  AuditQuerier
	supportJobs *queue.Queue
	leadJobs    *queue.Queue
	corsOrigins []string
	log         *logger.Logger
}

// New wires the API server.
func New(st Storage, qs *quota.Store, sink audit.Sink, auditQuery AuditQuerier, supportJobs, leadJobs *queue.Queue, corsOrigins []string) *Server {
	return &Server{
		store:       st,
		quotaStore:  qs,
		sink:        sink,
		auditQuery:  auditQuery,
		supportJobs: supportJobs,
		leadJobs:    leadJobs,
		corsOrigins: corsOrigins,
		log:         logger.New("api"),
	}
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/webhooks/support", s.handleSupportWebhook).Methods("POST")
	r.HandleFunc("/api/v1/webhooks/leads", s.handleLeadWebhook).Methods("POST")

	r.HandleFunc("/api/v1/runs", s.handleListRuns).Methods("GET")
	r.HandleFunc("/api/v1/runs/{id}", s.handleGetRun).Methods("GET")
	r.HandleFunc("/api/v1/tenants/{slug}/usage", s.handleUsage).Methods("GET")
	r.HandleFunc("/api/v1/audit", s.handleAudit).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// resolveTenant looks up the active tenant named by the slug header, a
// {slug} path variable, or a ?tenant= query parameter, in that order.
// Writes the error response itself and returns nil when the request
// cannot proceed.
func (s *Server) resolveTenant(w http.ResponseWriter, r *http.Request) *store.Tenant {
	slug := r.Header.Get(tenantHeader)
	if slug == "" {
		slug = mux.Vars(r)["slug"]
	}
	if slug == "" {
		slug = r.URL.Query().Get("tenant")
	}
	if slug == "" {
		s.respondError(w, http.StatusNotFound, "unknown tenant")
		return nil
	}
	tenant, err := s.store.GetTenantBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "unknown tenant")
			return nil
		}
		s.log.ErrorWithErr("", "", "Tenant lookup failed", err, map[string]interface{}{"slug": slug})
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if !tenant.IsActive {
		s.respondError(w, http.StatusNotFound, "unknown tenant")
		return nil
	}
	return tenant
}

func (s *Server) enforcerFor(tenant *store.Tenant) *quota.Enforcer {
	return quota.NewEnforcer(s.quotaStore, tenant.ID, quota.Limits{
		MaxRunsPerDay:     tenant.MaxRunsPerDay,
		MaxTokensPerDay:   tenant.MaxTokensPerDay,
		MaxItemsPerMinute: tenant.MaxItemsPerMinute,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.ErrorWithErr("", "", "Failed to encode response", err, nil)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}{false, message})
}
