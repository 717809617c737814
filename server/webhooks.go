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
	"errors"
	"net/http"

	"flowgate/platform/audit"
	"flowgate/platform/metrics"
	"flowgate/platform/queue"
	"flowgate/platform/quota"
	"flowgate/platform/store"
)

type supportWebhookPayload struct {
	ExternalID string `json:"external_id"`
	Source     string `json:"source"`
	FromEmail  string `json:"from_email"`
	FromName   string `json:"from_name"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

type leadWebhookPayload struct {
	Source      string `json:"source"`
	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Company     string `json:"company"`
	Phone       string `json:"phone"`
	Message     string `json:"message"`
}

// handleSupportWebhook accepts an inbound support ticket, runs admission
// control, and queues a triage run.
func (s *Server) handleSupportWebhook(w http.ResponseWriter, r *http.Request) {
	tenant := s.resolveTenant(w, r)
	if tenant == nil {
		metrics.WebhookRejections.WithLabelValues(store.WorkflowSupportTriage, "unknown_tenant").Inc()
		return
	}
	metrics.WebhookRequests.WithLabelValues(store.WorkflowSupportTriage, tenant.Slug).Inc()

	if !tenant.SupportWorkflowEnabled {
		metrics.WebhookRejections.WithLabelValues(store.WorkflowSupportTriage, "workflow_disabled").Inc()
		s.respondError(w, http.StatusForbidden, "support workflow is disabled for this tenant")
		return
	}

	var payload supportWebhookPayload
	if err := decodeJSON(r, &payload); err != nil || payload.FromEmail == "" || payload.Body == "" {
		metrics.WebhookRejections.WithLabelValues(store.WorkflowSupportTriage, "invalid_payload").Inc()
		s.respondError(w, http.StatusBadRequest, "from_email and body are required")
		return
	}

	enforcer := s.enforcerFor(tenant)
	if !s.admit(w, r, tenant, enforcer, store.WorkflowSupportTriage) {
		return
	}

	ctx := r.Context()
	ticket := &store.Ticket{
		TenantID:   tenant.ID,
		ExternalID: payload.ExternalID,
		Source:     payload.Source,
		FromEmail:  payload.FromEmail,
		FromName:   payload.FromName,
		Subject:    payload.Subject,
		Body:       payload.Body,
	}
	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		s.log.ErrorWithErr(tenant.ID, "", "Failed to create ticket", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	run := &store.Run{
		TenantID: tenant.ID,
		Workflow: store.WorkflowSupportTriage,
		TicketID: ticket.ID,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.log.ErrorWithErr(tenant.ID, "", "Failed to create run", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.recordIntakeAudit(ctx, tenant.ID, run.ID, audit.ActionTicketCreated, store.WorkflowSupportTriage, map[string]interface{}{
		"ticket_id": ticket.ID,
		"source":    ticket.Source,
	})

	job := queue.NewJob(store.WorkflowSupportTriage, tenant.ID, ticket.ID, run.ID)
	if err := s.supportJobs.Enqueue(ctx, job); err != nil {
		s.log.ErrorWithErr(tenant.ID, run.ID, "Failed to enqueue triage job", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.bumpCounters(r, enforcer, tenant.ID)

	s.respondJSON(w, http.StatusAccepted, struct {
		OK       bool   `json:"ok"`
		RunID    string `json:"run_id"`
		TicketID string `json:"ticket_id"`
		Message  string `json:"message"`
	}{true, run.ID, ticket.ID, "ticket queued for triage"})
}

// handleLeadWebhook accepts an inbound lead and queues a qualification
// run.
func (s *Server) handleLeadWebhook(w http.ResponseWriter, r *http.Request) {
	tenant := s.resolveTenant(w, r)
	if tenant == nil {
		metrics.WebhookRejections.WithLabelValues(store.WorkflowLeadQualify, "unknown_tenant").Inc()
		return
	}
	metrics.WebhookRequests.WithLabelValues(store.WorkflowLeadQualify, tenant.Slug).Inc()

	if !tenant.SalesWorkflowEnabled {
		metrics.WebhookRejections.WithLabelValues(store.WorkflowLeadQualify, "workflow_disabled").Inc()
		s.respondError(w, http.StatusForbidden, "sales workflow is disabled for this tenant")
		return
	}

	var payload leadWebhookPayload
	if err := decodeJSON(r, &payload); err != nil || payload.Email == "" || payload.Name == "" {
		metrics.WebhookRejections.WithLabelValues(store.WorkflowLeadQualify, "invalid_payload").Inc()
		s.respondError(w, http.StatusBadRequest, "name and email are required")
		return
	}

	enforcer := s.enforcerFor(tenant)
	if !s.admit(w, r, tenant, enforcer, store.WorkflowLeadQualify) {
		return
	}

	ctx := r.Context()
	lead := &store.Lead{
		TenantID:    tenant.ID,
		Source:      payload.Source,
		UTMSource:   payload.UTMSource,
		UTMMedium:   payload.UTMMedium,
		UTMCampaign: payload.UTMCampaign,
		Name:        payload.Name,
		Email:       payload.Email,
		Company:     payload.Company,
		Phone:       payload.Phone,
		Message:     payload.Message,
	}
	if err := s.store.CreateLead(ctx, lead); err != nil {
		s.log.ErrorWithErr(tenant.ID, "", "Failed to create lead", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	run := &store.Run{
		TenantID: tenant.ID,
		Workflow: store.WorkflowLeadQualify,
		LeadID:   lead.ID,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.log.ErrorWithErr(tenant.ID, "", "Failed to create run", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.recordIntakeAudit(ctx, tenant.ID, run.ID, audit.ActionLeadCreated, store.WorkflowLeadQualify, map[string]interface{}{
		"lead_id": lead.ID,
		"source":  lead.Source,
	})

	job := queue.NewJob(store.WorkflowLeadQualify, tenant.ID, lead.ID, run.ID)
	if err := s.leadJobs.Enqueue(ctx, job); err != nil {
		s.log.ErrorWithErr(tenant.ID, run.ID, "Failed to enqueue qualification job", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.bumpCounters(r, enforcer, tenant.ID)

	s.respondJSON(w, http.StatusAccepted, struct {
		OK      bool   `json:"ok"`
		RunID   string `json:"run_id"`
		LeadID  string `json:"lead_id"`
		Message string `json:"message"`
	}{true, run.ID, lead.ID, "lead queued for qualification"})
}

// admit runs admission control and writes the 429 when the tenant is
// over a limit or its circuit is open.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, tenant *store.Tenant, enforcer *quota.Enforcer, workflow string) bool {
	err := enforcer.CheckAll(r.Context(), 0)
	if err == nil {
		return true
	}

	var budgetErr *quota.BudgetExceededError
	var circuitErr *quota.CircuitOpenError
	switch {
	case errors.As(err, &budgetErr):
		metrics.WebhookRejections.WithLabelValues(workflow, "rate_limited").Inc()
		s.recordIntakeAudit(r.Context(), tenant.ID, "", audit.ActionBudgetExceeded, workflow, map[string]interface{}{
			"limit_type": budgetErr.LimitType,
		})
		s.respondError(w, http.StatusTooManyRequests, budgetErr.Reason)
	case errors.As(err, &circuitErr):
		metrics.WebhookRejections.WithLabelValues(workflow, "circuit_open").Inc()
		s.respondError(w, http.StatusTooManyRequests, circuitErr.Reason)
	default:
		s.log.ErrorWithErr(tenant.ID, "", "Admission check failed", err, nil)
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
	return false
}

// bumpCounters books the accepted item against the tenant's rate and
// daily run budgets. Runs after the enqueue so a failed enqueue does
// not consume budget.
func (s *Server) bumpCounters(r *http.Request, enforcer *quota.Enforcer, tenantID string) {
	if err := enforcer.IncrementRate(r.Context()); err != nil {
		s.log.ErrorWithErr(tenantID, "", "Failed to increment rate counter", err, nil)
	}
	if err := enforcer.IncrementDailyRuns(r.Context()); err != nil {
		s.log.ErrorWithErr(tenantID, "", "Failed to increment daily run counter", err, nil)
	}
}
