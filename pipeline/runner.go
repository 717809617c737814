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

// Package pipeline runs the business workflows: support triage and lead
// qualification. Each workflow is a sequence of steps executed against a
// run record; a step can halt the sequence early (spam gate) and any
// step error fails the run so the queue can retry it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"flowgate/platform/adapters"
	"flowgate/platform/audit"
	"flowgate/platform/config"
	"flowgate/platform/metrics"
	"flowgate/platform/queue"
	"flowgate/platform/quota"
	"flowgate/platform/routing"
	"flowgate/platform/shared/crypto"
	"flowgate/platform/shared/logger"
	"flowgate/platform/store"
)

// Storage is the slice of persistence the runner needs.
type Storage interface {
	GetTenant(ctx context.Context, id string) (*store.Tenant, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	UpdateRunStatus(ctx context.Context, runID, status string, upd store.RunUpdate) error
	GetTicket(ctx context.Context, id string) (*store.Ticket, error)
	UpdateTicket(ctx context.Context, ticket *store.Ticket) error
	GetLead(ctx context.Context, id string) (*store.Lead, error)
	UpdateLead(ctx context.Context, lead *store.Lead) error
}

// ModelRouter dispatches inference requests for one tenant.
type ModelRouter interface {
	Route(ctx context.Context, req routing.Request) (*routing.Result, error)
}

// RouterFactory builds a tenant-scoped model router.
type RouterFactory func(tenant *store.Tenant) (ModelRouter, error)

// CRM is the sales-side integration surface.
type CRM interface {
	IsConfigured() bool
	CreateContact(ctx context.Context, contact adapters.Contact) (*adapters.CRMRecord, error)
	CreateDeal(ctx context.Context, deal adapters.Deal, contactID string) (*adapters.CRMRecord, error)
}

// CRMFactory builds a tenant-scoped CRM client.
type CRMFactory func(tenant *store.Tenant) (CRM, error)

// Notifier posts workflow notifications to a tenant's Slack webhook.
type Notifier interface {
	Send(ctx context.Context, webhookURL, text string, blocks []adapters.Block) (bool, error)
}

// Mailer sends (or drafts) outbound email.
type Mailer interface {
	Send(cfg adapters.SMTPConfig, to, subject, bodyHTML string) (bool, error)
}

// Runner executes workflow jobs pulled off the queue.
type Runner struct {
	store     Storage
	audit     audit.Sink
	routerFor RouterFactory
	crmFor    CRMFactory
	notifier  Notifier
	mailer    Mailer
	log       *logger.Logger
	now       func() time.Time
}

// NewRunner wires a runner from its collaborators.
func NewRunner(st Storage, sink audit.Sink, routerFor RouterFactory, crmFor CRMFactory, notifier Notifier, mailer Mailer) *Runner {
	return &Runner{
		store:     st,
		audit:     sink,
		routerFor: routerFor,
		crmFor:    crmFor,
		notifier:  notifier,
		mailer:    mailer,
		log:       logger.New("pipeline"),
		now:       time.Now,
	}
}

// NewRouterFactory builds the production router factory: per-tenant
// budget enforcement, the shared local model backend, and the tenant's
// decrypted Anthropic key (or the platform key when enabled).
func NewRouterFactory(cfg *config.Config, codec *crypto.Codec, qs *quota.Store) RouterFactory {
	var templates *routing.TemplateStore
	if cfg.PromptTemplateDir != "" {
		templates = routing.NewTemplateStore(cfg.PromptTemplateDir)
	}
	return func(tenant *store.Tenant) (ModelRouter, error) {
		limits := quota.Limits{
			MaxRunsPerDay:     tenant.MaxRunsPerDay,
			MaxTokensPerDay:   tenant.MaxTokensPerDay,
			MaxItemsPerMinute: tenant.MaxItemsPerMinute,
		}
		enforcer := quota.NewEnforcer(qs, tenant.ID, limits)

		var local routing.LocalModel
		if cfg.LocalModelEnabled {
			local = routing.NewLocalClient(cfg.LocalModelURL)
		}

		apiKey := ""
		if tenant.AnthropicAPIKeyEncrypted != "" {
			key, err := codec.Decrypt(tenant.AnthropicAPIKeyEncrypted)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt Anthropic key for tenant %s: %w", tenant.ID, err)
			}
			apiKey = key
		} else if cfg.PlatformKeyMode {
			apiKey = cfg.PlatformAnthropicKey
		}

		var cloud routing.CloudModel
		if apiKey != "" {
			cloud = routing.NewAnthropicClient(apiKey)
		}

		router := routing.NewRouter(tenant.ID, enforcer, local, cloud, cfg.LocalModelEnabled)
		if templates != nil {
			router = router.WithTemplates(templates)
		}
		return router, nil
	}
}

// NewCRMFactory builds the production CRM factory, decrypting the
// tenant's HubSpot key when present.
func NewCRMFactory(codec *crypto.Codec) CRMFactory {
	return func(tenant *store.Tenant) (CRM, error) {
		apiKey := ""
		if tenant.HubspotAPIKeyEncrypted != "" {
			key, err := codec.Decrypt(tenant.HubspotAPIKeyEncrypted)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt HubSpot key for tenant %s: %w", tenant.ID, err)
			}
			apiKey = key
		}
		return adapters.NewCRMClient(apiKey, ""), nil
	}
}

// step is one unit of a workflow. halt stops the sequence without
// failing the run.
type step struct {
	name string
	fn   func(ctx context.Context, rc *runContext) (halt bool, err error)
}

// runContext carries the state a workflow accumulates across steps.
type runContext struct {
	tenant *store.Tenant
	run    *store.Run
	router ModelRouter
	crm    CRM

	ticket *store.Ticket
	rules  *RoutingRules

	lead  *store.Lead
	quali Qualification

	steps []store.StepRecord

	localCalls   int
	localTokens  int
	claudeCalls  int
	claudeIn     int
	claudeOut    int
	estimatedUSD float64
}

// recordCall books one model answer into the run's usage totals and the
// step log.
func (rc *runContext) recordCall(stepName string, res *routing.Result) {
	switch res.Model {
	case routing.ModelLocal:
		rc.localCalls++
		rc.localTokens += res.Tokens
	case routing.ModelFallbackDefault:
		// synthesized answer, nothing to account
	default:
		rc.claudeCalls++
		rc.claudeIn += res.InputTokens
		rc.claudeOut += res.OutputTokens
	}
	rc.estimatedUSD += res.CostUSD
	rc.steps = append(rc.steps, store.StepRecord{Step: stepName, Model: res.Model, Tokens: res.Tokens})
}

// recordStep books a non-model step.
func (rc *runContext) recordStep(stepName string) {
	rc.steps = append(rc.steps, store.StepRecord{Step: stepName})
}

func (rc *runContext) usageUpdate() store.RunUpdate {
	return store.RunUpdate{
		StepsCompleted:     rc.steps,
		LocalModelCalls:    &rc.localCalls,
		LocalModelTokens:   &rc.localTokens,
		ClaudeCalls:        &rc.claudeCalls,
		ClaudeInputTokens:  &rc.claudeIn,
		ClaudeOutputTokens: &rc.claudeOut,
		EstimatedCostUSD:   &rc.estimatedUSD,
	}
}

// RunSupportTriage is the queue handler for support_triage jobs.
func (r *Runner) RunSupportTriage(ctx context.Context, job *queue.Job) error {
	rc, err := r.loadContext(ctx, job)
	if err != nil {
		return err
	}

	ticket, err := r.store.GetTicket(ctx, job.UnitID)
	if err != nil {
		return fmt.Errorf("failed to load ticket %s: %w", job.UnitID, err)
	}
	rc.ticket = ticket

	rules, err := ParseRoutingRules(rc.tenant.SupportConfigYAML)
	if err != nil {
		r.log.Warn(rc.tenant.ID, rc.run.ID, "Malformed routing config, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
	}
	rc.rules = rules

	return r.execute(ctx, rc, store.WorkflowSupportTriage, r.supportSteps())
}

// RunLeadQualify is the queue handler for lead_qualify jobs.
func (r *Runner) RunLeadQualify(ctx context.Context, job *queue.Job) error {
	rc, err := r.loadContext(ctx, job)
	if err != nil {
		return err
	}

	lead, err := r.store.GetLead(ctx, job.UnitID)
	if err != nil {
		return fmt.Errorf("failed to load lead %s: %w", job.UnitID, err)
	}
	rc.lead = lead

	crm, err := r.crmFor(rc.tenant)
	if err != nil {
		return r.failRun(ctx, rc, store.WorkflowLeadQualify, err)
	}
	rc.crm = crm

	return r.execute(ctx, rc, store.WorkflowLeadQualify, r.leadSteps())
}

// loadContext resolves the tenant, run, and model router for a job.
func (r *Runner) loadContext(ctx context.Context, job *queue.Job) (*runContext, error) {
	tenant, err := r.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", job.TenantID, err)
	}
	run, err := r.store.GetRun(ctx, job.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", job.RunID, err)
	}
	router, err := r.routerFor(tenant)
	if err != nil {
		return nil, err
	}
	return &runContext{tenant: tenant, run: run, router: router}, nil
}

// execute drives the step sequence and owns the run's status
// transitions. A step error fails the run and propagates so the queue
// retries; a halt completes the run early.
func (r *Runner) execute(ctx context.Context, rc *runContext, workflow string, steps []step) error {
	started := r.now()
	firstStep := steps[0].name
	if err := r.store.UpdateRunStatus(ctx, rc.run.ID, store.RunStatusRunning, store.RunUpdate{
		StartedAt:   &started,
		CurrentStep: &firstStep,
	}); err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}

	for _, s := range steps {
		current := s.name
		if err := r.store.UpdateRunStatus(ctx, rc.run.ID, store.RunStatusRunning, store.RunUpdate{
			CurrentStep: &current,
		}); err != nil {
			return r.failRun(ctx, rc, workflow, err)
		}

		halt, err := s.fn(ctx, rc)
		if err != nil {
			r.log.ErrorWithErr(rc.tenant.ID, rc.run.ID, "Pipeline step failed", err, map[string]interface{}{
				"workflow": workflow,
				"step":     s.name,
			})
			return r.failRun(ctx, rc, workflow, err)
		}
		if halt {
			break
		}
	}

	completed := r.now()
	duration := completed.Sub(started).Seconds()
	upd := rc.usageUpdate()
	upd.CompletedAt = &completed
	upd.DurationSeconds = &duration
	if err := r.store.UpdateRunStatus(ctx, rc.run.ID, store.RunStatusCompleted, upd); err != nil {
		return fmt.Errorf("failed to mark run completed: %w", err)
	}
	metrics.RunsProcessed.WithLabelValues(workflow, store.RunStatusCompleted).Inc()
	metrics.RunDuration.WithLabelValues(workflow).Observe(duration)

	r.log.InfoWithDuration(rc.tenant.ID, rc.run.ID, "Pipeline completed", duration*1000, map[string]interface{}{
		"workflow":       workflow,
		"steps":          len(rc.steps),
		"estimated_cost": rc.estimatedUSD,
	})
	return nil
}

// failRun records the failure on the run and in the audit trail, then
// returns the original error so the queue's retry policy applies.
func (r *Runner) failRun(ctx context.Context, rc *runContext, workflow string, cause error) error {
	completed := r.now()
	msg := cause.Error()
	upd := rc.usageUpdate()
	upd.ErrorMessage = &msg
	upd.CompletedAt = &completed
	if err := r.store.UpdateRunStatus(ctx, rc.run.ID, store.RunStatusFailed, upd); err != nil {
		r.log.ErrorWithErr(rc.tenant.ID, rc.run.ID, "Failed to mark run failed", err, nil)
	}
	metrics.RunsProcessed.WithLabelValues(workflow, store.RunStatusFailed).Inc()

	r.recordAudit(ctx, rc, &audit.Entry{
		Action:        audit.ActionError,
		Workflow:      workflow,
		Step:          "pipeline",
		ReasonCode:    "pipeline_error",
		OutputSummary: msg,
	})
	return cause
}

// recordAudit fills the tenant/run identifiers and writes the entry.
// Audit writes are best effort; a failed write never fails the run.
func (r *Runner) recordAudit(ctx context.Context, rc *runContext, entry *audit.Entry) {
	entry.TenantID = rc.tenant.ID
	entry.RunID = rc.run.ID
	if err := r.audit.Record(ctx, entry); err != nil {
		r.log.ErrorWithErr(rc.tenant.ID, rc.run.ID, "Failed to record audit entry", err, map[string]interface{}{
			"action": entry.Action,
		})
	}
}
