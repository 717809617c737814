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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Postgres implements persistence on PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects to PostgreSQL and verifies the connection.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// NewPostgresWithDB wraps an existing connection. Used by tests.
func NewPostgresWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the underlying pool for components that manage their own
// statements (e.g. the audit batch writer).
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(100) UNIQUE NOT NULL,
			allowed_domains TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			anthropic_api_key_encrypted TEXT,
			max_runs_per_day INTEGER NOT NULL DEFAULT 500,
			max_tokens_per_day INTEGER NOT NULL DEFAULT 500000,
			max_items_per_minute INTEGER NOT NULL DEFAULT 10,
			support_workflow_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			sales_workflow_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			autosend_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.85,
			support_config_yaml TEXT,
			sales_config_yaml TEXT,
			slack_webhook_url TEXT,
			hubspot_api_key_encrypted TEXT,
			smtp_config_json TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tenants_slug ON tenants(slug)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id),
			workflow VARCHAR(50) NOT NULL,
			status VARCHAR(30) NOT NULL DEFAULT 'queued',
			error_message TEXT,
			ticket_id UUID,
			lead_id UUID,
			local_model_calls INTEGER NOT NULL DEFAULT 0,
			local_model_tokens INTEGER NOT NULL DEFAULT 0,
			claude_calls INTEGER NOT NULL DEFAULT 0,
			claude_input_tokens INTEGER NOT NULL DEFAULT 0,
			claude_output_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			steps_completed JSONB,
			current_step VARCHAR(100),
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			duration_seconds DOUBLE PRECISION,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id),
			external_id VARCHAR(255),
			source VARCHAR(50) NOT NULL DEFAULT 'webhook',
			from_email VARCHAR(255),
			from_name VARCHAR(255),
			subject VARCHAR(500),
			body TEXT NOT NULL,
			category VARCHAR(100),
			priority VARCHAR(20),
			sentiment VARCHAR(20),
			suggested_team VARCHAR(100),
			needs_human BOOLEAN,
			classification_confidence DOUBLE PRECISION,
			classification_raw JSONB,
			draft_reply TEXT,
			internal_notes TEXT,
			recommended_action VARCHAR(255),
			follow_up_questions JSONB,
			assigned_team VARCHAR(100),
			tags JSONB,
			sla_due_at TIMESTAMP,
			status VARCHAR(30) NOT NULL DEFAULT 'new',
			reply_sent BOOLEAN NOT NULL DEFAULT FALSE,
			run_id UUID,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_tenant ON tickets(tenant_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS leads (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id),
			source VARCHAR(50) NOT NULL DEFAULT 'webhook',
			utm_source VARCHAR(255),
			utm_medium VARCHAR(255),
			utm_campaign VARCHAR(255),
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL,
			company VARCHAR(255),
			phone VARCHAR(50),
			message TEXT,
			company_size_cue VARCHAR(50),
			intent_classification VARCHAR(100),
			urgency VARCHAR(20),
			industry VARCHAR(100),
			spam_score DOUBLE PRECISION,
			extraction_confidence DOUBLE PRECISION,
			extraction_raw JSONB,
			qualification_summary TEXT,
			follow_up_questions JSONB,
			suggested_next_step VARCHAR(100),
			crm_contact_id VARCHAR(255),
			crm_deal_id VARCHAR(255),
			email_drafts JSONB,
			follow_up_scheduled_at TIMESTAMP,
			status VARCHAR(30) NOT NULL DEFAULT 'new',
			score DOUBLE PRECISION,
			run_id UUID,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_tenant ON leads(tenant_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email)`,
	}

	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// ---------- tenants ----------

// CreateTenant inserts a tenant, assigning an ID if missing.
func (p *Postgres) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.MaxRunsPerDay == 0 {
		t.MaxRunsPerDay = 500
	}
	if t.MaxTokensPerDay == 0 {
		t.MaxTokensPerDay = 500000
	}
	if t.MaxItemsPerMinute == 0 {
		t.MaxItemsPerMinute = 10
	}
	if t.ConfidenceThreshold == 0 {
		t.ConfidenceThreshold = 0.85
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
		INSERT INTO tenants (
			id, name, slug, allowed_domains, is_active,
			anthropic_api_key_encrypted,
			max_runs_per_day, max_tokens_per_day, max_items_per_minute,
			support_workflow_enabled, sales_workflow_enabled,
			autosend_enabled, confidence_threshold,
			support_config_yaml, sales_config_yaml,
			slack_webhook_url, hubspot_api_key_encrypted, smtp_config_json,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

	_, err := p.db.ExecContext(ctx, query,
		t.ID, t.Name, t.Slug, t.AllowedDomains, t.IsActive,
		nullStr(t.AnthropicAPIKeyEncrypted),
		t.MaxRunsPerDay, t.MaxTokensPerDay, t.MaxItemsPerMinute,
		t.SupportWorkflowEnabled, t.SalesWorkflowEnabled,
		t.AutosendEnabled, t.ConfidenceThreshold,
		nullStr(t.SupportConfigYAML), nullStr(t.SalesConfigYAML),
		nullStr(t.SlackWebhookURL), nullStr(t.HubspotAPIKeyEncrypted), nullStr(t.SMTPConfigJSON),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

const tenantColumns = `id, name, slug, allowed_domains, is_active,
	anthropic_api_key_encrypted,
	max_runs_per_day, max_tokens_per_day, max_items_per_minute,
	support_workflow_enabled, sales_workflow_enabled,
	autosend_enabled, confidence_threshold,
	support_config_yaml, sales_config_yaml,
	slack_webhook_url, hubspot_api_key_encrypted, smtp_config_json,
	created_at, updated_at`

func scanTenant(row interface{ Scan(...interface{}) error }) (*Tenant, error) {
	t := &Tenant{}
	var anthropicKey, supportYAML, salesYAML, slackURL, hubspotKey, smtpJSON sql.NullString

	err := row.Scan(
		&t.ID, &t.Name, &t.Slug, &t.AllowedDomains, &t.IsActive,
		&anthropicKey,
		&t.MaxRunsPerDay, &t.MaxTokensPerDay, &t.MaxItemsPerMinute,
		&t.SupportWorkflowEnabled, &t.SalesWorkflowEnabled,
		&t.AutosendEnabled, &t.ConfidenceThreshold,
		&supportYAML, &salesYAML,
		&slackURL, &hubspotKey, &smtpJSON,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}

	t.AnthropicAPIKeyEncrypted = anthropicKey.String
	t.SupportConfigYAML = supportYAML.String
	t.SalesConfigYAML = salesYAML.String
	t.SlackWebhookURL = slackURL.String
	t.HubspotAPIKeyEncrypted = hubspotKey.String
	t.SMTPConfigJSON = smtpJSON.String
	return t, nil
}

// GetTenant loads a tenant by ID.
func (p *Postgres) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

// GetTenantBySlug loads a tenant by its URL slug.
func (p *Postgres) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
	return scanTenant(row)
}

// ListTenants returns all tenants ordered by creation time.
func (p *Postgres) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ---------- runs ----------

// CreateRun inserts a queued run.
func (p *Postgres) CreateRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = RunStatusQueued
	}
	r.CreatedAt = time.Now().UTC()

	steps, err := marshalOrNil(r.StepsCompleted)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (
			id, tenant_id, workflow, status, error_message,
			ticket_id, lead_id,
			local_model_calls, local_model_tokens,
			claude_calls, claude_input_tokens, claude_output_tokens,
			estimated_cost_usd, steps_completed, current_step,
			started_at, completed_at, duration_seconds, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

	_, err = p.db.ExecContext(ctx, query,
		r.ID, r.TenantID, r.Workflow, r.Status, nullStr(r.ErrorMessage),
		nullStr(r.TicketID), nullStr(r.LeadID),
		r.LocalModelCalls, r.LocalModelTokens,
		r.ClaudeCalls, r.ClaudeInputTokens, r.ClaudeOutputTokens,
		r.EstimatedCostUSD, steps, nullStr(r.CurrentStep),
		r.StartedAt, r.CompletedAt, nullFloat(r.DurationSeconds), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

const runColumns = `id, tenant_id, workflow, status, error_message,
	ticket_id, lead_id,
	local_model_calls, local_model_tokens,
	claude_calls, claude_input_tokens, claude_output_tokens,
	estimated_cost_usd, steps_completed, current_step,
	started_at, completed_at, duration_seconds, created_at`

func scanRun(row interface{ Scan(...interface{}) error }) (*Run, error) {
	r := &Run{}
	var errMsg, ticketID, leadID, currentStep sql.NullString
	var steps []byte
	var startedAt, completedAt sql.NullTime
	var duration sql.NullFloat64

	err := row.Scan(
		&r.ID, &r.TenantID, &r.Workflow, &r.Status, &errMsg,
		&ticketID, &leadID,
		&r.LocalModelCalls, &r.LocalModelTokens,
		&r.ClaudeCalls, &r.ClaudeInputTokens, &r.ClaudeOutputTokens,
		&r.EstimatedCostUSD, &steps, &currentStep,
		&startedAt, &completedAt, &duration, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	r.ErrorMessage = errMsg.String
	r.TicketID = ticketID.String
	r.LeadID = leadID.String
	r.CurrentStep = currentStep.String
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	r.DurationSeconds = duration.Float64
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &r.StepsCompleted); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps_completed: %w", err)
		}
	}
	return r, nil
}

// GetRun loads a run by ID.
func (p *Postgres) GetRun(ctx context.Context, id string) (*Run, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

// ListRuns returns a tenant's most recent runs.
func (p *Postgres) ListRuns(ctx context.Context, tenantID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunUpdate carries the optional fields of a status transition. Nil
// fields are left untouched.
type RunUpdate struct {
	CurrentStep     *string
	ErrorMessage    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *float64
	StepsCompleted  []StepRecord
	TicketID        *string
	LeadID          *string

	LocalModelCalls    *int
	LocalModelTokens   *int
	ClaudeCalls        *int
	ClaudeInputTokens  *int
	ClaudeOutputTokens *int
	EstimatedCostUSD   *float64
}

// UpdateRunStatus transitions a run's status and applies any extra
// fields in one statement. This is the runner's single mutation path
// for runs.
func (p *Postgres) UpdateRunStatus(ctx context.Context, runID, status string, upd RunUpdate) error {
	set := []string{"status = $2"}
	args := []interface{}{runID, status}

	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.CurrentStep != nil {
		add("current_step", *upd.CurrentStep)
	}
	if upd.ErrorMessage != nil {
		add("error_message", truncate(*upd.ErrorMessage, 1000))
	}
	if upd.StartedAt != nil {
		add("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}
	if upd.DurationSeconds != nil {
		add("duration_seconds", *upd.DurationSeconds)
	}
	if upd.StepsCompleted != nil {
		steps, err := json.Marshal(upd.StepsCompleted)
		if err != nil {
			return fmt.Errorf("failed to marshal steps_completed: %w", err)
		}
		add("steps_completed", steps)
	}
	if upd.TicketID != nil {
		add("ticket_id", *upd.TicketID)
	}
	if upd.LeadID != nil {
		add("lead_id", *upd.LeadID)
	}
	if upd.LocalModelCalls != nil {
		add("local_model_calls", *upd.LocalModelCalls)
	}
	if upd.LocalModelTokens != nil {
		add("local_model_tokens", *upd.LocalModelTokens)
	}
	if upd.ClaudeCalls != nil {
		add("claude_calls", *upd.ClaudeCalls)
	}
	if upd.ClaudeInputTokens != nil {
		add("claude_input_tokens", *upd.ClaudeInputTokens)
	}
	if upd.ClaudeOutputTokens != nil {
		add("claude_output_tokens", *upd.ClaudeOutputTokens)
	}
	if upd.EstimatedCostUSD != nil {
		add("estimated_cost_usd", *upd.EstimatedCostUSD)
	}

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = $1", strings.Join(set, ", "))
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------- tickets ----------

// CreateTicket inserts a new ticket.
func (p *Postgres) CreateTicket(ctx context.Context, t *Ticket) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = TicketStatusNew
	}
	if t.Source == "" {
		t.Source = "webhook"
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	questions, err := marshalOrNil(t.FollowUpQuestions)
	if err != nil {
		return err
	}
	tags, err := marshalOrNil(t.Tags)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tickets (
			id, tenant_id, external_id, source, from_email, from_name, subject, body,
			category, priority, sentiment, suggested_team, needs_human,
			classification_confidence, classification_raw,
			draft_reply, internal_notes, recommended_action, follow_up_questions,
			assigned_team, tags, sla_due_at,
			status, reply_sent, run_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`

	_, err = p.db.ExecContext(ctx, query,
		t.ID, t.TenantID, nullStr(t.ExternalID), t.Source, nullStr(t.FromEmail), nullStr(t.FromName),
		nullStr(t.Subject), t.Body,
		nullStr(t.Category), nullStr(t.Priority), nullStr(t.Sentiment), nullStr(t.SuggestedTeam), t.NeedsHuman,
		t.ClassificationConfidence, rawOrNil(t.ClassificationRaw),
		nullStr(t.DraftReply), nullStr(t.InternalNotes), nullStr(t.RecommendedAction), questions,
		nullStr(t.AssignedTeam), tags, t.SLADueAt,
		t.Status, t.ReplySent, nullStr(t.RunID), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

const ticketColumns = `id, tenant_id, external_id, source, from_email, from_name, subject, body,
	category, priority, sentiment, suggested_team, needs_human,
	classification_confidence, classification_raw,
	draft_reply, internal_notes, recommended_action, follow_up_questions,
	assigned_team, tags, sla_due_at,
	status, reply_sent, run_id, created_at, updated_at`

func scanTicket(row interface{ Scan(...interface{}) error }) (*Ticket, error) {
	t := &Ticket{}
	var externalID, fromEmail, fromName, subject sql.NullString
	var category, priority, sentiment, suggestedTeam sql.NullString
	var needsHuman sql.NullBool
	var confidence sql.NullFloat64
	var classificationRaw, questions, tags []byte
	var draftReply, internalNotes, recommendedAction, assignedTeam, runID sql.NullString
	var slaDueAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.TenantID, &externalID, &t.Source, &fromEmail, &fromName, &subject, &t.Body,
		&category, &priority, &sentiment, &suggestedTeam, &needsHuman,
		&confidence, &classificationRaw,
		&draftReply, &internalNotes, &recommendedAction, &questions,
		&assignedTeam, &tags, &slaDueAt,
		&t.Status, &t.ReplySent, &runID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ticket: %w", err)
	}

	t.ExternalID = externalID.String
	t.FromEmail = fromEmail.String
	t.FromName = fromName.String
	t.Subject = subject.String
	t.Category = category.String
	t.Priority = priority.String
	t.Sentiment = sentiment.String
	t.SuggestedTeam = suggestedTeam.String
	t.NeedsHuman = needsHuman.Bool
	t.ClassificationConfidence = confidence.Float64
	t.ClassificationRaw = classificationRaw
	t.DraftReply = draftReply.String
	t.InternalNotes = internalNotes.String
	t.RecommendedAction = recommendedAction.String
	t.AssignedTeam = assignedTeam.String
	t.RunID = runID.String
	if slaDueAt.Valid {
		t.SLADueAt = &slaDueAt.Time
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &t.FollowUpQuestions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal follow_up_questions: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return t, nil
}

// GetTicket loads a ticket by ID.
func (p *Postgres) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return scanTicket(row)
}

// UpdateTicket writes back every pipeline-mutable ticket field.
func (p *Postgres) UpdateTicket(ctx context.Context, t *Ticket) error {
	t.UpdatedAt = time.Now().UTC()

	questions, err := marshalOrNil(t.FollowUpQuestions)
	if err != nil {
		return err
	}
	tags, err := marshalOrNil(t.Tags)
	if err != nil {
		return err
	}

	query := `
		UPDATE tickets SET
			category = $2, priority = $3, sentiment = $4, suggested_team = $5,
			needs_human = $6, classification_confidence = $7, classification_raw = $8,
			draft_reply = $9, internal_notes = $10, recommended_action = $11,
			follow_up_questions = $12, assigned_team = $13, tags = $14, sla_due_at = $15,
			status = $16, reply_sent = $17, run_id = $18, updated_at = $19
		WHERE id = $1`

	result, err := p.db.ExecContext(ctx, query,
		t.ID,
		nullStr(t.Category), nullStr(t.Priority), nullStr(t.Sentiment), nullStr(t.SuggestedTeam),
		t.NeedsHuman, t.ClassificationConfidence, rawOrNil(t.ClassificationRaw),
		nullStr(t.DraftReply), nullStr(t.InternalNotes), nullStr(t.RecommendedAction),
		questions, nullStr(t.AssignedTeam), tags, t.SLADueAt,
		t.Status, t.ReplySent, nullStr(t.RunID), t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket %s: %w", t.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------- leads ----------

// CreateLead inserts a new lead.
func (p *Postgres) CreateLead(ctx context.Context, l *Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = LeadStatusNew
	}
	if l.Source == "" {
		l.Source = "webhook"
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	questions, err := marshalOrNil(l.FollowUpQuestions)
	if err != nil {
		return err
	}
	drafts, err := marshalOrNil(l.EmailDrafts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO leads (
			id, tenant_id, source, utm_source, utm_medium, utm_campaign,
			name, email, company, phone, message,
			company_size_cue, intent_classification, urgency, industry,
			spam_score, extraction_confidence, extraction_raw,
			qualification_summary, follow_up_questions, suggested_next_step,
			crm_contact_id, crm_deal_id, email_drafts, follow_up_scheduled_at,
			status, score, run_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`

	_, err = p.db.ExecContext(ctx, query,
		l.ID, l.TenantID, l.Source, nullStr(l.UTMSource), nullStr(l.UTMMedium), nullStr(l.UTMCampaign),
		l.Name, l.Email, nullStr(l.Company), nullStr(l.Phone), nullStr(l.Message),
		nullStr(l.CompanySizeCue), nullStr(l.IntentClassification), nullStr(l.Urgency), nullStr(l.Industry),
		l.SpamScore, l.ExtractionConfidence, rawOrNil(l.ExtractionRaw),
		nullStr(l.QualificationSummary), questions, nullStr(l.SuggestedNextStep),
		nullStr(l.CRMContactID), nullStr(l.CRMDealID), drafts, l.FollowUpScheduledAt,
		l.Status, l.Score, nullStr(l.RunID), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

const leadColumns = `id, tenant_id, source, utm_source, utm_medium, utm_campaign,
	name, email, company, phone, message,
	company_size_cue, intent_classification, urgency, industry,
	spam_score, extraction_confidence, extraction_raw,
	qualification_summary, follow_up_questions, suggested_next_step,
	crm_contact_id, crm_deal_id, email_drafts, follow_up_scheduled_at,
	status, score, run_id, created_at, updated_at`

func scanLead(row interface{ Scan(...interface{}) error }) (*Lead, error) {
	l := &Lead{}
	var utmSource, utmMedium, utmCampaign, company, phone, message sql.NullString
	var sizeCue, intent, urgency, industry sql.NullString
	var spamScore, extractionConfidence, score sql.NullFloat64
	var extractionRaw, questions, drafts []byte
	var summary, nextStep, crmContactID, crmDealID, runID sql.NullString
	var followUpAt sql.NullTime

	err := row.Scan(
		&l.ID, &l.TenantID, &l.Source, &utmSource, &utmMedium, &utmCampaign,
		&l.Name, &l.Email, &company, &phone, &message,
		&sizeCue, &intent, &urgency, &industry,
		&spamScore, &extractionConfidence, &extractionRaw,
		&summary, &questions, &nextStep,
		&crmContactID, &crmDealID, &drafts, &followUpAt,
		&l.Status, &score, &runID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan lead: %w", err)
	}

	l.UTMSource = utmSource.String
	l.UTMMedium = utmMedium.String
	l.UTMCampaign = utmCampaign.String
	l.Company = company.String
	l.Phone = phone.String
	l.Message = message.String
	l.CompanySizeCue = sizeCue.String
	l.IntentClassification = intent.String
	l.Urgency = urgency.String
	l.Industry = industry.String
	l.SpamScore = spamScore.Float64
	l.ExtractionConfidence = extractionConfidence.Float64
	l.ExtractionRaw = extractionRaw
	l.QualificationSummary = summary.String
	l.SuggestedNextStep = nextStep.String
	l.CRMContactID = crmContactID.String
	l.CRMDealID = crmDealID.String
	l.Score = score.Float64
	l.RunID = runID.String
	if followUpAt.Valid {
		l.FollowUpScheduledAt = &followUpAt.Time
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &l.FollowUpQuestions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal follow_up_questions: %w", err)
		}
	}
	if len(drafts) > 0 {
		if err := json.Unmarshal(drafts, &l.EmailDrafts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal email_drafts: %w", err)
		}
	}
	return l, nil
}

// GetLead loads a lead by ID.
func (p *Postgres) GetLead(ctx context.Context, id string) (*Lead, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	return scanLead(row)
}

// UpdateLead writes back every pipeline-mutable lead field.
func (p *Postgres) UpdateLead(ctx context.Context, l *Lead) error {
	l.UpdatedAt = time.Now().UTC()

	questions, err := marshalOrNil(l.FollowUpQuestions)
	if err != nil {
		return err
	}
	drafts, err := marshalOrNil(l.EmailDrafts)
	if err != nil {
		return err
	}

	query := `
		UPDATE leads SET
			company_size_cue = $2, intent_classification = $3, urgency = $4, industry = $5,
			spam_score = $6, extraction_confidence = $7, extraction_raw = $8,
			qualification_summary = $9, follow_up_questions = $10, suggested_next_step = $11,
			crm_contact_id = $12, crm_deal_id = $13, email_drafts = $14, follow_up_scheduled_at = $15,
			status = $16, score = $17, run_id = $18, updated_at = $19
		WHERE id = $1`

	result, err := p.db.ExecContext(ctx, query,
		l.ID,
		nullStr(l.CompanySizeCue), nullStr(l.IntentClassification), nullStr(l.Urgency), nullStr(l.Industry),
		l.SpamScore, l.ExtractionConfidence, rawOrNil(l.ExtractionRaw),
		nullStr(l.QualificationSummary), questions, nullStr(l.SuggestedNextStep),
		nullStr(l.CRMContactID), nullStr(l.CRMDealID), drafts, l.FollowUpScheduledAt,
		l.Status, l.Score, nullStr(l.RunID), l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead %s: %w", l.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------- helpers ----------

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: f != 0}
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func marshalOrNil(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case []StepRecord:
		if len(val) == 0 {
			return nil, nil
		}
	case []EmailDraft:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return data, nil
}

// truncate cuts on a rune boundary so stored text stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
