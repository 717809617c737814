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
	"encoding/json"
	"time"
)

// Run statuses
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Ticket statuses
const (
	TicketStatusNew        = "new"
	TicketStatusProcessing = "processing"
	TicketStatusDraftReady = "draft_ready"
	TicketStatusSent       = "sent"
	TicketStatusEscalated  = "escalated"
	TicketStatusClosed     = "closed"
)

// Lead statuses
const (
	LeadStatusNew          = "new"
	LeadStatusProcessing   = "processing"
	LeadStatusQualified    = "qualified"
	LeadStatusDisqualified = "disqualified"
	LeadStatusContacted    = "contacted"
)

// Workflow names
const (
	WorkflowSupportTriage = "support_triage"
	WorkflowLeadQualify   = "lead_qualify"
)

// Tenant holds one customer's configuration: identity, limits,
// workflow toggles, and integration settings.
type Tenant struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	AllowedDomains string `json:"allowed_domains"` // comma-separated
	IsActive       bool   `json:"is_active"`

	// BYOK - encrypted Anthropic API key
	AnthropicAPIKeyEncrypted string `json:"-"`

	// Usage limits
	MaxRunsPerDay     int `json:"max_runs_per_day"`
	MaxTokensPerDay   int `json:"max_tokens_per_day"`
	MaxItemsPerMinute int `json:"max_items_per_minute"`

	// Workflow toggles
	SupportWorkflowEnabled bool `json:"support_workflow_enabled"`
	SalesWorkflowEnabled   bool `json:"sales_workflow_enabled"`

	// Safety
	AutosendEnabled     bool    `json:"autosend_enabled"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// Per-workflow YAML config, parsed by the pipeline layer
	SupportConfigYAML string `json:"-"`
	SalesConfigYAML   string `json:"-"`

	// Integration settings
	SlackWebhookURL        string `json:"-"`
	HubspotAPIKeyEncrypted string `json:"-"`
	SMTPConfigJSON         string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepRecord tracks one completed pipeline step inside a run.
type StepRecord struct {
	Step     string `json:"step"`
	Model    string `json:"model,omitempty"`
	Tokens   int    `json:"tokens,omitempty"`
	AutoSent *bool  `json:"auto_sent,omitempty"`
}

// Run tracks one workflow execution end to end.
type Run struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	Workflow     string `json:"workflow"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`

	TicketID string `json:"ticket_id,omitempty"`
	LeadID   string `json:"lead_id,omitempty"`

	// Model usage tracking
	LocalModelCalls    int     `json:"local_model_calls"`
	LocalModelTokens   int     `json:"local_model_tokens"`
	ClaudeCalls        int     `json:"claude_calls"`
	ClaudeInputTokens  int     `json:"claude_input_tokens"`
	ClaudeOutputTokens int     `json:"claude_output_tokens"`
	EstimatedCostUSD   float64 `json:"estimated_cost_usd"`

	StepsCompleted []StepRecord `json:"steps_completed,omitempty"`
	CurrentStep    string       `json:"current_step,omitempty"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Ticket is one inbound support request moving through triage.
type Ticket struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// Source fields
	ExternalID string `json:"external_id,omitempty"`
	Source     string `json:"source"`
	FromEmail  string `json:"from_email,omitempty"`
	FromName   string `json:"from_name,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body"`

	// Classification (filled by the 7B model)
	Category                 string          `json:"category,omitempty"`
	Priority                 string          `json:"priority,omitempty"`
	Sentiment                string          `json:"sentiment,omitempty"`
	SuggestedTeam            string          `json:"suggested_team,omitempty"`
	NeedsHuman               bool            `json:"needs_human"`
	ClassificationConfidence float64         `json:"classification_confidence"`
	ClassificationRaw        json.RawMessage `json:"classification_raw,omitempty"`

	// Draft reply (filled by Claude)
	DraftReply        string   `json:"draft_reply,omitempty"`
	InternalNotes     string   `json:"internal_notes,omitempty"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`

	// Routing
	AssignedTeam string     `json:"assigned_team,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	SLADueAt     *time.Time `json:"sla_due_at,omitempty"`

	Status    string `json:"status"`
	ReplySent bool   `json:"reply_sent"`

	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailDraft is one generated follow-up email.
type EmailDraft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Lead is one inbound sales lead moving through qualification.
type Lead struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// Source fields
	Source      string `json:"source"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`

	// Contact info
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message,omitempty"`

	// Extraction (filled by the 7B model)
	CompanySizeCue       string          `json:"company_size_cue,omitempty"`
	IntentClassification string          `json:"intent_classification,omitempty"`
	Urgency              string          `json:"urgency,omitempty"`
	Industry             string          `json:"industry,omitempty"`
	SpamScore            float64         `json:"spam_score"`
	ExtractionConfidence float64         `json:"extraction_confidence"`
	ExtractionRaw        json.RawMessage `json:"extraction_raw,omitempty"`

	// Qualification (filled by Claude)
	QualificationSummary string   `json:"qualification_summary,omitempty"`
	FollowUpQuestions    []string `json:"follow_up_questions,omitempty"`
	SuggestedNextStep    string   `json:"suggested_next_step,omitempty"`

	// CRM
	CRMContactID string `json:"crm_contact_id,omitempty"`
	CRMDealID    string `json:"crm_deal_id,omitempty"`

	// Follow-up
	EmailDrafts         []EmailDraft `json:"email_drafts,omitempty"`
	FollowUpScheduledAt *time.Time   `json:"follow_up_scheduled_at,omitempty"`

	Status string  `json:"status"`
	Score  float64 `json:"score"`

	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
