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

// Package audit records every automated action with enough context to
// answer "what did the system do, with which model, and why".
package audit

import (
	"context"
	"time"
	"unicode/utf8"
)

// Actions recorded by the pipelines and the API layer.
const (
	ActionTicketCreated    = "ticket_created"
	ActionClassified       = "classified"
	ActionDraftGenerated   = "draft_generated"
	ActionEmailSent        = "email_sent"
	ActionLeadCreated      = "lead_created"
	ActionLeadExtracted    = "lead_extracted"
	ActionLeadQualified    = "lead_qualified"
	ActionLeadDisqualified = "lead_disqualified"
	ActionCRMUpdated       = "crm_updated"
	ActionNotificationSent = "notification_sent"
	ActionBudgetExceeded   = "budget_exceeded"
	ActionError            = "error"
)

// summaryLimit caps input/output summaries so prompts and model output
// never land in the audit table verbatim.
const summaryLimit = 500

// Entry is one audit record.
type Entry struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	RunID    string `json:"run_id,omitempty"`

	Action   string `json:"action"`
	Workflow string `json:"workflow,omitempty"`
	Step     string `json:"step,omitempty"`

	// Model tracking
	ModelUsed        string  `json:"model_used,omitempty"`
	PromptTemplateID string  `json:"prompt_template_id,omitempty"`
	InputTokens      int     `json:"input_tokens,omitempty"`
	OutputTokens     int     `json:"output_tokens,omitempty"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd,omitempty"`

	// Content summaries, truncated
	InputSummary  string                 `json:"input_summary,omitempty"`
	OutputSummary string                 `json:"output_summary,omitempty"`
	ReasonCode    string                 `json:"reason_code,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink accepts audit entries. Implementations must tolerate bursts:
// pipelines never wait on audit durability.
type Sink interface {
	Record(ctx context.Context, entry *Entry) error
	Close() error
}

// clamp enforces the summary limit on an entry in place.
func clamp(entry *Entry) {
	entry.InputSummary = clampString(entry.InputSummary, summaryLimit)
	entry.OutputSummary = clampString(entry.OutputSummary, summaryLimit)
}

// clampString truncates on a rune boundary so summaries stay valid
// UTF-8.
func clampString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
