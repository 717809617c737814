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

package pipeline

import (
	"context"
	"fmt"
	"time"

	"flowgate/platform/adapters"
	"flowgate/platform/audit"
	"flowgate/platform/routing"
	"flowgate/platform/store"
)

// Prompt template identifiers, recorded on audit entries so answers can
// be traced back to the prompt version that produced them.
const (
	TemplateSupportClassify = "support_classify_v1"
	TemplateSupportDraft    = "support_draft_v1"
	TemplateLeadExtract     = "lead_extract_v1"
	TemplateLeadQualify     = "lead_qualify_v1"
)

func (r *Runner) supportSteps() []step {
	return []step{
		{name: "init", fn: r.supportInit},
		{name: "classify", fn: r.supportClassify},
		{name: "draft", fn: r.supportDraft},
		{name: "route", fn: r.supportRoute},
		{name: "notify", fn: r.supportNotify},
		{name: "autosend", fn: r.supportAutosend},
	}
}

func (r *Runner) supportInit(ctx context.Context, rc *runContext) (bool, error) {
	rc.ticket.Status = store.TicketStatusProcessing
	rc.ticket.RunID = rc.run.ID
	if err := r.store.UpdateTicket(ctx, rc.ticket); err != nil {
		return false, fmt.Errorf("failed to mark ticket processing: %w", err)
	}
	rc.recordStep("init")
	return false, nil
}

// supportClassify runs the cheap model over the ticket and applies its
// verdict. Malformed output degrades to conservative defaults.
func (r *Runner) supportClassify(ctx context.Context, rc *runContext) (bool, error) {
	prompt := classifyPrompt(rc.ticket)
	res, err := rc.router.Route(ctx, routing.Request{
		Prompt:     prompt,
		TaskType:   "classify",
		TemplateID: TemplateSupportClassify,
		TemplateVars: map[string]string{
			"subject":    rc.ticket.Subject,
			"from_email": rc.ticket.FromEmail,
			"body":       rc.ticket.Body,
		},
	})
	if err != nil {
		return false, fmt.Errorf("classification failed: %w", err)
	}
	rc.recordCall("classify", res)

	c := ParseClassification(res.Content)
	rc.ticket.Category = c.Category
	rc.ticket.Priority = c.Priority
	rc.ticket.Sentiment = c.Sentiment
	rc.ticket.SuggestedTeam = c.SuggestedTeam
	rc.ticket.NeedsHuman = c.NeedsHuman
	rc.ticket.ClassificationConfidence = c.Confidence
	rc.ticket.ClassificationRaw = c.Raw
	if err := r.store.UpdateTicket(ctx, rc.ticket); err != nil {
		return false, fmt.Errorf("failed to save classification: %w", err)
	}

	r.recordAudit(ctx, rc, &audit.Entry{
		Action:           audit.ActionClassified,
		Workflow:         store.WorkflowSupportTriage,
		Step:             "classify",
		ModelUsed:        res.Model,
		PromptTemplateID: TemplateSupportClassify,
		InputTokens:      res.InputTokens,
		OutputTokens:     res.OutputTokens,
		EstimatedCostUSD: res.CostUSD,
		InputSummary:     rc.ticket.Body,
		OutputSummary:    res.Content,
		Metadata: map[string]interface{}{
			"category":   c.Category,
			"priority":   c.Priority,
			"confidence": c.Confidence,
		},
	})
	return false, nil
}

// supportDraft asks Claude for a customer-facing reply proposal.
func (r *Runner) supportDraft(ctx context.Context, rc *runContext) (bool, error) {
	res, err := rc.router.Route(ctx, routing.Request{
		Prompt:     draftPrompt(rc.ticket),
		TaskType:   "draft_reply",
		TemplateID: TemplateSupportDraft,
		TemplateVars: map[string]string{
			"subject":   rc.ticket.Subject,
			"body":      rc.ticket.Body,
			"category":  rc.ticket.Category,
			"priority":  rc.ticket.Priority,
			"sentiment": rc.ticket.Sentiment,
		},
		SystemPrompt: draftSystemPrompt,
		MaxTokens:    1024,
	})
	if err != nil {
		return false, fmt.Errorf("draft generation failed: %w", err)
	}
	rc.recordCall("draft", res)

	d := ParseDraft(res.Content)
	rc.ticket.DraftReply = d.Reply
	rc.ticket.InternalNotes = d.InternalNotes
	rc.ticket.RecommendedAction = d.RecommendedAction
	rc.ticket.FollowUpQuestions = d.FollowUpQuestions
	if err := r.store.UpdateTicket(ctx, rc.ticket); err != nil {
		return false, fmt.Errorf("failed to save draft: %w", err)
	}

	r.recordAudit(ctx, rc, &audit.Entry{
		Action:           audit.ActionDraftGenerated,
		Workflow:         store.WorkflowSupportTriage,
		Step:             "draft",
		ModelUsed:        res.Model,
		PromptTemplateID: TemplateSupportDraft,
		InputTokens:      res.InputTokens,
		OutputTokens:     res.OutputTokens,
		EstimatedCostUSD: res.CostUSD,
		OutputSummary:    d.Reply,
		Metadata: map[string]interface{}{
			"recommended_action": d.RecommendedAction,
		},
	})
	return false, nil
}

// supportRoute applies the tenant's deterministic routing rules: team
// assignment, auto-tags, SLA deadline, and the confidence escalation
// gate.
func (r *Runner) supportRoute(ctx context.Context, rc *runContext) (bool, error) {
	t := rc.ticket
	t.AssignedTeam = rc.rules.TeamFor(t.Category, t.SuggestedTeam)
	t.Tags = rc.rules.TagsFor(t.Priority, t.Sentiment)

	slaDue := r.now().Add(time.Duration(rc.rules.SLAHoursFor(t.Priority)) * time.Hour)
	t.SLADueAt = &slaDue

	if t.ClassificationConfidence < rc.rules.EscalationThreshold() {
		t.NeedsHuman = true
		t.Status = store.TicketStatusEscalated
		t.Tags = append(t.Tags, "auto-escalated")
	}

	if err := r.store.UpdateTicket(ctx, t); err != nil {
		return false, fmt.Errorf("failed to save routing: %w", err)
	}
	rc.recordStep("route")
	return false, nil
}

// supportNotify posts the triage outcome to the tenant's Slack webhook,
// best effort.
func (r *Runner) supportNotify(ctx context.Context, rc *runContext) (bool, error) {
	t := rc.ticket
	text, blocks := adapters.FormatSupportNotification(adapters.SupportNotification{
		Subject:   t.Subject,
		FromEmail: t.FromEmail,
		Priority:  t.Priority,
		Category:  t.Category,
		Sentiment: t.Sentiment,
		Body:      t.Body,
	})
	sent, err := r.notifier.Send(ctx, rc.tenant.SlackWebhookURL, text, blocks)
	if err != nil {
		r.log.Warn(rc.tenant.ID, rc.run.ID, "Slack notification failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if sent {
		r.recordAudit(ctx, rc, &audit.Entry{
			Action:   audit.ActionNotificationSent,
			Workflow: store.WorkflowSupportTriage,
			Step:     "notify",
			Metadata: map[string]interface{}{"channel": "slack"},
		})
	}
	rc.recordStep("notify")
	return false, nil
}

// supportAutosend sends the drafted reply only when the tenant opted in,
// the classifier is confident enough, and the model did not flag the
// ticket for a human. Everything else lands in the draft queue.
func (r *Runner) supportAutosend(ctx context.Context, rc *runContext) (bool, error) {
	t := rc.ticket
	eligible := rc.tenant.AutosendEnabled &&
		t.ClassificationConfidence >= rc.tenant.ConfidenceThreshold &&
		!t.NeedsHuman &&
		t.Status != store.TicketStatusEscalated

	autoSent := false
	if eligible {
		smtpCfg, err := adapters.ParseSMTPConfig(rc.tenant.SMTPConfigJSON)
		if err != nil {
			return false, fmt.Errorf("invalid SMTP config: %w", err)
		}
		sent, err := r.mailer.Send(smtpCfg, t.FromEmail, "Re: "+t.Subject, t.DraftReply)
		if err != nil {
			return false, fmt.Errorf("autosend failed: %w", err)
		}
		if sent {
			autoSent = true
			t.ReplySent = true
			t.Status = store.TicketStatusSent
			r.recordAudit(ctx, rc, &audit.Entry{
				Action:     audit.ActionEmailSent,
				Workflow:   store.WorkflowSupportTriage,
				Step:       "autosend",
				ReasonCode: "confidence_above_threshold",
				Metadata: map[string]interface{}{
					"confidence": t.ClassificationConfidence,
					"threshold":  rc.tenant.ConfidenceThreshold,
				},
			})
		}
	}
	if !autoSent && t.Status != store.TicketStatusEscalated {
		t.Status = store.TicketStatusDraftReady
	}
	if err := r.store.UpdateTicket(ctx, t); err != nil {
		return false, fmt.Errorf("failed to save ticket outcome: %w", err)
	}
	rc.steps = append(rc.steps, store.StepRecord{Step: "autosend", AutoSent: &autoSent})
	return false, nil
}

const draftSystemPrompt = "You are a senior support agent. Write helpful, empathetic replies " +
	"that address the customer's issue directly. Never promise refunds or timelines you cannot " +
	"verify. Respond with JSON only."

func classifyPrompt(t *store.Ticket) string {
	return fmt.Sprintf(`Classify this support ticket. Respond with JSON only, using exactly these keys:
{"category": "billing|bug|how_to|account|general", "priority": "low|medium|high|urgent", "sentiment": "positive|neutral|negative|angry", "suggested_team": "<team name>", "needs_human": true|false, "confidence": 0.0-1.0}

Ticket:
Subject: %s
From: %s
Body:
%s`, t.Subject, t.FromEmail, t.Body)
}

func draftPrompt(t *store.Ticket) string {
	return fmt.Sprintf(`Draft a reply to this support ticket. Respond with JSON only, using exactly these keys:
{"draft_reply": "<the reply text>", "internal_notes": "<notes for the support team>", "recommended_action": "respond|escalate|close", "follow_up_questions": ["..."]}

Classification: category=%s priority=%s sentiment=%s

Ticket:
Subject: %s
Body:
%s`, t.Category, t.Priority, t.Sentiment, t.Subject, t.Body)
}
