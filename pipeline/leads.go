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

// spamScoreCutoff disqualifies a lead before any cloud spend.
const spamScoreCutoff = 0.8

func (r *Runner) leadSteps() []step {
	return []step{
		{name: "init", fn: r.leadInit},
		{name: "extract", fn: r.leadExtract},
		{name: "spam_gate", fn: r.leadSpamGate},
		{name: "qualify", fn: r.leadQualify},
		{name: "crm", fn: r.leadCRM},
		{name: "email_drafts", fn: r.leadEmailDrafts},
		{name: "notify", fn: r.leadNotify},
		{name: "finalize", fn: r.leadFinalize},
	}
}

func (r *Runner) leadInit(ctx context.Context, rc *runContext) (bool, error) {
	rc.lead.Status = store.LeadStatusProcessing
	rc.lead.RunID = rc.run.ID
	if err := r.store.UpdateLead(ctx, rc.lead); err != nil {
		return false, fmt.Errorf("failed to mark lead processing: %w", err)
	}
	rc.recordStep("init")
	return false, nil
}

// leadExtract runs the cheap model over the submission to pull out
// structured signals, including the spam score.
func (r *Runner) leadExtract(ctx context.Context, rc *runContext) (bool, error) {
	res, err := rc.router.Route(ctx, routing.Request{
		Prompt:     extractPrompt(rc.lead),
		TaskType:   "extract",
		TemplateID: TemplateLeadExtract,
		TemplateVars: map[string]string{
			"name":    rc.lead.Name,
			"email":   rc.lead.Email,
			"company": rc.lead.Company,
			"message": rc.lead.Message,
		},
	})
	if err != nil {
		return false, fmt.Errorf("extraction failed: %w", err)
	}
	rc.recordCall("extract", res)

	e := ParseExtraction(res.Content)
	rc.lead.CompanySizeCue = e.CompanySizeCue
	rc.lead.IntentClassification = e.IntentClassification
	rc.lead.Urgency = e.Urgency
	rc.lead.Industry = e.Industry
	rc.lead.SpamScore = e.SpamScore
	rc.lead.ExtractionConfidence = e.Confidence
	rc.lead.ExtractionRaw = e.Raw
	if err := r.store.UpdateLead(ctx, rc.lead); err != nil {
		return false, fmt.Errorf("failed to save extraction: %w", err)
	}

	r.recordAudit(ctx, rc, &audit.Entry{
		Action:           audit.ActionLeadExtracted,
		Workflow:         store.WorkflowLeadQualify,
		Step:             "extract",
		ModelUsed:        res.Model,
		PromptTemplateID: TemplateLeadExtract,
		InputTokens:      res.InputTokens,
		OutputTokens:     res.OutputTokens,
		EstimatedCostUSD: res.CostUSD,
		InputSummary:     rc.lead.Message,
		OutputSummary:    res.Content,
		Metadata: map[string]interface{}{
			"spam_score": e.SpamScore,
			"intent":     e.IntentClassification,
		},
	})
	return false, nil
}

// leadSpamGate disqualifies obvious spam and halts the pipeline so no
// cloud tokens are spent on it.
func (r *Runner) leadSpamGate(ctx context.Context, rc *runContext) (bool, error) {
	if rc.lead.SpamScore <= spamScoreCutoff {
		return false, nil
	}

	rc.lead.Status = store.LeadStatusDisqualified
	if err := r.store.UpdateLead(ctx, rc.lead); err != nil {
		return false, fmt.Errorf("failed to disqualify lead: %w", err)
	}
	r.recordAudit(ctx, rc, &audit.Entry{
		Action:     audit.ActionLeadDisqualified,
		Workflow:   store.WorkflowLeadQualify,
		Step:       "spam_gate",
		ReasonCode: "high_spam_score",
		Metadata:   map[string]interface{}{"spam_score": rc.lead.SpamScore},
	})
	rc.recordStep("spam_gate")
	return true, nil
}

// leadQualify asks Claude for a score and a qualification summary.
func (r *Runner) leadQualify(ctx context.Context, rc *runContext) (bool, error) {
	res, err := rc.router.Route(ctx, routing.Request{
		Prompt:     qualifyPrompt(rc.lead),
		TaskType:   "qualify_lead",
		TemplateID: TemplateLeadQualify,
		TemplateVars: map[string]string{
			"name":         rc.lead.Name,
			"company":      rc.lead.Company,
			"message":      rc.lead.Message,
			"company_size": rc.lead.CompanySizeCue,
			"intent":       rc.lead.IntentClassification,
			"urgency":      rc.lead.Urgency,
			"industry":     rc.lead.Industry,
		},
		MaxTokens: 768,
	})
	if err != nil {
		return false, fmt.Errorf("qualification failed: %w", err)
	}
	rc.recordCall("qualify", res)

	q := ParseQualification(res.Content)
	rc.quali = q
	rc.lead.QualificationSummary = q.Summary
	rc.lead.Score = q.Score
	rc.lead.FollowUpQuestions = q.FollowUpQuestions
	rc.lead.SuggestedNextStep = q.SuggestedNextStep
	if err := r.store.UpdateLead(ctx, rc.lead); err != nil {
		return false, fmt.Errorf("failed to save qualification: %w", err)
	}

	r.recordAudit(ctx, rc, &audit.Entry{
		Action:           audit.ActionLeadQualified,
		Workflow:         store.WorkflowLeadQualify,
		Step:             "qualify",
		ModelUsed:        res.Model,
		PromptTemplateID: TemplateLeadQualify,
		InputTokens:      res.InputTokens,
		OutputTokens:     res.OutputTokens,
		EstimatedCostUSD: res.CostUSD,
		OutputSummary:    q.Summary,
		Metadata:         map[string]interface{}{"score": q.Score},
	})
	return false, nil
}

// leadCRM syncs the lead into the tenant's CRM when one is configured.
func (r *Runner) leadCRM(ctx context.Context, rc *runContext) (bool, error) {
	if rc.crm == nil || !rc.crm.IsConfigured() {
		rc.recordStep("crm")
		return false, nil
	}

	lead := rc.lead
	contact, err := rc.crm.CreateContact(ctx, adapters.Contact{
		Name:    lead.Name,
		Email:   lead.Email,
		Company: lead.Company,
		Phone:   lead.Phone,
	})
	if err != nil {
		return false, fmt.Errorf("CRM contact sync failed: %w", err)
	}

	stage := "appointmentscheduled"
	if lead.Score >= 50 {
		stage = "qualifiedtobuy"
	}
	contactID := ""
	if contact != nil {
		contactID = contact.ID
		lead.CRMContactID = contact.ID
	}
	deal, err := rc.crm.CreateDeal(ctx, adapters.Deal{
		Name:    fmt.Sprintf("%s - %s", lead.Company, lead.Name),
		Summary: lead.QualificationSummary,
		Stage:   stage,
	}, contactID)
	if err != nil {
		return false, fmt.Errorf("CRM deal sync failed: %w", err)
	}
	if deal != nil {
		lead.CRMDealID = deal.ID
	}
	if err := r.store.UpdateLead(ctx, lead); err != nil {
		return false, fmt.Errorf("failed to save CRM ids: %w", err)
	}

	r.recordAudit(ctx, rc, &audit.Entry{
		Action:     audit.ActionCRMUpdated,
		Workflow:   store.WorkflowLeadQualify,
		Step:       "crm",
		ReasonCode: "hubspot_sync",
		Metadata: map[string]interface{}{
			"contact_id": lead.CRMContactID,
			"deal_id":    lead.CRMDealID,
			"stage":      stage,
		},
	})
	rc.recordStep("crm")
	return false, nil
}

// leadEmailDrafts generates follow-up email drafts for the sales team.
func (r *Runner) leadEmailDrafts(ctx context.Context, rc *runContext) (bool, error) {
	res, err := rc.router.Route(ctx, routing.Request{
		Prompt:     emailDraftsPrompt(rc.lead, rc.quali),
		TaskType:   "draft_reply",
		TemplateID: TemplateLeadQualify,
		MaxTokens:  1024,
	})
	if err != nil {
		return false, fmt.Errorf("email draft generation failed: %w", err)
	}
	rc.recordCall("email_drafts", res)

	rc.lead.EmailDrafts = ParseEmailDrafts(res.Content)
	if err := r.store.UpdateLead(ctx, rc.lead); err != nil {
		return false, fmt.Errorf("failed to save email drafts: %w", err)
	}
	return false, nil
}

func (r *Runner) leadNotify(ctx context.Context, rc *runContext) (bool, error) {
	lead := rc.lead
	text, blocks := adapters.FormatLeadNotification(adapters.LeadNotification{
		Name:    lead.Name,
		Company: lead.Company,
		Email:   lead.Email,
		Score:   lead.Score,
		Message: lead.Message,
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
			Workflow: store.WorkflowLeadQualify,
			Step:     "notify",
			Metadata: map[string]interface{}{"channel": "slack"},
		})
	}
	rc.recordStep("notify")
	return false, nil
}

func (r *Runner) leadFinalize(ctx context.Context, rc *runContext) (bool, error) {
	followUp := r.now().Add(24 * time.Hour)
	rc.lead.Status = store.LeadStatusQualified
	rc.lead.FollowUpScheduledAt = &followUp
	if err := r.store.UpdateLead(ctx, rc.lead); err != nil {
		return false, fmt.Errorf("failed to finalize lead: %w", err)
	}
	rc.recordStep("finalize")
	return false, nil
}

func extractPrompt(l *store.Lead) string {
	return fmt.Sprintf(`Extract structured signals from this inbound lead. Respond with JSON only, using exactly these keys:
{"company_size_cue": "solo|small|mid|enterprise|unknown", "intent_classification": "buy|evaluate|support|partnership|general", "urgency": "low|medium|high", "industry": "<industry or other>", "spam_score": 0.0-1.0, "confidence": 0.0-1.0}

Lead:
Name: %s
Email: %s
Company: %s
Message:
%s`, l.Name, l.Email, l.Company, l.Message)
}

func qualifyPrompt(l *store.Lead) string {
	return fmt.Sprintf(`Qualify this sales lead. Respond with JSON only, using exactly these keys:
{"qualification_summary": "<2-3 sentence assessment>", "score": 0-100, "follow_up_questions": ["..."], "suggested_next_step": "email|call|demo|nurture|disqualify"}

Signals: company_size=%s intent=%s urgency=%s industry=%s

Lead:
Name: %s
Company: %s
Message:
%s`, l.CompanySizeCue, l.IntentClassification, l.Urgency, l.Industry, l.Name, l.Company, l.Message)
}

func emailDraftsPrompt(l *store.Lead, q Qualification) string {
	return fmt.Sprintf(`Write follow-up emails for this qualified lead. Respond with JSON only:
{"emails": [{"subject": "...", "body": "..."}]}

Write 2 variants: one direct, one consultative. Address %s at %s.

Qualification (score %.0f): %s

Original message:
%s`, l.Name, l.Company, l.Score, q.Summary, l.Message)
}
