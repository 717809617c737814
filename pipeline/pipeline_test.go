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
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"flowgate/platform/adapters"
	"flowgate/platform/audit"
	"flowgate/platform/queue"
	"flowgate/platform/routing"
	"flowgate/platform/store"
)

type fakeStore struct {
	tenant *store.Tenant
	run    *store.Run
	ticket *store.Ticket
	lead   *store.Lead

	runStatuses []string
	finalUpdate store.RunUpdate
}

func (f *fakeStore) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeStore) GetRun(ctx context.Context, id string) (*store.Run, error) {
	return f.run, nil
}

func (f *fakeStore) UpdateRunStatus(ctx context.Context, runID, status string, upd store.RunUpdate) error {
	f.runStatuses = append(f.runStatuses, status)
	f.run.Status = status
	if status == store.RunStatusCompleted || status == store.RunStatusFailed {
		f.finalUpdate = upd
	}
	return nil
}

func (f *fakeStore) GetTicket(ctx context.Context, id string) (*store.Ticket, error) {
	return f.ticket, nil
}

func (f *fakeStore) UpdateTicket(ctx context.Context, ticket *store.Ticket) error {
	f.ticket = ticket
	return nil
}

func (f *fakeStore) GetLead(ctx context.Context, id string) (*store.Lead, error) {
	return f.lead, nil
}

func (f *fakeStore) UpdateLead(ctx context.Context, lead *store.Lead) error {
	f.lead = lead
	return nil
}

type fakeRouter struct {
	responses map[string]*routing.Result
	errs      map[string]error
	calls     []routing.Request
}

func (f *fakeRouter) Route(ctx context.Context, req routing.Request) (*routing.Result, error) {
	f.calls = append(f.calls, req)
	if err := f.errs[req.TaskType]; err != nil {
		return nil, err
	}
	res, ok := f.responses[req.TaskType]
	if !ok {
		return nil, fmt.Errorf("no scripted response for task %q", req.TaskType)
	}
	return res, nil
}

func (f *fakeRouter) taskTypes() []string {
	var tasks []string
	for _, c := range f.calls {
		tasks = append(tasks, c.TaskType)
	}
	return tasks
}

type fakeCRM struct {
	configured bool
	contacts   []adapters.Contact
	deals      []adapters.Deal
	lastStage  string
}

func (f *fakeCRM) IsConfigured() bool { return f.configured }

func (f *fakeCRM) CreateContact(ctx context.Context, contact adapters.Contact) (*adapters.CRMRecord, error) {
	f.contacts = append(f.contacts, contact)
	return &adapters.CRMRecord{ID: "contact-1"}, nil
}

func (f *fakeCRM) CreateDeal(ctx context.Context, deal adapters.Deal, contactID string) (*adapters.CRMRecord, error) {
	f.deals = append(f.deals, deal)
	f.lastStage = deal.Stage
	return &adapters.CRMRecord{ID: "deal-1"}, nil
}

type fakeNotifier struct {
	texts []string
}

func (f *fakeNotifier) Send(ctx context.Context, webhookURL, text string, blocks []adapters.Block) (bool, error) {
	if webhookURL == "" {
		return false, nil
	}
	f.texts = append(f.texts, text)
	return true, nil
}

type fakeMailer struct {
	willSend bool
	to       []string
	subjects []string
}

func (f *fakeMailer) Send(cfg adapters.SMTPConfig, to, subject, bodyHTML string) (bool, error) {
	if !f.willSend {
		return false, nil
	}
	f.to = append(f.to, to)
	f.subjects = append(f.subjects, subject)
	return true, nil
}

func localResult(content string) *routing.Result {
	return &routing.Result{Content: content, Model: routing.ModelLocal, Tokens: 40}
}

func cloudResult(content string) *routing.Result {
	return &routing.Result{
		Content:      content,
		Model:        routing.ModelSonnet,
		InputTokens:  200,
		OutputTokens: 150,
		Tokens:       350,
		CostUSD:      0.00285,
	}
}

func supportTenant() *store.Tenant {
	return &store.Tenant{
		ID:                  "tenant-1",
		Slug:                "acme",
		IsActive:            true,
		ConfidenceThreshold: 0.8,
		SlackWebhookURL:     "https://hooks.slack.example/T1",
		SupportConfigYAML: `
routing:
  team_map:
    billing: finance
  auto_tags:
    priority:
      urgent: ["p0"]
    sentiment:
      angry: ["churn-risk"]
  sla_hours:
    urgent: 2
  escalate_confidence_below: 0.4
`,
	}
}

func supportFixture(t *testing.T, tenant *store.Tenant, router *fakeRouter, mailer *fakeMailer) (*Runner, *fakeStore, *audit.MemorySink) {
	t.Helper()
	fs := &fakeStore{
		tenant: tenant,
		run:    &store.Run{ID: "run-1", TenantID: tenant.ID, Workflow: store.WorkflowSupportTriage, Status: store.RunStatusQueued},
		ticket: &store.Ticket{
			ID:        "ticket-1",
			TenantID:  tenant.ID,
			Subject:   "Charged twice",
			FromEmail: "customer@example.com",
			Body:      "I was billed twice this month, please fix this.",
			Status:    store.TicketStatusNew,
		},
	}
	sink := audit.NewMemorySink()
	runner := NewRunner(fs, sink,
		func(tn *store.Tenant) (ModelRouter, error) { return router, nil },
		func(tn *store.Tenant) (CRM, error) { return &fakeCRM{}, nil },
		&fakeNotifier{}, mailer)
	return runner, fs, sink
}

func TestSupportTriageHappyPath(t *testing.T) {
	router := &fakeRouter{responses: map[string]*routing.Result{
		"classify":    localResult(`{"category": "billing", "priority": "urgent", "sentiment": "angry", "suggested_team": "billing-team", "needs_human": false, "confidence": 0.92}`),
		"draft_reply": cloudResult(`{"draft_reply": "We refunded the duplicate charge.", "internal_notes": "Check invoice 123.", "recommended_action": "respond", "follow_up_questions": ["Which card was charged?"]}`),
	}}
	runner, fs, sink := supportFixture(t, supportTenant(), router, &fakeMailer{})

	job := queue.NewJob(store.WorkflowSupportTriage, "tenant-1", "ticket-1", "run-1")
	if err := runner.RunSupportTriage(context.Background(), job); err != nil {
		t.Fatalf("RunSupportTriage failed: %v", err)
	}

	ticket := fs.ticket
	if ticket.Category != "billing" || ticket.Priority != "urgent" {
		t.Errorf("classification not applied: %+v", ticket)
	}
	if ticket.AssignedTeam != "finance" {
		t.Errorf("expected team_map routing to finance, got %q", ticket.AssignedTeam)
	}
	wantTags := map[string]bool{"p0": true, "churn-risk": true}
	for _, tag := range ticket.Tags {
		delete(wantTags, tag)
	}
	if len(wantTags) != 0 {
		t.Errorf("missing auto-tags, got %v", ticket.Tags)
	}
	if ticket.SLADueAt == nil {
		t.Fatal("SLA deadline not set")
	}
	if until := time.Until(*ticket.SLADueAt); until > 2*time.Hour || until < time.Hour {
		t.Errorf("expected 2h SLA, due in %v", until)
	}
	if ticket.Status != store.TicketStatusDraftReady {
		t.Errorf("autosend disabled, expected draft_ready, got %q", ticket.Status)
	}
	if ticket.DraftReply != "We refunded the duplicate charge." {
		t.Errorf("draft not applied: %q", ticket.DraftReply)
	}

	if fs.run.Status != store.RunStatusCompleted {
		t.Errorf("expected run completed, got %q", fs.run.Status)
	}
	if got := *fs.finalUpdate.LocalModelCalls; got != 1 {
		t.Errorf("expected 1 local call, got %d", got)
	}
	if got := *fs.finalUpdate.ClaudeCalls; got != 1 {
		t.Errorf("expected 1 claude call, got %d", got)
	}
	if got := *fs.finalUpdate.EstimatedCostUSD; got != 0.00285 {
		t.Errorf("unexpected cost total: %f", got)
	}
	if len(fs.finalUpdate.StepsCompleted) != 6 {
		t.Errorf("expected 6 steps, got %v", fs.finalUpdate.StepsCompleted)
	}

	if len(sink.ByAction(audit.ActionClassified)) != 1 {
		t.Error("missing classified audit entry")
	}
	if entries := sink.ByAction(audit.ActionDraftGenerated); len(entries) != 1 {
		t.Error("missing draft_generated audit entry")
	} else if entries[0].PromptTemplateID != TemplateSupportDraft {
		t.Errorf("unexpected template id %q", entries[0].PromptTemplateID)
	}
}

func TestSupportAutosendAboveThreshold(t *testing.T) {
	tenant := supportTenant()
	tenant.AutosendEnabled = true
	router := &fakeRouter{responses: map[string]*routing.Result{
		"classify":    localResult(`{"category": "how_to", "priority": "low", "sentiment": "neutral", "needs_human": false, "confidence": 0.95}`),
		"draft_reply": cloudResult(`{"draft_reply": "Here is how you reset your password.", "recommended_action": "respond"}`),
	}}
	mailer := &fakeMailer{willSend: true}
	runner, fs, sink := supportFixture(t, tenant, router, mailer)

	job := queue.NewJob(store.WorkflowSupportTriage, "tenant-1", "ticket-1", "run-1")
	if err := runner.RunSupportTriage(context.Background(), job); err != nil {
		t.Fatalf("RunSupportTriage failed: %v", err)
	}

	if fs.ticket.Status != store.TicketStatusSent || !fs.ticket.ReplySent {
		t.Errorf("expected sent ticket, got status=%q reply_sent=%v", fs.ticket.Status, fs.ticket.ReplySent)
	}
	if len(mailer.to) != 1 || mailer.to[0] != "customer@example.com" {
		t.Errorf("unexpected recipients: %v", mailer.to)
	}
	if mailer.subjects[0] != "Re: Charged twice" {
		t.Errorf("unexpected subject: %q", mailer.subjects[0])
	}

	entries := sink.ByAction(audit.ActionEmailSent)
	if len(entries) != 1 || entries[0].ReasonCode != "confidence_above_threshold" {
		t.Errorf("missing email_sent audit entry: %v", entries)
	}
}

func TestSupportAutosendBlockedByNeedsHuman(t *testing.T) {
	tenant := supportTenant()
	tenant.AutosendEnabled = true
	router := &fakeRouter{responses: map[string]*routing.Result{
		"classify":    localResult(`{"category": "billing", "priority": "high", "needs_human": true, "confidence": 0.95}`),
		"draft_reply": cloudResult(`{"draft_reply": "Reply", "recommended_action": "respond"}`),
	}}
	mailer := &fakeMailer{willSend: true}
	runner, fs, _ := supportFixture(t, tenant, router, mailer)

	job := queue.NewJob(store.WorkflowSupportTriage, "tenant-1", "ticket-1", "run-1")
	if err := runner.RunSupportTriage(context.Background(), job); err != nil {
		t.Fatalf("RunSupportTriage failed: %v", err)
	}

	if len(mailer.to) != 0 {
		t.Errorf("expected no email, got %v", mailer.to)
	}
	if fs.ticket.Status != store.TicketStatusDraftReady {
		t.Errorf("expected draft_ready, got %q", fs.ticket.Status)
	}
}

func TestSupportLowConfidenceEscalates(t *testing.T) {
	router := &fakeRouter{responses: map[string]*routing.Result{
		"classify":    localResult(`{"category": "general", "priority": "medium", "needs_human": false, "confidence": 0.2}`),
		"draft_reply": cloudResult(`{"draft_reply": "Reply", "recommended_action": "escalate"}`),
	}}
	runner, fs, _ := supportFixture(t, supportTenant(), router, &fakeMailer{})

	job := queue.NewJob(store.WorkflowSupportTriage, "tenant-1", "ticket-1", "run-1")
	if err := runner.RunSupportTriage(context.Background(), job); err != nil {
		t.Fatalf("RunSupportTriage failed: %v", err)
	}

	if fs.ticket.Status != store.TicketStatusEscalated {
		t.Errorf("expected escalated, got %q", fs.ticket.Status)
	}
	if !fs.ticket.NeedsHuman {
		t.Error("expected needs_human forced true")
	}
	found := false
	for _, tag := range fs.ticket.Tags {
		if tag == "auto-escalated" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing auto-escalated tag: %v", fs.ticket.Tags)
	}
}

func TestSupportMalformedClassificationUsesDefaults(t *testing.T) {
	router := &fakeRouter{responses: map[string]*routing.Result{
		"classify":    localResult("I could not produce JSON, sorry."),
		"draft_reply": cloudResult(`{"draft_reply": "Reply", "recommended_action": "respond"}`),
	}}
	runner, fs, _ := supportFixture(t, supportTenant(), router, &fakeMailer{})

	job := queue.NewJob(store.WorkflowSupportTriage, "tenant-1", "ticket-1", "run-1")
	if err := runner.RunSupportTriage(context.Background(), job); err != nil {
		t.Fatalf("RunSupportTriage failed: %v", err)
	}

	ticket := fs.ticket
	if ticket.Category != "general" || ticket.Priority != "medium" {
		t.Errorf("expected defaults, got category=%q priority=%q", ticket.Category, ticket.Priority)
	}
	if !ticket.NeedsHuman {
		t.Error("expected needs_human default true")
	}
	if ticket.ClassificationConfidence != 0.0 {
		t.Errorf("expected zero confidence, got %f", ticket.ClassificationConfidence)
	}
	if ticket.Status != store.TicketStatusEscalated {
		t.Errorf("zero confidence should escalate, got %q", ticket.Status)
	}
}

func TestSupportTriageMalformedRoutingConfigUsesDefaults(t *testing.T) {
	tenant := supportTenant()
	tenant.SupportConfigYAML = "routing: [not: a: map"
	router := &fakeRouter{responses: map[string]*routing.Result{
		"classify":    localResult(`{"category": "billing", "priority": "urgent", "sentiment": "angry", "suggested_team": "billing-team", "needs_human": false, "confidence": 0.92}`),
		"draft_reply": cloudResult(`{"draft_reply": "Reply", "recommended_action": "respond"}`),
	}}
	runner, fs, _ := supportFixture(t, tenant, router, &fakeMailer{})

	job := queue.NewJob(store.WorkflowSupportTriage, "tenant-1", "ticket-1", "run-1")
	if err := runner.RunSupportTriage(context.Background(), job); err != nil {
		t.Fatalf("bad routing config must not fail the run: %v", err)
	}

	if fs.run.Status != store.RunStatusCompleted {
		t.Errorf("expected completed run, got %q", fs.run.Status)
	}
	// Default rules: no team map, so the model's suggestion wins.
	if fs.ticket.AssignedTeam != "billing-team" {
		t.Errorf("expected suggested team with default rules, got %q", fs.ticket.AssignedTeam)
	}
	if fs.ticket.SLADueAt == nil {
		t.Fatal("SLA deadline not set")
	}
	if until := time.Until(*fs.ticket.SLADueAt); until > 24*time.Hour || until < 23*time.Hour {
		t.Errorf("expected default 24h SLA, due in %v", until)
	}
	if fs.ticket.Status != store.TicketStatusDraftReady {
		t.Errorf("confidence 0.92 should not escalate under defaults, got %q", fs.ticket.Status)
	}
}

func stepNames(records []store.StepRecord) []string {
	var names []string
	for _, s := range records {
		names = append(names, s.Step)
	}
	return names
}

func TestSupportTriageReplayIsIdempotent(t *testing.T) {
	router := &fakeRouter{responses: map[string]*routing.Result{
		"classify":    localResult(`{"category": "billing", "priority": "urgent", "sentiment": "angry", "suggested_team": "billing-team", "needs_human": false, "confidence": 0.92}`),
		"draft_reply": cloudResult(`{"draft_reply": "We refunded the duplicate charge.", "recommended_action": "respond"}`),
	}}
	runner, fs, _ := supportFixture(t, supportTenant(), router, &fakeMailer{})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runner.now = func() time.Time { return fixed }

	job := queue.NewJob(store.WorkflowSupportTriage, "tenant-1", "ticket-1", "run-1")
	if err := runner.RunSupportTriage(context.Background(), job); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	first := *fs.ticket
	firstTags := append([]string(nil), fs.ticket.Tags...)
	firstSteps := stepNames(fs.finalUpdate.StepsCompleted)

	// Replay against the already-written record, as the queue does after
	// a crash between the final write and the ack.
	if err := runner.RunSupportTriage(context.Background(), job); err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	second := fs.ticket
	if second.Category != first.Category || second.Priority != first.Priority ||
		second.Sentiment != first.Sentiment || second.AssignedTeam != first.AssignedTeam {
		t.Errorf("classification drifted on replay: %+v vs %+v", second, first)
	}
	if second.Status != first.Status || second.NeedsHuman != first.NeedsHuman {
		t.Errorf("outcome drifted on replay: status=%q needs_human=%v", second.Status, second.NeedsHuman)
	}
	if second.DraftReply != first.DraftReply {
		t.Errorf("draft drifted on replay: %q", second.DraftReply)
	}
	if second.SLADueAt == nil || !second.SLADueAt.Equal(*first.SLADueAt) {
		t.Errorf("SLA drifted on replay: %v vs %v", second.SLADueAt, first.SLADueAt)
	}
	if !reflect.DeepEqual(second.Tags, firstTags) {
		t.Errorf("tags drifted on replay: %v vs %v", second.Tags, firstTags)
	}
	if got := stepNames(fs.finalUpdate.StepsCompleted); !reflect.DeepEqual(got, firstSteps) {
		t.Errorf("step list drifted on replay: %v vs %v", got, firstSteps)
	}
}

func TestSupportStepFailureFailsRun(t *testing.T) {
	cause := errors.New("anthropic: 529 overloaded")
	router := &fakeRouter{
		responses: map[string]*routing.Result{
			"classify": localResult(`{"category": "billing", "confidence": 0.9}`),
		},
		errs: map[string]error{"draft_reply": cause},
	}
	runner, fs, sink := supportFixture(t, supportTenant(), router, &fakeMailer{})

	job := queue.NewJob(store.WorkflowSupportTriage, "tenant-1", "ticket-1", "run-1")
	err := runner.RunSupportTriage(context.Background(), job)
	if err == nil {
		t.Fatal("expected pipeline error")
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected original cause, got %v", err)
	}

	if fs.run.Status != store.RunStatusFailed {
		t.Errorf("expected failed run, got %q", fs.run.Status)
	}
	if fs.finalUpdate.ErrorMessage == nil || !strings.Contains(*fs.finalUpdate.ErrorMessage, "529") {
		t.Error("error message not recorded on run")
	}

	entries := sink.ByAction(audit.ActionError)
	if len(entries) != 1 {
		t.Fatalf("expected 1 error audit entry, got %d", len(entries))
	}
	if entries[0].ReasonCode != "pipeline_error" || entries[0].Step != "pipeline" {
		t.Errorf("unexpected error entry: %+v", entries[0])
	}
}

func leadFixture(t *testing.T, router *fakeRouter, crm *fakeCRM) (*Runner, *fakeStore, *audit.MemorySink) {
	t.Helper()
	fs := &fakeStore{
		tenant: &store.Tenant{ID: "tenant-1", Slug: "acme", IsActive: true},
		run:    &store.Run{ID: "run-2", TenantID: "tenant-1", Workflow: store.WorkflowLeadQualify, Status: store.RunStatusQueued},
		lead: &store.Lead{
			ID:       "lead-1",
			TenantID: "tenant-1",
			Name:     "Dana Smith",
			Email:    "dana@bigco.example",
			Company:  "BigCo",
			Message:  "We need automation for our 200-person support org.",
			Status:   store.LeadStatusNew,
		},
	}
	sink := audit.NewMemorySink()
	runner := NewRunner(fs, sink,
		func(tn *store.Tenant) (ModelRouter, error) { return router, nil },
		func(tn *store.Tenant) (CRM, error) { return crm, nil },
		&fakeNotifier{}, &fakeMailer{})
	return runner, fs, sink
}

func TestLeadQualifyHappyPath(t *testing.T) {
	router := &fakeRouter{responses: map[string]*routing.Result{
		"extract":      localResult(`{"company_size_cue": "mid", "intent_classification": "buy", "urgency": "high", "industry": "saas", "spam_score": 0.05, "confidence": 0.85}`),
		"qualify_lead": cloudResult(`{"qualification_summary": "Strong mid-market fit.", "score": 82, "follow_up_questions": ["Budget?"], "suggested_next_step": "demo"}`),
		"draft_reply":  cloudResult(`{"emails": [{"subject": "Quick question", "body": "Hi Dana"}, {"subject": "Thoughts on automation", "body": "Hello"}]}`),
	}}
	crm := &fakeCRM{configured: true}
	runner, fs, sink := leadFixture(t, router, crm)

	job := queue.NewJob(store.WorkflowLeadQualify, "tenant-1", "lead-1", "run-2")
	if err := runner.RunLeadQualify(context.Background(), job); err != nil {
		t.Fatalf("RunLeadQualify failed: %v", err)
	}

	lead := fs.lead
	if lead.Status != store.LeadStatusQualified {
		t.Errorf("expected qualified, got %q", lead.Status)
	}
	if lead.Score != 82 || lead.SuggestedNextStep != "demo" {
		t.Errorf("qualification not applied: score=%f next=%q", lead.Score, lead.SuggestedNextStep)
	}
	if lead.CRMContactID != "contact-1" || lead.CRMDealID != "deal-1" {
		t.Errorf("CRM ids not saved: %q %q", lead.CRMContactID, lead.CRMDealID)
	}
	if crm.lastStage != "qualifiedtobuy" {
		t.Errorf("expected qualifiedtobuy stage for score 82, got %q", crm.lastStage)
	}
	if len(lead.EmailDrafts) != 2 || lead.EmailDrafts[0].Subject != "Quick question" {
		t.Errorf("email drafts not applied: %v", lead.EmailDrafts)
	}
	if lead.FollowUpScheduledAt == nil {
		t.Fatal("follow-up not scheduled")
	}
	if until := time.Until(*lead.FollowUpScheduledAt); until > 24*time.Hour || until < 23*time.Hour {
		t.Errorf("expected 24h follow-up, got %v", until)
	}

	if len(sink.ByAction(audit.ActionLeadExtracted)) != 1 ||
		len(sink.ByAction(audit.ActionLeadQualified)) != 1 ||
		len(sink.ByAction(audit.ActionCRMUpdated)) != 1 {
		t.Error("missing audit entries for lead workflow")
	}
}

func TestLeadSpamGateHaltsEarly(t *testing.T) {
	router := &fakeRouter{responses: map[string]*routing.Result{
		"extract": localResult(`{"company_size_cue": "unknown", "intent_classification": "general", "spam_score": 0.97, "confidence": 0.9}`),
	}}
	runner, fs, sink := leadFixture(t, router, &fakeCRM{configured: true})

	job := queue.NewJob(store.WorkflowLeadQualify, "tenant-1", "lead-1", "run-2")
	if err := runner.RunLeadQualify(context.Background(), job); err != nil {
		t.Fatalf("RunLeadQualify failed: %v", err)
	}

	if fs.lead.Status != store.LeadStatusDisqualified {
		t.Errorf("expected disqualified, got %q", fs.lead.Status)
	}
	// Spam never reaches the cloud.
	for _, task := range router.taskTypes() {
		if task != "extract" {
			t.Errorf("unexpected model call after spam gate: %q", task)
		}
	}
	if fs.run.Status != store.RunStatusCompleted {
		t.Errorf("spam halt should still complete the run, got %q", fs.run.Status)
	}

	entries := sink.ByAction(audit.ActionLeadDisqualified)
	if len(entries) != 1 || entries[0].ReasonCode != "high_spam_score" {
		t.Errorf("missing lead_disqualified entry: %v", entries)
	}
}

func TestLeadLowScoreUsesEarlyStage(t *testing.T) {
	router := &fakeRouter{responses: map[string]*routing.Result{
		"extract":      localResult(`{"spam_score": 0.1, "confidence": 0.8}`),
		"qualify_lead": cloudResult(`{"qualification_summary": "Weak fit.", "score": 20, "suggested_next_step": "nurture"}`),
		"draft_reply":  cloudResult(`{"emails": [{"subject": "Hi", "body": "Hello"}]}`),
	}}
	crm := &fakeCRM{configured: true}
	runner, _, _ := leadFixture(t, router, crm)

	job := queue.NewJob(store.WorkflowLeadQualify, "tenant-1", "lead-1", "run-2")
	if err := runner.RunLeadQualify(context.Background(), job); err != nil {
		t.Fatalf("RunLeadQualify failed: %v", err)
	}

	if crm.lastStage != "appointmentscheduled" {
		t.Errorf("expected appointmentscheduled for score 20, got %q", crm.lastStage)
	}
}

func TestLeadWithoutCRMSkipsSync(t *testing.T) {
	router := &fakeRouter{responses: map[string]*routing.Result{
		"extract":      localResult(`{"spam_score": 0.1, "confidence": 0.8}`),
		"qualify_lead": cloudResult(`{"qualification_summary": "Fine.", "score": 60}`),
		"draft_reply":  cloudResult("plain text answer"),
	}}
	runner, fs, sink := leadFixture(t, router, &fakeCRM{configured: false})

	job := queue.NewJob(store.WorkflowLeadQualify, "tenant-1", "lead-1", "run-2")
	if err := runner.RunLeadQualify(context.Background(), job); err != nil {
		t.Fatalf("RunLeadQualify failed: %v", err)
	}

	if fs.lead.CRMContactID != "" {
		t.Errorf("expected no CRM sync, got contact %q", fs.lead.CRMContactID)
	}
	if len(sink.ByAction(audit.ActionCRMUpdated)) != 0 {
		t.Error("unexpected crm_updated entry without CRM")
	}
	// Non-JSON email answer becomes a single fallback draft.
	if len(fs.lead.EmailDrafts) != 1 || fs.lead.EmailDrafts[0].Subject != "Follow-up" {
		t.Errorf("expected fallback draft, got %v", fs.lead.EmailDrafts)
	}
}
