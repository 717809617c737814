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

// Package adapters holds the outbound integrations: Slack
// notifications, CRM sync, and SMTP email. All adapters are
// best-effort; pipeline steps log failures and keep going.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"flowgate/platform/shared/logger"
)

// Block is one Slack Block Kit element.
type Block map[string]interface{}

// SlackNotifier posts messages to Slack incoming webhooks.
type SlackNotifier struct {
	httpClient *http.Client
	log        *logger.Logger
}

// NewSlackNotifier creates a notifier with a 10s timeout.
func NewSlackNotifier() *SlackNotifier {
	return &SlackNotifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.New("slack"),
	}
}

// Send posts a notification. A missing webhook URL is a silent no-op
// and reports sent=false.
func (s *SlackNotifier) Send(ctx context.Context, webhookURL, text string, blocks []Block) (bool, error) {
	if webhookURL == "" {
		s.log.Info("", "", "Slack notification skipped, no webhook configured", nil)
		return false, nil
	}

	payload := map[string]interface{}{"text": text}
	if len(blocks) > 0 {
		payload["blocks"] = blocks
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return false, fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("Slack webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("Slack webhook returned status %d", resp.StatusCode)
	}
	return true, nil
}

// SupportNotification is the data shown in a new-ticket message.
type SupportNotification struct {
	Subject   string
	FromEmail string
	Priority  string
	Category  string
	Sentiment string
	Body      string
}

// FormatSupportNotification renders the Slack message for a triaged ticket.
func FormatSupportNotification(n SupportNotification) (string, []Block) {
	text := fmt.Sprintf("New support ticket: %s", orDefault(n.Subject, "No subject"))
	blocks := []Block{
		{
			"type": "header",
			"text": map[string]string{"type": "plain_text", "text": "New Support Ticket"},
		},
		{
			"type": "section",
			"fields": []map[string]string{
				{"type": "mrkdwn", "text": fmt.Sprintf("*From:* %s", orDefault(n.FromEmail, "Unknown"))},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Priority:* %s", orDefault(n.Priority, "Pending"))},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Category:* %s", orDefault(n.Category, "Pending"))},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Sentiment:* %s", orDefault(n.Sentiment, "Pending"))},
			},
		},
		{
			"type": "section",
			"text": map[string]string{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Subject:* %s\n%s...", orDefault(n.Subject, "No subject"), head(n.Body, 200)),
			},
		},
	}
	return text, blocks
}

// LeadNotification is the data shown in a new-lead message.
type LeadNotification struct {
	Name    string
	Company string
	Email   string
	Score   float64
	Message string
}

// FormatLeadNotification renders the Slack message for a qualified lead.
func FormatLeadNotification(n LeadNotification) (string, []Block) {
	text := fmt.Sprintf("New lead: %s from %s", orDefault(n.Name, "Unknown"), orDefault(n.Company, "Unknown"))
	blocks := []Block{
		{
			"type": "header",
			"text": map[string]string{"type": "plain_text", "text": "New Sales Lead"},
		},
		{
			"type": "section",
			"fields": []map[string]string{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Name:* %s", orDefault(n.Name, "Unknown"))},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Company:* %s", orDefault(n.Company, "Unknown"))},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Email:* %s", orDefault(n.Email, "Unknown"))},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Score:* %.0f", n.Score)},
			},
		},
		{
			"type": "section",
			"text": map[string]string{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Message:* %s", head(orDefault(n.Message, "No message"), 200)),
			},
		},
	}
	return text, blocks
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
