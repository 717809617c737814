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

package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"flowgate/platform/shared/logger"
)

const hubspotBaseURL = "https://api.hubapi.com"

// Contact is the CRM-facing view of a lead.
type Contact struct {
	Name    string
	Email   string
	Company string
	Phone   string
}

// Deal is the CRM-facing view of an opportunity.
type Deal struct {
	Name    string
	Summary string
	Stage   string
}

// CRMRecord is the created/found object's identity.
type CRMRecord struct {
	ID string `json:"id"`
}

// CRMClient syncs leads to HubSpot, with a generic webhook fallback
// for tenants without a HubSpot key.
type CRMClient struct {
	apiKey     string
	webhookURL string
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewCRMClient creates a client. Either argument may be empty; with
// both empty the client reports unconfigured and every call is a no-op.
func NewCRMClient(apiKey, webhookURL string) *CRMClient {
	return &CRMClient{
		apiKey:     apiKey,
		webhookURL: webhookURL,
		baseURL:    hubspotBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        logger.New("crm"),
	}
}

// IsConfigured reports whether any CRM backend is available.
func (c *CRMClient) IsConfigured() bool {
	return c.apiKey != "" || c.webhookURL != ""
}

// CreateContact creates or finds a contact. Returns nil with no error
// when no CRM backend is configured.
func (c *CRMClient) CreateContact(ctx context.Context, contact Contact) (*CRMRecord, error) {
	if c.apiKey != "" {
		return c.hubspotCreateContact(ctx, contact)
	}
	if c.webhookURL != "" {
		return c.webhookSend(ctx, "contact_created", map[string]interface{}{
			"name":    contact.Name,
			"email":   contact.Email,
			"company": contact.Company,
			"phone":   contact.Phone,
		})
	}
	c.log.Info("", "", "CRM not configured, skipping", nil)
	return nil, nil
}

// CreateDeal creates an opportunity, optionally associated to a contact.
func (c *CRMClient) CreateDeal(ctx context.Context, deal Deal, contactID string) (*CRMRecord, error) {
	if c.apiKey != "" {
		return c.hubspotCreateDeal(ctx, deal, contactID)
	}
	if c.webhookURL != "" {
		return c.webhookSend(ctx, "deal_created", map[string]interface{}{
			"deal_name":  deal.Name,
			"summary":    deal.Summary,
			"stage":      deal.Stage,
			"contact_id": contactID,
		})
	}
	return nil, nil
}

func (c *CRMClient) hubspotCreateContact(ctx context.Context, contact Contact) (*CRMRecord, error) {
	first, last := splitName(contact.Name)
	body := map[string]interface{}{
		"properties": map[string]string{
			"email":          contact.Email,
			"firstname":      first,
			"lastname":       last,
			"company":        contact.Company,
			"phone":          contact.Phone,
			"hs_lead_status": "NEW",
		},
	}

	resp, err := c.post(ctx, "/crm/v3/objects/contacts", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		// Contact exists, look it up instead
		c.log.Info("", "", "HubSpot contact exists, searching", map[string]interface{}{
			"email": contact.Email,
		})
		return c.hubspotFindContact(ctx, contact.Email)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HubSpot contact create returned status %d", resp.StatusCode)
	}

	record := &CRMRecord{}
	if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
		return nil, fmt.Errorf("failed to decode HubSpot response: %w", err)
	}
	return record, nil
}

func (c *CRMClient) hubspotFindContact(ctx context.Context, email string) (*CRMRecord, error) {
	body := map[string]interface{}{
		"filterGroups": []map[string]interface{}{{
			"filters": []map[string]string{{
				"propertyName": "email",
				"operator":     "EQ",
				"value":        email,
			}},
		}},
	}

	resp, err := c.post(ctx, "/crm/v3/objects/contacts/search", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HubSpot contact search returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []CRMRecord `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode HubSpot search response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, nil
	}
	return &parsed.Results[0], nil
}

func (c *CRMClient) hubspotCreateDeal(ctx context.Context, deal Deal, contactID string) (*CRMRecord, error) {
	stage := deal.Stage
	if stage == "" {
		stage = "qualifiedtobuy"
	}
	body := map[string]interface{}{
		"properties": map[string]string{
			"dealname":    deal.Name,
			"pipeline":    "default",
			"dealstage":   stage,
			"description": deal.Summary,
		},
	}
	if contactID != "" {
		body["associations"] = []map[string]interface{}{{
			"to": map[string]string{"id": contactID},
			"types": []map[string]interface{}{{
				"associationCategory": "HUBSPOT_DEFINED",
				"associationTypeId":   3,
			}},
		}}
	}

	resp, err := c.post(ctx, "/crm/v3/objects/deals", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HubSpot deal create returned status %d", resp.StatusCode)
	}

	record := &CRMRecord{}
	if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
		return nil, fmt.Errorf("failed to decode HubSpot response: %w", err)
	}
	return record, nil
}

func (c *CRMClient) webhookSend(ctx context.Context, event string, data map[string]interface{}) (*CRMRecord, error) {
	payload, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CRM webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create CRM webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("CRM webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("CRM webhook returned status %d", resp.StatusCode)
	}

	record := &CRMRecord{}
	if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
		// Generic webhooks may not return an ID
		return &CRMRecord{}, nil
	}
	return record, nil
}

func (c *CRMClient) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal HubSpot request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create HubSpot request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HubSpot call failed: %w", err)
	}
	return resp, nil
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
