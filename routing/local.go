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

package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// LocalClient calls the self-hosted llama.cpp completion server.
type LocalClient struct {
	url        string
	httpClient *http.Client
}

// NewLocalClient creates a client for the llama.cpp server at url.
func NewLocalClient(url string) *LocalClient {
	return &LocalClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type localRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop"`
}

type localResponse struct {
	Content         string `json:"content"`
	Text            string `json:"text"`
	TokensPredicted int    `json:"tokens_predicted"`
}

// Complete sends a completion request and returns the generated text
// and the number of tokens produced.
func (c *LocalClient) Complete(ctx context.Context, prompt string) (string, int, error) {
	body, err := json.Marshal(localRequest{
		Prompt:      prompt,
		NPredict:    512,
		Temperature: 0.1,
		Stop:        []string{"</output>", "\n\n---"},
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal local model request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(body))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create local model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("local model call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("local model returned status %d", resp.StatusCode)
	}

	var parsed localResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("failed to decode local model response: %w", err)
	}

	content := parsed.Content
	if content == "" {
		content = parsed.Text
	}

	tokens := parsed.TokensPredicted
	if tokens == 0 {
		// Older server builds omit the token count
		tokens = len(strings.Fields(content))
	}

	return content, tokens, nil
}
