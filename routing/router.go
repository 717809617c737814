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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flowgate/platform/shared/logger"
)

// Budget is the slice of admission control the router needs: token
// accounting plus circuit breaker feedback for cloud calls.
type Budget interface {
	CheckAll(ctx context.Context, estimatedTokens int) error
	CheckDailyTokens(ctx context.Context, estimatedTokens int) error
	AddDailyTokens(ctx context.Context, tokens int) error
	RecordFailure(ctx context.Context) error
	RecordSuccess(ctx context.Context) error
}

// LocalModel is the self-hosted completion backend.
type LocalModel interface {
	Complete(ctx context.Context, prompt string) (content string, tokens int, err error)
}

// CloudModel is the hosted Claude backend.
type CloudModel interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// NoCredentialError indicates a cloud task for a tenant with no usable
// Anthropic API key. Fatal for the step: cloud tasks have no fallback.
type NoCredentialError struct {
	TenantID string
}

func (e *NoCredentialError) Error() string {
	return fmt.Sprintf("no Anthropic API key available for tenant %s", e.TenantID)
}

// Request describes one inference request from a pipeline step. The
// inline Prompt is used unless an on-disk template exists for
// TemplateID, in which case the template wins and TemplateVars fill
// its placeholders.
type Request struct {
	Prompt       string
	TaskType     string
	TemplateID   string
	TemplateVars map[string]string
	SystemPrompt string
	MaxTokens    int
}

// Result is the routed model answer plus accounting metadata.
type Result struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Tokens       int           `json:"tokens"`
	CostUSD      float64       `json:"cost"`
	Duration     time.Duration `json:"duration"`
	TaskType     string        `json:"task_type"`
	TemplateID   string        `json:"template_id,omitempty"`
}

// Router dispatches a tenant's inference requests between the local
// model and the Anthropic API. A nil cloud backend means no API key is
// available for the tenant.
type Router struct {
	tenantID     string
	budget       Budget
	local        LocalModel
	cloud        CloudModel
	localEnabled bool
	templates    *TemplateStore
	log          *logger.Logger
}

// NewRouter creates a router for the given tenant. budget may be nil
// (no admission control, used for dry runs); cloud may be nil when the
// tenant has no API key and the platform key is disabled.
func NewRouter(tenantID string, budget Budget, local LocalModel, cloud CloudModel, localEnabled bool) *Router {
	return &Router{
		tenantID:     tenantID,
		budget:       budget,
		local:        local,
		cloud:        cloud,
		localEnabled: localEnabled,
		log:          logger.New("routing"),
	}
}

// WithTemplates enables on-disk prompt templates: when a template file
// exists for a request's TemplateID it replaces the inline prompt.
func (r *Router) WithTemplates(ts *TemplateStore) *Router {
	r.templates = ts
	return r
}

// Route dispatches the request: budget check first, then local tasks to
// the 7B model and everything else to the cloud. Unknown task types
// default to the cloud.
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = 1024
	}
	req.Prompt = r.resolvePrompt(req)

	if r.budget != nil {
		if err := r.budget.CheckAll(ctx, req.MaxTokens); err != nil {
			return nil, err
		}
	}

	var (
		result *Result
		err    error
	)
	switch {
	case IsLocalTask(req.TaskType):
		result, err = r.callLocal(ctx, req)
	case IsCloudTask(req.TaskType):
		result, err = r.callCloud(ctx, req, ModelSonnet, req.MaxTokens)
	default:
		r.log.Info(r.tenantID, "", "Unknown task type, routing to cloud", map[string]interface{}{
			"task_type": req.TaskType,
		})
		result, err = r.callCloud(ctx, req, ModelSonnet, req.MaxTokens)
	}
	if err != nil {
		return nil, err
	}

	result.TaskType = req.TaskType
	result.TemplateID = req.TemplateID
	return result, nil
}

// resolvePrompt prefers an on-disk template over the inline prompt.
// A missing or unreadable template keeps the inline prompt.
func (r *Router) resolvePrompt(req Request) string {
	if r.templates == nil || req.TemplateID == "" {
		return req.Prompt
	}
	tmpl, err := r.templates.Load(req.TemplateID)
	if err != nil {
		return req.Prompt
	}
	return FormatTemplate(tmpl, req.TemplateVars)
}

// callLocal runs the request on the 7B model, degrading to the cheap
// cloud model and finally to a static default if both are unavailable.
func (r *Router) callLocal(ctx context.Context, req Request) (*Result, error) {
	if !r.localEnabled || r.local == nil {
		r.log.Info(r.tenantID, "", "Local model disabled, using fallback", map[string]interface{}{
			"task_type": req.TaskType,
		})
		return r.localFallback(ctx, req)
	}

	start := time.Now()
	content, tokens, err := r.local.Complete(ctx, req.Prompt)
	if err != nil {
		r.log.Warn(r.tenantID, "", "Local model call failed", map[string]interface{}{
			"task_type": req.TaskType,
			"error":     err.Error(),
		})
		return r.localFallback(ctx, req)
	}

	if r.budget != nil {
		if err := r.budget.AddDailyTokens(ctx, tokens); err != nil {
			return nil, err
		}
	}

	return &Result{
		Content:  content,
		Model:    ModelLocal,
		Tokens:   tokens,
		CostUSD:  0.0,
		Duration: time.Since(start),
	}, nil
}

// localFallback tries Haiku with a small token cap, then synthesizes a
// conservative default answer so the pipeline can proceed.
func (r *Router) localFallback(ctx context.Context, req Request) (*Result, error) {
	if r.cloud != nil {
		return r.callCloud(ctx, req, ModelHaiku, 256)
	}

	r.log.Warn(r.tenantID, "", "No model available, returning default", map[string]interface{}{
		"task_type": req.TaskType,
	})
	content, _ := json.Marshal(map[string]interface{}{
		"category":       "general",
		"priority":       "medium",
		"sentiment":      "neutral",
		"suggested_team": "general",
		"needs_human":    true,
		"confidence":     0.0,
	})
	return &Result{
		Content: string(content),
		Model:   ModelFallbackDefault,
		Tokens:  0,
		CostUSD: 0.0,
	}, nil
}

// callCloud runs the request on the Anthropic API with circuit breaker
// feedback: every failed call counts toward opening the tenant's
// circuit, every success resets it.
func (r *Router) callCloud(ctx context.Context, req Request, model string, maxTokens int) (*Result, error) {
	if r.cloud == nil {
		return nil, &NoCredentialError{TenantID: r.tenantID}
	}

	// Rough input estimate: words times 1.3
	estimatedInput := int(float64(len(strings.Fields(req.Prompt))) * 1.3)
	if r.budget != nil {
		if err := r.budget.CheckDailyTokens(ctx, estimatedInput+maxTokens); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	completion, err := r.cloud.Complete(ctx, CompletionRequest{
		Model:        model,
		MaxTokens:    maxTokens,
		SystemPrompt: req.SystemPrompt,
		Prompt:       req.Prompt,
	})
	if err != nil {
		if r.budget != nil {
			if recordErr := r.budget.RecordFailure(ctx); recordErr != nil {
				r.log.ErrorWithErr(r.tenantID, "", "Failed to record circuit breaker failure", recordErr, nil)
			}
		}
		return nil, err
	}

	totalTokens := completion.InputTokens + completion.OutputTokens
	if r.budget != nil {
		if err := r.budget.AddDailyTokens(ctx, totalTokens); err != nil {
			return nil, err
		}
		if err := r.budget.RecordSuccess(ctx); err != nil {
			return nil, err
		}
	}

	return &Result{
		Content:      completion.Content,
		Model:        model,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		Tokens:       totalTokens,
		CostUSD:      EstimateCost(completion.InputTokens, completion.OutputTokens, model),
		Duration:     time.Since(start),
	}, nil
}
