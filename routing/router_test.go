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
	"errors"
	"strings"
	"testing"
)

type fakeBudget struct {
	checkAllErr    error
	tokensAdded    int
	failures       int
	successes      int
	checkAllCalls  int
	dailyTokensErr error
}

func (f *fakeBudget) CheckAll(ctx context.Context, estimatedTokens int) error {
	f.checkAllCalls++
	return f.checkAllErr
}

func (f *fakeBudget) CheckDailyTokens(ctx context.Context, estimatedTokens int) error {
	return f.dailyTokensErr
}

func (f *fakeBudget) AddDailyTokens(ctx context.Context, tokens int) error {
	f.tokensAdded += tokens
	return nil
}

func (f *fakeBudget) RecordFailure(ctx context.Context) error {
	f.failures++
	return nil
}

func (f *fakeBudget) RecordSuccess(ctx context.Context) error {
	f.successes++
	return nil
}

type fakeLocal struct {
	content string
	tokens  int
	err     error
	calls   int
}

func (f *fakeLocal) Complete(ctx context.Context, prompt string) (string, int, error) {
	f.calls++
	if f.err != nil {
		return "", 0, f.err
	}
	return f.content, f.tokens, nil
}

type fakeCloud struct {
	completion *Completion
	err        error
	calls      int
	lastReq    CompletionRequest
}

func (f *fakeCloud) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.completion, nil
}

func TestRouteLocalTask(t *testing.T) {
	budget := &fakeBudget{}
	local := &fakeLocal{content: `{"category": "billing"}`, tokens: 42}
	cloud := &fakeCloud{}

	r := NewRouter("tenant-a", budget, local, cloud, true)

	result, err := r.Route(context.Background(), Request{Prompt: "classify this", TaskType: "classify"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if result.Model != ModelLocal {
		t.Errorf("expected model %q, got %q", ModelLocal, result.Model)
	}
	if result.CostUSD != 0.0 {
		t.Errorf("expected zero cost for local model, got %v", result.CostUSD)
	}
	if result.Tokens != 42 {
		t.Errorf("expected 42 tokens, got %d", result.Tokens)
	}
	if result.TaskType != "classify" {
		t.Errorf("expected task type preserved, got %q", result.TaskType)
	}
	if budget.tokensAdded != 42 {
		t.Errorf("expected 42 tokens recorded against budget, got %d", budget.tokensAdded)
	}
	if cloud.calls != 0 {
		t.Errorf("cloud should not be called for a local task")
	}
}

func TestRouteCloudTask(t *testing.T) {
	budget := &fakeBudget{}
	cloud := &fakeCloud{completion: &Completion{Content: "draft here", InputTokens: 1000, OutputTokens: 500}}

	r := NewRouter("tenant-a", budget, &fakeLocal{}, cloud, true)

	result, err := r.Route(context.Background(), Request{Prompt: "draft a reply", TaskType: "draft_reply"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if result.Model != ModelSonnet {
		t.Errorf("expected model %q, got %q", ModelSonnet, result.Model)
	}
	if result.CostUSD != 0.0105 {
		t.Errorf("expected cost 0.0105, got %v", result.CostUSD)
	}
	if result.Tokens != 1500 {
		t.Errorf("expected 1500 tokens, got %d", result.Tokens)
	}
	if budget.tokensAdded != 1500 {
		t.Errorf("expected 1500 tokens recorded against budget, got %d", budget.tokensAdded)
	}
	if budget.successes != 1 {
		t.Errorf("expected one circuit breaker success, got %d", budget.successes)
	}
	if cloud.lastReq.Model != ModelSonnet || cloud.lastReq.MaxTokens != 1024 {
		t.Errorf("unexpected cloud request: %+v", cloud.lastReq)
	}
}

func TestRouteUnknownTaskGoesToCloud(t *testing.T) {
	cloud := &fakeCloud{completion: &Completion{Content: "ok", InputTokens: 10, OutputTokens: 10}}
	local := &fakeLocal{}
	r := NewRouter("tenant-a", &fakeBudget{}, local, cloud, true)

	result, err := r.Route(context.Background(), Request{Prompt: "hmm", TaskType: "mystery_task"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if cloud.calls != 1 || local.calls != 0 {
		t.Errorf("expected cloud dispatch for unknown task, cloud=%d local=%d", cloud.calls, local.calls)
	}
	if result.Model != ModelSonnet {
		t.Errorf("expected sonnet for unknown task, got %q", result.Model)
	}
}

func TestLocalFailureFallsBackToHaiku(t *testing.T) {
	budget := &fakeBudget{}
	local := &fakeLocal{err: errors.New("connection refused")}
	cloud := &fakeCloud{completion: &Completion{Content: `{"category": "general"}`, InputTokens: 100, OutputTokens: 50}}

	r := NewRouter("tenant-a", budget, local, cloud, true)

	result, err := r.Route(context.Background(), Request{Prompt: "classify this", TaskType: "classify"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if result.Model != ModelHaiku {
		t.Errorf("expected fallback to %q, got %q", ModelHaiku, result.Model)
	}
	if cloud.lastReq.Model != ModelHaiku {
		t.Errorf("expected haiku request, got %q", cloud.lastReq.Model)
	}
	if cloud.lastReq.MaxTokens != 256 {
		t.Errorf("expected fallback max tokens 256, got %d", cloud.lastReq.MaxTokens)
	}
}

func TestLocalDisabledFallsBack(t *testing.T) {
	local := &fakeLocal{content: "should not be used", tokens: 10}
	cloud := &fakeCloud{completion: &Completion{Content: "cloud answer", InputTokens: 10, OutputTokens: 5}}

	r := NewRouter("tenant-a", &fakeBudget{}, local, cloud, false)

	result, err := r.Route(context.Background(), Request{Prompt: "classify", TaskType: "classify"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if local.calls != 0 {
		t.Error("local model called while disabled")
	}
	if result.Model != ModelHaiku {
		t.Errorf("expected haiku fallback, got %q", result.Model)
	}
}

func TestNoModelAvailableReturnsDefault(t *testing.T) {
	local := &fakeLocal{err: errors.New("down")}

	r := NewRouter("tenant-a", &fakeBudget{}, local, nil, true)

	result, err := r.Route(context.Background(), Request{Prompt: "classify", TaskType: "classify"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if result.Model != ModelFallbackDefault {
		t.Errorf("expected %q, got %q", ModelFallbackDefault, result.Model)
	}
	if result.Tokens != 0 || result.CostUSD != 0.0 {
		t.Errorf("default result should be free, got tokens=%d cost=%v", result.Tokens, result.CostUSD)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		t.Fatalf("default content is not valid JSON: %v", err)
	}
	if parsed["category"] != "general" || parsed["needs_human"] != true {
		t.Errorf("unexpected default content: %v", parsed)
	}
	if parsed["confidence"] != 0.0 {
		t.Errorf("expected zero confidence in default, got %v", parsed["confidence"])
	}
}

func TestCloudFailureRecordsCircuitFailure(t *testing.T) {
	budget := &fakeBudget{}
	cloud := &fakeCloud{err: errors.New("api error 529")}

	r := NewRouter("tenant-a", budget, &fakeLocal{}, cloud, true)

	_, err := r.Route(context.Background(), Request{Prompt: "draft", TaskType: "draft_reply"})
	if err == nil {
		t.Fatal("expected error from cloud failure")
	}
	if budget.failures != 1 {
		t.Errorf("expected one circuit breaker failure, got %d", budget.failures)
	}
	if budget.successes != 0 {
		t.Errorf("expected no successes, got %d", budget.successes)
	}
}

func TestCloudTaskWithoutKeyFails(t *testing.T) {
	r := NewRouter("tenant-a", &fakeBudget{}, &fakeLocal{}, nil, true)

	_, err := r.Route(context.Background(), Request{Prompt: "draft", TaskType: "draft_reply"})
	if err == nil {
		t.Fatal("expected error when no cloud backend configured")
	}
	var noCred *NoCredentialError
	if !errors.As(err, &noCred) {
		t.Fatalf("expected NoCredentialError, got %v", err)
	}
	if noCred.TenantID != "tenant-a" {
		t.Errorf("unexpected tenant on error: %q", noCred.TenantID)
	}
	if !strings.Contains(err.Error(), "no Anthropic API key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBudgetRejectionShortCircuits(t *testing.T) {
	budget := &fakeBudget{checkAllErr: errors.New("daily run limit exceeded")}
	local := &fakeLocal{}
	cloud := &fakeCloud{}

	r := NewRouter("tenant-a", budget, local, cloud, true)

	_, err := r.Route(context.Background(), Request{Prompt: "classify", TaskType: "classify"})
	if err == nil {
		t.Fatal("expected budget rejection")
	}
	if local.calls != 0 || cloud.calls != 0 {
		t.Error("no model should be called when admission fails")
	}
}
