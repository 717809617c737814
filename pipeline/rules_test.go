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

import "testing"

const sampleRoutingYAML = `
routing:
  team_map:
    billing: finance
    bug: engineering
  auto_tags:
    priority:
      urgent: ["p0", "page-oncall"]
    sentiment:
      angry: ["churn-risk"]
  sla_hours:
    urgent: 2
    high: 8
  escalate_confidence_below: 0.6
`

func TestParseRoutingRules(t *testing.T) {
	rules, err := ParseRoutingRules(sampleRoutingYAML)
	if err != nil {
		t.Fatalf("ParseRoutingRules failed: %v", err)
	}

	if got := rules.TeamFor("billing", "whatever"); got != "finance" {
		t.Errorf("TeamFor(billing) = %q", got)
	}
	if got := rules.TeamFor("how_to", "docs-team"); got != "docs-team" {
		t.Errorf("unmapped category should use the suggestion, got %q", got)
	}
	if got := rules.TeamFor("how_to", ""); got != "support" {
		t.Errorf("expected support default, got %q", got)
	}

	tags := rules.TagsFor("urgent", "angry")
	if len(tags) != 3 {
		t.Errorf("expected 3 tags, got %v", tags)
	}
	if len(rules.TagsFor("low", "neutral")) != 0 {
		t.Error("expected no tags for unmapped values")
	}

	if got := rules.SLAHoursFor("urgent"); got != 2 {
		t.Errorf("SLAHoursFor(urgent) = %d", got)
	}
	if got := rules.SLAHoursFor("medium"); got != 24 {
		t.Errorf("expected 24h default, got %d", got)
	}

	if got := rules.EscalationThreshold(); got != 0.6 {
		t.Errorf("EscalationThreshold = %f", got)
	}
}

func TestParseRoutingRulesEmpty(t *testing.T) {
	rules, err := ParseRoutingRules("")
	if err != nil {
		t.Fatalf("ParseRoutingRules failed: %v", err)
	}
	if got := rules.TeamFor("billing", ""); got != "support" {
		t.Errorf("empty rules should default to support, got %q", got)
	}
	if got := rules.SLAHoursFor("urgent"); got != 24 {
		t.Errorf("empty rules should default to 24h, got %d", got)
	}
	if got := rules.EscalationThreshold(); got != 0.5 {
		t.Errorf("empty rules should default to 0.5, got %f", got)
	}
}

func TestParseRoutingRulesInvalidYAML(t *testing.T) {
	rules, err := ParseRoutingRules("routing: [not: a: map")
	if err == nil {
		t.Fatal("expected parse error to be reported")
	}
	if rules == nil {
		t.Fatal("malformed config must still yield usable rules")
	}
	if got := rules.TeamFor("billing", ""); got != "support" {
		t.Errorf("malformed config should fall back to support, got %q", got)
	}
	if got := rules.SLAHoursFor("urgent"); got != 24 {
		t.Errorf("malformed config should fall back to 24h SLA, got %d", got)
	}
	if got := rules.EscalationThreshold(); got != 0.5 {
		t.Errorf("malformed config should fall back to 0.5 threshold, got %f", got)
	}
}
