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
	"fmt"

	"gopkg.in/yaml.v3"
)

// RoutingRules is a tenant's deterministic ticket-routing policy,
// stored as YAML on the tenant record.
type RoutingRules struct {
	TeamMap  map[string]string `yaml:"team_map"`
	AutoTags struct {
		Priority  map[string][]string `yaml:"priority"`
		Sentiment map[string][]string `yaml:"sentiment"`
	} `yaml:"auto_tags"`
	SLAHours                map[string]int `yaml:"sla_hours"`
	EscalateConfidenceBelow *float64       `yaml:"escalate_confidence_below"`
}

type routingConfig struct {
	Routing RoutingRules `yaml:"routing"`
}

// ParseRoutingRules reads the routing section of a tenant's support
// config. The returned rules are always usable: empty input yields
// empty rules, and malformed YAML is reported but still falls back to
// the built-in defaults. A bad config never blocks triage.
func ParseRoutingRules(raw string) (*RoutingRules, error) {
	if raw == "" {
		return &RoutingRules{}, nil
	}
	var cfg routingConfig
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		return &RoutingRules{}, fmt.Errorf("failed to parse routing config: %w", err)
	}
	return &cfg.Routing, nil
}

// TeamFor maps a category to a team, falling back to the model's
// suggestion and finally to "support".
func (r *RoutingRules) TeamFor(category, suggested string) string {
	if team, ok := r.TeamMap[category]; ok && team != "" {
		return team
	}
	if suggested != "" {
		return suggested
	}
	return "support"
}

// TagsFor collects the auto-tags for a priority and sentiment.
func (r *RoutingRules) TagsFor(priority, sentiment string) []string {
	var tags []string
	tags = append(tags, r.AutoTags.Priority[priority]...)
	tags = append(tags, r.AutoTags.Sentiment[sentiment]...)
	return tags
}

// SLAHoursFor returns the response SLA for a priority, default 24h.
func (r *RoutingRules) SLAHoursFor(priority string) int {
	if hours, ok := r.SLAHours[priority]; ok && hours > 0 {
		return hours
	}
	return 24
}

// EscalationThreshold is the confidence below which a ticket is
// escalated to a human, default 0.5.
func (r *RoutingRules) EscalationThreshold() float64 {
	if r.EscalateConfidenceBelow != nil {
		return *r.EscalateConfidenceBelow
	}
	return 0.5
}
