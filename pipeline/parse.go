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
	"encoding/json"
	"strings"

	"flowgate/platform/store"
)

// ExtractJSON pulls the substring from the first '{' to the last '}'.
// Models wrap JSON in prose often enough that this is the reliable way
// to get at the answer.
func ExtractJSON(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return content[start : end+1], true
}

// Classification is the 7B model's verdict on a support ticket.
type Classification struct {
	Category      string
	Priority      string
	Sentiment     string
	SuggestedTeam string
	NeedsHuman    bool
	Confidence    float64
	Raw           json.RawMessage
}

// ParseClassification decodes a classification answer. Malformed or
// missing output degrades to conservative defaults; the pipeline never
// aborts on a bad model answer.
func ParseClassification(content string) Classification {
	fallback := Classification{
		Category:   "general",
		Priority:   "medium",
		NeedsHuman: true,
		Confidence: 0.0,
	}

	jsonStr, ok := ExtractJSON(content)
	if !ok {
		return fallback
	}

	var data struct {
		Category      *string  `json:"category"`
		Priority      *string  `json:"priority"`
		Sentiment     *string  `json:"sentiment"`
		SuggestedTeam *string  `json:"suggested_team"`
		NeedsHuman    *bool    `json:"needs_human"`
		Confidence    *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return fallback
	}

	return Classification{
		Category:      strOr(data.Category, "general"),
		Priority:      strOr(data.Priority, "medium"),
		Sentiment:     strOr(data.Sentiment, "neutral"),
		SuggestedTeam: strOr(data.SuggestedTeam, "support"),
		NeedsHuman:    boolOr(data.NeedsHuman, true),
		Confidence:    floatOr(data.Confidence, 0.5),
		Raw:           json.RawMessage(jsonStr),
	}
}

// Draft is Claude's reply proposal for a ticket.
type Draft struct {
	Reply             string
	InternalNotes     string
	RecommendedAction string
	FollowUpQuestions []string
}

// ParseDraft decodes a draft-reply answer. Without usable JSON the
// whole answer becomes the reply.
func ParseDraft(content string) Draft {
	fallback := Draft{Reply: content, RecommendedAction: "respond"}

	jsonStr, ok := ExtractJSON(content)
	if !ok {
		return fallback
	}

	var data struct {
		DraftReply        *string  `json:"draft_reply"`
		InternalNotes     *string  `json:"internal_notes"`
		RecommendedAction *string  `json:"recommended_action"`
		FollowUpQuestions []string `json:"follow_up_questions"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return fallback
	}

	return Draft{
		Reply:             strOr(data.DraftReply, content),
		InternalNotes:     strOr(data.InternalNotes, ""),
		RecommendedAction: strOr(data.RecommendedAction, "respond"),
		FollowUpQuestions: data.FollowUpQuestions,
	}
}

// Extraction is the 7B model's structured read of a lead.
type Extraction struct {
	CompanySizeCue       string
	IntentClassification string
	Urgency              string
	Industry             string
	SpamScore            float64
	Confidence           float64
	Raw                  json.RawMessage
}

// ParseExtraction decodes a lead-extraction answer.
func ParseExtraction(content string) Extraction {
	fallback := Extraction{
		CompanySizeCue:       "unknown",
		IntentClassification: "general",
		Urgency:              "medium",
		SpamScore:            0.0,
		Confidence:           0.0,
	}

	jsonStr, ok := ExtractJSON(content)
	if !ok {
		return fallback
	}

	var data struct {
		CompanySizeCue       *string  `json:"company_size_cue"`
		IntentClassification *string  `json:"intent_classification"`
		Urgency              *string  `json:"urgency"`
		Industry             *string  `json:"industry"`
		SpamScore            *float64 `json:"spam_score"`
		Confidence           *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return fallback
	}

	return Extraction{
		CompanySizeCue:       strOr(data.CompanySizeCue, "unknown"),
		IntentClassification: strOr(data.IntentClassification, "general"),
		Urgency:              strOr(data.Urgency, "medium"),
		Industry:             strOr(data.Industry, "other"),
		SpamScore:            floatOr(data.SpamScore, 0.0),
		Confidence:           floatOr(data.Confidence, 0.5),
		Raw:                  json.RawMessage(jsonStr),
	}
}

// Qualification is Claude's assessment of a lead.
type Qualification struct {
	Summary           string
	Score             float64
	FollowUpQuestions []string
	SuggestedNextStep string
}

// ParseQualification decodes a lead-qualification answer.
func ParseQualification(content string) Qualification {
	fallback := Qualification{Summary: content, Score: 50, SuggestedNextStep: "email"}

	jsonStr, ok := ExtractJSON(content)
	if !ok {
		return fallback
	}

	var data struct {
		QualificationSummary *string  `json:"qualification_summary"`
		Score                *float64 `json:"score"`
		FollowUpQuestions    []string `json:"follow_up_questions"`
		SuggestedNextStep    *string  `json:"suggested_next_step"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return fallback
	}

	return Qualification{
		Summary:           strOr(data.QualificationSummary, ""),
		Score:             floatOr(data.Score, 50),
		FollowUpQuestions: data.FollowUpQuestions,
		SuggestedNextStep: strOr(data.SuggestedNextStep, "email"),
	}
}

// ParseEmailDrafts decodes generated follow-up emails. Without usable
// JSON the whole answer becomes a single draft.
func ParseEmailDrafts(content string) []store.EmailDraft {
	fallback := []store.EmailDraft{{Subject: "Follow-up", Body: content}}

	jsonStr, ok := ExtractJSON(content)
	if !ok {
		return fallback
	}

	var data struct {
		Emails []store.EmailDraft `json:"emails"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return fallback
	}
	if len(data.Emails) == 0 {
		return fallback
	}
	return data.Emails
}

func strOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func floatOr(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}
