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

import "math"

// Model identifiers used throughout the platform.
const (
	ModelLocal  = "local_7b"
	ModelSonnet = "claude-sonnet-4-20250514"
	ModelHaiku  = "claude-haiku-4-5-20251001"

	// ModelFallbackDefault marks results synthesized without any model call.
	ModelFallbackDefault = "fallback_default"
)

// modelRates holds USD cost per 1M tokens.
type modelRates struct {
	Input  float64
	Output float64
}

var pricing = map[string]modelRates{
	ModelLocal:  {Input: 0.0, Output: 0.0}, // Self-hosted, no per-token cost
	ModelSonnet: {Input: 3.0, Output: 15.0},
	ModelHaiku:  {Input: 0.80, Output: 4.0},
}

// EstimateCost returns the USD cost of a model call, rounded to six
// decimal places. Unknown models are billed at the Sonnet rate.
func EstimateCost(inputTokens, outputTokens int, model string) float64 {
	rates, ok := pricing[model]
	if !ok {
		rates = pricing[ModelSonnet]
	}
	cost := (float64(inputTokens)*rates.Input + float64(outputTokens)*rates.Output) / 1_000_000
	return math.Round(cost*1e6) / 1e6
}
