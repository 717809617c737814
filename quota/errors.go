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

package quota

// Limit types reported by BudgetExceededError
const (
	LimitRate        = "rate_limit"
	LimitDailyRuns   = "daily_runs"
	LimitDailyTokens = "daily_tokens"
)

// BudgetExceededError indicates a tenant hit one of its configured limits.
// LimitType identifies which limit so the API layer can report it.
type BudgetExceededError struct {
	Reason    string
	LimitType string
}

func (e *BudgetExceededError) Error() string {
	return e.Reason
}

// CircuitOpenError indicates the tenant's circuit breaker is open and
// new work is being rejected until the cooldown elapses.
type CircuitOpenError struct {
	Reason string
}

func (e *CircuitOpenError) Error() string {
	return e.Reason
}
