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

// Package quota enforces per-tenant admission control backed by Redis:
// items-per-minute rate limits, daily run and token quotas, and a
// failure-count circuit breaker shared across all workers.
//
// Checks are read-only; callers increment the corresponding counters
// after admission so that rejected work never consumes budget.
package quota
