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

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"flowgate/platform/shared/logger"
)

// Circuit breaker settings
const (
	// FailureThreshold is the number of recorded failures before the
	// circuit opens for a tenant.
	FailureThreshold = 5

	// CircuitTimeout is how long an open circuit rejects work before
	// allowing a half-open probe.
	CircuitTimeout = 300 * time.Second
)

// Counter TTLs. Minute buckets live long enough to cover clock skew
// between workers; day buckets survive into the next day for usage
// reporting.
const (
	minuteKeyTTL  = 2 * time.Minute
	dayKeyTTL     = 2 * 24 * time.Hour
	circuitKeyTTL = 2 * CircuitTimeout
)

// Limits holds a tenant's configured admission limits.
type Limits struct {
	MaxRunsPerDay     int
	MaxTokensPerDay   int
	MaxItemsPerMinute int
}

// Usage is a snapshot of a tenant's consumption against its daily limits.
type Usage struct {
	RunsToday       int64 `json:"runs_today"`
	TokensToday     int64 `json:"tokens_today"`
	MaxRunsPerDay   int   `json:"max_runs_per_day"`
	MaxTokensPerDay int   `json:"max_tokens_per_day"`
}

// Enforcer applies one tenant's limits against shared Redis counters.
// Check methods never mutate state; the caller increments after the
// work is admitted.
type Enforcer struct {
	store    *Store
	log      *logger.Logger
	tenantID string
	limits   Limits
	now      func() time.Time
}

// NewEnforcer creates an enforcer for the given tenant.
func NewEnforcer(store *Store, tenantID string, limits Limits) *Enforcer {
	return &Enforcer{
		store:    store,
		log:      logger.New("quota"),
		tenantID: tenantID,
		limits:   limits,
		now:      time.Now,
	}
}

func (e *Enforcer) dayKey(metric string) string {
	return fmt.Sprintf("budget:%s:%s:%s", e.tenantID, metric, e.now().UTC().Format("2006-01-02"))
}

func (e *Enforcer) minuteKey() string {
	return fmt.Sprintf("rate:%s:items:%s", e.tenantID, e.now().UTC().Format("200601021504"))
}

func (e *Enforcer) circuitKey() string {
	return fmt.Sprintf("circuit:%s", e.tenantID)
}

// CheckCircuitBreaker returns a CircuitOpenError while the tenant's
// circuit is open. Once the cooldown elapses the state moves to
// half-open and a single probe is admitted.
func (e *Enforcer) CheckCircuitBreaker(ctx context.Context) error {
	key := e.circuitKey()
	data, err := e.store.HashGetAll(ctx, key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if data["state"] != "open" {
		return nil
	}

	openedAt, _ := strconv.ParseFloat(data["opened_at"], 64)
	if e.now().Sub(time.Unix(int64(openedAt), 0)) > CircuitTimeout {
		// Cooldown elapsed: allow one attempt through
		if err := e.store.HashSet(ctx, key, map[string]interface{}{"state": "half-open"}); err != nil {
			return err
		}
		return nil
	}

	return &CircuitOpenError{
		Reason: fmt.Sprintf("circuit breaker open for tenant %s: too many failures, retry after %s",
			e.tenantID, CircuitTimeout),
	}
}

// RecordFailure increments the tenant's failure count and opens the
// circuit once the threshold is reached.
func (e *Enforcer) RecordFailure(ctx context.Context) error {
	key := e.circuitKey()
	failures, err := e.store.HashIncrement(ctx, key, "failures", circuitKeyTTL)
	if err != nil {
		return err
	}

	if failures >= FailureThreshold {
		fields := map[string]interface{}{
			"state":     "open",
			"opened_at": strconv.FormatInt(e.now().Unix(), 10),
		}
		if err := e.store.HashSet(ctx, key, fields); err != nil {
			return err
		}
		e.log.Warn(e.tenantID, "", "Circuit breaker opened", map[string]interface{}{
			"failures": failures,
		})
	}
	return nil
}

// RecordSuccess resets the tenant's circuit breaker.
func (e *Enforcer) RecordSuccess(ctx context.Context) error {
	return e.store.Delete(ctx, e.circuitKey())
}

// CheckRateLimit enforces the items-per-minute limit against the
// current minute bucket.
func (e *Enforcer) CheckRateLimit(ctx context.Context) error {
	current, err := e.store.GetInt(ctx, e.minuteKey())
	if err != nil {
		return err
	}
	if current >= int64(e.limits.MaxItemsPerMinute) {
		return &BudgetExceededError{
			Reason:    fmt.Sprintf("rate limit exceeded: %d/%d items this minute", current, e.limits.MaxItemsPerMinute),
			LimitType: LimitRate,
		}
	}
	return nil
}

// IncrementRate counts one admitted item against the minute bucket.
func (e *Enforcer) IncrementRate(ctx context.Context) error {
	_, err := e.store.IncrementBy(ctx, e.minuteKey(), 1, minuteKeyTTL)
	return err
}

// CheckDailyRuns enforces the daily run quota.
func (e *Enforcer) CheckDailyRuns(ctx context.Context) error {
	current, err := e.store.GetInt(ctx, e.dayKey("runs"))
	if err != nil {
		return err
	}
	if current >= int64(e.limits.MaxRunsPerDay) {
		return &BudgetExceededError{
			Reason:    fmt.Sprintf("daily run limit exceeded: %d/%d", current, e.limits.MaxRunsPerDay),
			LimitType: LimitDailyRuns,
		}
	}
	return nil
}

// IncrementDailyRuns counts one admitted run against today's quota.
func (e *Enforcer) IncrementDailyRuns(ctx context.Context) error {
	_, err := e.store.IncrementBy(ctx, e.dayKey("runs"), 1, dayKeyTTL)
	return err
}

// CheckDailyTokens rejects work whose estimated token usage would push
// the tenant over its daily token quota.
func (e *Enforcer) CheckDailyTokens(ctx context.Context, estimatedTokens int) error {
	current, err := e.store.GetInt(ctx, e.dayKey("tokens"))
	if err != nil {
		return err
	}
	if current+int64(estimatedTokens) > int64(e.limits.MaxTokensPerDay) {
		return &BudgetExceededError{
			Reason: fmt.Sprintf("daily token limit would be exceeded: %d+%d/%d",
				current, estimatedTokens, e.limits.MaxTokensPerDay),
			LimitType: LimitDailyTokens,
		}
	}
	return nil
}

// AddDailyTokens records actual token consumption after a model call.
func (e *Enforcer) AddDailyTokens(ctx context.Context, tokens int) error {
	_, err := e.store.IncrementBy(ctx, e.dayKey("tokens"), int64(tokens), dayKeyTTL)
	return err
}

// CheckAll runs every admission check in order: circuit breaker first,
// then rate limit, daily runs, and daily tokens. The first violation
// wins.
func (e *Enforcer) CheckAll(ctx context.Context, estimatedTokens int) error {
	if err := e.CheckCircuitBreaker(ctx); err != nil {
		return err
	}
	if err := e.CheckRateLimit(ctx); err != nil {
		return err
	}
	if err := e.CheckDailyRuns(ctx); err != nil {
		return err
	}
	return e.CheckDailyTokens(ctx, estimatedTokens)
}

// GetUsage returns the tenant's consumption against today's quotas.
func (e *Enforcer) GetUsage(ctx context.Context) (*Usage, error) {
	runs, err := e.store.GetInt(ctx, e.dayKey("runs"))
	if err != nil {
		return nil, err
	}
	tokens, err := e.store.GetInt(ctx, e.dayKey("tokens"))
	if err != nil {
		return nil, err
	}
	return &Usage{
		RunsToday:       runs,
		TokensToday:     tokens,
		MaxRunsPerDay:   e.limits.MaxRunsPerDay,
		MaxTokensPerDay: e.limits.MaxTokensPerDay,
	}, nil
}
