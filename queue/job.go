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

// Package queue is a small Redis-backed job queue: immediate jobs on a
// list, retries on a delayed sorted set, exhausted jobs on a dead
// letter list.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Queue names, one per workflow.
const (
	QueueSupport = "support"
	QueueLeads   = "leads"
)

// DefaultJobTimeout bounds a single handler invocation.
const DefaultJobTimeout = 300 * time.Second

// RetryPolicy controls redelivery of failed jobs.
type RetryPolicy struct {
	MaxAttempts            int   `json:"max_attempts"`
	BackoffScheduleSeconds []int `json:"backoff_schedule_seconds"`
}

// DefaultRetryPolicy retries three times with growing delays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:            3,
		BackoffScheduleSeconds: []int{10, 30, 60},
	}
}

// BackoffFor returns the delay before the given retry attempt
// (1-based). Attempts beyond the schedule reuse the last entry.
func (r RetryPolicy) BackoffFor(attempt int) time.Duration {
	if len(r.BackoffScheduleSeconds) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.BackoffScheduleSeconds) {
		idx = len(r.BackoffScheduleSeconds) - 1
	}
	return time.Duration(r.BackoffScheduleSeconds[idx]) * time.Second
}

// Job is one unit of pipeline work: which workflow to run, for which
// tenant, against which ticket or lead, tracked by which run.
type Job struct {
	ID       string `json:"id"`
	Task     string `json:"task"`
	TenantID string `json:"tenant_id"`
	UnitID   string `json:"unit_id"` // ticket or lead ID
	RunID    string `json:"run_id"`

	TimeoutSeconds int         `json:"timeout_seconds"`
	Attempt        int         `json:"attempt"`
	Retry          RetryPolicy `json:"retry"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a job with defaults applied.
func NewJob(task, tenantID, unitID, runID string) *Job {
	return &Job{
		ID:             uuid.New().String(),
		Task:           task,
		TenantID:       tenantID,
		UnitID:         unitID,
		RunID:          runID,
		TimeoutSeconds: int(DefaultJobTimeout.Seconds()),
		Attempt:        0,
		Retry:          DefaultRetryPolicy(),
		EnqueuedAt:     time.Now().UTC(),
	}
}

// Timeout returns the handler deadline for this job.
func (j *Job) Timeout() time.Duration {
	if j.TimeoutSeconds <= 0 {
		return DefaultJobTimeout
	}
	return time.Duration(j.TimeoutSeconds) * time.Second
}
