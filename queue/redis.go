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

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Queue is one named job queue backed by Redis.
type Queue struct {
	client *redis.Client
	name   string
}

// NewQueue creates a queue over an existing Redis client.
func NewQueue(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) key() string {
	return fmt.Sprintf("jobs:%s", q.name)
}

func (q *Queue) delayedKey() string {
	return fmt.Sprintf("jobs:%s:delayed", q.name)
}

func (q *Queue) deadKey() string {
	return fmt.Sprintf("jobs:%s:dead", q.name)
}

// Enqueue pushes a job for immediate delivery.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key(), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// EnqueueDelayed schedules a job for delivery at readyAt.
func (q *Queue) EnqueueDelayed(ctx context.Context, job *Job, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	z := &redis.Z{Score: float64(readyAt.Unix()), Member: data}
	if err := q.client.ZAdd(ctx, q.delayedKey(), z).Err(); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue blocks up to timeout waiting for the next job. Returns nil
// when the timeout elapses with no work.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	// BRPOP returns [key, value]
	job := &Job{}
	if err := json.Unmarshal([]byte(result[1]), job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return job, nil
}

// PromoteDelayed moves every due delayed job onto the immediate list
// and returns how many were promoted.
func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	max := strconv.FormatInt(now.Unix(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "0",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	promoted := 0
	for _, member := range members {
		// Remove first so two workers cannot promote the same job
		removed, err := q.client.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to remove delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key(), member).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote delayed job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// DeadLetter parks a permanently failed job with its failure reason.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, reason string) error {
	record := struct {
		Job           *Job      `json:"job"`
		FailureReason string    `json:"failure_reason"`
		FailedAt      time.Time `json:"failed_at"`
	}{
		Job:           job,
		FailureReason: reason,
		FailedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, q.deadKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to dead letter job %s: %w", job.ID, err)
	}
	return nil
}

// Depth returns the number of jobs awaiting immediate delivery.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key()).Result()
}

// DelayedDepth returns the number of scheduled jobs.
func (q *Queue) DelayedDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedKey()).Result()
}

// DeadDepth returns the number of dead-lettered jobs.
func (q *Queue) DeadDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadKey()).Result()
}
