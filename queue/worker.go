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
	"fmt"
	"sync"
	"time"

	"flowgate/platform/shared/logger"
)

// HandlerFunc processes one job. A returned error triggers the job's
// retry policy.
type HandlerFunc func(ctx context.Context, job *Job) error

// Worker pulls jobs from one queue and dispatches them to registered
// handlers with retry and dead letter handling.
type Worker struct {
	queue       *Queue
	handlers    map[string]HandlerFunc
	concurrency int
	log         *logger.Logger

	pollTimeout     time.Duration
	promoteInterval time.Duration
}

// NewWorker creates a worker pool over the queue.
func NewWorker(q *Queue, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		queue:           q,
		handlers:        make(map[string]HandlerFunc),
		concurrency:     concurrency,
		log:             logger.New("worker"),
		pollTimeout:     2 * time.Second,
		promoteInterval: time.Second,
	}
}

// Handle registers the handler for a task type.
func (w *Worker) Handle(task string, h HandlerFunc) {
	w.handlers[task] = h
}

// Run processes jobs until the context is cancelled. It blocks.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	// Promoter: moves due retries back onto the immediate list
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.promoteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.queue.PromoteDelayed(ctx, time.Now()); err != nil && ctx.Err() == nil {
					w.log.ErrorWithErr("", "", "Failed to promote delayed jobs", err, nil)
				}
			}
		}
	}()

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				if err := w.ProcessOne(ctx); err != nil && ctx.Err() == nil {
					w.log.ErrorWithErr("", "", "Worker loop error", err, map[string]interface{}{
						"queue": w.queue.Name(),
					})
					// Back off briefly so a broken Redis does not spin
					time.Sleep(time.Second)
				}
			}
		}()
	}

	wg.Wait()
}

// ProcessOne waits for the next job and runs it through its handler,
// applying the retry policy on failure. A nil return with no job
// processed just means the poll timed out.
func (w *Worker) ProcessOne(ctx context.Context) error {
	job, err := w.queue.Dequeue(ctx, w.pollTimeout)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	handler, ok := w.handlers[job.Task]
	if !ok {
		w.log.Error(job.TenantID, job.RunID, "No handler for task", map[string]interface{}{
			"task":   job.Task,
			"job_id": job.ID,
		})
		return w.queue.DeadLetter(ctx, job, fmt.Sprintf("no handler for task %q", job.Task))
	}

	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	err = handler(jobCtx, job)
	cancel()

	if err == nil {
		return nil
	}

	job.Attempt++
	if job.Attempt >= job.Retry.MaxAttempts {
		w.log.Error(job.TenantID, job.RunID, "Job exhausted retries, dead lettering", map[string]interface{}{
			"job_id":  job.ID,
			"task":    job.Task,
			"attempt": job.Attempt,
			"error":   err.Error(),
		})
		return w.queue.DeadLetter(ctx, job, err.Error())
	}

	backoff := job.Retry.BackoffFor(job.Attempt)
	w.log.Warn(job.TenantID, job.RunID, "Job failed, scheduling retry", map[string]interface{}{
		"job_id":      job.ID,
		"task":        job.Task,
		"attempt":     job.Attempt,
		"retry_in_s":  backoff.Seconds(),
		"error":       err.Error(),
	})
	return w.queue.EnqueueDelayed(ctx, job, time.Now().Add(backoff))
}
