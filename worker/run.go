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

// Package worker wires and runs the background job processors for both
// workflows.
package worker

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"flowgate/platform/adapters"
	"flowgate/platform/audit"
	"flowgate/platform/config"
	"flowgate/platform/metrics"
	"flowgate/platform/pipeline"
	"flowgate/platform/queue"
	"flowgate/platform/quota"
	"flowgate/platform/shared/crypto"
	"flowgate/platform/store"
)

// Run is the entry point for the worker binary. It consumes both job
// queues until shutdown.
func Run() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	sink := audit.NewPostgresSink(db.DB())
	defer sink.Close()
	if err := sink.Migrate(context.Background()); err != nil {
		log.Fatalf("audit migrate: %v", err)
	}

	quotaStore, err := quota.NewStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer quotaStore.Close()

	codec, err := crypto.New(cfg.MasterEncryptionKey)
	if err != nil {
		log.Fatalf("crypto: %v", err)
	}

	runner := pipeline.NewRunner(
		db,
		sink,
		pipeline.NewRouterFactory(cfg, codec, quotaStore),
		pipeline.NewCRMFactory(codec),
		adapters.NewSlackNotifier(),
		adapters.NewEmailSender(),
	)

	supportJobs := queue.NewQueue(quotaStore.Client(), queue.QueueSupport)
	leadJobs := queue.NewQueue(quotaStore.Client(), queue.QueueLeads)

	supportWorker := queue.NewWorker(supportJobs, cfg.WorkerConcurrency)
	supportWorker.Handle(store.WorkflowSupportTriage, runner.RunSupportTriage)

	leadWorker := queue.NewWorker(leadJobs, cfg.WorkerConcurrency)
	leadWorker.Handle(store.WorkflowLeadQualify, runner.RunLeadQualify)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		supportWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		leadWorker.Run(ctx)
	}()

	go reportQueueDepth(ctx, supportJobs, leadJobs)

	log.Printf("FlowGate worker running with concurrency %d", cfg.WorkerConcurrency)
	<-ctx.Done()
	log.Println("Shutting down worker...")
	wg.Wait()
}

// reportQueueDepth exports queue lengths to Prometheus.
func reportQueueDepth(ctx context.Context, queues ...*queue.Queue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queues {
				depth, err := q.Depth(ctx)
				if err != nil {
					continue
				}
				metrics.QueueDepth.WithLabelValues(q.Name()).Set(float64(depth))
			}
		}
	}
}
