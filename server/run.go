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

package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"flowgate/platform/audit"
	"flowgate/platform/config"
	"flowgate/platform/queue"
	"flowgate/platform/quota"
	"flowgate/platform/store"
)

// Run is the entry point for the api binary. It wires the backends,
// starts the HTTP server, and blocks until shutdown.
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

	supportJobs := queue.NewQueue(quotaStore.Client(), queue.QueueSupport)
	leadJobs := queue.NewQueue(quotaStore.Client(), queue.QueueLeads)

	srv := New(db, quotaStore, sink, sink, supportJobs, leadJobs, cfg.CORSOrigins)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("FlowGate API listening on :%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
