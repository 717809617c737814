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

// Package metrics exposes the platform's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// WebhookRequests counts intake requests per workflow and tenant.
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_webhook_requests_total",
			Help: "Total webhook intake requests",
		},
		[]string{"workflow", "tenant"},
	)

	// WebhookRejections counts intake rejections by reason:
	// unknown_tenant, workflow_disabled, rate_limited, circuit_open,
	// invalid_payload.
	WebhookRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_webhook_rejections_total",
			Help: "Total webhook intake rejections by reason",
		},
		[]string{"workflow", "reason"},
	)

	// RunsProcessed counts finished pipeline runs per workflow and
	// terminal status.
	RunsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_runs_processed_total",
			Help: "Total pipeline runs by workflow and terminal status",
		},
		[]string{"workflow", "status"},
	)

	// RunDuration tracks end-to-end pipeline latency per workflow.
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgate_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow"},
	)

	// QueueDepth reports the current length of each job queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowgate_queue_depth",
			Help: "Current number of jobs waiting per queue",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(WebhookRequests)
	prometheus.MustRegister(WebhookRejections)
	prometheus.MustRegister(RunsProcessed)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(QueueDepth)
}
