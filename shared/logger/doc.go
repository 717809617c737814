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

/*
Package logger provides structured JSON logging with multi-tenant support
for FlowGate services.

# Overview

The logger outputs single-line JSON to stdout, making logs easily
consumable by CloudWatch, ELK, or any other aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (api, worker, pipeline, etc.)
  - Instance ID and container name
  - Tenant ID (for multi-tenant isolation)
  - Run ID (for workflow correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("pipeline")

Log messages with tenant and run context:

	log.Info("tenant-123", "run-456", "Step completed", map[string]interface{}{
	    "step": "classify",
	})

Log errors with the error attached:

	log.ErrorWithErr("tenant-123", "run-456", "Step failed", err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("tenant-123", "run-456", "Pipeline completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - HOSTNAME: container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
