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

// Command api runs the FlowGate HTTP API: webhook intake, run and usage
// inspection, the audit trail, and Prometheus metrics.
//
// Environment Variables:
//
//	FLOWGATE_PORT                  - HTTP port (default: 8080)
//	FLOWGATE_DATABASE_URL          - PostgreSQL connection string
//	FLOWGATE_REDIS_URL             - Redis URL for quotas and job queues
//	FLOWGATE_MASTER_ENCRYPTION_KEY - key for tenant secrets at rest (required)
//	FLOWGATE_CORS_ORIGINS          - comma-separated allowed origins
package main

import (
	"flowgate/platform/server"
)

func main() {
	server.Run()
}
