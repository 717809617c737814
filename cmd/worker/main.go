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

// Command worker consumes the support and lead job queues and executes
// the pipelines.
//
// Environment Variables:
//
//	FLOWGATE_DATABASE_URL          - PostgreSQL connection string
//	FLOWGATE_REDIS_URL             - Redis URL for quotas and job queues
//	FLOWGATE_MASTER_ENCRYPTION_KEY - key for tenant secrets at rest (required)
//	FLOWGATE_LOCAL_MODEL_URL       - llama.cpp completion endpoint
//	FLOWGATE_LOCAL_MODEL_ENABLED   - route local tasks to the 7B model
//	FLOWGATE_PROMPT_TEMPLATE_DIR   - directory of prompt template overrides
//	FLOWGATE_WORKER_CONCURRENCY    - jobs processed in parallel per queue (default: 4)
package main

import (
	"flowgate/platform/worker"
)

func main() {
	worker.Run()
}
