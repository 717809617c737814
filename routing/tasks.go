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

package routing

// localTasks are cheap classification-style tasks the self-hosted 7B
// model handles well.
var localTasks = map[string]bool{
	"classify":   true,
	"extract":    true,
	"summarize":  true,
	"spam_check": true,
}

// cloudTasks need the reasoning quality of the hosted Claude models.
var cloudTasks = map[string]bool{
	"draft_reply":        true,
	"qualify_lead":       true,
	"generate_questions": true,
	"complex_reasoning":  true,
}

// IsLocalTask reports whether the task type is served by the local model.
func IsLocalTask(taskType string) bool {
	return localTasks[taskType]
}

// IsCloudTask reports whether the task type requires a cloud model.
// Unknown task types also route to the cloud.
func IsCloudTask(taskType string) bool {
	return cloudTasks[taskType]
}
