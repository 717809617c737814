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

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TemplateStore loads prompt templates from a directory, keyed by
// template ID (<dir>/<id>.txt). Operators drop files there to override
// the built-in prompts without a redeploy. Loaded templates are cached
// for the life of the process.
type TemplateStore struct {
	dir string

	mu    sync.RWMutex
	cache map[string]string
}

// NewTemplateStore creates a store rooted at dir.
func NewTemplateStore(dir string) *TemplateStore {
	return &TemplateStore{
		dir:   dir,
		cache: make(map[string]string),
	}
}

// Load returns the template body for the given ID.
func (t *TemplateStore) Load(id string) (string, error) {
	t.mu.RLock()
	tmpl, ok := t.cache[id]
	t.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	data, err := os.ReadFile(filepath.Join(t.dir, id+".txt"))
	if err != nil {
		return "", fmt.Errorf("failed to load prompt template %s: %w", id, err)
	}

	t.mu.Lock()
	t.cache[id] = string(data)
	t.mu.Unlock()
	return string(data), nil
}

// FormatTemplate fills {var} placeholders with the given values.
// Unknown placeholders are left untouched.
func FormatTemplate(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
