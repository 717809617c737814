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

package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLOWGATE_MASTER_ENCRYPTION_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.LocalModelEnabled {
		t.Error("expected local model disabled by default")
	}
	if cfg.WorkerConcurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("unexpected default CORS origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLOWGATE_MASTER_ENCRYPTION_KEY", "test-key")
	t.Setenv("FLOWGATE_PORT", "9090")
	t.Setenv("FLOWGATE_LOCAL_MODEL_ENABLED", "true")
	t.Setenv("FLOWGATE_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("FLOWGATE_WORKER_CONCURRENCY", "16")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if !cfg.LocalModelEnabled {
		t.Error("expected local model enabled")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://admin.example.com" {
		t.Errorf("unexpected CORS origins: %v", cfg.CORSOrigins)
	}
	if cfg.WorkerConcurrency != 16 {
		t.Errorf("expected concurrency 16, got %d", cfg.WorkerConcurrency)
	}
}

func TestLoadRequiresMasterKey(t *testing.T) {
	t.Setenv("FLOWGATE_MASTER_ENCRYPTION_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without master encryption key")
	}
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("FLOWGATE_MASTER_ENCRYPTION_KEY", "test-key")
	t.Setenv("FLOWGATE_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected fallback port 8080, got %d", cfg.Port)
	}
}
