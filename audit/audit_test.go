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

package audit

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMemorySinkRecord(t *testing.T) {
	sink := NewMemorySink()

	err := sink.Record(context.Background(), &Entry{
		TenantID: "t-1",
		RunID:    "run-1",
		Action:   ActionClassified,
		Workflow: "support_triage",
		Step:     "classify",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries := sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID == "" {
		t.Error("expected ID assigned")
	}
	if e.Actor != "system" {
		t.Errorf("expected default actor system, got %q", e.Actor)
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp assigned")
	}
}

func TestSummariesAreTruncated(t *testing.T) {
	sink := NewMemorySink()

	long := strings.Repeat("a", 2000)
	err := sink.Record(context.Background(), &Entry{
		TenantID:      "t-1",
		Action:        ActionError,
		InputSummary:  long,
		OutputSummary: long,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	e := sink.Entries()[0]
	if len(e.InputSummary) != summaryLimit {
		t.Errorf("expected input summary truncated to %d, got %d", summaryLimit, len(e.InputSummary))
	}
	if len(e.OutputSummary) != summaryLimit {
		t.Errorf("expected output summary truncated to %d, got %d", summaryLimit, len(e.OutputSummary))
	}
}

func TestSummaryTruncationKeepsValidUTF8(t *testing.T) {
	sink := NewMemorySink()

	// Multi-byte runes straddling the limit must not be split.
	long := strings.Repeat("a", summaryLimit-1) + strings.Repeat("é", 10)
	err := sink.Record(context.Background(), &Entry{
		TenantID:      "t-1",
		Action:        ActionError,
		OutputSummary: long,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	e := sink.Entries()[0]
	if len(e.OutputSummary) > summaryLimit {
		t.Errorf("summary exceeds limit: %d bytes", len(e.OutputSummary))
	}
	if !utf8.ValidString(e.OutputSummary) {
		t.Error("truncated summary is not valid UTF-8")
	}
}

func TestMemorySinkByAction(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	sink.Record(ctx, &Entry{TenantID: "t-1", Action: ActionClassified})
	sink.Record(ctx, &Entry{TenantID: "t-1", Action: ActionDraftGenerated})
	sink.Record(ctx, &Entry{TenantID: "t-1", Action: ActionClassified})

	if got := len(sink.ByAction(ActionClassified)); got != 2 {
		t.Errorf("expected 2 classified entries, got %d", got)
	}
	if got := len(sink.ByAction(ActionEmailSent)); got != 0 {
		t.Errorf("expected 0 email entries, got %d", got)
	}
}

func TestPostgresSinkWriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 2))

	sink := &PostgresSink{db: db}
	entries := []*Entry{
		{ID: "a", TenantID: "t-1", Action: ActionClassified, Actor: "worker"},
		{ID: "b", TenantID: "t-1", Action: ActionDraftGenerated, Actor: "worker",
			Metadata: map[string]interface{}{"confidence": 0.9}},
	}
	if err := sink.writeBatch(entries); err != nil {
		t.Fatalf("writeBatch failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSinkDrainsOnClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sink := NewPostgresSink(db)
	if err := sink.Record(context.Background(), &Entry{TenantID: "t-1", Action: ActionError}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
