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
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"flowgate/platform/shared/logger"
)

const (
	defaultBatchSize = 100
	queueCapacity    = 10000
	flushInterval    = 5 * time.Second
)

// PostgresSink batches audit entries into PostgreSQL. Record enqueues
// without blocking; a background goroutine flushes on size or interval.
type PostgresSink struct {
	db       *sql.DB
	queue    chan *Entry
	shutdown chan struct{}
	done     chan struct{}
	log      *logger.Logger

	mu      sync.Mutex
	pending []*Entry
}

// NewPostgresSink creates a sink over an existing connection pool and
// starts the flush goroutine.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	s := &PostgresSink{
		db:       db,
		queue:    make(chan *Entry, queueCapacity),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		log:      logger.New("audit"),
		pending:  make([]*Entry, 0, defaultBatchSize),
	}
	go s.processQueue()
	return s
}

// Migrate creates the audit table if it does not exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			run_id UUID,
			action VARCHAR(100) NOT NULL,
			workflow VARCHAR(50),
			step VARCHAR(100),
			model_used VARCHAR(100),
			prompt_template_id VARCHAR(100),
			input_tokens INTEGER,
			output_tokens INTEGER,
			estimated_cost_usd DOUBLE PRECISION,
			input_summary TEXT,
			output_summary TEXT,
			reason_code VARCHAR(100),
			metadata JSONB,
			actor VARCHAR(100) NOT NULL DEFAULT 'system',
			timestamp TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_logs(tenant_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_logs(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_logs(action)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit migration failed: %w", err)
		}
	}
	return nil
}

// Record enqueues an entry, assigning defaults. If the queue is full
// the entry is written synchronously rather than dropped.
func (s *PostgresSink) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	clamp(entry)

	select {
	case s.queue <- entry:
		return nil
	default:
		return s.writeBatch([]*Entry{entry})
	}
}

func (s *PostgresSink) processQueue() {
	defer close(s.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-s.queue:
			s.add(entry)
		case <-ticker.C:
			s.flush()
		case <-s.shutdown:
			// Drain whatever is still queued
			for {
				select {
				case entry := <-s.queue:
					s.add(entry)
				default:
					s.flush()
					return
				}
			}
		}
	}
}

func (s *PostgresSink) add(entry *Entry) {
	s.mu.Lock()
	s.pending = append(s.pending, entry)
	full := len(s.pending) >= defaultBatchSize
	s.mu.Unlock()
	if full {
		s.flush()
	}
}

func (s *PostgresSink) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make([]*Entry, 0, defaultBatchSize)
	s.mu.Unlock()

	if err := s.writeBatch(batch); err != nil {
		s.log.ErrorWithErr("", "", "Failed to write audit batch", err, map[string]interface{}{
			"batch_size": len(batch),
		})
	}
}

func (s *PostgresSink) writeBatch(entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const fieldCount = 17
	placeholders := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*fieldCount)

	for i, e := range entries {
		base := i * fieldCount
		ph := make([]string, fieldCount)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")

		metadata, err := marshalMetadata(e.Metadata)
		if err != nil {
			return err
		}
		args = append(args,
			e.ID, e.TenantID, nullable(e.RunID),
			e.Action, nullable(e.Workflow), nullable(e.Step),
			nullable(e.ModelUsed), nullable(e.PromptTemplateID),
			e.InputTokens, e.OutputTokens, e.EstimatedCostUSD,
			nullable(e.InputSummary), nullable(e.OutputSummary), nullable(e.ReasonCode),
			metadata, e.Actor, e.Timestamp,
		)
	}

	query := `INSERT INTO audit_logs (
		id, tenant_id, run_id,
		action, workflow, step,
		model_used, prompt_template_id,
		input_tokens, output_tokens, estimated_cost_usd,
		input_summary, output_summary, reason_code,
		metadata, actor, timestamp
	) VALUES ` + strings.Join(placeholders, ",")

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to insert audit entries: %w", err)
	}
	return nil
}

// QueryFilter narrows an audit query. Zero values are ignored.
type QueryFilter struct {
	TenantID string
	RunID    string
	Action   string
	Limit    int
}

// Query returns matching audit entries, most recent first.
func (s *PostgresSink) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	query := `SELECT id, tenant_id, run_id,
		action, workflow, step,
		model_used, prompt_template_id,
		input_tokens, output_tokens, estimated_cost_usd,
		input_summary, output_summary, reason_code,
		metadata, actor, timestamp
	FROM audit_logs WHERE 1=1`
	var args []interface{}

	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if filter.RunID != "" {
		args = append(args, filter.RunID)
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var runID, workflow, step, model, templateID sql.NullString
		var inputSummary, outputSummary, reasonCode sql.NullString
		var inputTokens, outputTokens sql.NullInt64
		var cost sql.NullFloat64
		var metadata []byte

		err := rows.Scan(
			&e.ID, &e.TenantID, &runID,
			&e.Action, &workflow, &step,
			&model, &templateID,
			&inputTokens, &outputTokens, &cost,
			&inputSummary, &outputSummary, &reasonCode,
			&metadata, &e.Actor, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		e.RunID = runID.String
		e.Workflow = workflow.String
		e.Step = step.String
		e.ModelUsed = model.String
		e.PromptTemplateID = templateID.String
		e.InputTokens = int(inputTokens.Int64)
		e.OutputTokens = int(outputTokens.Int64)
		e.EstimatedCostUSD = cost.Float64
		e.InputSummary = inputSummary.String
		e.OutputSummary = outputSummary.String
		e.ReasonCode = reasonCode.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close stops the flush goroutine after draining the queue.
func (s *PostgresSink) Close() error {
	close(s.shutdown)
	<-s.done
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalMetadata(m map[string]interface{}) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit metadata: %w", err)
	}
	return data, nil
}
