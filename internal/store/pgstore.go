package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carepulse/carepulse/model"
)

// PgExecutionStore is a PostgreSQL-backed ExecutionStore using pgx/v5.
type PgExecutionStore struct {
	pool *pgxpool.Pool
}

// NewPgExecutionStore creates a new PostgreSQL execution store.
func NewPgExecutionStore(pool *pgxpool.Pool) *PgExecutionStore {
	return &PgExecutionStore{pool: pool}
}

// HealthCheck verifies database connectivity.
func (s *PgExecutionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new execution record.
func (s *PgExecutionStore) Create(ctx context.Context, rec model.ExecutionRecord) error {
	actionsJSON, err := json.Marshal(rec.ActionResults)
	if err != nil {
		return fmt.Errorf("marshal action results: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rule_executions (
			id, rule_id, rule_version, triggered_by, patient_id, user_id,
			event_type, status, matched_trigger, action_results, error,
			duration_ms, started_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)`,
		rec.ExecutionID, rec.RuleID, rec.RuleVersion, rec.TriggeredBy, rec.PatientID, rec.UserID,
		rec.EventType, rec.Status, rec.MatchedTrigger, actionsJSON, rec.Error,
		rec.Duration.Milliseconds(), rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// Get retrieves an execution record by ID.
func (s *PgExecutionStore) Get(ctx context.Context, executionID string) (model.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_id, rule_version, triggered_by, patient_id, user_id,
		       event_type, status, matched_trigger, action_results, error,
		       duration_ms, started_at
		FROM rule_executions
		WHERE id = $1`,
		executionID,
	)
	if err != nil {
		return model.ExecutionRecord{}, fmt.Errorf("query execution record: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return model.ExecutionRecord{}, err
	}
	if len(recs) == 0 {
		return model.ExecutionRecord{}, model.NewNotFoundError(
			fmt.Sprintf("execution %q not found", executionID),
		)
	}
	return recs[0], nil
}

// Find returns execution records matching the filters, newest first.
func (s *PgExecutionStore) Find(ctx context.Context, filters ExecutionFilters) ([]model.ExecutionRecord, error) {
	query := `SELECT id, rule_id, rule_version, triggered_by, patient_id, user_id,
	                 event_type, status, matched_trigger, action_results, error,
	                 duration_ms, started_at
	          FROM rule_executions
	          WHERE 1=1`
	var args []any
	argIdx := 1

	if filters.RuleID != "" {
		query += fmt.Sprintf(" AND rule_id = $%d", argIdx)
		args = append(args, filters.RuleID)
		argIdx++
	}
	if filters.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filters.PatientID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	query += " ORDER BY started_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// AppendAudit adds an entry to an execution's audit trail.
func (s *PgExecutionStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_audit (
			id, execution_id, rule_id, patient_id, user_id, category, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.ExecutionID, entry.RuleID, entry.PatientID,
		entry.UserID, entry.Category, detailsJSON, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// GetAudit retrieves the audit trail for an execution, oldest first.
func (s *PgExecutionStore) GetAudit(ctx context.Context, executionID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, execution_id, rule_id, patient_id, user_id, category, details, created_at
		FROM execution_audit
		WHERE execution_id = $1
		ORDER BY created_at ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		var detailsJSON []byte
		if err := rows.Scan(
			&entry.ID, &entry.ExecutionID, &entry.RuleID, &entry.PatientID,
			&entry.UserID, &entry.Category, &detailsJSON, &entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if detailsJSON != nil {
			_ = json.Unmarshal(detailsJSON, &entry.Details)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanRecords(rows pgx.Rows) ([]model.ExecutionRecord, error) {
	var recs []model.ExecutionRecord
	for rows.Next() {
		var rec model.ExecutionRecord
		var actionsJSON []byte
		var durationMS int64
		if err := rows.Scan(
			&rec.ExecutionID, &rec.RuleID, &rec.RuleVersion, &rec.TriggeredBy, &rec.PatientID, &rec.UserID,
			&rec.EventType, &rec.Status, &rec.MatchedTrigger, &actionsJSON, &rec.Error,
			&durationMS, &rec.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		rec.Duration = msToDuration(durationMS)
		if actionsJSON != nil {
			_ = json.Unmarshal(actionsJSON, &rec.ActionResults)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
