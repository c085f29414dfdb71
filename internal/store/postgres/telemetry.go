package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"optiplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) InsertExecutionRecord(ctx context.Context, rec *store.ExecutionRecord) error {
	execCtx, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO execution_records (id, tenant_id, unit_id, task_id, task_type,
				estimated_duration, actual_duration, complexity_score, execution_context,
				subsystems_used, efficiency_ratio, execution_date, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, rec.ID, rec.TenantID, rec.UnitID, rec.TaskID, rec.TaskType,
			rec.EstimatedDuration, rec.ActualDuration, rec.ComplexityScore, execCtx,
			pq.Array(rec.SubsystemsUsed), rec.EfficiencyRatio, rec.ExecutionDate, rec.CreatedAt)
		return err
	})
}

func (s *Store) ListExecutionRecords(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.ExecutionRecord, error) {
	query := `
		SELECT id, tenant_id, unit_id, task_id, task_type, estimated_duration, actual_duration,
			complexity_score, execution_context, subsystems_used, efficiency_ratio, execution_date, created_at
		FROM execution_records
		WHERE tenant_id = $1 AND execution_date >= $2
		ORDER BY execution_date
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var records []store.ExecutionRecord
	for rows.Next() {
		var rec store.ExecutionRecord
		var execCtx []byte
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.UnitID, &rec.TaskID, &rec.TaskType,
			&rec.EstimatedDuration, &rec.ActualDuration, &rec.ComplexityScore, &execCtx,
			pq.Array(&rec.SubsystemsUsed), &rec.EfficiencyRatio, &rec.ExecutionDate, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(execCtx) > 0 {
			if err := json.Unmarshal(execCtx, &rec.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
			}
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// ReplaceWorkloadSnapshots deletes all rows for the (tenant, date) key
// and inserts the new set in one transaction, keeping snapshot writes
// idempotent under re-runs.
func (s *Store) ReplaceWorkloadSnapshots(ctx context.Context, tenantID uuid.UUID, date time.Time, snapshots []store.WorkloadSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM workload_snapshots WHERE tenant_id = $1 AND analysis_date = $2
	`, tenantID, date)
	if err != nil {
		return fmt.Errorf("failed to delete workload snapshots: %w", err)
	}

	for _, snap := range snapshots {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workload_snapshots (id, tenant_id, unit_id, analysis_date, granularity,
				task_count, total_estimated_hours, available_hours, utilization_rate, overload_risk, underutilized)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, snap.ID, snap.TenantID, snap.UnitID, snap.AnalysisDate, snap.Granularity,
			snap.TaskCount, snap.TotalEstimatedHours, snap.AvailableHours,
			snap.UtilizationRate, snap.OverloadRisk, snap.Underutilized)
		if err != nil {
			return fmt.Errorf("failed to insert workload snapshot: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetWorkloadSnapshots(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]store.WorkloadSnapshot, error) {
	query := `
		SELECT id, tenant_id, unit_id, analysis_date, granularity, task_count,
			total_estimated_hours, available_hours, utilization_rate, overload_risk, underutilized
		FROM workload_snapshots
		WHERE tenant_id = $1 AND analysis_date = $2
		ORDER BY unit_id
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list workload snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ListWorkloadSnapshotsSince returns every snapshot row for a tenant
// with analysis date on or after since, oldest first. Used by the
// alert rules that look across the observation window.
func (s *Store) ListWorkloadSnapshotsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.WorkloadSnapshot, error) {
	query := `
		SELECT id, tenant_id, unit_id, analysis_date, granularity, task_count,
			total_estimated_hours, available_hours, utilization_rate, overload_risk, underutilized
		FROM workload_snapshots
		WHERE tenant_id = $1 AND analysis_date >= $2
		ORDER BY analysis_date, unit_id
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list workload snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) ([]store.WorkloadSnapshot, error) {
	var snapshots []store.WorkloadSnapshot
	for rows.Next() {
		var snap store.WorkloadSnapshot
		if err := rows.Scan(&snap.ID, &snap.TenantID, &snap.UnitID, &snap.AnalysisDate, &snap.Granularity,
			&snap.TaskCount, &snap.TotalEstimatedHours, &snap.AvailableHours,
			&snap.UtilizationRate, &snap.OverloadRisk, &snap.Underutilized); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}
