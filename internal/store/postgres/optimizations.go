package postgres

import (
	"context"
	"fmt"
	"time"

	"optiplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) InsertOptimization(ctx context.Context, tx store.DBTransaction, o *store.Optimization) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO optimizations (id, tenant_id, pattern_id, optimization_type, target_scope,
			target_ids, parameters, method, status, baseline_utilization, measured_improvement,
			implemented_at, verify_after, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, o.ID, o.TenantID, o.PatternID, o.Type, o.TargetScope,
		pq.Array(o.TargetIDs), o.Parameters, o.Method, o.Status, o.BaselineUtilization,
		o.MeasuredImprovement, o.ImplementedAt, o.VerifyAfter, o.VerifiedAt)
	if err != nil {
		return fmt.Errorf("failed to insert optimization: %w", err)
	}

	return nil
}

const optimizationColumns = `id, tenant_id, pattern_id, optimization_type, target_scope,
	target_ids, parameters, method, status, baseline_utilization, measured_improvement,
	implemented_at, verify_after, verified_at`

func (s *Store) ListOptimizations(ctx context.Context, tenantID uuid.UUID, limit int) ([]store.Optimization, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM optimizations WHERE tenant_id = $1 ORDER BY implemented_at DESC LIMIT $2
	`, optimizationColumns)

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list optimizations: %w", err)
	}
	defer rows.Close()

	return scanOptimizations(rows)
}

func (s *Store) ListDueVerifications(ctx context.Context, asOf time.Time) ([]store.Optimization, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM optimizations
		WHERE status = $1 AND verify_after <= $2 AND verified_at IS NULL
		ORDER BY verify_after
	`, optimizationColumns)

	rows, err := s.db.QueryContext(ctx, query, store.OptimizationImplemented, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list due verifications: %w", err)
	}
	defer rows.Close()

	return scanOptimizations(rows)
}

func (s *Store) CompleteVerification(ctx context.Context, optimizationID uuid.UUID, improvement float64, status string, verifiedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE optimizations SET measured_improvement = $1, status = $2, verified_at = $3
		WHERE id = $4 AND verified_at IS NULL
	`, improvement, status, verifiedAt, optimizationID)
	if err != nil {
		return fmt.Errorf("failed to complete verification: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("optimization %s already verified", optimizationID)
	}

	return nil
}

func (s *Store) UpsertEstimateAdjustment(ctx context.Context, tx store.DBTransaction, adj *store.EstimateAdjustment) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO estimate_adjustments (tenant_id, task_type, factor, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, task_type) DO UPDATE SET
			factor = EXCLUDED.factor,
			updated_at = EXCLUDED.updated_at
	`, adj.TenantID, adj.TaskType, adj.Factor, adj.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert estimate adjustment: %w", err)
	}

	return nil
}

func (s *Store) GetEstimateAdjustments(ctx context.Context, tenantID uuid.UUID) ([]store.EstimateAdjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, task_type, factor, updated_at
		FROM estimate_adjustments WHERE tenant_id = $1 ORDER BY task_type
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list estimate adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []store.EstimateAdjustment
	for rows.Next() {
		var adj store.EstimateAdjustment
		if err := rows.Scan(&adj.TenantID, &adj.TaskType, &adj.Factor, &adj.UpdatedAt); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, adj)
	}

	return adjustments, rows.Err()
}

func scanOptimizations(rows rowScanner) ([]store.Optimization, error) {
	var optimizations []store.Optimization
	for rows.Next() {
		var o store.Optimization
		if err := rows.Scan(&o.ID, &o.TenantID, &o.PatternID, &o.Type, &o.TargetScope,
			pq.Array(&o.TargetIDs), &o.Parameters, &o.Method, &o.Status, &o.BaselineUtilization,
			&o.MeasuredImprovement, &o.ImplementedAt, &o.VerifyAfter, &o.VerifiedAt); err != nil {
			return nil, err
		}
		optimizations = append(optimizations, o)
	}

	return optimizations, rows.Err()
}
