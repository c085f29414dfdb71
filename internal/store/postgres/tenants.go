package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"optiplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateTenant(ctx context.Context, tenant *store.Tenant, hashedKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenants (id, name, status, api_key_hash, rate_limit, rate_limit_burst, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tenant.ID, tenant.Name, tenant.Status, hashedKey, tenant.RateLimit, tenant.RateLimitBurst, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}

	defaults := store.DefaultSettings(tenant.ID)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, learning_enabled, auto_optimization_enabled,
			confidence_threshold, min_sample_size, observation_window_days, rollback_window_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, defaults.TenantID, defaults.LearningEnabled, defaults.AutoOptimizationEnabled,
		defaults.ConfidenceThreshold, defaults.MinSampleSize, defaults.ObservationWindowDays, defaults.RollbackWindowHours)
	if err != nil {
		return fmt.Errorf("failed to insert tenant settings: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetTenantByID(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	query := `SELECT id, name, status, rate_limit, rate_limit_burst, created_at FROM tenants WHERE id = $1`

	var tenant store.Tenant
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID, &tenant.Name, &tenant.Status,
		&tenant.RateLimit, &tenant.RateLimitBurst, &tenant.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (s *Store) GetTenantByAPIKeyHash(ctx context.Context, hash string) (*store.Tenant, error) {
	query := `SELECT id, name, status, rate_limit, rate_limit_burst, created_at FROM tenants WHERE api_key_hash = $1`

	var tenant store.Tenant
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&tenant.ID, &tenant.Name, &tenant.Status,
		&tenant.RateLimit, &tenant.RateLimitBurst, &tenant.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (s *Store) GetActiveTenants(ctx context.Context) ([]store.Tenant, error) {
	query := `SELECT id, name, status, rate_limit, rate_limit_burst, created_at FROM tenants WHERE status = 'active' ORDER BY created_at`

	var tenants []store.Tenant
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		tenants = tenants[:0]
		for rows.Next() {
			var t store.Tenant
			if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.RateLimit, &t.RateLimitBurst, &t.CreatedAt); err != nil {
				return err
			}
			tenants = append(tenants, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}

	return tenants, nil
}

func (s *Store) GetSettings(ctx context.Context, tenantID uuid.UUID) (*store.TenantSettings, error) {
	query := `
		SELECT tenant_id, learning_enabled, auto_optimization_enabled, confidence_threshold,
			min_sample_size, observation_window_days, rollback_window_hours, updated_at
		FROM tenant_settings WHERE tenant_id = $1
	`

	var st store.TenantSettings
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&st.TenantID, &st.LearningEnabled, &st.AutoOptimizationEnabled, &st.ConfidenceThreshold,
		&st.MinSampleSize, &st.ObservationWindowDays, &st.RollbackWindowHours, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		defaults := store.DefaultSettings(tenantID)
		return &defaults, nil
	}
	if err != nil {
		return nil, err
	}

	return &st, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings *store.TenantSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, learning_enabled, auto_optimization_enabled,
			confidence_threshold, min_sample_size, observation_window_days, rollback_window_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id) DO UPDATE SET
			learning_enabled = EXCLUDED.learning_enabled,
			auto_optimization_enabled = EXCLUDED.auto_optimization_enabled,
			confidence_threshold = EXCLUDED.confidence_threshold,
			min_sample_size = EXCLUDED.min_sample_size,
			observation_window_days = EXCLUDED.observation_window_days,
			rollback_window_hours = EXCLUDED.rollback_window_hours,
			updated_at = EXCLUDED.updated_at
	`, settings.TenantID, settings.LearningEnabled, settings.AutoOptimizationEnabled,
		settings.ConfidenceThreshold, settings.MinSampleSize, settings.ObservationWindowDays,
		settings.RollbackWindowHours, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}

	return nil
}
