package postgres

import (
	"context"
	"fmt"
	"time"

	"optiplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) InsertAlert(ctx context.Context, a *store.Alert) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO alerts (id, tenant_id, alert_type, severity, title, description,
				evidence, affected_scope, affected_ids, triggered_at, status, resolved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, a.ID, a.TenantID, a.Type, a.Severity, a.Title, a.Description,
			a.Evidence, a.AffectedScope, pq.Array(a.AffectedIDs), a.TriggeredAt, a.Status, a.ResolvedAt)
		return err
	})
}

// HasActiveAlert backs the alert manager's suppression rule: an alert
// standing for the same (tenant, type, entity) is not re-raised.
func (s *Store) HasActiveAlert(ctx context.Context, tenantID uuid.UUID, alertType, entityID string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM alerts
		WHERE tenant_id = $1 AND alert_type = $2 AND status = $3 AND $4 = ANY(affected_ids)
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, tenantID, alertType, store.AlertActive, entityID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check active alerts: %w", err)
	}

	return count > 0, nil
}

func (s *Store) ListAlerts(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]store.Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, alert_type, severity, title, description, evidence,
			affected_scope, affected_ids, triggered_at, status, resolved_at
		FROM alerts WHERE tenant_id = $1
	`
	if activeOnly {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY triggered_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []store.Alert
	for rows.Next() {
		var a store.Alert
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Type, &a.Severity, &a.Title, &a.Description,
			&a.Evidence, &a.AffectedScope, pq.Array(&a.AffectedIDs), &a.TriggeredAt, &a.Status, &a.ResolvedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// CountActiveAlerts returns the number of unresolved alerts across
// all tenants. Backs the scraped alert backlog gauge.
func (s *Store) CountActiveAlerts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE status = $1`, store.AlertActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active alerts: %w", err)
	}

	return count, nil
}

func (s *Store) ResolveAlert(ctx context.Context, alertID uuid.UUID, resolvedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = $1, resolved_at = $2 WHERE id = $3 AND status = $4
	`, store.AlertResolved, resolvedAt, alertID, store.AlertActive)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("alert %s is not active", alertID)
	}

	return nil
}
