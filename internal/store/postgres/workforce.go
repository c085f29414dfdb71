package postgres

import (
	"context"
	"fmt"
	"time"

	"optiplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) GetWorkforceUnits(ctx context.Context, tenantID uuid.UUID) ([]store.WorkforceUnit, error) {
	query := `
		SELECT id, tenant_id, full_name, role, department, status, created_at
		FROM workforce_units
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY created_at
	`

	var units []store.WorkforceUnit
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		units = units[:0]
		for rows.Next() {
			var u store.WorkforceUnit
			if err := rows.Scan(&u.ID, &u.TenantID, &u.FullName, &u.Role, &u.Department, &u.Status, &u.CreatedAt); err != nil {
				return err
			}
			units = append(units, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workforce units: %w", err)
	}

	return units, nil
}

func (s *Store) GetPendingTasks(ctx context.Context, unitID uuid.UUID, sinceDate time.Time) ([]store.Task, error) {
	query := `
		SELECT id, tenant_id, assigned_to, title, task_type, status, priority, estimated_duration, due_date, created_at
		FROM tasks
		WHERE assigned_to = $1 AND status = $2 AND due_date >= $3
		ORDER BY priority DESC
	`

	rows, err := s.db.QueryContext(ctx, query, unitID, store.TaskStatusPending, sinceDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []store.Task
	for rows.Next() {
		var t store.Task
		if err := rows.Scan(&t.ID, &t.TenantID, &t.AssignedTo, &t.Title, &t.TaskType, &t.Status,
			&t.Priority, &t.EstimatedDuration, &t.DueDate, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func (s *Store) ReassignTask(ctx context.Context, tx store.DBTransaction, taskID, newUnitID uuid.UUID) error {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE tasks SET assigned_to = $1 WHERE id = $2 AND status = $3
	`, newUnitID, taskID, store.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to reassign task %s: %w", taskID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("task %s is no longer pending", taskID)
	}

	return nil
}
