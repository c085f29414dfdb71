package postgres

import (
	"context"
	"fmt"
	"time"

	"optiplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) InsertAuditEntry(ctx context.Context, e *store.AuditEntry) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_entries (id, tenant_id, action_type, entity_type, entity_id, entity_name,
				actor_type, actor_name, description, before_state, after_state, changes_summary,
				session_id, automated, risk_level, sensitive_data, compliance_relevant, success,
				rollback_possible, rollback_data, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		`, e.ID, e.TenantID, e.ActionType, e.EntityType, e.EntityID, e.EntityName,
			e.ActorType, e.ActorName, e.Description, nullableJSON(e.BeforeState), nullableJSON(e.AfterState),
			nullableJSON(e.ChangesSummary), e.SessionID, e.Automated, e.RiskLevel, e.SensitiveData,
			e.ComplianceRelevant, e.Success, e.RollbackPossible, nullableJSON(e.RollbackData), e.RecordedAt)
		return err
	})
}

func (s *Store) ListAuditEntries(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, action_type, entity_type, entity_id, entity_name,
			actor_type, actor_name, description, before_state, after_state, changes_summary,
			session_id, automated, risk_level, sensitive_data, compliance_relevant, success,
			rollback_possible, rollback_data, recorded_at
		FROM audit_entries
		WHERE tenant_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var before, after, changes, rollback []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActionType, &e.EntityType, &e.EntityID, &e.EntityName,
			&e.ActorType, &e.ActorName, &e.Description, &before, &after, &changes,
			&e.SessionID, &e.Automated, &e.RiskLevel, &e.SensitiveData, &e.ComplianceRelevant, &e.Success,
			&e.RollbackPossible, &rollback, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.BeforeState = before
		e.AfterState = after
		e.ChangesSummary = changes
		e.RollbackData = rollback
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *Store) CountAuditEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*store.AuditEventCounts, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE risk_level = 'critical'),
			COUNT(*) FILTER (WHERE action_type = 'error' OR success = FALSE),
			COUNT(*) FILTER (WHERE automated),
			COUNT(*) FILTER (WHERE NOT automated),
			COUNT(*) FILTER (WHERE risk_level = 'high')
		FROM audit_entries
		WHERE tenant_id = $1 AND recorded_at >= $2 AND recorded_at < $3
	`

	var counts store.AuditEventCounts
	err := s.db.QueryRowContext(ctx, query, tenantID, from, to).Scan(
		&counts.Total, &counts.Critical, &counts.Errors, &counts.Automated, &counts.Manual, &counts.Warnings)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	return &counts, nil
}

func (s *Store) HasEntriesOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_entries WHERE tenant_id = $1 AND recorded_at < $2
	`, tenantID, cutoff).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check audit entry age: %w", err)
	}

	return count > 0, nil
}

func (s *Store) InsertSecurityEvent(ctx context.Context, e *store.SecurityEvent) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO security_events (id, tenant_id, event_type, severity, actor_name, source_ip,
				user_agent, resource, success, failure_reason, risk_score, anomaly_flag,
				anomaly_reasons, session_id, attempted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, e.ID, e.TenantID, e.EventType, e.Severity, e.ActorName, e.SourceIP,
			e.UserAgent, e.Resource, e.Success, e.FailureReason, e.RiskScore, e.AnomalyFlag,
			pq.Array(e.AnomalyReasons), e.SessionID, e.AttemptedAt)
		return err
	})
}

func (s *Store) CountRecentAccessFailures(ctx context.Context, sourceIP string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM security_events
		WHERE source_ip = $1 AND success = FALSE AND attempted_at >= $2
	`, sourceIP, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count access failures: %w", err)
	}

	return count, nil
}

func (s *Store) HasRecentSecurityEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM security_events WHERE tenant_id = $1 AND attempted_at >= $2
	`, tenantID, since).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check security events: %w", err)
	}

	return count > 0, nil
}

func (s *Store) ListUnresolvedSecurityEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.SecurityEvent, error) {
	query := `
		SELECT id, tenant_id, event_type, severity, actor_name, source_ip, user_agent, resource,
			success, failure_reason, risk_score, anomaly_flag, anomaly_reasons, session_id, attempted_at
		FROM security_events
		WHERE tenant_id = $1 AND attempted_at >= $2 AND (anomaly_flag = TRUE OR success = FALSE)
		ORDER BY attempted_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	defer rows.Close()

	var events []store.SecurityEvent
	for rows.Next() {
		var e store.SecurityEvent
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &e.Severity, &e.ActorName, &e.SourceIP,
			&e.UserAgent, &e.Resource, &e.Success, &e.FailureReason, &e.RiskScore, &e.AnomalyFlag,
			pq.Array(&e.AnomalyReasons), &e.SessionID, &e.AttemptedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (s *Store) InsertComplianceResult(ctx context.Context, r *store.ComplianceResult) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO compliance_results (id, tenant_id, framework, requirement, control_id, status,
				score, evidence, details, findings, gaps, recommendations, risk_level,
				period_start, period_end, assessed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, r.ID, r.TenantID, r.Framework, r.Requirement, r.ControlID, r.Status,
			r.Score, r.Evidence, r.Details, pq.Array(r.Findings), pq.Array(r.Gaps),
			pq.Array(r.Recommendations), r.RiskLevel, r.PeriodStart, r.PeriodEnd, r.AssessedAt)
		return err
	})
}

func (s *Store) ListComplianceResults(ctx context.Context, tenantID uuid.UUID, limit int) ([]store.ComplianceResult, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, framework, requirement, control_id, status, score, evidence, details,
			findings, gaps, recommendations, risk_level, period_start, period_end, assessed_at
		FROM compliance_results
		WHERE tenant_id = $1
		ORDER BY assessed_at DESC LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance results: %w", err)
	}
	defer rows.Close()

	var results []store.ComplianceResult
	for rows.Next() {
		var r store.ComplianceResult
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Framework, &r.Requirement, &r.ControlID, &r.Status,
			&r.Score, &r.Evidence, &r.Details, pq.Array(&r.Findings), pq.Array(&r.Gaps),
			pq.Array(&r.Recommendations), &r.RiskLevel, &r.PeriodStart, &r.PeriodEnd, &r.AssessedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

func (s *Store) InsertAuditReport(ctx context.Context, r *store.AuditReport) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_reports (id, tenant_id, report_type, category, period_start, period_end,
				summary, total_events, critical_events, warning_count, error_count, generated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, r.ID, r.TenantID, r.ReportType, r.Category, r.PeriodStart, r.PeriodEnd,
			r.Summary, r.TotalEvents, r.CriticalEvents, r.WarningCount, r.ErrorCount, r.GeneratedAt)
		return err
	})
}

func (s *Store) ListAuditReports(ctx context.Context, tenantID uuid.UUID, limit int) ([]store.AuditReport, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, report_type, category, period_start, period_end, summary,
			total_events, critical_events, warning_count, error_count, generated_at
		FROM audit_reports
		WHERE tenant_id = $1
		ORDER BY generated_at DESC LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit reports: %w", err)
	}
	defer rows.Close()

	var reports []store.AuditReport
	for rows.Next() {
		var r store.AuditReport
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ReportType, &r.Category, &r.PeriodStart, &r.PeriodEnd,
			&r.Summary, &r.TotalEvents, &r.CriticalEvents, &r.WarningCount, &r.ErrorCount, &r.GeneratedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}

	return reports, rows.Err()
}

// nullableJSON maps empty raw JSON to SQL NULL so optional JSONB columns
// stay NULL instead of holding empty strings.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
