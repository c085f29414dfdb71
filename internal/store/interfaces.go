package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// TenantStore handles tenant records and per-tenant engine settings.
type TenantStore interface {
	// CreateTenant inserts a new tenant with its hashed API key and
	// default settings.
	CreateTenant(ctx context.Context, tenant *Tenant, hashedKey string) error

	// GetTenantByID returns a tenant by its ID.
	GetTenantByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// GetTenantByAPIKeyHash returns a tenant by its API key hash.
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (*Tenant, error)

	// GetActiveTenants returns all tenants with status "active".
	GetActiveTenants(ctx context.Context) ([]Tenant, error)

	// GetSettings returns the engine settings for a tenant. Returns the
	// defaults if no row exists.
	GetSettings(ctx context.Context, tenantID uuid.UUID) (*TenantSettings, error)

	// UpdateSettings replaces the engine settings for a tenant.
	UpdateSettings(ctx context.Context, settings *TenantSettings) error
}

// WorkforceStore handles workforce units and their task load. The task
// schema is owned externally; the engine reads pending load and
// reassigns tasks.
type WorkforceStore interface {
	// GetWorkforceUnits returns all active units for a tenant.
	GetWorkforceUnits(ctx context.Context, tenantID uuid.UUID) ([]WorkforceUnit, error)

	// GetPendingTasks returns pending tasks for a unit with due date on
	// or after sinceDate, ordered by priority descending.
	GetPendingTasks(ctx context.Context, unitID uuid.UUID, sinceDate time.Time) ([]Task, error)

	// ReassignTask moves a task to another unit.
	ReassignTask(ctx context.Context, tx DBTransaction, taskID, newUnitID uuid.UUID) error
}

// TelemetryStore handles execution records and workload snapshots.
type TelemetryStore interface {
	// InsertExecutionRecord appends one completed-task observation.
	// Records are write-once.
	InsertExecutionRecord(ctx context.Context, rec *ExecutionRecord) error

	// ListExecutionRecords returns records for a tenant with execution
	// date on or after since.
	ListExecutionRecords(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]ExecutionRecord, error)

	// ReplaceWorkloadSnapshots deletes all snapshot rows for the
	// (tenant, date) key and inserts the given set in one transaction.
	ReplaceWorkloadSnapshots(ctx context.Context, tenantID uuid.UUID, date time.Time, snapshots []WorkloadSnapshot) error

	// GetWorkloadSnapshots returns the snapshot set for a tenant+date.
	GetWorkloadSnapshots(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]WorkloadSnapshot, error)

	// ListWorkloadSnapshotsSince returns every snapshot row for a
	// tenant with analysis date on or after since, oldest first.
	ListWorkloadSnapshotsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]WorkloadSnapshot, error)
}

// PatternStore handles detected patterns.
type PatternStore interface {
	// InsertPattern appends a new pattern row.
	InsertPattern(ctx context.Context, p *Pattern) error

	// ListPatterns returns patterns for a tenant, newest first.
	ListPatterns(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]Pattern, error)

	// ListEligiblePatterns returns active, unapplied patterns at or
	// above the confidence threshold.
	ListEligiblePatterns(ctx context.Context, tenantID uuid.UUID, minConfidence float64) ([]Pattern, error)

	// ClaimPattern atomically marks a pattern applied via compare-and-set
	// on the applied flag. Returns false when the pattern was already
	// claimed by a concurrent run.
	ClaimPattern(ctx context.Context, tx DBTransaction, patternID uuid.UUID, appliedAt time.Time) (bool, error)

	// DeactivatePatterns marks prior active patterns of the same type
	// and scope inactive so a superseding row can be inserted.
	DeactivatePatterns(ctx context.Context, tenantID uuid.UUID, pt PatternType, scopeID string) error
}

// OptimizationStore handles applied remediations.
type OptimizationStore interface {
	// InsertOptimization appends an optimization row.
	InsertOptimization(ctx context.Context, tx DBTransaction, o *Optimization) error

	// ListOptimizations returns optimizations for a tenant, newest first.
	ListOptimizations(ctx context.Context, tenantID uuid.UUID, limit int) ([]Optimization, error)

	// ListDueVerifications returns implemented optimizations whose
	// verification window elapsed before asOf.
	ListDueVerifications(ctx context.Context, asOf time.Time) ([]Optimization, error)

	// CompleteVerification records the measured improvement and final
	// status for an optimization.
	CompleteVerification(ctx context.Context, optimizationID uuid.UUID, improvement float64, status string, verifiedAt time.Time) error

	// UpsertEstimateAdjustment stores a time-estimate multiplier for a
	// task type.
	UpsertEstimateAdjustment(ctx context.Context, tx DBTransaction, adj *EstimateAdjustment) error

	// GetEstimateAdjustments returns all stored adjustments for a tenant.
	GetEstimateAdjustments(ctx context.Context, tenantID uuid.UUID) ([]EstimateAdjustment, error)
}

// AlertStore handles standing notifications.
type AlertStore interface {
	// InsertAlert appends a new alert row. Deduplication is the alert
	// manager's job, not the store's.
	InsertAlert(ctx context.Context, a *Alert) error

	// HasActiveAlert reports whether an unresolved alert exists for the
	// (tenant, type, affected entity) triple.
	HasActiveAlert(ctx context.Context, tenantID uuid.UUID, alertType, entityID string) (bool, error)

	// ListAlerts returns alerts for a tenant, newest first.
	ListAlerts(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]Alert, error)

	// CountActiveAlerts returns the number of unresolved alerts across
	// all tenants.
	CountActiveAlerts(ctx context.Context) (int64, error)

	// ResolveAlert marks an alert resolved. Resolution is operator
	// driven; the engine never calls this on its own.
	ResolveAlert(ctx context.Context, alertID uuid.UUID, resolvedAt time.Time) error
}

// AuditStore handles the append-only audit trail, security events,
// compliance assessments, and audit reports.
type AuditStore interface {
	// InsertAuditEntry appends one audit entry. Entries are never
	// updated or deleted.
	InsertAuditEntry(ctx context.Context, e *AuditEntry) error

	// ListAuditEntries returns the audit timeline for a tenant, newest
	// first.
	ListAuditEntries(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]AuditEntry, error)

	// CountAuditEvents returns total/critical/error counts over a window,
	// split by automated flag, for report generation.
	CountAuditEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*AuditEventCounts, error)

	// HasEntriesOlderThan reports whether any audit entry predates the
	// cutoff. Used by the data-retention compliance check.
	HasEntriesOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) (bool, error)

	// InsertSecurityEvent appends one security event.
	InsertSecurityEvent(ctx context.Context, e *SecurityEvent) error

	// CountRecentAccessFailures counts denied accesses from a source
	// since the given time. Used by anomaly detection.
	CountRecentAccessFailures(ctx context.Context, sourceIP string, since time.Time) (int, error)

	// HasRecentSecurityEvents reports whether any security event was
	// recorded for a tenant since the given time. Used by the
	// access-logging-freshness compliance check.
	HasRecentSecurityEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) (bool, error)

	// ListUnresolvedSecurityEvents returns anomalous or failed security
	// events since the given time for alert evaluation.
	ListUnresolvedSecurityEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]SecurityEvent, error)

	// InsertComplianceResult appends one compliance assessment.
	InsertComplianceResult(ctx context.Context, r *ComplianceResult) error

	// ListComplianceResults returns assessments for a tenant, newest
	// first.
	ListComplianceResults(ctx context.Context, tenantID uuid.UUID, limit int) ([]ComplianceResult, error)

	// InsertAuditReport appends one generated report.
	InsertAuditReport(ctx context.Context, r *AuditReport) error

	// ListAuditReports returns reports for a tenant, newest first.
	ListAuditReports(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditReport, error)
}

// AuditEventCounts summarizes audit activity over a reporting window.
type AuditEventCounts struct {
	Total     int
	Critical  int
	Errors    int
	Automated int
	Manual    int
	Warnings  int
}
