// Package alerting evaluates threshold rules against analyzer output
// and raises standing alerts. Alerts are never auto-resolved; clearing
// them is an operator action.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"optiplane/internal/audit"
	"optiplane/internal/store"

	"github.com/google/uuid"
)

// Utilization thresholds on the analyzer's snapshot scale.
const (
	criticalOverloadThreshold = 1.5
	warningOverloadThreshold  = 1.2
	underutilizationThreshold = 0.3
)

// A metric below this fraction of its baseline counts as degraded.
const degradationRatio = 0.8

// Baseline window for the efficiency degradation check.
const degradationBaselineDays = 7

// How far back Evaluate re-checks unresolved security events.
const securityLookback = 24 * time.Hour

// Store is the subset of the store the alert manager needs.
type Store interface {
	InsertAlert(ctx context.Context, a *store.Alert) error
	HasActiveAlert(ctx context.Context, tenantID uuid.UUID, alertType, entityID string) (bool, error)
	GetSettings(ctx context.Context, tenantID uuid.UUID) (*store.TenantSettings, error)
	ListWorkloadSnapshotsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.WorkloadSnapshot, error)
	ListExecutionRecords(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.ExecutionRecord, error)
	ListUnresolvedSecurityEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.SecurityEvent, error)
}

// Recorder writes audit entries for raised alerts.
type Recorder interface {
	Record(ctx context.Context, a audit.Action) error
}

// Summary describes one evaluation run.
type Summary struct {
	Raised     int
	Suppressed int
}

// Manager raises alerts from workload and telemetry conditions.
type Manager struct {
	store    Store
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func New(st Store, rec Recorder, logger *slog.Logger) *Manager {
	return &Manager{store: st, recorder: rec, logger: logger, now: time.Now}
}

// Evaluate checks the tenant's workload snapshots against the
// utilization rules, the execution telemetry against the efficiency
// baseline, and recent unresolved security events. Overload fires on
// the current day's snapshot; underutilization only when the unit has
// stayed idle across the tenant's observation window. A matching
// active alert for the same (tenant, type, entity) suppresses a
// repeat.
func (m *Manager) Evaluate(ctx context.Context, tenantID uuid.UUID) (*Summary, error) {
	summary := &Summary{}
	today := m.now().Truncate(24 * time.Hour)

	settings, err := m.store.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	windowStart := today.AddDate(0, 0, -settings.ObservationWindowDays)
	window, err := m.store.ListWorkloadSnapshotsSince(ctx, tenantID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	byUnit := map[uuid.UUID][]store.WorkloadSnapshot{}
	var current []store.WorkloadSnapshot
	for _, s := range window {
		if s.Granularity != store.GranularityDaily {
			continue
		}
		byUnit[s.UnitID] = append(byUnit[s.UnitID], s)
		if s.AnalysisDate.Equal(today) {
			current = append(current, s)
		}
	}

	for _, s := range current {
		alert := utilizationAlert(tenantID, s)
		if alert == nil {
			continue
		}
		if alert.Type == store.AlertUnderutilization && !sustainedUnderutilization(byUnit[s.UnitID]) {
			continue
		}
		if err := m.raise(ctx, alert, summary); err != nil {
			return summary, err
		}
	}

	if _, err := m.evaluateEfficiency(ctx, tenantID, summary); err != nil {
		return summary, err
	}

	if err := m.evaluateSecurity(ctx, tenantID, summary); err != nil {
		return summary, err
	}

	m.logger.Info("alert evaluation complete",
		"tenant_id", tenantID, "raised", summary.Raised, "suppressed", summary.Suppressed)
	return summary, nil
}

// sustainedUnderutilization reports whether every snapshot the unit
// produced inside the observation window sits below the idle
// threshold. A single low day is not a trend, so at least two distinct
// analysis dates are required.
func sustainedUnderutilization(history []store.WorkloadSnapshot) bool {
	days := map[time.Time]bool{}
	for _, s := range history {
		if s.UtilizationRate >= underutilizationThreshold {
			return false
		}
		days[s.AnalysisDate] = true
	}
	return len(days) > 1
}

// utilizationAlert maps a snapshot to an alert, or nil when the unit is
// inside the healthy band.
func utilizationAlert(tenantID uuid.UUID, s store.WorkloadSnapshot) *store.Alert {
	evidence, _ := json.Marshal(map[string]interface{}{
		"utilization_rate": s.UtilizationRate,
		"task_count":       s.TaskCount,
		"available_hours":  s.AvailableHours,
	})

	base := store.Alert{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Evidence:      evidence,
		AffectedScope: "workforce_unit",
		AffectedIDs:   []string{s.UnitID.String()},
		Status:        store.AlertActive,
	}

	switch {
	case s.UtilizationRate > criticalOverloadThreshold:
		base.Type = store.AlertOverload
		base.Severity = store.SeverityCritical
		base.Title = "workforce unit severely overloaded"
		base.Description = fmt.Sprintf("unit %s at %.0f%% utilization", s.UnitID, s.UtilizationRate*100)
	case s.UtilizationRate > warningOverloadThreshold:
		base.Type = store.AlertOverload
		base.Severity = store.SeverityWarning
		base.Title = "workforce unit overloaded"
		base.Description = fmt.Sprintf("unit %s at %.0f%% utilization", s.UnitID, s.UtilizationRate*100)
	case s.UtilizationRate < underutilizationThreshold:
		base.Type = store.AlertUnderutilization
		base.Severity = store.SeverityInfo
		base.Title = "workforce unit underutilized"
		base.Description = fmt.Sprintf("unit %s at %.0f%% utilization", s.UnitID, s.UtilizationRate*100)
	default:
		return nil
	}
	return &base
}

// evaluateEfficiency compares the last day's mean efficiency ratio
// against the preceding week's and raises a degradation alert when the
// current value drops below 80% of the baseline.
func (m *Manager) evaluateEfficiency(ctx context.Context, tenantID uuid.UUID, summary *Summary) (bool, error) {
	now := m.now()
	records, err := m.store.ListExecutionRecords(ctx, tenantID, now.AddDate(0, 0, -degradationBaselineDays-1))
	if err != nil {
		return false, fmt.Errorf("failed to load execution records: %w", err)
	}

	cutoff := now.Add(-24 * time.Hour)
	var baselineSum, currentSum float64
	baselineN, currentN := 0, 0
	for _, rec := range records {
		if rec.EfficiencyRatio == nil {
			continue
		}
		if rec.ExecutionDate.Before(cutoff) {
			baselineSum += *rec.EfficiencyRatio
			baselineN++
		} else {
			currentSum += *rec.EfficiencyRatio
			currentN++
		}
	}
	if baselineN == 0 || currentN == 0 {
		return false, nil
	}

	baseline := baselineSum / float64(baselineN)
	current := currentSum / float64(currentN)
	if baseline <= 0 || current >= baseline*degradationRatio {
		return false, nil
	}

	evidence, _ := json.Marshal(map[string]interface{}{
		"metric":           "efficiency_ratio",
		"baseline":         baseline,
		"current":          current,
		"baseline_samples": baselineN,
		"current_samples":  currentN,
	})
	alert := &store.Alert{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Type:          store.AlertPerformanceDegradation,
		Severity:      store.SeverityWarning,
		Title:         "execution efficiency degraded",
		Description:   fmt.Sprintf("mean efficiency %.2f is below 80%% of baseline %.2f", current, baseline),
		Evidence:      evidence,
		AffectedScope: store.ScopeGlobal,
		AffectedIDs:   []string{tenantID.String()},
		Status:        store.AlertActive,
	}
	if err := m.raise(ctx, alert, summary); err != nil {
		return false, err
	}
	return true, nil
}

// evaluateSecurity re-checks recent anomalous or failed security
// events so that an event missed at ingest time still surfaces on the
// next evaluation pass. The dedup in raise keeps already-alerted
// events quiet.
func (m *Manager) evaluateSecurity(ctx context.Context, tenantID uuid.UUID, summary *Summary) error {
	events, err := m.store.ListUnresolvedSecurityEvents(ctx, tenantID, m.now().Add(-securityLookback))
	if err != nil {
		return fmt.Errorf("failed to load security events: %w", err)
	}

	for i := range events {
		if err := m.raise(ctx, securityAlert(&events[i]), summary); err != nil {
			return err
		}
	}
	return nil
}

// RaiseRegression raises an alert for an optimization whose verified
// impact went backwards. Rollback stays a manual decision.
func (m *Manager) RaiseRegression(ctx context.Context, opt store.Optimization, improvement float64) error {
	evidence, _ := json.Marshal(map[string]interface{}{
		"optimization_id": opt.ID,
		"pattern_id":      opt.PatternID,
		"improvement_pct": improvement,
	})
	alert := &store.Alert{
		ID:            uuid.New(),
		TenantID:      opt.TenantID,
		Type:          store.AlertOptimizationRegression,
		Severity:      store.SeverityWarning,
		Title:         "optimization regressed after verification",
		Description:   fmt.Sprintf("optimization %s measured %.2f%% improvement", opt.ID, improvement),
		Evidence:      evidence,
		AffectedScope: opt.TargetScope,
		AffectedIDs:   []string{opt.ID.String()},
		Status:        store.AlertActive,
	}
	return m.raise(ctx, alert, nil)
}

// RaiseSecurity raises an alert for an anomalous or failed-critical
// security event.
func (m *Manager) RaiseSecurity(ctx context.Context, event *store.SecurityEvent) error {
	return m.raise(ctx, securityAlert(event), nil)
}

func securityAlert(event *store.SecurityEvent) *store.Alert {
	severity := store.SeverityWarning
	if event.RiskScore >= 90 {
		severity = store.SeverityCritical
	}

	evidence, _ := json.Marshal(map[string]interface{}{
		"event_type":      event.EventType,
		"source_ip":       event.SourceIP,
		"resource":        event.Resource,
		"risk_score":      event.RiskScore,
		"anomaly_reasons": event.AnomalyReasons,
	})
	return &store.Alert{
		ID:            uuid.New(),
		TenantID:      event.TenantID,
		Type:          store.AlertSecurity,
		Severity:      severity,
		Title:         "suspicious access activity",
		Description:   fmt.Sprintf("%s on %s from %s", event.EventType, event.Resource, event.SourceIP),
		Evidence:      evidence,
		AffectedScope: "security_event",
		AffectedIDs:   []string{event.ID.String()},
		Status:        store.AlertActive,
	}
}

// RaiseAuditFailure raises the engine's self-alert for a failed audit
// write. Losing the audit trail must never be silent.
func (m *Manager) RaiseAuditFailure(ctx context.Context, tenantID uuid.UUID, stage string, cause error) error {
	evidence, _ := json.Marshal(map[string]interface{}{
		"stage": stage,
		"error": cause.Error(),
	})
	alert := &store.Alert{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Type:          store.AlertSelfAuditFailure,
		Severity:      store.SeverityCritical,
		Title:         "audit trail write failed",
		Description:   fmt.Sprintf("audit entry for stage %q could not be written", stage),
		Evidence:      evidence,
		AffectedScope: store.ScopeGlobal,
		AffectedIDs:   []string{tenantID.String()},
		Status:        store.AlertActive,
	}
	return m.raise(ctx, alert, nil)
}

// raise inserts the alert unless an active one already covers the same
// (tenant, type, affected entity), then records the creation in the
// audit trail.
func (m *Manager) raise(ctx context.Context, alert *store.Alert, summary *Summary) error {
	entityID := ""
	if len(alert.AffectedIDs) > 0 {
		entityID = alert.AffectedIDs[0]
	}

	active, err := m.store.HasActiveAlert(ctx, alert.TenantID, alert.Type, entityID)
	if err != nil {
		return fmt.Errorf("failed to check active alerts: %w", err)
	}
	if active {
		if summary != nil {
			summary.Suppressed++
		}
		return nil
	}

	alert.TriggeredAt = m.now()
	if err := m.store.InsertAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	if summary != nil {
		summary.Raised++
	}

	// The self-audit-failure alert fires when audit writes are already
	// failing, so it skips the trail rather than looping on it.
	if alert.Type != store.AlertSelfAuditFailure {
		if err := m.recordAlertCreation(ctx, alert); err != nil {
			return err
		}
	}

	m.logger.Warn("alert raised",
		"tenant_id", alert.TenantID,
		"type", alert.Type,
		"severity", alert.Severity,
		"entity_id", entityID)
	return nil
}

func (m *Manager) recordAlertCreation(ctx context.Context, alert *store.Alert) error {
	after, err := json.Marshal(map[string]interface{}{
		"alert_type":     alert.Type,
		"severity":       alert.Severity,
		"affected_scope": alert.AffectedScope,
		"affected_ids":   alert.AffectedIDs,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert state: %w", err)
	}

	if err := m.recorder.Record(ctx, audit.Action{
		TenantID:    alert.TenantID,
		ActionType:  store.ActionCreate,
		EntityType:  "alert",
		EntityID:    alert.ID.String(),
		EntityName:  alert.Type,
		ActorType:   store.ActorSystem,
		ActorName:   "alert_manager",
		Description: alert.Title,
		AfterState:  after,
		Automated:   true,
		Success:     true,
	}); err != nil {
		return fmt.Errorf("failed to audit alert creation: %w", err)
	}
	return nil
}
