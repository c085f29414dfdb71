// Package analyzer computes per-unit workload snapshots from pending
// task load.
package analyzer

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

// Capacity and utilization thresholds. Utilization is estimated hours
// over available hours for the granularity's horizon.
const (
	DailyCapacityHours  = 8.0
	WeeklyCapacityHours = 40.0

	OverloadThreshold            = 1.2
	DailyUnderutilizedThreshold  = 0.5
	WeeklyUnderutilizedThreshold = 0.3
)

// Store is the subset of the store the analyzer needs.
type Store interface {
	GetWorkforceUnits(ctx context.Context, tenantID uuid.UUID) ([]store.WorkforceUnit, error)
	GetPendingTasks(ctx context.Context, unitID uuid.UUID, sinceDate time.Time) ([]store.Task, error)
	ReplaceWorkloadSnapshots(ctx context.Context, tenantID uuid.UUID, date time.Time, snapshots []store.WorkloadSnapshot) error
	GetWorkloadSnapshots(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]store.WorkloadSnapshot, error)
}

// Recorder writes audit entries for analysis runs.
type Recorder interface {
	Record(ctx context.Context, a audit.Action) error
}

// Summary describes one analysis run.
type Summary struct {
	AnalysisDate  time.Time
	UnitCount     int
	Overloaded    int
	Underutilized int
	Snapshots     int
}

// Analyzer builds workload snapshots for a tenant.
type Analyzer struct {
	store    Store
	recorder Recorder
	logger   *slog.Logger
}

func New(st Store, rec Recorder, logger *slog.Logger) *Analyzer {
	return &Analyzer{store: st, recorder: rec, logger: logger}
}

// Analyze computes daily and weekly snapshots for every active unit and
// replaces the stored set for the analysis date. Re-running for the
// same date is idempotent. Each run leaves one audit entry carrying the
// aggregate utilization before and after the replacement.
func (a *Analyzer) Analyze(ctx context.Context, tenantID uuid.UUID, date time.Time) (*Summary, error) {
	day := date.Truncate(24 * time.Hour)

	units, err := a.store.GetWorkforceUnits(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workforce units: %w", err)
	}

	summary := &Summary{AnalysisDate: day, UnitCount: len(units)}

	var snapshots []store.WorkloadSnapshot
	for _, unit := range units {
		tasks, err := a.store.GetPendingTasks(ctx, unit.ID, day)
		if err != nil {
			return nil, fmt.Errorf("failed to load tasks for unit %s: %w", unit.ID, err)
		}

		daily := buildSnapshot(tenantID, unit.ID, day, store.GranularityDaily, tasks)
		weekly := buildSnapshot(tenantID, unit.ID, day, store.GranularityWeekly, tasks)
		snapshots = append(snapshots, daily, weekly)

		if daily.OverloadRisk {
			summary.Overloaded++
		}
		if daily.Underutilized {
			summary.Underutilized++
		}
	}

	previous, err := a.store.GetWorkloadSnapshots(ctx, tenantID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior snapshots: %w", err)
	}

	if err := a.store.ReplaceWorkloadSnapshots(ctx, tenantID, day, snapshots); err != nil {
		return nil, fmt.Errorf("failed to store workload snapshots: %w", err)
	}
	summary.Snapshots = len(snapshots)

	if err := a.auditRun(ctx, tenantID, day, previous, snapshots); err != nil {
		return nil, err
	}

	a.logger.Info("workload analysis complete",
		"tenant_id", tenantID,
		"analysis_date", day.Format("2006-01-02"),
		"units", summary.UnitCount,
		"overloaded", summary.Overloaded,
		"underutilized", summary.Underutilized)

	return summary, nil
}

func (a *Analyzer) auditRun(ctx context.Context, tenantID uuid.UUID, day time.Time, previous, current []store.WorkloadSnapshot) error {
	before, _ := json.Marshal(map[string]interface{}{
		"aggregate_utilization": aggregateUtilization(previous),
		"snapshot_count":        len(previous),
	})
	after, _ := json.Marshal(map[string]interface{}{
		"aggregate_utilization": aggregateUtilization(current),
		"snapshot_count":        len(current),
	})

	if err := a.recorder.Record(ctx, audit.Action{
		TenantID:    tenantID,
		ActionType:  store.ActionUpdate,
		EntityType:  "workload_snapshot",
		EntityID:    day.Format("2006-01-02"),
		ActorType:   store.ActorSystem,
		ActorName:   "workload_analyzer",
		Description: "workload snapshots recomputed",
		BeforeState: before,
		AfterState:  after,
		Automated:   true,
		Success:     true,
	}); err != nil {
		return fmt.Errorf("failed to audit analysis run: %w", err)
	}
	return nil
}

// aggregateUtilization is the mean daily utilization across the set.
func aggregateUtilization(snapshots []store.WorkloadSnapshot) float64 {
	sum, n := 0.0, 0
	for _, s := range snapshots {
		if s.Granularity != store.GranularityDaily {
			continue
		}
		sum += s.UtilizationRate
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func buildSnapshot(tenantID, unitID uuid.UUID, day time.Time, granularity store.SnapshotGranularity, tasks []store.Task) store.WorkloadSnapshot {
	horizon := day.AddDate(0, 0, 1)
	available := DailyCapacityHours
	underThreshold := DailyUnderutilizedThreshold
	if granularity == store.GranularityWeekly {
		horizon = day.AddDate(0, 0, 7)
		available = WeeklyCapacityHours
		underThreshold = WeeklyUnderutilizedThreshold
	}

	count := 0
	totalMinutes := 0
	for _, t := range tasks {
		if t.DueDate.Before(horizon) {
			count++
			totalMinutes += t.EstimatedDuration
		}
	}

	estimatedHours := float64(totalMinutes) / 60.0
	utilization := estimatedHours / available

	return store.WorkloadSnapshot{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		UnitID:              unitID,
		AnalysisDate:        day,
		Granularity:         granularity,
		TaskCount:           count,
		TotalEstimatedHours: estimatedHours,
		AvailableHours:      available,
		UtilizationRate:     utilization,
		OverloadRisk:        utilization > OverloadThreshold,
		Underutilized:       utilization < underThreshold,
	}
}
