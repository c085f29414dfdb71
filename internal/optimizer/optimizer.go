// Package optimizer turns eligible patterns into applied optimizations
// and verifies their impact after a settling window.
package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"optiplane/internal/audit"
	"optiplane/internal/store"

	"github.com/google/uuid"
)

// ErrApplicationConflict marks a pattern lost to a concurrent claim.
// The losing run skips the pattern silently.
var ErrApplicationConflict = errors.New("pattern claimed by concurrent run")

// A rebalancing transfer considers at most this many of the unit's
// lowest-priority tasks as move candidates.
const transferCandidateLimit = 3

// Store is the subset of the store the optimizer needs.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	ListEligiblePatterns(ctx context.Context, tenantID uuid.UUID, minConfidence float64) ([]store.Pattern, error)
	ClaimPattern(ctx context.Context, tx store.DBTransaction, patternID uuid.UUID, appliedAt time.Time) (bool, error)
	GetPendingTasks(ctx context.Context, unitID uuid.UUID, sinceDate time.Time) ([]store.Task, error)
	ReassignTask(ctx context.Context, tx store.DBTransaction, taskID, newUnitID uuid.UUID) error
	UpsertEstimateAdjustment(ctx context.Context, tx store.DBTransaction, adj *store.EstimateAdjustment) error
	InsertOptimization(ctx context.Context, tx store.DBTransaction, o *store.Optimization) error
	GetWorkloadSnapshots(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]store.WorkloadSnapshot, error)
	ListDueVerifications(ctx context.Context, asOf time.Time) ([]store.Optimization, error)
	CompleteVerification(ctx context.Context, optimizationID uuid.UUID, improvement float64, status string, verifiedAt time.Time) error
}

// Summary describes one application run.
type Summary struct {
	Eligible int
	Applied  int
	Skipped  int
	Failed   int
}

// Regression is a verified optimization whose measured impact went the
// wrong way. The alert manager turns these into alerts.
type Regression struct {
	Optimization store.Optimization
	Improvement  float64
}

// Recorder appends entries to the audit trail.
type Recorder interface {
	Record(ctx context.Context, a audit.Action) error
}

// Optimizer applies eligible patterns and verifies due optimizations.
type Optimizer struct {
	store    Store
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func New(st Store, rec Recorder, logger *slog.Logger) *Optimizer {
	return &Optimizer{store: st, recorder: rec, logger: logger, now: time.Now}
}

// ApplyEligiblePatterns applies every active, unapplied pattern at or
// above the tenant's confidence threshold. Application is
// all-or-nothing per pattern: the claim, the remediation writes, and
// the optimization row share one transaction.
func (o *Optimizer) ApplyEligiblePatterns(ctx context.Context, tenantID uuid.UUID, settings *store.TenantSettings) (*Summary, error) {
	summary := &Summary{}

	if !settings.AutoOptimizationEnabled {
		o.logger.Info("auto optimization disabled, skipping", "tenant_id", tenantID)
		return summary, nil
	}

	patterns, err := o.store.ListEligiblePatterns(ctx, tenantID, settings.ConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible patterns: %w", err)
	}
	summary.Eligible = len(patterns)

	baseline := o.currentUtilization(ctx, tenantID)

	for _, pattern := range patterns {
		if err := o.applyPattern(ctx, &pattern, settings, baseline); err != nil {
			if errors.Is(err, ErrApplicationConflict) {
				summary.Skipped++
				o.logger.Debug("pattern claimed by concurrent run",
					"tenant_id", tenantID, "pattern_id", pattern.ID)
				continue
			}
			summary.Failed++
			o.logger.Error("pattern application failed",
				"tenant_id", tenantID, "pattern_id", pattern.ID, "error", err)
			continue
		}
		summary.Applied++
	}

	o.logger.Info("optimization run complete",
		"tenant_id", tenantID,
		"eligible", summary.Eligible,
		"applied", summary.Applied,
		"skipped", summary.Skipped,
		"failed", summary.Failed)

	return summary, nil
}

// applyPattern claims the pattern, performs its remediation, and
// records the optimization, all in one transaction. A rolled-back
// transaction leaves the pattern unclaimed for the next run.
func (o *Optimizer) applyPattern(ctx context.Context, pattern *store.Pattern, settings *store.TenantSettings, baseline *float64) error {
	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := o.now()

	claimed, err := o.store.ClaimPattern(ctx, tx, pattern.ID, now)
	if err != nil {
		return fmt.Errorf("failed to claim pattern %s: %w", pattern.ID, err)
	}
	if !claimed {
		return ErrApplicationConflict
	}

	opt := &store.Optimization{
		ID:                  uuid.New(),
		TenantID:            pattern.TenantID,
		PatternID:           pattern.ID,
		Method:              "immediate",
		Status:              store.OptimizationImplemented,
		BaselineUtilization: baseline,
		ImplementedAt:       now,
		VerifyAfter:         now.Add(time.Duration(settings.RollbackWindowHours) * time.Hour),
	}

	params, err := store.MarshalEvidence(pattern.Evidence)
	if err != nil {
		return err
	}
	opt.Parameters = params

	var moves []taskMove

	switch pattern.Type {
	case store.PatternWorkloadBalance:
		opt.Type = store.OptimizationTaskRebalancing
		opt.TargetScope = store.ScopeGlobal
		targets, m, err := o.rebalance(ctx, tx, pattern)
		if err != nil {
			return err
		}
		opt.TargetIDs = targets
		moves = m

	case store.PatternTaskComplexity:
		opt.Type = store.OptimizationComplexityAdjustment
		opt.TargetScope = store.ScopeTaskType
		opt.TargetIDs = []string{pattern.ScopeID}
		ev := pattern.Evidence.TaskComplexity
		if ev == nil {
			return fmt.Errorf("pattern %s missing complexity evidence", pattern.ID)
		}
		adj := &store.EstimateAdjustment{
			TenantID:  pattern.TenantID,
			TaskType:  ev.TaskType,
			Factor:    ev.TimeMultiplier,
			UpdatedAt: now,
		}
		if err := o.store.UpsertEstimateAdjustment(ctx, tx, adj); err != nil {
			return err
		}

	case store.PatternSubsystemEfficiency, store.PatternSubsystemInefficiency:
		// Subsystem patterns have no direct actuator; the optimization
		// records the finding for downstream routing decisions.
		opt.Type = store.OptimizationSubsystem
		opt.TargetScope = store.ScopeSubsystem
		opt.TargetIDs = []string{pattern.ScopeID}

	default:
		return fmt.Errorf("unsupported pattern type %q", pattern.Type)
	}

	if err := o.store.InsertOptimization(ctx, tx, opt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	// Reassignments are audited only once they are committed, with the
	// before and after assignment of every moved task.
	for _, mv := range moves {
		if err := o.auditReassignment(ctx, pattern.TenantID, mv); err != nil {
			return err
		}
	}
	return nil
}

// taskMove records one committed reassignment for the audit trail.
type taskMove struct {
	task     store.Task
	fromUnit uuid.UUID
	toUnit   uuid.UUID
}

// rebalance moves pending tasks from overloaded to underutilized units
// following the pattern's transfer suggestions. Each suggestion moves
// exactly one task: the lowest-priority one among the unit's tail
// candidates.
func (o *Optimizer) rebalance(ctx context.Context, tx store.DBTransaction, pattern *store.Pattern) ([]string, []taskMove, error) {
	ev := pattern.Evidence.WorkloadBalance
	if ev == nil {
		return nil, nil, fmt.Errorf("pattern %s missing workload balance evidence", pattern.ID)
	}

	touched := map[string]bool{}
	var targets []string
	var moves []taskMove
	for _, transfer := range ev.Transfers {
		tasks, err := o.store.GetPendingTasks(ctx, transfer.FromUnit, o.now().Truncate(24*time.Hour))
		if err != nil {
			return nil, nil, err
		}
		if len(tasks) == 0 {
			continue
		}

		// Tasks arrive ordered by priority descending; the candidate
		// window is the tail, and only its least urgent task moves.
		candidates := tasks
		if len(candidates) > transferCandidateLimit {
			candidates = candidates[len(candidates)-transferCandidateLimit:]
		}
		task := candidates[len(candidates)-1]

		if err := o.store.ReassignTask(ctx, tx, task.ID, transfer.ToUnit); err != nil {
			return nil, nil, err
		}
		moves = append(moves, taskMove{task: task, fromUnit: transfer.FromUnit, toUnit: transfer.ToUnit})

		for _, id := range []uuid.UUID{transfer.FromUnit, transfer.ToUnit} {
			if !touched[id.String()] {
				touched[id.String()] = true
				targets = append(targets, id.String())
			}
		}
	}

	return targets, moves, nil
}

// auditReassignment writes the audit entry for one moved task.
func (o *Optimizer) auditReassignment(ctx context.Context, tenantID uuid.UUID, mv taskMove) error {
	before, err := json.Marshal(map[string]interface{}{
		"assigned_to": mv.fromUnit,
		"status":      mv.task.Status,
		"priority":    mv.task.Priority,
	})
	if err != nil {
		return err
	}
	after, err := json.Marshal(map[string]interface{}{
		"assigned_to": mv.toUnit,
		"status":      mv.task.Status,
		"priority":    mv.task.Priority,
	})
	if err != nil {
		return err
	}

	err = o.recorder.Record(ctx, audit.Action{
		TenantID:    tenantID,
		ActionType:  store.ActionUpdate,
		EntityType:  "task",
		EntityID:    mv.task.ID.String(),
		EntityName:  mv.task.Title,
		ActorType:   store.ActorAI,
		ActorName:   "optimization_engine",
		Description: fmt.Sprintf("task reassigned from unit %s to unit %s", mv.fromUnit, mv.toUnit),
		BeforeState: before,
		AfterState:  after,
		Automated:   true,
		Success:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to audit task reassignment: %w", err)
	}
	return nil
}

// VerifyDueOptimizations measures the impact of optimizations whose
// settling window elapsed and finalizes their status. Regressions are
// returned for alerting; nothing is rolled back automatically.
func (o *Optimizer) VerifyDueOptimizations(ctx context.Context, asOf time.Time) ([]Regression, error) {
	due, err := o.store.ListDueVerifications(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list due verifications: %w", err)
	}

	var regressions []Regression
	for _, opt := range due {
		improvement := 0.0
		if opt.BaselineUtilization != nil && *opt.BaselineUtilization > 0 {
			if current := o.currentUtilization(ctx, opt.TenantID); current != nil {
				improvement = round2((*opt.BaselineUtilization - *current) / *opt.BaselineUtilization * 100)
			}
		}

		status := store.OptimizationVerified
		if improvement < 0 {
			status = store.OptimizationFailed
			regressions = append(regressions, Regression{Optimization: opt, Improvement: improvement})
		}

		if err := o.store.CompleteVerification(ctx, opt.ID, improvement, status, o.now()); err != nil {
			return regressions, err
		}

		o.logger.Info("optimization verified",
			"optimization_id", opt.ID,
			"tenant_id", opt.TenantID,
			"improvement_pct", improvement,
			"status", status)
	}

	return regressions, nil
}

// currentUtilization is the mean utilization across today's daily
// snapshots, nil when no snapshots exist yet.
func (o *Optimizer) currentUtilization(ctx context.Context, tenantID uuid.UUID) *float64 {
	snapshots, err := o.store.GetWorkloadSnapshots(ctx, tenantID, o.now().Truncate(24*time.Hour))
	if err != nil || len(snapshots) == 0 {
		return nil
	}

	var sum float64
	count := 0
	for _, s := range snapshots {
		if s.Granularity != store.GranularityDaily {
			continue
		}
		sum += s.UtilizationRate
		count++
	}
	if count == 0 {
		return nil
	}

	mean := sum / float64(count)
	return &mean
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
