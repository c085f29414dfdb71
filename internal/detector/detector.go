// Package detector mines execution telemetry and workload snapshots
// for recurring behavioral patterns.
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"optiplane/internal/audit"
	"optiplane/internal/store"

	"github.com/google/uuid"
)

// ErrInsufficientEvidence marks a detection routine skipped because
// the telemetry sample is below the tenant's minimum. It is expected
// control flow, not a failure.
var ErrInsufficientEvidence = errors.New("insufficient evidence")

// Detection thresholds.
const (
	// Confidence assigned when the sample is below the tenant's minimum
	// sample size. Keeps thin evidence well under the apply threshold.
	lowSampleConfidence = 0.3

	// Per-type minimum samples for complexity analysis.
	minTypeSamples = 5

	// Mean efficiency below this flags a task type as systematically
	// underestimated.
	complexityEfficiencyThreshold = 0.7

	// Mean complexity above this adds a split suggestion.
	splitComplexityThreshold = 7.0

	// Subsystem efficiency bounds.
	subsystemHighEfficiency = 1.2
	subsystemLowEfficiency  = 0.8

	// Sample-count divisors for subsystem confidence.
	highEfficiencyConfidenceDivisor = 50.0
	lowEfficiencyConfidenceDivisor  = 30.0

	// Share of the excess that a rebalancing transfer moves.
	transferFraction = 0.3

	capacityMinutesPerDay = 8 * 60
)

// Store is the subset of the store the detector needs.
type Store interface {
	GetWorkloadSnapshots(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]store.WorkloadSnapshot, error)
	ListExecutionRecords(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.ExecutionRecord, error)
	InsertPattern(ctx context.Context, p *store.Pattern) error
	DeactivatePatterns(ctx context.Context, tenantID uuid.UUID, pt store.PatternType, scopeID string) error
}

// Summary describes one detection run.
type Summary struct {
	WorkloadPatterns   int
	ComplexityPatterns int
	SubsystemPatterns  int
}

func (s Summary) Total() int {
	return s.WorkloadPatterns + s.ComplexityPatterns + s.SubsystemPatterns
}

// Recorder appends entries to the audit trail.
type Recorder interface {
	Record(ctx context.Context, a audit.Action) error
}

// Detector runs the pattern detection routines for a tenant.
type Detector struct {
	store    Store
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func New(st Store, rec Recorder, logger *slog.Logger) *Detector {
	return &Detector{store: st, recorder: rec, logger: logger, now: time.Now}
}

// Detect runs all detection routines against the tenant's telemetry
// window defined by its settings. Each saved pattern supersedes prior
// active unapplied patterns of the same type and scope.
func (d *Detector) Detect(ctx context.Context, tenantID uuid.UUID, settings *store.TenantSettings) (*Summary, error) {
	summary := &Summary{}
	day := d.now().Truncate(24 * time.Hour)

	snapshots, err := d.store.GetWorkloadSnapshots(ctx, tenantID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load workload snapshots: %w", err)
	}
	n, err := d.detectWorkloadImbalance(ctx, tenantID, settings, snapshots)
	if err != nil {
		return nil, err
	}
	summary.WorkloadPatterns = n

	since := day.AddDate(0, 0, -settings.ObservationWindowDays)
	records, err := d.store.ListExecutionRecords(ctx, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution records: %w", err)
	}

	n, err = d.detectComplexityPatterns(ctx, tenantID, settings, records)
	switch {
	case errors.Is(err, ErrInsufficientEvidence):
		d.logger.Debug("complexity detection skipped", "tenant_id", tenantID, "reason", err)
	case err != nil:
		return nil, err
	}
	summary.ComplexityPatterns = n

	n, err = d.detectSubsystemPatterns(ctx, tenantID, settings, records)
	switch {
	case errors.Is(err, ErrInsufficientEvidence):
		d.logger.Debug("subsystem detection skipped", "tenant_id", tenantID, "reason", err)
	case err != nil:
		return nil, err
	}
	summary.SubsystemPatterns = n

	d.logger.Info("pattern detection complete",
		"tenant_id", tenantID,
		"workload", summary.WorkloadPatterns,
		"complexity", summary.ComplexityPatterns,
		"subsystem", summary.SubsystemPatterns)

	return summary, nil
}

// detectWorkloadImbalance emits one global pattern when the daily
// snapshots show overloaded and underutilized units at the same time.
func (d *Detector) detectWorkloadImbalance(ctx context.Context, tenantID uuid.UUID, settings *store.TenantSettings, snapshots []store.WorkloadSnapshot) (int, error) {
	var daily []store.WorkloadSnapshot
	for _, s := range snapshots {
		if s.Granularity == store.GranularityDaily {
			daily = append(daily, s)
		}
	}

	var overloaded, underutilized []store.WorkloadSnapshot
	for _, s := range daily {
		if s.OverloadRisk {
			overloaded = append(overloaded, s)
		}
		if s.Underutilized {
			underutilized = append(underutilized, s)
		}
	}

	if len(overloaded) == 0 || len(underutilized) == 0 {
		return 0, nil
	}

	evidence := store.Evidence{WorkloadBalance: &store.WorkloadBalanceEvidence{
		Overloaded:    toUtilizations(overloaded),
		Underutilized: toUtilizations(underutilized),
		Transfers:     suggestTransfers(overloaded, underutilized),
	}}

	pattern := &store.Pattern{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Type:      store.PatternWorkloadBalance,
		Category:  store.CategoryEfficiency,
		ScopeType: store.ScopeGlobal,
		ScopeID:   tenantID.String(),
		Description: fmt.Sprintf("workload imbalance: %d units overloaded, %d underutilized",
			len(overloaded), len(underutilized)),
		Evidence:        evidence,
		Confidence:      proportionConfidence(settings.MinSampleSize, len(daily), len(overloaded)+len(underutilized)),
		SampleSize:      len(daily),
		WindowDays:      1,
		ImpactMagnitude: averageOverloadPercent(overloaded),
		Active:          true,
		DetectedAt:      d.now(),
	}

	if err := d.savePattern(ctx, pattern); err != nil {
		return 0, err
	}
	return 1, nil
}

// detectComplexityPatterns flags task types whose executions run
// consistently slower than estimated.
func (d *Detector) detectComplexityPatterns(ctx context.Context, tenantID uuid.UUID, settings *store.TenantSettings, records []store.ExecutionRecord) (int, error) {
	// Only records with a computable efficiency ratio count.
	byType := map[string][]store.ExecutionRecord{}
	usable := 0
	for _, r := range records {
		if r.EfficiencyRatio == nil {
			continue
		}
		byType[r.TaskType] = append(byType[r.TaskType], r)
		usable++
	}
	if usable < settings.MinSampleSize {
		return 0, ErrInsufficientEvidence
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	saved := 0
	for _, taskType := range types {
		group := byType[taskType]
		if len(group) < minTypeSamples {
			continue
		}

		var effSum, cplxSum float64
		for _, r := range group {
			effSum += *r.EfficiencyRatio
			cplxSum += float64(r.ComplexityScore)
		}
		avgEfficiency := effSum / float64(len(group))
		avgComplexity := cplxSum / float64(len(group))

		if avgEfficiency >= complexityEfficiencyThreshold {
			continue
		}

		ev := &store.TaskComplexityEvidence{
			TaskType:       taskType,
			AvgEfficiency:  avgEfficiency,
			AvgComplexity:  avgComplexity,
			SampleCount:    len(group),
			TimeMultiplier: round2(1 / avgEfficiency),
		}
		if avgComplexity > splitComplexityThreshold {
			threshold := int(splitComplexityThreshold)
			ev.SplitAboveComplexity = &threshold
		}

		pattern := &store.Pattern{
			ID:              uuid.New(),
			TenantID:        tenantID,
			Type:            store.PatternTaskComplexity,
			Category:        store.CategoryEfficiency,
			ScopeType:       store.ScopeTaskType,
			ScopeID:         taskType,
			Description:     fmt.Sprintf("task type %q consistently less efficient than estimated", taskType),
			Evidence:        store.Evidence{TaskComplexity: ev},
			Confidence:      proportionConfidence(settings.MinSampleSize, len(group), len(group)),
			SampleSize:      len(group),
			WindowDays:      settings.ObservationWindowDays,
			ImpactMagnitude: math.Round((1 - avgEfficiency) * 100),
			Active:          true,
			DetectedAt:      d.now(),
		}

		if err := d.savePattern(ctx, pattern); err != nil {
			return saved, err
		}
		saved++
	}

	return saved, nil
}

// detectSubsystemPatterns flags subsystems whose mean efficiency is an
// outlier in either direction.
func (d *Detector) detectSubsystemPatterns(ctx context.Context, tenantID uuid.UUID, settings *store.TenantSettings, records []store.ExecutionRecord) (int, error) {
	if len(records) < settings.MinSampleSize {
		return 0, ErrInsufficientEvidence
	}

	type stats struct {
		count    int
		totalEff float64
	}
	bySubsystem := map[string]*stats{}
	for _, r := range records {
		for _, sub := range r.SubsystemsUsed {
			st, ok := bySubsystem[sub]
			if !ok {
				st = &stats{}
				bySubsystem[sub] = st
			}
			st.count++
			// Missing ratios count as neutral efficiency.
			if r.EfficiencyRatio != nil {
				st.totalEff += *r.EfficiencyRatio
			} else {
				st.totalEff += 1.0
			}
		}
	}

	subsystems := make([]string, 0, len(bySubsystem))
	for sub := range bySubsystem {
		subsystems = append(subsystems, sub)
	}
	sort.Strings(subsystems)

	saved := 0
	for _, sub := range subsystems {
		st := bySubsystem[sub]
		if st.count < settings.MinSampleSize {
			continue
		}
		avgEfficiency := st.totalEff / float64(st.count)

		var pattern *store.Pattern
		switch {
		case avgEfficiency > subsystemHighEfficiency:
			pattern = &store.Pattern{
				Type:            store.PatternSubsystemEfficiency,
				Category:        store.CategoryOptimization,
				Description:     fmt.Sprintf("subsystem %q shows high efficiency (%.1f%%)", sub, avgEfficiency*100),
				Confidence:      math.Min(float64(st.count)/highEfficiencyConfidenceDivisor, 1.0),
				ImpactMagnitude: (avgEfficiency - 1.0) * 100,
			}
		case avgEfficiency < subsystemLowEfficiency:
			pattern = &store.Pattern{
				Type:            store.PatternSubsystemInefficiency,
				Category:        store.CategoryBottleneck,
				Description:     fmt.Sprintf("subsystem %q shows low efficiency (%.1f%%)", sub, avgEfficiency*100),
				Confidence:      math.Min(float64(st.count)/lowEfficiencyConfidenceDivisor, 1.0),
				ImpactMagnitude: (1.0 - avgEfficiency) * 100,
			}
		default:
			continue
		}

		pattern.ID = uuid.New()
		pattern.TenantID = tenantID
		pattern.ScopeType = store.ScopeSubsystem
		pattern.ScopeID = sub
		pattern.Evidence = store.Evidence{Subsystem: &store.SubsystemEvidence{
			Subsystem:     sub,
			AvgEfficiency: avgEfficiency,
			SampleCount:   st.count,
		}}
		pattern.SampleSize = st.count
		pattern.WindowDays = settings.ObservationWindowDays
		pattern.Active = true
		pattern.DetectedAt = d.now()

		if err := d.savePattern(ctx, pattern); err != nil {
			return saved, err
		}
		saved++
	}

	return saved, nil
}

// savePattern deactivates superseded rows first, then inserts the new
// pattern, so exactly one active unapplied row exists per type+scope.
// Every persisted pattern gets a create entry in the audit trail
// before the detection run is considered complete.
func (d *Detector) savePattern(ctx context.Context, p *store.Pattern) error {
	if err := p.Evidence.Validate(p.Type); err != nil {
		return err
	}
	if err := d.store.DeactivatePatterns(ctx, p.TenantID, p.Type, p.ScopeID); err != nil {
		return err
	}
	if err := d.store.InsertPattern(ctx, p); err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return d.auditPattern(ctx, p)
}

// auditPattern records the pattern's creation. Bottleneck findings
// carry medium risk; efficiency findings carry low.
func (d *Detector) auditPattern(ctx context.Context, p *store.Pattern) error {
	risk := store.RiskLow
	if p.Category == store.CategoryBottleneck {
		risk = store.RiskMedium
	}

	state, err := json.Marshal(map[string]interface{}{
		"pattern_type": p.Type,
		"category":     p.Category,
		"scope_id":     p.ScopeID,
		"confidence":   p.Confidence,
		"sample_size":  p.SampleSize,
	})
	if err != nil {
		return err
	}

	err = d.recorder.Record(ctx, audit.Action{
		TenantID:    p.TenantID,
		ActionType:  store.ActionCreate,
		EntityType:  "pattern",
		EntityID:    p.ID.String(),
		EntityName:  string(p.Type),
		ActorType:   store.ActorAI,
		ActorName:   "pattern_detector",
		Description: p.Description,
		AfterState:  state,
		Automated:   true,
		RiskLevel:   risk,
		Success:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to audit pattern creation: %w", err)
	}
	return nil
}

// proportionConfidence maps the affected share of the sample to a
// confidence tier. Samples below the minimum get a floor value that
// keeps them out of the optimizer.
func proportionConfidence(minSampleSize, sampleSize, affected int) float64 {
	if sampleSize < minSampleSize {
		return lowSampleConfidence
	}

	proportion := float64(affected) / float64(sampleSize)
	switch {
	case proportion > 0.5:
		return 0.9
	case proportion > 0.3:
		return 0.8
	case proportion > 0.2:
		return 0.7
	default:
		return 0.6
	}
}

func averageOverloadPercent(overloaded []store.WorkloadSnapshot) float64 {
	if len(overloaded) == 0 {
		return 0
	}
	var sum float64
	for _, s := range overloaded {
		sum += math.Max(0, s.UtilizationRate-1.0)
	}
	return round2(sum / float64(len(overloaded)) * 100)
}

// suggestTransfers pairs each overloaded unit with the first
// underutilized unit whose spare capacity covers the transferable
// share of the excess.
func suggestTransfers(overloaded, underutilized []store.WorkloadSnapshot) []store.TransferSuggestion {
	var suggestions []store.TransferSuggestion
	for _, over := range overloaded {
		excess := over.UtilizationRate - 1.0
		for _, under := range underutilized {
			if 1.0-under.UtilizationRate >= excess*transferFraction {
				suggestions = append(suggestions, store.TransferSuggestion{
					FromUnit: over.UnitID,
					ToUnit:   under.UnitID,
					Minutes:  int(math.Round(excess * transferFraction * capacityMinutesPerDay)),
					Reason:   "balance workload within capacity",
				})
				break
			}
		}
	}
	return suggestions
}

func toUtilizations(snapshots []store.WorkloadSnapshot) []store.UnitUtilization {
	out := make([]store.UnitUtilization, len(snapshots))
	for i, s := range snapshots {
		out[i] = store.UnitUtilization{UnitID: s.UnitID, Utilization: s.UtilizationRate}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
