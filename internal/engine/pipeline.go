// Package engine wires the learning-cycle stages together and runs
// them on their schedules. Each tenant's pipeline is isolated: one
// tenant's failure is audited and swallowed, never propagated to
// siblings.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"optiplane/internal/alerting"
	"optiplane/internal/analyzer"
	"optiplane/internal/audit"
	"optiplane/internal/config"
	"optiplane/internal/detector"
	"optiplane/internal/logger"
	"optiplane/internal/observability"
	"optiplane/internal/optimizer"
	"optiplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SettingsStore resolves per-tenant engine settings.
type SettingsStore interface {
	GetSettings(ctx context.Context, tenantID uuid.UUID) (*store.TenantSettings, error)
}

// WorkloadAnalyzer refreshes workload snapshots.
type WorkloadAnalyzer interface {
	Analyze(ctx context.Context, tenantID uuid.UUID, date time.Time) (*analyzer.Summary, error)
}

// PatternDetector mines telemetry for patterns.
type PatternDetector interface {
	Detect(ctx context.Context, tenantID uuid.UUID, settings *store.TenantSettings) (*detector.Summary, error)
}

// PatternOptimizer applies eligible patterns and verifies outcomes.
type PatternOptimizer interface {
	ApplyEligiblePatterns(ctx context.Context, tenantID uuid.UUID, settings *store.TenantSettings) (*optimizer.Summary, error)
	VerifyDueOptimizations(ctx context.Context, asOf time.Time) ([]optimizer.Regression, error)
}

// AuditRecorder writes the audit trail and compliance artifacts.
type AuditRecorder interface {
	Record(ctx context.Context, a audit.Action) error
	AssessCompliance(ctx context.Context, tenantID uuid.UUID) ([]store.ComplianceResult, error)
	GenerateReport(ctx context.Context, tenantID uuid.UUID, reportType string, periodStart, periodEnd time.Time) (*store.AuditReport, error)
}

// AlertManager evaluates alert rules and raises alerts.
type AlertManager interface {
	Evaluate(ctx context.Context, tenantID uuid.UUID) (*alerting.Summary, error)
	RaiseRegression(ctx context.Context, opt store.Optimization, improvement float64) error
	RaiseAuditFailure(ctx context.Context, tenantID uuid.UUID, stage string, cause error) error
}

// stageTimeouts carries the per-stage budgets from config.
type stageTimeouts struct {
	analysis     time.Duration
	detection    time.Duration
	optimization time.Duration
	audit        time.Duration
}

// Pipeline runs the learning-cycle stages for one tenant at a time.
type Pipeline struct {
	settings  SettingsStore
	analyzer  WorkloadAnalyzer
	detector  PatternDetector
	optimizer PatternOptimizer
	recorder  AuditRecorder
	alerts    AlertManager
	metrics   *observability.EngineMetrics
	logger    *slog.Logger
	timeouts  stageTimeouts
	now       func() time.Time
}

func NewPipeline(
	cfg *config.Config,
	settings SettingsStore,
	an WorkloadAnalyzer,
	det PatternDetector,
	opt PatternOptimizer,
	rec AuditRecorder,
	alerts AlertManager,
	metrics *observability.EngineMetrics,
	log *slog.Logger,
) *Pipeline {
	return &Pipeline{
		settings:  settings,
		analyzer:  an,
		detector:  det,
		optimizer: opt,
		recorder:  rec,
		alerts:    alerts,
		metrics:   metrics,
		logger:    log,
		timeouts: stageTimeouts{
			analysis:     cfg.AnalysisTimeout,
			detection:    cfg.DetectionTimeout,
			optimization: cfg.OptimizationTimeout,
			audit:        cfg.AuditTimeout,
		},
		now: time.Now,
	}
}

// RunCycle executes the full pipeline for one tenant: analyze, detect,
// optimize, evaluate alerts. Used for operator-triggered immediate
// cycles; the scheduler fires the stages on independent cadences.
func (p *Pipeline) RunCycle(ctx context.Context, tenantID uuid.UUID, trigger string) error {
	cycleID := uuid.NewString()
	ctx = logger.WithCycleID(ctx, cycleID)
	log := logger.FromContext(ctx, p.logger)

	p.metrics.CyclesStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	log.Info("learning cycle started", "tenant_id", tenantID, "trigger", trigger)

	settings, err := p.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant settings: %w", err)
	}
	if !settings.LearningEnabled {
		log.Info("learning disabled, cycle skipped", "tenant_id", tenantID)
		return nil
	}

	stages := []func(context.Context, uuid.UUID) error{
		p.RunAnalysis,
		p.RunDetection,
		p.RunOptimization,
		p.RunAlertEvaluation,
	}
	for _, stage := range stages {
		if err := stage(ctx, tenantID); err != nil {
			p.metrics.CyclesFailed.Add(ctx, 1)
			return err
		}
	}

	log.Info("learning cycle complete", "tenant_id", tenantID)
	return nil
}

// RunAnalysis refreshes the tenant's workload snapshots.
func (p *Pipeline) RunAnalysis(ctx context.Context, tenantID uuid.UUID) error {
	var summary *analyzer.Summary
	return p.runStage(ctx, tenantID, "workload_analysis", p.timeouts.analysis,
		func(sctx context.Context) (interface{}, error) {
			var err error
			summary, err = p.analyzer.Analyze(sctx, tenantID, p.now())
			return summary, err
		})
}

// RunDetection mines the tenant's telemetry for patterns.
func (p *Pipeline) RunDetection(ctx context.Context, tenantID uuid.UUID) error {
	settings, err := p.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant settings: %w", err)
	}
	if !settings.LearningEnabled {
		return nil
	}

	return p.runStage(ctx, tenantID, "pattern_detection", p.timeouts.detection,
		func(sctx context.Context) (interface{}, error) {
			summary, err := p.detector.Detect(sctx, tenantID, settings)
			if err == nil {
				p.metrics.PatternsDetected.Add(ctx, int64(summary.Total()))
			}
			return summary, err
		})
}

// RunOptimization applies the tenant's eligible patterns.
func (p *Pipeline) RunOptimization(ctx context.Context, tenantID uuid.UUID) error {
	settings, err := p.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant settings: %w", err)
	}

	return p.runStage(ctx, tenantID, "optimization", p.timeouts.optimization,
		func(sctx context.Context) (interface{}, error) {
			summary, err := p.optimizer.ApplyEligiblePatterns(sctx, tenantID, settings)
			if err == nil {
				p.metrics.OptimizationsMade.Add(ctx, int64(summary.Applied))
			}
			return summary, err
		})
}

// RunAlertEvaluation checks the tenant's current state against the
// alert rules.
func (p *Pipeline) RunAlertEvaluation(ctx context.Context, tenantID uuid.UUID) error {
	return p.runStage(ctx, tenantID, "alert_evaluation", p.timeouts.audit,
		func(sctx context.Context) (interface{}, error) {
			summary, err := p.alerts.Evaluate(sctx, tenantID)
			if err == nil {
				p.metrics.AlertsRaised.Add(ctx, int64(summary.Raised))
			}
			return summary, err
		})
}

// RunCompliance runs the compliance battery and writes the daily audit
// report for one tenant.
func (p *Pipeline) RunCompliance(ctx context.Context, tenantID uuid.UUID) error {
	return p.runStage(ctx, tenantID, "compliance_check", p.timeouts.audit,
		func(sctx context.Context) (interface{}, error) {
			results, err := p.recorder.AssessCompliance(sctx, tenantID)
			if err != nil {
				return nil, err
			}
			end := p.now()
			report, err := p.recorder.GenerateReport(sctx, tenantID, "daily_summary", end.Add(-24*time.Hour), end)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"frameworks_assessed": len(results),
				"report_id":           report.ID,
			}, nil
		})
}

// VerifyOptimizations finalizes optimizations whose settling window
// elapsed, tenant-independent. Regressions become alerts.
func (p *Pipeline) VerifyOptimizations(ctx context.Context) error {
	regressions, err := p.optimizer.VerifyDueOptimizations(ctx, p.now())
	if err != nil {
		return fmt.Errorf("failed to verify optimizations: %w", err)
	}
	for _, reg := range regressions {
		if err := p.alerts.RaiseRegression(ctx, reg.Optimization, reg.Improvement); err != nil {
			p.logger.Error("failed to raise regression alert",
				"optimization_id", reg.Optimization.ID, "error", err)
		}
	}
	return nil
}

// runStage runs one pipeline stage under its timeout, records its
// duration, and audits the outcome. A failed audit write escalates to
// a critical self-alert so the trail never goes silently dark.
func (p *Pipeline) runStage(ctx context.Context, tenantID uuid.UUID, stage string, timeout time.Duration, fn func(context.Context) (interface{}, error)) error {
	tracer := otel.Tracer("optiplane-engine")
	ctx, span := tracer.Start(ctx, stage,
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("cycle.id", logger.CycleIDFromContext(ctx)),
		),
	)
	defer span.End()

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	result, err := fn(sctx)
	elapsed := time.Since(start)

	p.metrics.StageDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))

	if errors.Is(err, context.DeadlineExceeded) {
		err = &StageTimeoutError{Stage: stage, Timeout: timeout}
	}
	if err != nil {
		span.RecordError(err)
	}

	p.auditStage(ctx, tenantID, stage, result, err)

	if err != nil {
		logger.FromContext(ctx, p.logger).Error("stage failed",
			"tenant_id", tenantID, "stage", stage, "error", err)
		return err
	}
	return nil
}

// auditStage writes the stage's audit entry.
func (p *Pipeline) auditStage(ctx context.Context, tenantID uuid.UUID, stage string, result interface{}, stageErr error) {
	action := audit.Action{
		TenantID:    tenantID,
		ActionType:  store.ActionExecute,
		EntityType:  "learning_cycle",
		EntityID:    logger.CycleIDFromContext(ctx),
		EntityName:  stage,
		ActorType:   store.ActorSystem,
		ActorName:   "scheduler",
		Description: fmt.Sprintf("pipeline stage %s executed", stage),
		Automated:   true,
		Success:     stageErr == nil,
	}

	if stageErr != nil {
		action.ActionType = store.ActionError
		action.Description = fmt.Sprintf("pipeline stage %s failed: %v", stage, stageErr)
		action.RiskLevel = store.RiskMedium
		if IsStageTimeout(stageErr) {
			action.RiskLevel = store.RiskHigh
		}
	} else if result != nil {
		if state, err := json.Marshal(result); err == nil {
			action.AfterState = state
		}
	}

	// Auditing must not use the stage's context: a timed-out stage
	// still gets its failure recorded.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeouts.audit)
	defer cancel()

	if err := p.recorder.Record(actx, action); err != nil {
		p.logger.Error("audit write failed", "tenant_id", tenantID, "stage", stage, "error", err)
		if alertErr := p.alerts.RaiseAuditFailure(actx, tenantID, stage, err); alertErr != nil {
			p.logger.Error("failed to raise audit failure alert",
				"tenant_id", tenantID, "error", alertErr)
		}
	}
}
