package engine

import (
	"context"
	"fmt"
	"log/slog"

	"optiplane/internal/config"
	"optiplane/internal/logger"
	"optiplane/internal/store"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Compliance assessment and daily reports run on a fixed cadence, not
// operator-configurable.
const complianceSchedule = "30 0 * * *"

// TenantLister enumerates the tenants the scheduler fans out over.
type TenantLister interface {
	GetActiveTenants(ctx context.Context) ([]store.Tenant, error)
}

// Scheduler fires the pipeline stages on independent cron cadences and
// fans each firing out over active tenants with bounded concurrency.
type Scheduler struct {
	cron        *cron.Cron
	tenants     TenantLister
	pipeline    *Pipeline
	logger      *slog.Logger
	concurrency int
	schedules   map[string]string
}

func NewScheduler(cfg *config.Config, tenants TenantLister, pipeline *Pipeline, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		tenants:     tenants,
		pipeline:    pipeline,
		logger:      log,
		concurrency: cfg.TenantConcurrency,
		schedules: map[string]string{
			"workload_analysis": cfg.WorkloadAnalysisSchedule,
			"pattern_detection": cfg.PatternDetectionSchedule,
			"optimization":      cfg.OptimizationSchedule,
			"health_check":      cfg.HealthCheckSchedule,
			"compliance_check":  complianceSchedule,
		},
	}
}

// Start registers the jobs and starts the cron loop. The context bounds
// each firing, not the loop itself; call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := map[string]func(){
		"workload_analysis": func() { s.forEachTenant(ctx, "workload_analysis", s.pipeline.RunAnalysis) },
		"pattern_detection": func() { s.forEachTenant(ctx, "pattern_detection", s.pipeline.RunDetection) },
		"optimization":      func() { s.forEachTenant(ctx, "optimization", s.pipeline.RunOptimization) },
		"health_check":      func() { s.runHealthCheck(ctx) },
		"compliance_check":  func() { s.forEachTenant(ctx, "compliance_check", s.pipeline.RunCompliance) },
	}

	for name, job := range jobs {
		if _, err := s.cron.AddFunc(s.schedules[name], job); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", name, err)
		}
		s.logger.Info("job scheduled", "job", name, "cadence", s.schedules[name])
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs, bounded by the
// caller's context.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with jobs still running")
	}
}

// runHealthCheck verifies due optimizations once, then evaluates alert
// rules per tenant.
func (s *Scheduler) runHealthCheck(ctx context.Context) {
	if err := s.pipeline.VerifyOptimizations(ctx); err != nil {
		s.logger.Error("optimization verification failed", "error", err)
	}
	s.forEachTenant(ctx, "health_check", s.pipeline.RunAlertEvaluation)
}

// forEachTenant runs fn for every active tenant with bounded
// concurrency. A tenant's failure is logged and swallowed so sibling
// tenants always complete. Each tenant run gets its own cycle id so
// the audit entries of a firing are traceable.
func (s *Scheduler) forEachTenant(ctx context.Context, job string, fn func(context.Context, uuid.UUID) error) {
	tenants, err := s.tenants.GetActiveTenants(ctx)
	if err != nil {
		s.logger.Error("failed to list active tenants", "job", job, "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			tctx := logger.WithCycleID(gctx, uuid.NewString())
			if err := fn(tctx, tenant.ID); err != nil {
				s.logger.Error("tenant job failed",
					"job", job, "tenant_id", tenant.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("job firing complete", "job", job, "tenants", len(tenants))
}
