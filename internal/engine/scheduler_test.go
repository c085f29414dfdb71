package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"optiplane/internal/config"
	applog "optiplane/internal/logger"
	"optiplane/internal/store"

	"github.com/google/uuid"
)

type fakeTenantLister struct {
	tenants []store.Tenant
	err     error
}

func (f *fakeTenantLister) GetActiveTenants(ctx context.Context) ([]store.Tenant, error) {
	return f.tenants, f.err
}

func schedulerConfig() *config.Config {
	return &config.Config{
		TenantConcurrency:        2,
		WorkloadAnalysisSchedule: "0 */2 * * *",
		PatternDetectionSchedule: "0 6 * * *",
		OptimizationSchedule:     "0 7 * * *",
		HealthCheckSchedule:      "0 * * * *",
	}
}

func TestForEachTenant_FailureDoesNotStopSiblings(t *testing.T) {
	bad := uuid.New()
	lister := &fakeTenantLister{tenants: []store.Tenant{
		{ID: uuid.New()}, {ID: bad}, {ID: uuid.New()},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(schedulerConfig(), lister, nil, logger)

	var mu sync.Mutex
	var seen []uuid.UUID
	s.forEachTenant(context.Background(), "test", func(ctx context.Context, tenantID uuid.UUID) error {
		mu.Lock()
		seen = append(seen, tenantID)
		mu.Unlock()
		if tenantID == bad {
			return errors.New("boom")
		}
		return nil
	})

	if len(seen) != 3 {
		t.Errorf("got %d tenants processed, want all 3 despite one failure", len(seen))
	}
}

func TestForEachTenant_StampsCycleID(t *testing.T) {
	// Scheduler-fired stages bypass RunCycle, so the fan-out itself must
	// stamp a cycle id or the stage audit entries come out unlabeled.
	lister := &fakeTenantLister{tenants: []store.Tenant{
		{ID: uuid.New()}, {ID: uuid.New()},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(schedulerConfig(), lister, nil, logger)

	var mu sync.Mutex
	cycleIDs := map[string]bool{}
	s.forEachTenant(context.Background(), "test", func(ctx context.Context, tenantID uuid.UUID) error {
		mu.Lock()
		cycleIDs[applog.CycleIDFromContext(ctx)] = true
		mu.Unlock()
		return nil
	})

	if cycleIDs[""] {
		t.Error("tenant run carried an empty cycle id")
	}
	if len(cycleIDs) != 2 {
		t.Errorf("got %d distinct cycle ids, want one per tenant run", len(cycleIDs))
	}
}

func TestStart_RejectsInvalidSchedule(t *testing.T) {
	cfg := schedulerConfig()
	cfg.HealthCheckSchedule = "not a cron expression"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(cfg, &fakeTenantLister{}, nil, logger)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
