// Package handlers contains HTTP handlers for the engine API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"optiplane/internal/audit"
	"optiplane/internal/observability"
	"optiplane/internal/store"
	"optiplane/pkg/api"

	"github.com/google/uuid"
)

// Default and maximum page sizes for list endpoints.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// StoreFactory combines the store methods the API surface needs.
type StoreFactory interface {
	Ping(ctx context.Context) error
	CreateTenant(ctx context.Context, tenant *store.Tenant, hashedKey string) error
	GetSettings(ctx context.Context, tenantID uuid.UUID) (*store.TenantSettings, error)
	UpdateSettings(ctx context.Context, settings *store.TenantSettings) error
	GetPendingTasks(ctx context.Context, unitID uuid.UUID, sinceDate time.Time) ([]store.Task, error)
	InsertExecutionRecord(ctx context.Context, rec *store.ExecutionRecord) error
	ListPatterns(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]store.Pattern, error)
	ListOptimizations(ctx context.Context, tenantID uuid.UUID, limit int) ([]store.Optimization, error)
	ListAlerts(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]store.Alert, error)
	ResolveAlert(ctx context.Context, alertID uuid.UUID, resolvedAt time.Time) error
	ListAuditEntries(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]store.AuditEntry, error)
	ListComplianceResults(ctx context.Context, tenantID uuid.UUID, limit int) ([]store.ComplianceResult, error)
	ListAuditReports(ctx context.Context, tenantID uuid.UUID, limit int) ([]store.AuditReport, error)
}

// ActionRecorder writes audit entries for API-driven mutations.
type ActionRecorder interface {
	Record(ctx context.Context, a audit.Action) error
}

// CycleRunner triggers an immediate learning cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, tenantID uuid.UUID, trigger string) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store    StoreFactory
	recorder ActionRecorder
	cycles   CycleRunner
	metrics  *observability.EngineMetrics
}

// New creates a new Handlers instance with the given dependencies.
// metrics may be nil; instrumentation is then skipped.
func New(s StoreFactory, recorder ActionRecorder, cycles CycleRunner, metrics *observability.EngineMetrics) *Handlers {
	return &Handlers{store: s, recorder: recorder, cycles: cycles, metrics: metrics}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// parseLimit reads the limit query parameter with sane bounds.
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
