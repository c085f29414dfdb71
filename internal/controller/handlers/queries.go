package handlers

import (
	"net/http"
	"time"

	"optiplane/internal/audit"
	"optiplane/internal/controller/middleware"
	"optiplane/internal/store"
	"optiplane/pkg/api"

	"github.com/google/uuid"
)

// ListPatterns handles GET /api/v1/patterns.
func (h *Handlers) ListPatterns(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	patterns, err := h.store.ListPatterns(r.Context(), tenant.ID, activeOnly, parseLimit(r))
	if err != nil {
		h.httpError(w, "Failed to list patterns", http.StatusInternalServerError)
		return
	}

	resp := make([]api.PatternResponse, 0, len(patterns))
	for _, p := range patterns {
		evidence, err := store.MarshalEvidence(p.Evidence)
		if err != nil {
			h.httpError(w, "Failed to encode pattern evidence", http.StatusInternalServerError)
			return
		}
		resp = append(resp, api.PatternResponse{
			ID:              p.ID.String(),
			Type:            string(p.Type),
			Category:        p.Category,
			ScopeType:       p.ScopeType,
			ScopeID:         p.ScopeID,
			Description:     p.Description,
			Evidence:        evidence,
			Confidence:      p.Confidence,
			SampleSize:      p.SampleSize,
			ImpactMagnitude: p.ImpactMagnitude,
			Applied:         p.Applied,
			Active:          p.Active,
			DetectedAt:      p.DetectedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListOptimizations handles GET /api/v1/optimizations.
func (h *Handlers) ListOptimizations(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	optimizations, err := h.store.ListOptimizations(r.Context(), tenant.ID, parseLimit(r))
	if err != nil {
		h.httpError(w, "Failed to list optimizations", http.StatusInternalServerError)
		return
	}

	resp := make([]api.OptimizationResponse, 0, len(optimizations))
	for _, o := range optimizations {
		resp = append(resp, api.OptimizationResponse{
			ID:                  o.ID.String(),
			PatternID:           o.PatternID.String(),
			Type:                string(o.Type),
			TargetScope:         o.TargetScope,
			TargetIDs:           o.TargetIDs,
			Status:              o.Status,
			MeasuredImprovement: o.MeasuredImprovement,
			ImplementedAt:       o.ImplementedAt,
			VerifyAfter:         o.VerifyAfter,
			VerifiedAt:          o.VerifiedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListAlerts handles GET /api/v1/alerts.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	alerts, err := h.store.ListAlerts(r.Context(), tenant.ID, activeOnly, parseLimit(r))
	if err != nil {
		h.httpError(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}

	resp := make([]api.AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		resp = append(resp, api.AlertResponse{
			ID:            a.ID.String(),
			Type:          a.Type,
			Severity:      a.Severity,
			Title:         a.Title,
			Description:   a.Description,
			Evidence:      a.Evidence,
			AffectedScope: a.AffectedScope,
			AffectedIDs:   a.AffectedIDs,
			Status:        a.Status,
			TriggeredAt:   a.TriggeredAt,
			ResolvedAt:    a.ResolvedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ResolveAlert handles POST /api/v1/alerts/{id}/resolve. Resolution is
// an operator decision; the engine never resolves alerts itself.
func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	alertID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid alert id", http.StatusBadRequest)
		return
	}

	resolvedAt := time.Now()
	if err := h.store.ResolveAlert(r.Context(), alertID, resolvedAt); err != nil {
		h.httpError(w, "Failed to resolve alert", http.StatusConflict)
		return
	}

	if err := h.recorder.Record(r.Context(), audit.Action{
		TenantID:    tenant.ID,
		ActionType:  store.ActionUpdate,
		EntityType:  "alert",
		EntityID:    alertID.String(),
		ActorType:   store.ActorHuman,
		ActorName:   "api",
		Description: "alert resolved via API",
		Success:     true,
	}); err != nil {
		h.httpError(w, "Alert resolved but audit write failed", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, map[string]interface{}{
		"alert_id":    alertID.String(),
		"status":      store.AlertResolved,
		"resolved_at": resolvedAt,
	})
}

// ListAudit handles GET /api/v1/audit. The optional since parameter is
// RFC 3339; default is the last 7 days.
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	since := time.Now().AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.httpError(w, "Invalid since timestamp", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	entries, err := h.store.ListAuditEntries(r.Context(), tenant.ID, since, parseLimit(r))
	if err != nil {
		h.httpError(w, "Failed to list audit entries", http.StatusInternalServerError)
		return
	}

	resp := make([]api.AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, api.AuditEntryResponse{
			ID:                 e.ID.String(),
			ActionType:         e.ActionType,
			EntityType:         e.EntityType,
			EntityID:           e.EntityID,
			EntityName:         e.EntityName,
			ActorType:          e.ActorType,
			ActorName:          e.ActorName,
			Description:        e.Description,
			ChangesSummary:     e.ChangesSummary,
			SessionID:          e.SessionID,
			Automated:          e.Automated,
			RiskLevel:          e.RiskLevel,
			ComplianceRelevant: e.ComplianceRelevant,
			Success:            e.Success,
			RollbackPossible:   e.RollbackPossible,
			RecordedAt:         e.RecordedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListCompliance handles GET /api/v1/compliance.
func (h *Handlers) ListCompliance(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	results, err := h.store.ListComplianceResults(r.Context(), tenant.ID, parseLimit(r))
	if err != nil {
		h.httpError(w, "Failed to list compliance results", http.StatusInternalServerError)
		return
	}

	resp := make([]api.ComplianceResultResponse, 0, len(results))
	for _, c := range results {
		resp = append(resp, api.ComplianceResultResponse{
			ID:          c.ID.String(),
			Framework:   c.Framework,
			ControlID:   c.ControlID,
			Status:      c.Status,
			Score:       c.Score,
			Findings:    c.Findings,
			Gaps:        c.Gaps,
			RiskLevel:   c.RiskLevel,
			PeriodStart: c.PeriodStart,
			PeriodEnd:   c.PeriodEnd,
			AssessedAt:  c.AssessedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListReports handles GET /api/v1/reports.
func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	reports, err := h.store.ListAuditReports(r.Context(), tenant.ID, parseLimit(r))
	if err != nil {
		h.httpError(w, "Failed to list reports", http.StatusInternalServerError)
		return
	}

	resp := make([]api.AuditReportResponse, 0, len(reports))
	for _, rep := range reports {
		resp = append(resp, api.AuditReportResponse{
			ID:             rep.ID.String(),
			ReportType:     rep.ReportType,
			Category:       rep.Category,
			PeriodStart:    rep.PeriodStart,
			PeriodEnd:      rep.PeriodEnd,
			Summary:        rep.Summary,
			TotalEvents:    rep.TotalEvents,
			CriticalEvents: rep.CriticalEvents,
			GeneratedAt:    rep.GeneratedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}
