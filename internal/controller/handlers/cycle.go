package handlers

import (
	"context"
	"net/http"

	"optiplane/internal/audit"
	"optiplane/internal/controller/middleware"
	"optiplane/internal/store"
	"optiplane/pkg/api"
)

// TriggerCycle handles POST /api/v1/cycle. The cycle runs detached
// from the request; the response only confirms scheduling. The trigger
// itself is audited.
func (h *Handlers) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := middleware.TenantFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.recorder.Record(ctx, audit.Action{
		TenantID:    tenant.ID,
		ActionType:  store.ActionExecute,
		EntityType:  "learning_cycle",
		ActorType:   store.ActorHuman,
		ActorName:   "api",
		Description: "immediate learning cycle requested via API",
		Success:     true,
	}); err != nil {
		h.httpError(w, "Failed to audit cycle trigger", http.StatusInternalServerError)
		return
	}

	go func() {
		// The cycle outlives the HTTP request.
		cycleCtx := context.WithoutCancel(ctx)
		if err := h.cycles.RunCycle(cycleCtx, tenant.ID, "manual"); err != nil {
			// Stage failures are already audited inside the pipeline.
			return
		}
	}()

	h.respondJson(w, http.StatusAccepted, api.TriggerCycleResponse{
		CycleTriggered: true,
		TenantID:       tenant.ID.String(),
	})
}
