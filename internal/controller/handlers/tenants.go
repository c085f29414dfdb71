package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"optiplane/internal/audit"
	"optiplane/internal/auth"
	"optiplane/internal/controller/middleware"
	"optiplane/internal/store"
	"optiplane/pkg/api"

	"github.com/google/uuid"
)

// CreateTenant handles POST /tenants (Admin Only).
// It generates a new API Key, hashes it for storage, and returns the raw key ONCE.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// Generate a secure random API key (32 bytes)
	rawKeyBytes := make([]byte, 32)
	if _, err := rand.Read(rawKeyBytes); err != nil {
		h.httpError(w, "Entropy failure", http.StatusInternalServerError)
		return
	}
	apiKey := "op_" + hex.EncodeToString(rawKeyBytes)

	hashedKey := auth.HashKey(apiKey)

	tenant := &store.Tenant{
		ID:        uuid.New(),
		Name:      req.Name,
		Status:    "active",
		CreatedAt: time.Now(),
	}

	if err := h.store.CreateTenant(ctx, tenant, hashedKey); err != nil {
		h.httpError(w, "Failed to create tenant", http.StatusInternalServerError)
		return
	}

	// Return the Raw Key (This is the only time the user sees it)
	resp := api.CreateTenantResponse{
		ID:     tenant.ID.String(),
		Name:   tenant.Name,
		ApiKey: apiKey,
	}
	h.respondJson(w, http.StatusCreated, resp)
}

// GetSettings handles GET /api/v1/settings.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	settings, err := h.store.GetSettings(r.Context(), tenant.ID)
	if err != nil {
		h.httpError(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, settingsResponse(settings))
}

// UpdateSettings handles PUT /api/v1/settings. Changes are audited
// with before and after state like any other mutation.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := middleware.TenantFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	current, err := h.store.GetSettings(ctx, tenant.ID)
	if err != nil {
		h.httpError(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}
	before, _ := json.Marshal(settingsResponse(current))

	updated := *current
	if req.LearningEnabled != nil {
		updated.LearningEnabled = *req.LearningEnabled
	}
	if req.AutoOptimizationEnabled != nil {
		updated.AutoOptimizationEnabled = *req.AutoOptimizationEnabled
	}
	if req.ConfidenceThreshold != nil {
		if *req.ConfidenceThreshold < 0 || *req.ConfidenceThreshold > 1 {
			h.httpError(w, "confidence_threshold must be between 0 and 1", http.StatusBadRequest)
			return
		}
		updated.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if req.MinSampleSize != nil {
		if *req.MinSampleSize < 1 {
			h.httpError(w, "min_sample_size must be positive", http.StatusBadRequest)
			return
		}
		updated.MinSampleSize = *req.MinSampleSize
	}
	if req.ObservationWindowDays != nil {
		if *req.ObservationWindowDays < 1 {
			h.httpError(w, "observation_window_days must be positive", http.StatusBadRequest)
			return
		}
		updated.ObservationWindowDays = *req.ObservationWindowDays
	}
	if req.RollbackWindowHours != nil {
		if *req.RollbackWindowHours < 1 {
			h.httpError(w, "rollback_window_hours must be positive", http.StatusBadRequest)
			return
		}
		updated.RollbackWindowHours = *req.RollbackWindowHours
	}
	updated.UpdatedAt = time.Now()

	if err := h.store.UpdateSettings(ctx, &updated); err != nil {
		h.httpError(w, "Failed to update settings", http.StatusInternalServerError)
		return
	}

	after, _ := json.Marshal(settingsResponse(&updated))
	if err := h.recorder.Record(ctx, audit.Action{
		TenantID:    tenant.ID,
		ActionType:  store.ActionUpdate,
		EntityType:  "tenant_settings",
		EntityID:    tenant.ID.String(),
		ActorType:   store.ActorHuman,
		ActorName:   "api",
		Description: "engine settings updated via API",
		BeforeState: before,
		AfterState:  after,
		Success:     true,
	}); err != nil {
		h.httpError(w, "Settings updated but audit write failed", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, settingsResponse(&updated))
}

func settingsResponse(s *store.TenantSettings) api.SettingsResponse {
	return api.SettingsResponse{
		LearningEnabled:         s.LearningEnabled,
		AutoOptimizationEnabled: s.AutoOptimizationEnabled,
		ConfidenceThreshold:     s.ConfidenceThreshold,
		MinSampleSize:           s.MinSampleSize,
		ObservationWindowDays:   s.ObservationWindowDays,
		RollbackWindowHours:     s.RollbackWindowHours,
	}
}
