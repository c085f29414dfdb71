package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"optiplane/internal/store"
	"optiplane/pkg/api"

	"github.com/google/uuid"
)

// Pending-load hour thresholds for the workload tier stamped on each
// ingested record.
const (
	highTierHours   = 10.0
	normalTierHours = 8.0
)

// IngestExecution handles POST /internal/executions, the telemetry
// endpoint called by task executors when a task completes. Records are
// write-once.
func (h *Handlers) IngestExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.IngestExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		h.httpError(w, "Invalid tenant_id", http.StatusBadRequest)
		return
	}
	unitID, err := uuid.Parse(req.UnitID)
	if err != nil {
		h.httpError(w, "Invalid unit_id", http.StatusBadRequest)
		return
	}
	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		h.httpError(w, "Invalid task_id", http.StatusBadRequest)
		return
	}
	if req.TaskType == "" {
		h.httpError(w, "task_type is required", http.StatusBadRequest)
		return
	}
	if req.ActualDuration < 0 || req.EstimatedDuration < 0 {
		h.httpError(w, "durations must not be negative", http.StatusBadRequest)
		return
	}

	executionDate := req.ExecutionDate
	if executionDate.IsZero() {
		executionDate = time.Now()
	}

	complexity := req.ComplexityScore
	if complexity < 1 || complexity > 10 {
		complexity = 5
	}

	rec := &store.ExecutionRecord{
		ID:                uuid.New(),
		TenantID:          tenantID,
		UnitID:            unitID,
		TaskID:            taskID,
		TaskType:          req.TaskType,
		EstimatedDuration: req.EstimatedDuration,
		ActualDuration:    req.ActualDuration,
		ComplexityScore:   complexity,
		SubsystemsUsed:    req.SubsystemsUsed,
		EfficiencyRatio:   efficiencyRatio(req.EstimatedDuration, req.ActualDuration),
		Context: store.ExecutionContext{
			HourOfDay:    executionDate.Hour(),
			DayOfWeek:    int(executionDate.Weekday()),
			WorkloadTier: h.workloadTier(ctx, unitID),
		},
		ExecutionDate: executionDate,
		CreatedAt:     time.Now(),
	}

	if err := h.store.InsertExecutionRecord(ctx, rec); err != nil {
		h.httpError(w, "Failed to store execution record", http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.IngestedExecutions.Add(ctx, 1)
	}

	h.respondJson(w, http.StatusCreated, api.IngestExecutionResponse{
		RecordID: rec.ID.String(),
	})
}

// efficiencyRatio is estimated/actual rounded to two decimals, nil when
// the actual duration is missing.
func efficiencyRatio(estimated, actual int) *float64 {
	if estimated == 0 || actual == 0 {
		return nil
	}
	ratio := math.Round(float64(estimated)/float64(actual)*100) / 100
	return &ratio
}

// workloadTier classifies the unit's pending load at ingest time.
// Lookup failures degrade to the normal tier rather than rejecting the
// record.
func (h *Handlers) workloadTier(ctx context.Context, unitID uuid.UUID) string {
	today := time.Now().Truncate(24 * time.Hour)
	tasks, err := h.store.GetPendingTasks(ctx, unitID, today)
	if err != nil {
		return store.WorkloadTierNormal
	}

	totalMinutes := 0
	for _, task := range tasks {
		totalMinutes += task.EstimatedDuration
	}
	hours := float64(totalMinutes) / 60

	switch {
	case hours > highTierHours:
		return store.WorkloadTierHigh
	case hours > normalTierHours:
		return store.WorkloadTierNormal
	default:
		return store.WorkloadTierLow
	}
}
