// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the engine's HTTP API.
package api

import (
	"encoding/json"
	"time"
)

// CreateTenantRequest is the request body for creating a new tenant.
type CreateTenantRequest struct {
	Name string `json:"name"`
}

// CreateTenantResponse is the response body after creating a tenant.
type CreateTenantResponse struct {
	ID     string `json:"tenant_id"`
	Name   string `json:"name"`
	ApiKey string `json:"api_key"`
}

// IngestExecutionRequest is the payload sent by task executors when a
// task completes.
type IngestExecutionRequest struct {
	TenantID          string    `json:"tenant_id"`
	UnitID            string    `json:"unit_id"`
	TaskID            string    `json:"task_id"`
	TaskType          string    `json:"task_type"`
	EstimatedDuration int       `json:"estimated_duration_minutes"`
	ActualDuration    int       `json:"actual_duration_minutes"`
	ComplexityScore   int       `json:"complexity_score"`
	SubsystemsUsed    []string  `json:"subsystems_used,omitempty"`
	ExecutionDate     time.Time `json:"execution_date"`
}

// IngestExecutionResponse is the response body after ingesting a
// telemetry record.
type IngestExecutionResponse struct {
	RecordID string `json:"record_id"`
}

// PatternResponse represents a detected pattern in API responses.
type PatternResponse struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Category        string          `json:"category"`
	ScopeType       string          `json:"scope_type"`
	ScopeID         string          `json:"scope_id"`
	Description     string          `json:"description"`
	Evidence        json.RawMessage `json:"evidence"`
	Confidence      float64         `json:"confidence"`
	SampleSize      int             `json:"sample_size"`
	ImpactMagnitude float64         `json:"impact_magnitude"`
	Applied         bool            `json:"applied"`
	Active          bool            `json:"active"`
	DetectedAt      time.Time       `json:"detected_at"`
}

// OptimizationResponse represents an applied optimization.
type OptimizationResponse struct {
	ID                  string     `json:"id"`
	PatternID           string     `json:"pattern_id"`
	Type                string     `json:"type"`
	TargetScope         string     `json:"target_scope"`
	TargetIDs           []string   `json:"target_ids,omitempty"`
	Status              string     `json:"status"`
	MeasuredImprovement *float64   `json:"measured_improvement,omitempty"`
	ImplementedAt       time.Time  `json:"implemented_at"`
	VerifyAfter         time.Time  `json:"verify_after"`
	VerifiedAt          *time.Time `json:"verified_at,omitempty"`
}

// AlertResponse represents a standing alert.
type AlertResponse struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Severity      string          `json:"severity"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Evidence      json.RawMessage `json:"evidence,omitempty"`
	AffectedScope string          `json:"affected_scope"`
	AffectedIDs   []string        `json:"affected_ids,omitempty"`
	Status        string          `json:"status"`
	TriggeredAt   time.Time       `json:"triggered_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// AuditEntryResponse represents one audit timeline entry.
type AuditEntryResponse struct {
	ID                 string          `json:"id"`
	ActionType         string          `json:"action_type"`
	EntityType         string          `json:"entity_type"`
	EntityID           string          `json:"entity_id,omitempty"`
	EntityName         string          `json:"entity_name,omitempty"`
	ActorType          string          `json:"actor_type"`
	ActorName          string          `json:"actor_name,omitempty"`
	Description        string          `json:"description"`
	ChangesSummary     json.RawMessage `json:"changes_summary,omitempty"`
	SessionID          string          `json:"session_id"`
	Automated          bool            `json:"automated"`
	RiskLevel          string          `json:"risk_level"`
	ComplianceRelevant bool            `json:"compliance_relevant"`
	Success            bool            `json:"success"`
	RollbackPossible   bool            `json:"rollback_possible"`
	RecordedAt         time.Time       `json:"recorded_at"`
}

// ComplianceResultResponse represents one compliance assessment.
type ComplianceResultResponse struct {
	ID          string    `json:"id"`
	Framework   string    `json:"framework"`
	ControlID   string    `json:"control_id"`
	Status      string    `json:"status"`
	Score       int       `json:"score"`
	Findings    []string  `json:"findings,omitempty"`
	Gaps        []string  `json:"gaps,omitempty"`
	RiskLevel   string    `json:"risk_level"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	AssessedAt  time.Time `json:"assessed_at"`
}

// AuditReportResponse represents one generated audit report.
type AuditReportResponse struct {
	ID             string          `json:"id"`
	ReportType     string          `json:"report_type"`
	Category       string          `json:"category"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	Summary        json.RawMessage `json:"summary"`
	TotalEvents    int             `json:"total_events"`
	CriticalEvents int             `json:"critical_events"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// SettingsResponse is the tenant's current engine settings.
type SettingsResponse struct {
	LearningEnabled         bool    `json:"learning_enabled"`
	AutoOptimizationEnabled bool    `json:"auto_optimization_enabled"`
	ConfidenceThreshold     float64 `json:"confidence_threshold"`
	MinSampleSize           int     `json:"min_sample_size"`
	ObservationWindowDays   int     `json:"observation_window_days"`
	RollbackWindowHours     int     `json:"rollback_window_hours"`
}

// UpdateSettingsRequest carries settings changes. Pointer fields are
// optional; omitted fields keep their current value.
type UpdateSettingsRequest struct {
	LearningEnabled         *bool    `json:"learning_enabled,omitempty"`
	AutoOptimizationEnabled *bool    `json:"auto_optimization_enabled,omitempty"`
	ConfidenceThreshold     *float64 `json:"confidence_threshold,omitempty"`
	MinSampleSize           *int     `json:"min_sample_size,omitempty"`
	ObservationWindowDays   *int     `json:"observation_window_days,omitempty"`
	RollbackWindowHours     *int     `json:"rollback_window_hours,omitempty"`
}

// TriggerCycleResponse is returned after scheduling an immediate
// learning cycle.
type TriggerCycleResponse struct {
	CycleTriggered bool   `json:"cycle_triggered"`
	TenantID       string `json:"tenant_id"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
