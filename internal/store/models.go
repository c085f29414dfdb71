// Package store contains the database layer for optiplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant represents a tenant in the multi-tenant system.
// All operations must be scoped by TenantID.
type Tenant struct {
	ID             uuid.UUID
	Name           string
	Status         string
	RateLimit      int
	RateLimitBurst int
	CreatedAt      time.Time
}

// WorkforceUnit is a schedulable actor within a tenant to which tasks
// are assigned.
type WorkforceUnit struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	FullName   string
	Role       string
	Department string
	Status     string
	CreatedAt  time.Time
}

// Task is a unit of work assigned to a workforce unit. The engine only
// reads pending tasks and reassigns them; task authoring is external.
type Task struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	AssignedTo        uuid.UUID
	Title             string
	TaskType          string
	Status            string
	Priority          int
	EstimatedDuration int // minutes
	DueDate           time.Time
	CreatedAt         time.Time
}

// Task statuses. Only pending tasks count toward workload.
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
)

// ExecutionContext captures the conditions under which a task ran.
type ExecutionContext struct {
	HourOfDay    int    `json:"hour_of_day"`
	DayOfWeek    int    `json:"day_of_week"`
	WorkloadTier string `json:"workload_tier"`
}

// Workload tiers derived from a unit's pending load at execution time.
const (
	WorkloadTierLow    = "low"
	WorkloadTierNormal = "normal"
	WorkloadTierHigh   = "high"
)

// ExecutionRecord is one observed task execution. Written once when a
// task completes, immutable thereafter.
type ExecutionRecord struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	UnitID            uuid.UUID
	TaskID            uuid.UUID
	TaskType          string
	EstimatedDuration int // minutes
	ActualDuration    int // minutes
	ComplexityScore   int // 1-10
	Context           ExecutionContext
	SubsystemsUsed    []string
	// EfficiencyRatio is estimated/actual. Nil when the actual duration
	// is zero or missing.
	EfficiencyRatio *float64
	ExecutionDate   time.Time
	CreatedAt       time.Time
}

// SnapshotGranularity is the rollup period of a workload snapshot.
type SnapshotGranularity string

const (
	GranularityDaily  SnapshotGranularity = "daily"
	GranularityWeekly SnapshotGranularity = "weekly"
)

// WorkloadSnapshot is one tenant's per-unit load on a given analysis
// date. The full set for a (tenant, date) key is replaced on every
// analyzer run; snapshots are never merged incrementally.
type WorkloadSnapshot struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	UnitID              uuid.UUID
	AnalysisDate        time.Time
	Granularity         SnapshotGranularity
	TaskCount           int
	TotalEstimatedHours float64
	AvailableHours      float64
	UtilizationRate     float64
	OverloadRisk        bool
	Underutilized       bool
}

// PatternType identifies the detection routine that produced a pattern.
type PatternType string

const (
	PatternWorkloadBalance       PatternType = "workload_balance"
	PatternTaskComplexity        PatternType = "task_complexity"
	PatternSubsystemEfficiency   PatternType = "subsystem_efficiency"
	PatternSubsystemInefficiency PatternType = "subsystem_inefficiency"
)

// Pattern categories.
const (
	CategoryEfficiency   = "efficiency"
	CategoryBottleneck   = "bottleneck"
	CategoryOptimization = "optimization"
)

// Pattern scope types.
const (
	ScopeGlobal    = "global"
	ScopePersona   = "persona"
	ScopeTaskType  = "task_type"
	ScopeSubsystem = "subsystem"
)

// Pattern is a detected behavioral signature with a heuristic
// confidence score. Confidence is never mutated in place: superseding
// evidence inserts a new row and deactivates the old one.
type Pattern struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Type            PatternType
	Category        string
	ScopeType       string
	ScopeID         string
	Description     string
	Evidence        Evidence
	Confidence      float64
	SampleSize      int
	WindowDays      int
	ImpactMagnitude float64 // signed percentage
	Applied         bool
	Active          bool
	DetectedAt      time.Time
	AppliedAt       *time.Time
}

// OptimizationType identifies the remediation applied for a pattern.
type OptimizationType string

const (
	OptimizationTaskRebalancing      OptimizationType = "task_rebalancing"
	OptimizationComplexityAdjustment OptimizationType = "complexity_adjustment"
	OptimizationSubsystem            OptimizationType = "subsystem_optimization"
)

// Optimization statuses.
const (
	OptimizationImplemented = "implemented"
	OptimizationVerified    = "verified"
	OptimizationFailed      = "failed"
	OptimizationRolledBack  = "rolled_back"
)

// Optimization records an automated remediation derived from exactly
// one Pattern. At most one non-rolled-back optimization may exist per
// pattern.
type Optimization struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	PatternID   uuid.UUID
	Type        OptimizationType
	TargetScope string
	TargetIDs   []string
	// Parameters is the pattern's evidence frozen at application time.
	Parameters json.RawMessage
	Method     string // "immediate" is the only supported method
	Status     string
	// BaselineUtilization is the aggregate utilization measured just
	// before application, used by the deferred verification.
	BaselineUtilization *float64
	MeasuredImprovement *float64
	ImplementedAt       time.Time
	VerifyAfter         time.Time
	VerifiedAt          *time.Time
}

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Alert statuses. Alerts are resolved externally; the engine never
// auto-resolves.
const (
	AlertActive   = "active"
	AlertResolved = "resolved"
)

// Alert types raised by the engine.
const (
	AlertOverload               = "overload_detected"
	AlertUnderutilization       = "underutilization_detected"
	AlertPerformanceDegradation = "performance_degradation"
	AlertSecurity               = "security"
	AlertOptimizationRegression = "optimization_regression"
	AlertSelfAuditFailure       = "audit_write_failure"
)

// Alert is a standing notification for a tenant.
type Alert struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Type          string
	Severity      string
	Title         string
	Description   string
	Evidence      json.RawMessage
	AffectedScope string
	AffectedIDs   []string
	TriggeredAt   time.Time
	Status        string
	ResolvedAt    *time.Time
}

// Audit action types.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionExecute = "execute"
	ActionAlert   = "alert"
	ActionError   = "error"
	ActionAccess  = "access"
	ActionExport  = "export"
)

// Audit actor types.
const (
	ActorSystem = "system"
	ActorAI     = "ai_system"
	ActorHuman  = "human"
)

// Risk levels for audited actions.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// AuditEntry is the immutable record of one action taken anywhere in
// the engine. Rows are append-only; the engine never updates or
// deletes them.
type AuditEntry struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	ActionType         string
	EntityType         string
	EntityID           string
	EntityName         string
	ActorType          string
	ActorName          string
	Description        string
	BeforeState        json.RawMessage
	AfterState         json.RawMessage
	ChangesSummary     json.RawMessage
	SessionID          string
	Automated          bool
	RiskLevel          string
	SensitiveData      bool
	ComplianceRelevant bool
	Success            bool
	RollbackPossible   bool
	// RollbackData is the before-state when rollback is possible.
	RollbackData json.RawMessage
	RecordedAt   time.Time
}

// SecurityEvent is an access-audit record with a computed risk score.
type SecurityEvent struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	EventType      string
	Severity       string
	ActorName      string
	SourceIP       string
	UserAgent      string
	Resource       string
	Success        bool
	FailureReason  string
	RiskScore      int // 0-100
	AnomalyFlag    bool
	AnomalyReasons []string
	SessionID      string
	AttemptedAt    time.Time
}

// Compliance assessment statuses.
const (
	ComplianceCompliant     = "compliant"
	CompliancePartial       = "partially_compliant"
	ComplianceNonCompliant  = "non_compliant"
	CompliancePendingReview = "pending_review"
)

// ComplianceResult is one persisted compliance assessment. Assessments
// are append-only; a re-run inserts a new row.
type ComplianceResult struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Framework       string
	Requirement     string
	ControlID       string
	Status          string
	Score           int // 0-100
	Evidence        string
	Details         json.RawMessage
	Findings        []string
	Gaps            []string
	Recommendations []string
	RiskLevel       string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	AssessedAt      time.Time
}

// AuditReport is a per-tenant periodic summary of audit activity.
type AuditReport struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ReportType     string
	Category       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Summary        json.RawMessage
	TotalEvents    int
	CriticalEvents int
	WarningCount   int
	ErrorCount     int
	GeneratedAt    time.Time
}

// TenantSettings holds per-tenant engine configuration. Automated
// optimization is strictly opt-in.
type TenantSettings struct {
	TenantID                uuid.UUID
	LearningEnabled         bool
	AutoOptimizationEnabled bool
	ConfidenceThreshold     float64
	MinSampleSize           int
	ObservationWindowDays   int
	RollbackWindowHours     int
	UpdatedAt               time.Time
}

// DefaultSettings returns the engine defaults for a tenant.
func DefaultSettings(tenantID uuid.UUID) TenantSettings {
	return TenantSettings{
		TenantID:                tenantID,
		LearningEnabled:         true,
		AutoOptimizationEnabled: false,
		ConfidenceThreshold:     0.80,
		MinSampleSize:           10,
		ObservationWindowDays:   14,
		RollbackWindowHours:     24,
	}
}

// EstimateAdjustment is a stored time-estimate multiplier keyed by task
// type, consumed by the external task-estimation step.
type EstimateAdjustment struct {
	TenantID  uuid.UUID
	TaskType  string
	Factor    float64
	UpdatedAt time.Time
}
