// Package audit records the engine's immutable action trail, security
// events, compliance assessments, and periodic reports.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"time"

	"optiplane/internal/store"

	"github.com/google/uuid"
)

// Risk score thresholds on the 0-100 scale.
const (
	riskThresholdLow      = 25
	riskThresholdMedium   = 50
	riskThresholdHigh     = 75
	riskThresholdCritical = 90
)

// Anomaly detection window and trigger for repeated access failures.
const (
	failureWindow    = 15 * time.Minute
	failureThreshold = 3
)

// Audit entries older than this fail the data-retention check.
const retentionPolicyDays = 365

var (
	restrictedResource   = regexp.MustCompile(`(?i)(password|key|token|secret)`)
	confidentialResource = regexp.MustCompile(`(?i)(unit|tenant|user|financial)`)
	internalResource     = regexp.MustCompile(`(?i)(config|system|admin)`)
	suspiciousUserAgent  = regexp.MustCompile(`(?i)(bot|curl|wget|spider)`)
)

// Store is the subset of the store the recorder needs.
type Store interface {
	InsertAuditEntry(ctx context.Context, e *store.AuditEntry) error
	HasEntriesOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) (bool, error)
	InsertSecurityEvent(ctx context.Context, e *store.SecurityEvent) error
	CountRecentAccessFailures(ctx context.Context, sourceIP string, since time.Time) (int, error)
	HasRecentSecurityEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) (bool, error)
	CountAuditEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*store.AuditEventCounts, error)
	InsertComplianceResult(ctx context.Context, r *store.ComplianceResult) error
	InsertAuditReport(ctx context.Context, r *store.AuditReport) error
}

// Action is the caller-supplied description of an auditable action.
// Derived fields (session, risk flags, change summary) are filled by
// the recorder.
type Action struct {
	TenantID    uuid.UUID
	ActionType  string
	EntityType  string
	EntityID    string
	EntityName  string
	ActorType   string
	ActorName   string
	Description string
	BeforeState json.RawMessage
	AfterState  json.RawMessage
	Automated   bool
	RiskLevel   string
	Sensitive   bool
	Success     bool
}

// AccessEvent is the caller-supplied description of an access attempt.
type AccessEvent struct {
	TenantID      uuid.UUID
	EventType     string
	ActorName     string
	SourceIP      string
	UserAgent     string
	Resource      string
	Success       bool
	FailureReason string
	AttemptedAt   time.Time
}

// Recorder writes audit records. One recorder instance spans one
// engine process; all entries it writes share a session ID.
type Recorder struct {
	store     Store
	logger    *slog.Logger
	sessionID string
	now       func() time.Time
}

func New(st Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:     st,
		logger:    logger,
		sessionID: NewSessionID(),
		now:       time.Now,
	}
}

// NewSessionID builds a process-scoped audit session identifier.
func NewSessionID() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("sess_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// SessionID returns the recorder's session identifier.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// ComputeRiskLevel classifies an action by its type and target entity.
// Destructive and export actions rank high, as does anything touching
// personal or tenant-wide data; routine automated actions rank low.
func ComputeRiskLevel(actionType, entityType string) string {
	switch actionType {
	case store.ActionDelete, store.ActionExport:
		return store.RiskHigh
	case store.ActionError:
		return store.RiskMedium
	}
	switch entityType {
	case "tenant_data", "workforce_unit_personal_data":
		return store.RiskHigh
	case "security_event":
		return store.RiskMedium
	}
	return store.RiskLow
}

// Record appends one audit entry. Entries are immutable once written.
// A missing risk level is derived from the action and entity types; a
// failed action involving sensitive data always escalates to critical.
func (r *Recorder) Record(ctx context.Context, a Action) error {
	riskLevel := a.RiskLevel
	if riskLevel == "" {
		riskLevel = ComputeRiskLevel(a.ActionType, a.EntityType)
	}
	if a.Sensitive && !a.Success {
		riskLevel = store.RiskCritical
	}

	entry := &store.AuditEntry{
		ID:                 uuid.New(),
		TenantID:           a.TenantID,
		ActionType:         a.ActionType,
		EntityType:         a.EntityType,
		EntityID:           a.EntityID,
		EntityName:         a.EntityName,
		ActorType:          a.ActorType,
		ActorName:          a.ActorName,
		Description:        a.Description,
		BeforeState:        a.BeforeState,
		AfterState:         a.AfterState,
		SessionID:          r.sessionID,
		Automated:          a.Automated,
		RiskLevel:          riskLevel,
		SensitiveData:      a.Sensitive,
		ComplianceRelevant: isComplianceRelevant(a.ActionType, a.EntityType),
		Success:            a.Success,
		RecordedAt:         r.now(),
	}

	if len(a.BeforeState) > 0 && len(a.AfterState) > 0 {
		summary, err := ChangesSummary(a.BeforeState, a.AfterState)
		if err != nil {
			return fmt.Errorf("failed to diff states: %w", err)
		}
		entry.ChangesSummary = summary
	}

	// A captured before-state makes mutations reversible.
	if len(a.BeforeState) > 0 && (a.ActionType == store.ActionUpdate || a.ActionType == store.ActionDelete) {
		entry.RollbackPossible = true
		entry.RollbackData = a.BeforeState
	}

	if err := r.store.InsertAuditEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// fieldChange describes one changed key in a state diff.
type fieldChange struct {
	Before     interface{} `json:"before,omitempty"`
	After      interface{} `json:"after,omitempty"`
	ChangeType string      `json:"change_type"`
}

// ChangesSummary diffs two JSON object states key by key. Returns nil
// when nothing changed.
func ChangesSummary(before, after json.RawMessage) (json.RawMessage, error) {
	var beforeMap, afterMap map[string]interface{}
	if err := json.Unmarshal(before, &beforeMap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(after, &afterMap); err != nil {
		return nil, err
	}

	changes := map[string]fieldChange{}
	for key, bv := range beforeMap {
		av, ok := afterMap[key]
		if !ok {
			changes[key] = fieldChange{Before: bv, ChangeType: "removed"}
			continue
		}
		if !reflect.DeepEqual(bv, av) {
			changes[key] = fieldChange{Before: bv, After: av, ChangeType: "modified"}
		}
	}
	for key, av := range afterMap {
		if _, ok := beforeMap[key]; !ok {
			changes[key] = fieldChange{After: av, ChangeType: "added"}
		}
	}

	if len(changes) == 0 {
		return nil, nil
	}
	return json.Marshal(changes)
}

func isComplianceRelevant(actionType, entityType string) bool {
	switch actionType {
	case store.ActionDelete, store.ActionExport, store.ActionAccess:
		return true
	}
	switch entityType {
	case "workforce_unit", "tenant", "personal_data":
		return true
	}
	return false
}

// RecordAccess scores and appends one security event. The returned
// event carries the computed risk score and anomaly verdict for alert
// evaluation.
func (r *Recorder) RecordAccess(ctx context.Context, ev AccessEvent) (*store.SecurityEvent, error) {
	attemptedAt := ev.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = r.now()
	}

	score := RiskScore(ev.EventType, ev.Resource, ev.UserAgent, attemptedAt, ev.Success)
	anomaly, reasons := r.detectAnomaly(ctx, ev, score, attemptedAt)

	event := &store.SecurityEvent{
		ID:             uuid.New(),
		TenantID:       ev.TenantID,
		EventType:      ev.EventType,
		Severity:       accessSeverity(ev.EventType, ev.Success, anomaly),
		ActorName:      ev.ActorName,
		SourceIP:       ev.SourceIP,
		UserAgent:      ev.UserAgent,
		Resource:       ev.Resource,
		Success:        ev.Success,
		FailureReason:  ev.FailureReason,
		RiskScore:      score,
		AnomalyFlag:    anomaly,
		AnomalyReasons: reasons,
		SessionID:      r.sessionID,
		AttemptedAt:    attemptedAt,
	}

	if err := r.store.InsertSecurityEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record security event: %w", err)
	}
	return event, nil
}

// RiskScore computes a 0-100 heuristic score for an access attempt.
func RiskScore(eventType, resource, userAgent string, at time.Time, success bool) int {
	score := 0

	if hour := at.Hour(); hour < 6 || hour > 22 {
		score += 20
	}

	switch resourceSensitivity(resource) {
	case "restricted":
		score += 30
	case "confidential":
		score += 20
	case "internal":
		score += 10
	}

	if suspiciousUserAgent.MatchString(userAgent) {
		score += 25
	}

	if !success {
		score += 40
	}

	if eventType == "privilege_escalation" || eventType == "data_export" {
		score += 30
	}

	if score > 100 {
		score = 100
	}
	return score
}

func resourceSensitivity(resource string) string {
	switch {
	case restrictedResource.MatchString(resource):
		return "restricted"
	case confidentialResource.MatchString(resource):
		return "confidential"
	case internalResource.MatchString(resource):
		return "internal"
	default:
		return "public"
	}
}

func (r *Recorder) detectAnomaly(ctx context.Context, ev AccessEvent, score int, at time.Time) (bool, []string) {
	var reasons []string

	if ev.EventType == "access_denied" && ev.SourceIP != "" {
		failures, err := r.store.CountRecentAccessFailures(ctx, ev.SourceIP, at.Add(-failureWindow))
		if err != nil {
			r.logger.Error("failed to count access failures", "source_ip", ev.SourceIP, "error", err)
		} else if failures >= failureThreshold {
			reasons = append(reasons, "repeated denied access from source")
		}
	}

	if score >= riskThresholdHigh {
		reasons = append(reasons, "high computed risk score")
	}

	return len(reasons) > 0, reasons
}

func accessSeverity(eventType string, success, anomaly bool) string {
	if anomaly {
		return store.SeverityWarning
	}
	if !success && (eventType == "access_denied" || eventType == "privilege_escalation") {
		return store.SeverityError
	}
	if eventType == "data_export" {
		return store.SeverityWarning
	}
	return store.SeverityInfo
}
