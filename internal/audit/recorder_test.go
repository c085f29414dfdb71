package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"optiplane/internal/store"

	"github.com/google/uuid"
)

type mockStore struct {
	entries        []*store.AuditEntry
	events         []*store.SecurityEvent
	compliance     []*store.ComplianceResult
	reports        []*store.AuditReport
	oldEntries     bool
	recentEvents   bool
	accessFailures int
	counts         store.AuditEventCounts
}

func (m *mockStore) InsertAuditEntry(ctx context.Context, e *store.AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockStore) HasEntriesOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) (bool, error) {
	return m.oldEntries, nil
}

func (m *mockStore) InsertSecurityEvent(ctx context.Context, e *store.SecurityEvent) error {
	m.events = append(m.events, e)
	return nil
}

func (m *mockStore) CountRecentAccessFailures(ctx context.Context, sourceIP string, since time.Time) (int, error) {
	return m.accessFailures, nil
}

func (m *mockStore) HasRecentSecurityEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) (bool, error) {
	return m.recentEvents, nil
}

func (m *mockStore) CountAuditEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*store.AuditEventCounts, error) {
	return &m.counts, nil
}

func (m *mockStore) InsertComplianceResult(ctx context.Context, r *store.ComplianceResult) error {
	m.compliance = append(m.compliance, r)
	return nil
}

func (m *mockStore) InsertAuditReport(ctx context.Context, r *store.AuditReport) error {
	m.reports = append(m.reports, r)
	return nil
}

func testRecorder(ms *mockStore) *Recorder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ms, logger)
}

func TestNewSessionID_Format(t *testing.T) {
	id := NewSessionID()
	if !strings.HasPrefix(id, "sess_") {
		t.Errorf("session id %q missing prefix", id)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		t.Fatalf("session id %q has %d parts, want 3", id, len(parts))
	}
	if len(parts[2]) != 8 {
		t.Errorf("random suffix %q has length %d, want 8 hex chars", parts[2], len(parts[2]))
	}
}

func TestRecord_FillsDerivedFields(t *testing.T) {
	ms := &mockStore{}
	r := testRecorder(ms)

	before := json.RawMessage(`{"status":"pending","priority":50}`)
	after := json.RawMessage(`{"status":"pending","priority":80,"owner":"x"}`)

	err := r.Record(context.Background(), Action{
		TenantID:    uuid.New(),
		ActionType:  store.ActionUpdate,
		EntityType:  "task",
		Description: "task reassigned",
		ActorType:   store.ActorAI,
		BeforeState: before,
		AfterState:  after,
		Automated:   true,
		Success:     true,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if len(ms.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(ms.entries))
	}
	e := ms.entries[0]
	if e.SessionID != r.SessionID() {
		t.Error("entry missing recorder session id")
	}
	if e.RiskLevel != store.RiskLow {
		t.Errorf("got risk %s, want default low", e.RiskLevel)
	}
	if !e.RollbackPossible || e.RollbackData == nil {
		t.Error("update with before-state should be rollback possible")
	}

	var changes map[string]fieldChange
	if err := json.Unmarshal(e.ChangesSummary, &changes); err != nil {
		t.Fatalf("invalid changes summary: %v", err)
	}
	if _, ok := changes["status"]; ok {
		t.Error("unchanged key reported as change")
	}
	if c := changes["priority"]; c.ChangeType != "modified" {
		t.Errorf("got priority change %q, want modified", c.ChangeType)
	}
	if c := changes["owner"]; c.ChangeType != "added" {
		t.Errorf("got owner change %q, want added", c.ChangeType)
	}
}

func TestComputeRiskLevel(t *testing.T) {
	tests := []struct {
		name       string
		actionType string
		entityType string
		want       string
	}{
		{"delete is high", store.ActionDelete, "pattern", store.RiskHigh},
		{"export is high", store.ActionExport, "report", store.RiskHigh},
		{"personal data is high", store.ActionUpdate, "workforce_unit_personal_data", store.RiskHigh},
		{"tenant data is high", store.ActionAccess, "tenant_data", store.RiskHigh},
		{"error is medium", store.ActionError, "learning_cycle", store.RiskMedium},
		{"security event is medium", store.ActionCreate, "security_event", store.RiskMedium},
		{"routine create is low", store.ActionCreate, "pattern", store.RiskLow},
		{"routine update is low", store.ActionUpdate, "task", store.RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeRiskLevel(tt.actionType, tt.entityType); got != tt.want {
				t.Errorf("ComputeRiskLevel(%s, %s) = %s, want %s", tt.actionType, tt.entityType, got, tt.want)
			}
		})
	}
}

func TestRecord_SensitiveFailureEscalatesToCritical(t *testing.T) {
	ms := &mockStore{}
	r := testRecorder(ms)

	err := r.Record(context.Background(), Action{
		TenantID:   uuid.New(),
		ActionType: store.ActionUpdate,
		EntityType: "task",
		RiskLevel:  store.RiskLow,
		Sensitive:  true,
		Success:    false,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if ms.entries[0].RiskLevel != store.RiskCritical {
		t.Errorf("got risk %s, want critical for failed sensitive action", ms.entries[0].RiskLevel)
	}
}

func TestRecord_DerivesRiskFromActionType(t *testing.T) {
	ms := &mockStore{}
	r := testRecorder(ms)

	err := r.Record(context.Background(), Action{
		TenantID:   uuid.New(),
		ActionType: store.ActionDelete,
		EntityType: "pattern",
		Success:    true,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if ms.entries[0].RiskLevel != store.RiskHigh {
		t.Errorf("got risk %s, want high for delete", ms.entries[0].RiskLevel)
	}
}

func TestRecord_ComplianceRelevance(t *testing.T) {
	ms := &mockStore{}
	r := testRecorder(ms)

	actions := []Action{
		{ActionType: store.ActionExport, EntityType: "report"},
		{ActionType: store.ActionCreate, EntityType: "workforce_unit"},
		{ActionType: store.ActionExecute, EntityType: "pattern"},
	}
	for _, a := range actions {
		a.Success = true
		if err := r.Record(context.Background(), a); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	if !ms.entries[0].ComplianceRelevant {
		t.Error("export action should be compliance relevant")
	}
	if !ms.entries[1].ComplianceRelevant {
		t.Error("workforce_unit entity should be compliance relevant")
	}
	if ms.entries[2].ComplianceRelevant {
		t.Error("pattern execution should not be compliance relevant")
	}
}

func TestRiskScore_Components(t *testing.T) {
	business := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	night := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		eventType string
		resource  string
		userAgent string
		at        time.Time
		success   bool
		want      int
	}{
		{"benign daytime read", "access_granted", "docs", "Mozilla/5.0", business, true, 0},
		{"off hours", "access_granted", "docs", "Mozilla/5.0", night, true, 20},
		{"restricted resource", "access_granted", "api_key_store", "Mozilla/5.0", business, true, 30},
		{"scripted agent", "access_granted", "docs", "curl/8.0", business, true, 25},
		{"failed access", "access_denied", "docs", "Mozilla/5.0", business, false, 40},
		{"dangerous export", "data_export", "docs", "Mozilla/5.0", business, true, 30},
		{"worst case capped", "privilege_escalation", "secret_vault", "curl/8.0", night, false, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RiskScore(tt.eventType, tt.resource, tt.userAgent, tt.at, tt.success)
			if got != tt.want {
				t.Errorf("RiskScore = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecordAccess_AnomalyOnRepeatedFailures(t *testing.T) {
	ms := &mockStore{accessFailures: 4}
	r := testRecorder(ms)

	event, err := r.RecordAccess(context.Background(), AccessEvent{
		TenantID:    uuid.New(),
		EventType:   "access_denied",
		SourceIP:    "10.0.0.9",
		Resource:    "docs",
		Success:     false,
		AttemptedAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordAccess failed: %v", err)
	}

	if !event.AnomalyFlag {
		t.Error("expected anomaly for repeated failures")
	}
	if len(event.AnomalyReasons) == 0 {
		t.Error("expected anomaly reasons")
	}
	if event.Severity != store.SeverityWarning {
		t.Errorf("got severity %s, want warning for anomaly", event.Severity)
	}
}

func TestRecordAccess_CleanEventNotAnomalous(t *testing.T) {
	ms := &mockStore{}
	r := testRecorder(ms)

	event, err := r.RecordAccess(context.Background(), AccessEvent{
		TenantID:    uuid.New(),
		EventType:   "access_granted",
		SourceIP:    "10.0.0.2",
		UserAgent:   "Mozilla/5.0",
		Resource:    "docs",
		Success:     true,
		AttemptedAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordAccess failed: %v", err)
	}

	if event.AnomalyFlag {
		t.Error("clean event flagged anomalous")
	}
	if event.RiskScore != 0 {
		t.Errorf("got risk score %d, want 0", event.RiskScore)
	}
	if event.Severity != store.SeverityInfo {
		t.Errorf("got severity %s, want info", event.Severity)
	}
}

func TestAssessCompliance_AllFrameworks(t *testing.T) {
	ms := &mockStore{recentEvents: true}
	r := testRecorder(ms)
	tenantID := uuid.New()

	results, err := r.AssessCompliance(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("AssessCompliance failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	byFramework := map[string]store.ComplianceResult{}
	for _, res := range results {
		byFramework[res.Framework] = res
	}

	// All data protection checks pass: retention ok, consent assumed,
	// access logging fresh.
	lgpd := byFramework["LGPD"]
	if lgpd.Score != 100 {
		t.Errorf("got LGPD score %d, want 100", lgpd.Score)
	}
	if lgpd.Status != store.ComplianceCompliant {
		t.Errorf("got LGPD status %s, want compliant", lgpd.Status)
	}
	if lgpd.RiskLevel != store.RiskLow {
		t.Errorf("got LGPD risk %s, want low", lgpd.RiskLevel)
	}

	iso := byFramework["ISO27001"]
	if iso.Score != 75 || iso.Status != store.CompliancePartial {
		t.Errorf("got ISO27001 %d/%s, want 75/partially_compliant", iso.Score, iso.Status)
	}
	if iso.RiskLevel != store.RiskMedium {
		t.Errorf("got ISO27001 risk %s, want medium", iso.RiskLevel)
	}
}

func TestAssessCompliance_FailedChecksLowerScore(t *testing.T) {
	// Stale data and no recent access events: only the consent check
	// passes, 33 is non-compliant.
	ms := &mockStore{oldEntries: true, recentEvents: false}
	r := testRecorder(ms)

	results, err := r.AssessCompliance(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("AssessCompliance failed: %v", err)
	}

	var lgpd *store.ComplianceResult
	for i := range results {
		if results[i].Framework == "LGPD" {
			lgpd = &results[i]
		}
	}
	if lgpd == nil {
		t.Fatal("missing LGPD result")
	}
	if lgpd.Score != 33 {
		t.Errorf("got score %d, want 33", lgpd.Score)
	}
	if lgpd.Status != store.ComplianceNonCompliant {
		t.Errorf("got status %s, want non_compliant", lgpd.Status)
	}
	if len(lgpd.Findings) != 2 {
		t.Errorf("got %d findings, want 2", len(lgpd.Findings))
	}
	if lgpd.RiskLevel != store.RiskCritical {
		t.Errorf("got risk %s, want critical", lgpd.RiskLevel)
	}
}

func TestGenerateReport(t *testing.T) {
	ms := &mockStore{counts: store.AuditEventCounts{
		Total: 200, Critical: 4, Errors: 12, Automated: 180, Manual: 20, Warnings: 9,
	}}
	r := testRecorder(ms)

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	report, err := r.GenerateReport(context.Background(), uuid.New(), "daily_summary", start, end)
	if err != nil {
		t.Fatalf("GenerateReport failed: %v", err)
	}

	if report.TotalEvents != 200 || report.CriticalEvents != 4 {
		t.Errorf("got %d/%d events, want 200/4", report.TotalEvents, report.CriticalEvents)
	}
	if report.Category != "operational" {
		t.Errorf("got category %s, want operational", report.Category)
	}
	if len(ms.reports) != 1 {
		t.Error("report not persisted")
	}

	var summary map[string]int
	if err := json.Unmarshal(report.Summary, &summary); err != nil {
		t.Fatalf("invalid summary json: %v", err)
	}
	if summary["automated_events"] != 180 {
		t.Errorf("got %d automated events in summary, want 180", summary["automated_events"])
	}
}
