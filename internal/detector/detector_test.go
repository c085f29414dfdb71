package detector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"optiplane/internal/audit"
	"optiplane/internal/store"

	"github.com/google/uuid"
)

type mockStore struct {
	snapshots   []store.WorkloadSnapshot
	records     []store.ExecutionRecord
	inserted    []*store.Pattern
	deactivated []string
}

func (m *mockStore) GetWorkloadSnapshots(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]store.WorkloadSnapshot, error) {
	return m.snapshots, nil
}

func (m *mockStore) ListExecutionRecords(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.ExecutionRecord, error) {
	return m.records, nil
}

func (m *mockStore) InsertPattern(ctx context.Context, p *store.Pattern) error {
	m.inserted = append(m.inserted, p)
	return nil
}

func (m *mockStore) DeactivatePatterns(ctx context.Context, tenantID uuid.UUID, pt store.PatternType, scopeID string) error {
	m.deactivated = append(m.deactivated, string(pt)+"/"+scopeID)
	return nil
}

type mockRecorder struct {
	actions []audit.Action
	err     error
}

func (m *mockRecorder) Record(ctx context.Context, a audit.Action) error {
	if m.err != nil {
		return m.err
	}
	m.actions = append(m.actions, a)
	return nil
}

func testDetector(ms *mockStore) (*Detector, *mockRecorder) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &mockRecorder{}
	return New(ms, rec, logger), rec
}

func defaultSettings() *store.TenantSettings {
	s := store.DefaultSettings(uuid.New())
	return &s
}

func dailySnapshot(util float64) store.WorkloadSnapshot {
	return store.WorkloadSnapshot{
		UnitID:          uuid.New(),
		Granularity:     store.GranularityDaily,
		UtilizationRate: util,
		OverloadRisk:    util > 1.2,
		Underutilized:   util < 0.5,
	}
}

func recordWith(taskType string, efficiency float64, complexity int, subsystems ...string) store.ExecutionRecord {
	return store.ExecutionRecord{
		ID:              uuid.New(),
		TaskType:        taskType,
		ComplexityScore: complexity,
		EfficiencyRatio: &efficiency,
		SubsystemsUsed:  subsystems,
	}
}

func TestDetect_WorkloadImbalance(t *testing.T) {
	// Ten units: six overloaded, two underutilized. Affected proportion
	// is 0.8, which lands in the top confidence tier.
	ms := &mockStore{}
	for i := 0; i < 6; i++ {
		ms.snapshots = append(ms.snapshots, dailySnapshot(1.5))
	}
	ms.snapshots = append(ms.snapshots, dailySnapshot(0.2), dailySnapshot(0.3))
	ms.snapshots = append(ms.snapshots, dailySnapshot(0.9), dailySnapshot(1.0))

	d, _ := testDetector(ms)
	summary, err := d.Detect(context.Background(), uuid.New(), defaultSettings())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if summary.WorkloadPatterns != 1 {
		t.Fatalf("got %d workload patterns, want 1", summary.WorkloadPatterns)
	}

	p := ms.inserted[0]
	if p.Type != store.PatternWorkloadBalance {
		t.Errorf("got type %s, want workload_balance", p.Type)
	}
	if p.Confidence != 0.9 {
		t.Errorf("got confidence %v, want 0.9", p.Confidence)
	}
	if p.SampleSize != 10 {
		t.Errorf("got sample size %d, want 10", p.SampleSize)
	}
	// Average overload is 0.5, reported as a percentage.
	if p.ImpactMagnitude != 50 {
		t.Errorf("got impact %v, want 50", p.ImpactMagnitude)
	}

	ev := p.Evidence.WorkloadBalance
	if ev == nil {
		t.Fatal("missing workload balance evidence")
	}
	if len(ev.Overloaded) != 6 || len(ev.Underutilized) != 2 {
		t.Errorf("got %d/%d affected units, want 6/2", len(ev.Overloaded), len(ev.Underutilized))
	}
	if len(ev.Transfers) == 0 {
		t.Fatal("expected transfer suggestions")
	}
	// Excess 0.5, transferable share 30% of that against 8h capacity:
	// 0.5 * 0.3 * 480 = 72 minutes.
	if ev.Transfers[0].Minutes != 72 {
		t.Errorf("got transfer of %d minutes, want 72", ev.Transfers[0].Minutes)
	}
}

func TestDetect_NoImbalanceWithoutBothSides(t *testing.T) {
	ms := &mockStore{snapshots: []store.WorkloadSnapshot{
		dailySnapshot(1.5), dailySnapshot(1.4), dailySnapshot(0.9),
	}}

	d, _ := testDetector(ms)
	summary, err := d.Detect(context.Background(), uuid.New(), defaultSettings())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if summary.WorkloadPatterns != 0 {
		t.Errorf("got %d workload patterns, want 0 without underutilized units", summary.WorkloadPatterns)
	}
}

func TestDetect_SmallSampleGetsFloorConfidence(t *testing.T) {
	// Fewer daily snapshots than the minimum sample size: the pattern is
	// still recorded but pinned below the apply threshold.
	ms := &mockStore{snapshots: []store.WorkloadSnapshot{
		dailySnapshot(1.6), dailySnapshot(0.1),
	}}

	d, _ := testDetector(ms)
	if _, err := d.Detect(context.Background(), uuid.New(), defaultSettings()); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(ms.inserted) != 1 {
		t.Fatalf("got %d patterns, want 1", len(ms.inserted))
	}
	if ms.inserted[0].Confidence != 0.3 {
		t.Errorf("got confidence %v, want 0.3 floor", ms.inserted[0].Confidence)
	}
}

func TestDetect_ComplexityPattern(t *testing.T) {
	ms := &mockStore{}
	// Twelve slow "report" executions with high complexity.
	for i := 0; i < 12; i++ {
		ms.records = append(ms.records, recordWith("report", 0.5, 8))
	}
	// Healthy type stays quiet.
	for i := 0; i < 6; i++ {
		ms.records = append(ms.records, recordWith("email", 1.1, 3))
	}

	d, _ := testDetector(ms)
	summary, err := d.Detect(context.Background(), uuid.New(), defaultSettings())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if summary.ComplexityPatterns != 1 {
		t.Fatalf("got %d complexity patterns, want 1", summary.ComplexityPatterns)
	}

	var p *store.Pattern
	for _, ins := range ms.inserted {
		if ins.Type == store.PatternTaskComplexity {
			p = ins
		}
	}
	if p == nil {
		t.Fatal("missing complexity pattern")
	}
	if p.ScopeID != "report" {
		t.Errorf("got scope %s, want report", p.ScopeID)
	}

	ev := p.Evidence.TaskComplexity
	if ev == nil {
		t.Fatal("missing complexity evidence")
	}
	if ev.TimeMultiplier != 2.0 {
		t.Errorf("got multiplier %v, want 2.0", ev.TimeMultiplier)
	}
	if ev.SplitAboveComplexity == nil || *ev.SplitAboveComplexity != 7 {
		t.Errorf("expected split suggestion at complexity 7, got %v", ev.SplitAboveComplexity)
	}
	// Every sampled execution is affected, so confidence is top tier.
	if p.Confidence != 0.9 {
		t.Errorf("got confidence %v, want 0.9", p.Confidence)
	}
	if p.ImpactMagnitude != 50 {
		t.Errorf("got impact %v, want 50", p.ImpactMagnitude)
	}
}

func TestDetect_ComplexityIgnoresThinTypes(t *testing.T) {
	ms := &mockStore{}
	// Below the per-type minimum even though the overall sample is fine.
	for i := 0; i < 4; i++ {
		ms.records = append(ms.records, recordWith("report", 0.4, 5))
	}
	for i := 0; i < 10; i++ {
		ms.records = append(ms.records, recordWith("email", 1.0, 3))
	}

	d, _ := testDetector(ms)
	summary, err := d.Detect(context.Background(), uuid.New(), defaultSettings())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if summary.ComplexityPatterns != 0 {
		t.Errorf("got %d complexity patterns, want 0", summary.ComplexityPatterns)
	}
}

func TestDetect_SubsystemPatterns(t *testing.T) {
	ms := &mockStore{}
	// 40 highly efficient search executions and 15 slow email ones.
	for i := 0; i < 40; i++ {
		ms.records = append(ms.records, recordWith("task", 1.4, 5, "search"))
	}
	for i := 0; i < 15; i++ {
		ms.records = append(ms.records, recordWith("task", 0.5, 5, "email"))
	}

	d, _ := testDetector(ms)
	summary, err := d.Detect(context.Background(), uuid.New(), defaultSettings())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if summary.SubsystemPatterns != 2 {
		t.Fatalf("got %d subsystem patterns, want 2", summary.SubsystemPatterns)
	}

	byType := map[store.PatternType]*store.Pattern{}
	for _, p := range ms.inserted {
		byType[p.Type] = p
	}

	high := byType[store.PatternSubsystemEfficiency]
	if high == nil {
		t.Fatal("missing high-efficiency pattern")
	}
	if high.ScopeID != "search" {
		t.Errorf("got scope %s, want search", high.ScopeID)
	}
	if high.Category != store.CategoryOptimization {
		t.Errorf("got category %s, want optimization", high.Category)
	}
	// Confidence grows with sample count: 40/50.
	if high.Confidence != 0.8 {
		t.Errorf("got confidence %v, want 0.8", high.Confidence)
	}

	low := byType[store.PatternSubsystemInefficiency]
	if low == nil {
		t.Fatal("missing low-efficiency pattern")
	}
	if low.Category != store.CategoryBottleneck {
		t.Errorf("got category %s, want bottleneck", low.Category)
	}
	// 15/30.
	if low.Confidence != 0.5 {
		t.Errorf("got confidence %v, want 0.5", low.Confidence)
	}
}

func TestDetect_SubsystemConfidenceCappedAtOne(t *testing.T) {
	ms := &mockStore{}
	for i := 0; i < 80; i++ {
		ms.records = append(ms.records, recordWith("task", 1.5, 5, "search"))
	}

	d, _ := testDetector(ms)
	if _, err := d.Detect(context.Background(), uuid.New(), defaultSettings()); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(ms.inserted) != 1 {
		t.Fatalf("got %d patterns, want 1", len(ms.inserted))
	}
	if ms.inserted[0].Confidence != 1.0 {
		t.Errorf("got confidence %v, want capped 1.0", ms.inserted[0].Confidence)
	}
}

func TestDetect_SupersedesPriorPatterns(t *testing.T) {
	// Saving a pattern must deactivate prior rows of the same type and
	// scope before inserting.
	ms := &mockStore{}
	for i := 0; i < 40; i++ {
		ms.records = append(ms.records, recordWith("task", 1.4, 5, "search"))
	}

	d, _ := testDetector(ms)
	if _, err := d.Detect(context.Background(), uuid.New(), defaultSettings()); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(ms.deactivated) != 1 {
		t.Fatalf("got %d deactivations, want 1", len(ms.deactivated))
	}
	if ms.deactivated[0] != "subsystem_efficiency/search" {
		t.Errorf("deactivated %s, want subsystem_efficiency/search", ms.deactivated[0])
	}
}

func TestDetect_AuditsEveryInsertedPattern(t *testing.T) {
	// One efficiency pattern and one bottleneck pattern: each insert
	// must produce a create entry carrying the pattern's id, at low
	// risk for efficiency findings and medium for bottlenecks.
	ms := &mockStore{}
	for i := 0; i < 40; i++ {
		ms.records = append(ms.records, recordWith("task", 1.4, 5, "search"))
	}
	for i := 0; i < 15; i++ {
		ms.records = append(ms.records, recordWith("task", 0.5, 5, "email"))
	}

	d, rec := testDetector(ms)
	if _, err := d.Detect(context.Background(), uuid.New(), defaultSettings()); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(rec.actions) != len(ms.inserted) {
		t.Fatalf("got %d audit entries for %d patterns, want one each", len(rec.actions), len(ms.inserted))
	}

	byID := map[string]audit.Action{}
	for _, a := range rec.actions {
		if a.ActionType != store.ActionCreate || a.EntityType != "pattern" {
			t.Errorf("got audit %s/%s, want create/pattern", a.ActionType, a.EntityType)
		}
		byID[a.EntityID] = a
	}
	for _, p := range ms.inserted {
		a, ok := byID[p.ID.String()]
		if !ok {
			t.Fatalf("no audit entry for pattern %s", p.ID)
		}
		wantRisk := store.RiskLow
		if p.Category == store.CategoryBottleneck {
			wantRisk = store.RiskMedium
		}
		if a.RiskLevel != wantRisk {
			t.Errorf("pattern %s audited at risk %s, want %s", p.Type, a.RiskLevel, wantRisk)
		}
		if len(a.AfterState) == 0 {
			t.Errorf("pattern %s audit entry missing after-state", p.Type)
		}
	}
}

func TestDetect_AuditFailureFailsRun(t *testing.T) {
	ms := &mockStore{snapshots: []store.WorkloadSnapshot{
		dailySnapshot(1.6), dailySnapshot(0.1),
	}}

	d, rec := testDetector(ms)
	rec.err = errors.New("audit table gone")

	if _, err := d.Detect(context.Background(), uuid.New(), defaultSettings()); err == nil {
		t.Fatal("expected failure when the audit write fails")
	}
}

func TestDetectComplexity_InsufficientEvidence(t *testing.T) {
	// Below the tenant minimum sample: the routine reports the skip as
	// expected control flow and Detect carries on without patterns.
	ms := &mockStore{}
	for i := 0; i < 3; i++ {
		ms.records = append(ms.records, recordWith("report", 0.4, 5))
	}

	d, _ := testDetector(ms)
	_, err := d.detectComplexityPatterns(context.Background(), uuid.New(), defaultSettings(), ms.records)
	if !errors.Is(err, ErrInsufficientEvidence) {
		t.Fatalf("got %v, want ErrInsufficientEvidence", err)
	}

	summary, err := d.Detect(context.Background(), uuid.New(), defaultSettings())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if summary.Total() != 0 {
		t.Errorf("got %d patterns from a thin sample, want 0", summary.Total())
	}
}

func TestDetectSubsystem_InsufficientEvidence(t *testing.T) {
	ms := &mockStore{}
	for i := 0; i < 3; i++ {
		ms.records = append(ms.records, recordWith("task", 1.5, 5, "search"))
	}

	d, _ := testDetector(ms)
	_, err := d.detectSubsystemPatterns(context.Background(), uuid.New(), defaultSettings(), ms.records)
	if !errors.Is(err, ErrInsufficientEvidence) {
		t.Fatalf("got %v, want ErrInsufficientEvidence", err)
	}
}

func TestProportionConfidence_Tiers(t *testing.T) {
	tests := []struct {
		name     string
		sample   int
		affected int
		want     float64
	}{
		{"below minimum sample", 5, 5, 0.3},
		{"majority affected", 10, 6, 0.9},
		{"over thirty percent", 10, 4, 0.8},
		{"over twenty percent", 10, 3, 0.7},
		{"small share", 10, 2, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := proportionConfidence(10, tt.sample, tt.affected)
			if got != tt.want {
				t.Errorf("proportionConfidence(10, %d, %d) = %v, want %v", tt.sample, tt.affected, got, tt.want)
			}
		})
	}
}
